package redisclient

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

//go:embed scripts/save_session.lua
var saveSessionScript string

// ErrVersionConflict is returned when a session changed since it was loaded
var ErrVersionConflict = errors.New("session version conflict")

type Client struct {
	rdb        *redis.Client
	saveScript *redis.Script
}

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{
		rdb:        rdb,
		saveScript: redis.NewScript(saveSessionScript),
	}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks Redis is reachable
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func sessionKey(stationID string) string {
	return fmt.Sprintf("station:%s", stationID)
}

// LoadSession returns the encoded session for a station and its version.
// A missing session is reported as found=false with version 0.
func (c *Client) LoadSession(ctx context.Context, stationID string) (payload []byte, version int64, found bool, err error) {
	result, err := c.rdb.HGetAll(ctx, sessionKey(stationID)).Result()
	if err != nil {
		return nil, 0, false, fmt.Errorf("load session %s: %w", stationID, err)
	}
	if len(result) == 0 {
		return nil, 0, false, nil
	}

	version, err = strconv.ParseInt(result["version"], 10, 64)
	if err != nil {
		return nil, 0, false, fmt.Errorf("session %s has bad version %q: %w", stationID, result["version"], err)
	}
	return []byte(result["payload"]), version, true, nil
}

// SaveSession atomically replaces a station session if it is still at
// expectedVersion, returning the new version.
func (c *Client) SaveSession(ctx context.Context, stationID string, expectedVersion int64, payload []byte, ttl time.Duration) (int64, error) {
	result, err := c.saveScript.Run(ctx, c.rdb,
		[]string{sessionKey(stationID)},
		strconv.FormatInt(expectedVersion, 10), payload, ttl.Milliseconds(),
	).Result()
	if err != nil {
		return 0, fmt.Errorf("save session script failed: %w", err)
	}

	next, ok := result.(int64)
	if !ok {
		return 0, fmt.Errorf("unexpected script result type")
	}
	if next < 0 {
		return 0, ErrVersionConflict
	}
	return next, nil
}

// GetIdempotentResult returns a stored response for an idempotency key
func (c *Client) GetIdempotentResult(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.rdb.Get(ctx, fmt.Sprintf("idempotency:%s", key)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

// SetIdempotentResult stores a response for an idempotency key; the first writer wins
func (c *Client) SetIdempotentResult(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.rdb.SetNX(ctx, fmt.Sprintf("idempotency:%s", key), value, ttl).Err()
}
