package service

import (
	"context"
	"time"

	"pickup-service/internal/models"
	"pickup-service/internal/store"
)

// ReservationStore is the read and guarded-write surface over reservations
type ReservationStore interface {
	GetReservationDetail(ctx context.Context, id string) (*models.ReservationDetail, error)
	GetReservationDetails(ctx context.Context, ids []string) ([]models.ReservationDetail, error)
	ListActiveReservations(ctx context.Context, userID, merchantID string) ([]models.ReservationDetail, error)
	CompleteReservations(ctx context.Context, merchantID string, ids []string, at time.Time) ([]models.Reservation, error)
}

// BasketStore is the read and guarded-write surface over suspended baskets
type BasketStore interface {
	GetProfileByScanCode(ctx context.Context, code string) (*models.Profile, error)
	ListUnclaimedBaskets(ctx context.Context, merchantID string) ([]models.BasketDetail, error)
	ClaimBasket(ctx context.Context, p store.ClaimBasketParams) (models.Reservation, error)
}

// RedemptionStore is everything the redemption core reads and writes
type RedemptionStore interface {
	ReservationStore
	BasketStore
}

// EventPublisher publishes redemption outcomes
type EventPublisher interface {
	PublishReservationRedeemed(ctx context.Context, event *models.ReservationRedeemedEvent) error
	PublishBasketClaimed(ctx context.Context, event *models.BasketClaimedEvent) error
	PublishPartialBatchFailure(ctx context.Context, event *models.PartialBatchFailureEvent) error
}

// IdempotencyCache remembers redemption responses by client key
type IdempotencyCache interface {
	GetIdempotentResult(ctx context.Context, key string) ([]byte, bool, error)
	SetIdempotentResult(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// SessionStore persists encoded station sessions with versioned writes
type SessionStore interface {
	LoadSession(ctx context.Context, stationID string) (payload []byte, version int64, found bool, err error)
	SaveSession(ctx context.Context, stationID string, expectedVersion int64, payload []byte, ttl time.Duration) (int64, error)
}
