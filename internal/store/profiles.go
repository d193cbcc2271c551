package store

import (
	"context"
	"database/sql"
	"fmt"

	"pickup-service/internal/models"
)

// GetProfileByScanCode resolves a profile by its id or its beneficiary code
func (s *Store) GetProfileByScanCode(ctx context.Context, code string) (*models.Profile, error) {
	var p models.Profile
	err := s.db.GetContext(ctx, &p, `
		SELECT id, role, display_name, beneficiary_code, created_at
		FROM profiles
		WHERE id = $1 OR beneficiary_code = $1
		ORDER BY (id = $1) DESC
		LIMIT 1`, code)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("profile %s: %w", code, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get profile %s: %w", code, err)
	}
	return &p, nil
}

// IsEventProcessed checks if an event has been processed
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	return exists, err
}

// MarkEventProcessed marks an event as processed
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	return err
}
