package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"pickup-service/internal/models"

	"github.com/jmoiron/sqlx"
)

const reservationDetailQuery = `
	SELECT r.id, r.lot_id, r.user_id, r.quantity, r.total_price, r.pickup_pin, r.status,
	       r.is_donation, r.created_at, r.updated_at, r.completed_at,
	       l.merchant_id, l.title AS lot_title
	FROM reservations r
	JOIN lots l ON l.id = r.lot_id`

const reservationReturning = `
	RETURNING r.id, r.lot_id, r.user_id, r.quantity, r.total_price, r.pickup_pin, r.status,
	          r.is_donation, r.created_at, r.updated_at, r.completed_at`

// GetReservationDetail retrieves a reservation together with its lot's merchant
func (s *Store) GetReservationDetail(ctx context.Context, id string) (*models.ReservationDetail, error) {
	var d models.ReservationDetail
	err := s.db.GetContext(ctx, &d, reservationDetailQuery+" WHERE r.id = $1", id)
	if err == sql.ErrNoRows {
		return nil, &models.ItemError{ID: id, Err: models.ErrNotFound}
	}
	if err != nil {
		return nil, fmt.Errorf("get reservation %s: %w", id, err)
	}
	return &d, nil
}

// GetReservationDetails retrieves several reservations; missing IDs are simply absent
func (s *Store) GetReservationDetails(ctx context.Context, ids []string) ([]models.ReservationDetail, error) {
	if len(ids) == 0 {
		return []models.ReservationDetail{}, nil
	}

	query, args, err := sqlx.In(reservationDetailQuery+" WHERE r.id IN (?) ORDER BY r.created_at, r.id", ids)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var details []models.ReservationDetail
	if err := s.db.SelectContext(ctx, &details, query, args...); err != nil {
		return nil, fmt.Errorf("get reservations: %w", err)
	}
	return details, nil
}

// ListActiveReservations retrieves a user's pending and confirmed reservations at one merchant, oldest first
func (s *Store) ListActiveReservations(ctx context.Context, userID, merchantID string) ([]models.ReservationDetail, error) {
	var details []models.ReservationDetail
	err := s.db.SelectContext(ctx, &details, reservationDetailQuery+`
		WHERE r.user_id = $1
		  AND l.merchant_id = $2
		  AND r.status IN ('pending', 'confirmed')
		ORDER BY r.created_at ASC, r.id ASC`,
		userID, merchantID)
	if err != nil {
		return nil, fmt.Errorf("list active reservations: %w", err)
	}
	return details, nil
}

// CompleteReservations redeems every reservation in ids inside one transaction.
// Any member failing its guard rolls the whole batch back.
func (s *Store) CompleteReservations(ctx context.Context, merchantID string, ids []string, at time.Time) ([]models.Reservation, error) {
	completed := make([]models.Reservation, 0, len(ids))

	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		for _, id := range ids {
			r, err := completeReservation(ctx, tx, merchantID, id, at)
			if err != nil {
				return err
			}
			completed = append(completed, r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return completed, nil
}

// completeReservation is the compare-and-set from {pending, confirmed} to
// completed followed by the lot's reserved-to-sold adjustment.
func completeReservation(ctx context.Context, tx *sqlx.Tx, merchantID, id string, at time.Time) (models.Reservation, error) {
	var r models.Reservation
	err := tx.GetContext(ctx, &r, `
		UPDATE reservations r
		SET status = 'completed', completed_at = $3, updated_at = $3
		FROM lots l
		WHERE r.id = $1
		  AND r.lot_id = l.id
		  AND l.merchant_id = $2
		  AND r.status IN ('pending', 'confirmed')`+reservationReturning,
		id, merchantID, at)
	if err == sql.ErrNoRows {
		return models.Reservation{}, classifyReservation(ctx, tx, merchantID, id)
	}
	if err != nil {
		return models.Reservation{}, fmt.Errorf("complete reservation %s: %w", id, err)
	}

	if err := moveReservedToSold(ctx, tx, r.LotID, r.Quantity); err != nil {
		return models.Reservation{}, &models.ItemError{ID: id, Err: err}
	}
	return r, nil
}

// classifyReservation explains why the completion guard matched no row.
func classifyReservation(ctx context.Context, tx *sqlx.Tx, merchantID, id string) error {
	var row struct {
		Status     models.ReservationStatus `db:"status"`
		MerchantID string                   `db:"merchant_id"`
	}
	err := tx.GetContext(ctx, &row, `
		SELECT r.status, l.merchant_id
		FROM reservations r
		JOIN lots l ON l.id = r.lot_id
		WHERE r.id = $1`, id)
	if err == sql.ErrNoRows {
		return &models.ItemError{ID: id, Err: models.ErrNotFound}
	}
	if err != nil {
		return fmt.Errorf("classify reservation %s: %w", id, err)
	}

	switch {
	case row.MerchantID != merchantID:
		return &models.ItemError{ID: id, Err: models.ErrForbidden}
	case row.Status == models.ReservationStatusCancelled:
		return &models.ItemError{ID: id, Err: models.ErrCancelled}
	default:
		return &models.ItemError{ID: id, Err: models.ErrAlreadyRedeemed}
	}
}

func insertReservation(ctx context.Context, tx *sqlx.Tx, r models.Reservation) error {
	_, err := tx.NamedExecContext(ctx, `
		INSERT INTO reservations (id, lot_id, user_id, quantity, total_price, pickup_pin, status, is_donation, created_at, updated_at)
		VALUES (:id, :lot_id, :user_id, :quantity, :total_price, :pickup_pin, :status, :is_donation, :created_at, :updated_at)`,
		r)
	if err != nil {
		return fmt.Errorf("insert reservation %s: %w", r.ID, err)
	}
	return nil
}
