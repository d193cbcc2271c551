package store

import (
	"context"
	"database/sql"
	"fmt"

	"pickup-service/internal/models"

	"github.com/jmoiron/sqlx"
)

const lotColumns = `id, merchant_id, title, quantity_total, quantity_reserved, quantity_sold, status,
	original_price, discounted_price, pickup_start, pickup_end, created_at, updated_at`

// GetLot retrieves a lot by ID
func (s *Store) GetLot(ctx context.Context, id string) (*models.Lot, error) {
	var lot models.Lot
	err := s.db.GetContext(ctx, &lot, "SELECT "+lotColumns+" FROM lots WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("lot %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &lot, nil
}

// moveReservedToSold is the relative ledger update applied when a reservation
// is redeemed. It refuses to drive quantity_reserved negative.
func moveReservedToSold(ctx context.Context, tx *sqlx.Tx, lotID string, quantity int) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE lots
		SET quantity_sold = quantity_sold + $1,
		    quantity_reserved = quantity_reserved - $1,
		    updated_at = NOW()
		WHERE id = $2 AND quantity_reserved >= $1`,
		quantity, lotID)
	if err != nil {
		return fmt.Errorf("update lot %s: %w", lotID, err)
	}
	return requireRow(res, fmt.Errorf("lot %s: %w", lotID, models.ErrLedgerConflict))
}

// reserveAvailable moves quantity from available into reserved if the lot is
// still on sale and has enough left.
func reserveAvailable(ctx context.Context, tx *sqlx.Tx, lotID string, quantity int) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE lots
		SET quantity_reserved = quantity_reserved + $1,
		    updated_at = NOW()
		WHERE id = $2
		  AND status = 'available'
		  AND quantity_total - quantity_reserved - quantity_sold >= $1`,
		quantity, lotID)
	if err != nil {
		return fmt.Errorf("reserve lot %s: %w", lotID, err)
	}
	return requireRow(res, fmt.Errorf("lot %s: %w", lotID, models.ErrLotUnavailable))
}

// markSoldOutIfEmpty flips an available lot to sold_out once nothing is left.
func markSoldOutIfEmpty(ctx context.Context, tx *sqlx.Tx, lotID string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE lots
		SET status = 'sold_out', updated_at = NOW()
		WHERE id = $1
		  AND status = 'available'
		  AND quantity_total - quantity_reserved - quantity_sold <= 0`,
		lotID)
	if err != nil {
		return fmt.Errorf("mark lot %s sold out: %w", lotID, err)
	}
	return nil
}

func requireRow(res sql.Result, noRows error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return noRows
	}
	return nil
}
