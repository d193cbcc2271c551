package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"pickup-service/internal/models"

	"github.com/jmoiron/sqlx"
)

type basketRow struct {
	models.SuspendedBasket
	LotRowID       sql.NullString `db:"l_id"`
	LotMerchantID  sql.NullString `db:"l_merchant_id"`
	LotTitle       sql.NullString `db:"l_title"`
	LotTotal       sql.NullInt64  `db:"l_quantity_total"`
	LotReserved    sql.NullInt64  `db:"l_quantity_reserved"`
	LotSold        sql.NullInt64  `db:"l_quantity_sold"`
	LotStatus      sql.NullString `db:"l_status"`
	LotDiscounted  sql.NullInt64  `db:"l_discounted_price"`
	LotPickupStart sql.NullTime   `db:"l_pickup_start"`
	LotPickupEnd   sql.NullTime   `db:"l_pickup_end"`
}

func (r basketRow) detail() models.BasketDetail {
	d := models.BasketDetail{SuspendedBasket: r.SuspendedBasket}
	if !r.LotRowID.Valid {
		return d
	}
	d.Lot = &models.Lot{
		ID:               r.LotRowID.String,
		MerchantID:       r.LotMerchantID.String,
		Title:            r.LotTitle.String,
		QuantityTotal:    int(r.LotTotal.Int64),
		QuantityReserved: int(r.LotReserved.Int64),
		QuantitySold:     int(r.LotSold.Int64),
		Status:           models.LotStatus(r.LotStatus.String),
		DiscountedPrice:  r.LotDiscounted.Int64,
		PickupStart:      r.LotPickupStart.Time,
		PickupEnd:        r.LotPickupEnd.Time,
	}
	return d
}

// ListUnclaimedBaskets retrieves unclaimed baskets at a merchant joined with their lot, if any
func (s *Store) ListUnclaimedBaskets(ctx context.Context, merchantID string) ([]models.BasketDetail, error) {
	var rows []basketRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT b.id, b.merchant_id, b.lot_id, b.amount, b.status, b.claimed_by, b.claimed_at, b.created_at,
		       l.id AS l_id, l.merchant_id AS l_merchant_id, l.title AS l_title,
		       l.quantity_total AS l_quantity_total, l.quantity_reserved AS l_quantity_reserved,
		       l.quantity_sold AS l_quantity_sold, l.status AS l_status,
		       l.discounted_price AS l_discounted_price,
		       l.pickup_start AS l_pickup_start, l.pickup_end AS l_pickup_end
		FROM suspended_baskets b
		LEFT JOIN lots l ON l.id = b.lot_id
		WHERE b.merchant_id = $1
		  AND b.status = 'available'
		  AND b.claimed_by IS NULL
		ORDER BY b.created_at ASC, b.id ASC`,
		merchantID)
	if err != nil {
		return nil, fmt.Errorf("list baskets: %w", err)
	}

	details := make([]models.BasketDetail, 0, len(rows))
	for _, r := range rows {
		details = append(details, r.detail())
	}
	return details, nil
}

// ClaimBasketParams describes one basket claim and the reservation it becomes
type ClaimBasketParams struct {
	BasketID      string
	MerchantID    string
	BeneficiaryID string
	ReservationID string
	Pin           string
	At            time.Time
}

// ClaimBasket claims a basket for a beneficiary and redeems it in one transaction:
// test-and-set claimed_by, reserve one unit of the lot, insert a donation
// reservation and complete it. Losing the claim race returns ErrAlreadyClaimed
// and leaves nothing changed.
func (s *Store) ClaimBasket(ctx context.Context, p ClaimBasketParams) (models.Reservation, error) {
	var completed models.Reservation

	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		var lotID sql.NullString
		err := tx.GetContext(ctx, &lotID, `
			UPDATE suspended_baskets
			SET claimed_by = $2, status = 'claimed', claimed_at = $3
			WHERE id = $1
			  AND merchant_id = $4
			  AND status = 'available'
			  AND claimed_by IS NULL
			RETURNING lot_id`,
			p.BasketID, p.BeneficiaryID, p.At, p.MerchantID)
		if err == sql.ErrNoRows {
			return classifyBasket(ctx, tx, p.MerchantID, p.BasketID)
		}
		if err != nil {
			return fmt.Errorf("claim basket %s: %w", p.BasketID, err)
		}
		if !lotID.Valid {
			return &models.ItemError{ID: p.BasketID, Err: models.ErrLotUnavailable}
		}

		if err := reserveAvailable(ctx, tx, lotID.String, 1); err != nil {
			return &models.ItemError{ID: p.BasketID, Err: err}
		}

		reservation := models.Reservation{
			ID:         p.ReservationID,
			LotID:      lotID.String,
			UserID:     p.BeneficiaryID,
			Quantity:   1,
			TotalPrice: 0,
			PickupPin:  p.Pin,
			Status:     models.ReservationStatusConfirmed,
			IsDonation: true,
			CreatedAt:  p.At,
			UpdatedAt:  p.At,
		}
		if err := insertReservation(ctx, tx, reservation); err != nil {
			return err
		}

		r, err := completeReservation(ctx, tx, p.MerchantID, reservation.ID, p.At)
		if err != nil {
			return err
		}
		if err := markSoldOutIfEmpty(ctx, tx, lotID.String); err != nil {
			return err
		}

		completed = r
		return nil
	})
	if err != nil {
		return models.Reservation{}, err
	}
	return completed, nil
}

func classifyBasket(ctx context.Context, tx *sqlx.Tx, merchantID, id string) error {
	var row struct {
		MerchantID string  `db:"merchant_id"`
		ClaimedBy  *string `db:"claimed_by"`
	}
	err := tx.GetContext(ctx, &row, `SELECT merchant_id, claimed_by FROM suspended_baskets WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return &models.ItemError{ID: id, Err: models.ErrNotFound}
	}
	if err != nil {
		return fmt.Errorf("classify basket %s: %w", id, err)
	}
	if row.MerchantID != merchantID {
		return &models.ItemError{ID: id, Err: models.ErrForbidden}
	}
	return &models.ItemError{ID: id, Err: models.ErrAlreadyClaimed}
}
