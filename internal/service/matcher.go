package service

import (
	"context"
	"fmt"

	"pickup-service/internal/models"
	"pickup-service/internal/scan"
	"pickup-service/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// PickupMode says whether one or several reservations are being handed over
type PickupMode string

const (
	PickupModeSingle PickupMode = "single"
	PickupModeMulti  PickupMode = "multi"
)

// ReservationContext is what the counter shows after a reservation scan
type ReservationContext struct {
	Mode         PickupMode                 `json:"mode"`
	Scanned      models.ReservationDetail   `json:"scanned"`
	Reservations []models.ReservationDetail `json:"reservations"`
	Selected     []string                   `json:"selected"`
}

// ReservationMatcher finds every active reservation a customer holds at the scanning merchant
type ReservationMatcher struct {
	store  ReservationStore
	logger *zap.Logger
}

// NewReservationMatcher creates a new reservation matcher
func NewReservationMatcher(store ReservationStore) *ReservationMatcher {
	return &ReservationMatcher{
		store:  store,
		logger: util.GetLogger(),
	}
}

// LoadReservationContext validates the scanned reservation and gathers its siblings
func (m *ReservationMatcher) LoadReservationContext(ctx context.Context, ref scan.ReservationRef, merchantID string) (_ *ReservationContext, err error) {
	ctx, span := util.StartSpan(ctx, "ReservationMatcher.LoadReservationContext", merchantID,
		attribute.String("reservation.id", ref.ReservationID))
	defer func() { util.EndSpan(span, err) }()

	scanned, err := m.store.GetReservationDetail(ctx, ref.ReservationID)
	if err != nil {
		return nil, err
	}

	if scanned.MerchantID != merchantID {
		m.logger.Warn("Reservation scanned at foreign merchant",
			zap.String("reservation_id", scanned.ID),
			zap.String("owner_merchant_id", scanned.MerchantID),
			zap.String("merchant_id", merchantID))
		return nil, &models.ItemError{ID: scanned.ID, Err: models.ErrForbidden}
	}
	if err := lifecycleError(scanned); err != nil {
		return nil, err
	}

	siblings, err := m.store.ListActiveReservations(ctx, scanned.UserID, merchantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list active reservations: %w", err)
	}

	reservations := make([]models.ReservationDetail, 0, len(siblings)+1)
	found := false
	for _, r := range siblings {
		if r.ID == scanned.ID {
			found = true
		}
		reservations = append(reservations, r)
	}
	if !found {
		// The scanned row can leave the active set between the two reads.
		reservations = append([]models.ReservationDetail{*scanned}, reservations...)
	}

	mode := PickupModeSingle
	if len(reservations) > 1 {
		mode = PickupModeMulti
	}

	m.logger.Info("Reservation context loaded",
		zap.String("reservation_id", scanned.ID),
		zap.String("user_id", scanned.UserID),
		zap.String("mode", string(mode)),
		zap.Int("count", len(reservations)))

	return &ReservationContext{
		Mode:         mode,
		Scanned:      *scanned,
		Reservations: reservations,
		Selected:     []string{scanned.ID},
	}, nil
}

func lifecycleError(r *models.ReservationDetail) error {
	switch r.Status {
	case models.ReservationStatusCompleted:
		return &models.ItemError{ID: r.ID, Err: models.ErrAlreadyRedeemed}
	case models.ReservationStatusCancelled:
		return &models.ItemError{ID: r.ID, Err: models.ErrCancelled}
	default:
		return nil
	}
}
