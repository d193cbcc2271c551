package service

import (
	"context"
	"errors"
	"time"

	"pickup-service/config"
	"pickup-service/internal/clock"
	"pickup-service/internal/models"
	"pickup-service/internal/util"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// InventoryReconciler commits reservation completions and their lot ledger moves
type InventoryReconciler struct {
	store     ReservationStore
	publisher EventPublisher
	clock     clock.Clock
	batchMode string
	logger    *zap.Logger
}

// NewInventoryReconciler creates a new inventory reconciler. batchMode is
// config.BatchModeAtomic or config.BatchModePerRow.
func NewInventoryReconciler(store ReservationStore, publisher EventPublisher, clk clock.Clock, batchMode string) *InventoryReconciler {
	if batchMode != config.BatchModePerRow {
		batchMode = config.BatchModeAtomic
	}
	return &InventoryReconciler{
		store:     store,
		publisher: publisher,
		clock:     clk,
		batchMode: batchMode,
		logger:    util.GetLogger(),
	}
}

// Reconcile completes every reservation in ids for the scanning merchant.
//
// In atomic mode the batch commits as one transaction: either every member is
// completed or none is. In per-row mode each member is its own guarded
// transaction and a mixed outcome is returned as a *models.BatchError
// alongside the result listing who succeeded.
func (r *InventoryReconciler) Reconcile(ctx context.Context, merchantID string, ids []string) (_ models.RedemptionResult, err error) {
	ctx, span := util.StartSpan(ctx, "InventoryReconciler.Reconcile", merchantID,
		attribute.Int("selection.size", len(ids)),
		attribute.String("batch.mode", r.batchMode))
	defer func() { util.EndSpan(span, err) }()

	start := time.Now()
	defer func() {
		util.ReconcileLatency.Observe(time.Since(start).Seconds())
	}()

	if len(ids) == 0 {
		return models.RedemptionResult{}, models.ErrEmptySelection
	}

	var result models.RedemptionResult
	if r.batchMode == config.BatchModePerRow && len(ids) > 1 {
		result, err = r.reconcilePerRow(ctx, merchantID, ids)
	} else {
		result, err = r.reconcileAtomic(ctx, merchantID, ids)
	}

	r.publishRedeemed(ctx, merchantID, result.Redeemed)
	if len(result.Redeemed) > 0 {
		util.RedemptionsTotal.WithLabelValues(modeLabel(len(ids))).Inc()
	}
	if err != nil {
		util.RedemptionFailuresTotal.WithLabelValues(models.ErrorCode(err)).Inc()
	}
	return result, err
}

func (r *InventoryReconciler) reconcileAtomic(ctx context.Context, merchantID string, ids []string) (models.RedemptionResult, error) {
	completed, err := r.store.CompleteReservations(ctx, merchantID, ids, r.clock.Now())
	if err != nil {
		r.logger.Warn("Redemption batch rejected",
			zap.String("merchant_id", merchantID),
			zap.Strings("reservation_ids", ids),
			zap.Error(err))
		return models.RedemptionResult{}, err
	}

	r.logger.Info("Reservations redeemed",
		zap.String("merchant_id", merchantID),
		zap.Strings("reservation_ids", ids))
	return models.RedemptionResult{Redeemed: completed}, nil
}

func (r *InventoryReconciler) reconcilePerRow(ctx context.Context, merchantID string, ids []string) (models.RedemptionResult, error) {
	var result models.RedemptionResult
	var firstErr error

	for _, id := range ids {
		completed, err := r.store.CompleteReservations(ctx, merchantID, []string{id}, r.clock.Now())
		if err != nil {
			if !isItemFailure(err) {
				// Infrastructure failure: stop, report what already committed.
				r.logger.Error("Redemption aborted mid-batch",
					zap.String("reservation_id", id),
					zap.Strings("redeemed", result.RedeemedIDs()),
					zap.Error(err))
				if len(result.Redeemed) == 0 {
					return result, err
				}
				result.Failed = append(result.Failed, models.NewItemFailure(id, err))
				return result, r.partial(ctx, merchantID, result)
			}
			r.logger.Warn("Reservation not redeemed",
				zap.String("reservation_id", id),
				zap.Error(err))
			result.Failed = append(result.Failed, models.NewItemFailure(id, err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		result.Redeemed = append(result.Redeemed, completed...)
	}

	switch {
	case len(result.Failed) == 0:
		r.logger.Info("Reservations redeemed",
			zap.String("merchant_id", merchantID),
			zap.Strings("reservation_ids", ids))
		return result, nil
	case len(result.Redeemed) == 0:
		return result, firstErr
	default:
		return result, r.partial(ctx, merchantID, result)
	}
}

func (r *InventoryReconciler) partial(ctx context.Context, merchantID string, result models.RedemptionResult) error {
	util.PartialBatchesTotal.Inc()
	batchErr := &models.BatchError{Succeeded: result.RedeemedIDs(), Failed: result.Failed}
	r.logger.Warn("Partial batch redemption",
		zap.String("merchant_id", merchantID),
		zap.Strings("succeeded", batchErr.Succeeded),
		zap.Int("failed", len(batchErr.Failed)))

	event := &models.PartialBatchFailureEvent{
		BaseEvent:  newBaseEvent(models.EventTypePartialBatchFailure, r.clock.Now()),
		MerchantID: merchantID,
		Succeeded:  batchErr.Succeeded,
		Failed:     batchErr.Failed,
	}
	if err := r.publisher.PublishPartialBatchFailure(ctx, event); err != nil {
		r.logger.Error("Failed to publish PartialBatchFailure event", zap.Error(err))
	}
	return batchErr
}

func (r *InventoryReconciler) publishRedeemed(ctx context.Context, merchantID string, completed []models.Reservation) {
	for _, res := range completed {
		util.ReservationsCompletedTotal.Inc()
		util.UnitsHandedOverTotal.Add(float64(res.Quantity))
		publishRedeemed(ctx, r.publisher, r.logger, merchantID, res, r.clock.Now())
	}
}

func publishRedeemed(ctx context.Context, publisher EventPublisher, logger *zap.Logger, merchantID string, res models.Reservation, now time.Time) {
	completedAt := now
	if res.CompletedAt != nil {
		completedAt = *res.CompletedAt
	}
	event := &models.ReservationRedeemedEvent{
		BaseEvent:     newBaseEvent(models.EventTypeReservationRedeemed, now),
		ReservationID: res.ID,
		LotID:         res.LotID,
		MerchantID:    merchantID,
		UserID:        res.UserID,
		Quantity:      res.Quantity,
		IsDonation:    res.IsDonation,
		CompletedAt:   completedAt,
	}
	if err := publisher.PublishReservationRedeemed(ctx, event); err != nil {
		logger.Error("Failed to publish ReservationRedeemed event",
			zap.String("reservation_id", res.ID),
			zap.Error(err))
	}
}

func newBaseEvent(eventType string, now time.Time) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: now,
	}
}

// isItemFailure reports whether err is about one selection member rather than the store itself.
func isItemFailure(err error) bool {
	var itemErr *models.ItemError
	return errors.As(err, &itemErr)
}

func modeLabel(n int) string {
	if n > 1 {
		return string(PickupModeMulti)
	}
	return string(PickupModeSingle)
}
