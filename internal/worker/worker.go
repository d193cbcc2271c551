package worker

import (
	"context"
	"errors"
	"fmt"

	"pickup-service/internal/broker"
	"pickup-service/internal/models"
	"pickup-service/internal/util"

	"go.uber.org/zap"
)

// AuditStore is what the ledger audit reads and records
type AuditStore interface {
	GetLot(ctx context.Context, id string) (*models.Lot, error)
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// LedgerAuditWorker re-checks each touched lot's ledger after redemption events
type LedgerAuditWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	store        AuditStore
	logger       *zap.Logger
}

// NewLedgerAuditWorker creates a new ledger audit worker
func NewLedgerAuditWorker(consumer *broker.Consumer, store AuditStore) *LedgerAuditWorker {
	w := &LedgerAuditWorker{
		consumer: consumer,
		store:    store,
		logger:   util.GetLogger(),
	}

	eventHandler := broker.NewEventHandler()
	eventHandler.OnReservationRedeemed(w.HandleReservationRedeemed)
	eventHandler.OnBasketClaimed(w.HandleBasketClaimed)
	eventHandler.OnPartialBatchFailure(w.HandlePartialBatchFailure)
	w.eventHandler = eventHandler

	return w
}

// Start starts the worker
func (w *LedgerAuditWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting ledger audit worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *LedgerAuditWorker) Stop() error {
	w.logger.Info("Stopping ledger audit worker")
	return w.consumer.Close()
}

// HandleReservationRedeemed audits the lot a redeemed reservation drew from
func (w *LedgerAuditWorker) HandleReservationRedeemed(ctx context.Context, event *models.ReservationRedeemedEvent) error {
	return w.once(ctx, event.BaseEvent, func() error {
		return w.auditLot(ctx, event.LotID, zap.String("reservation_id", event.ReservationID))
	})
}

// HandleBasketClaimed audits the lot a claimed basket drew from
func (w *LedgerAuditWorker) HandleBasketClaimed(ctx context.Context, event *models.BasketClaimedEvent) error {
	return w.once(ctx, event.BaseEvent, func() error {
		return w.auditLot(ctx, event.LotID, zap.String("basket_id", event.BasketID))
	})
}

// HandlePartialBatchFailure records a per-row batch that only partly committed
func (w *LedgerAuditWorker) HandlePartialBatchFailure(ctx context.Context, event *models.PartialBatchFailureEvent) error {
	return w.once(ctx, event.BaseEvent, func() error {
		failed := make([]string, 0, len(event.Failed))
		for _, f := range event.Failed {
			failed = append(failed, f.ID+"="+f.Code)
		}
		w.logger.Warn("Partial batch recorded",
			zap.String("merchant_id", event.MerchantID),
			zap.Strings("succeeded", event.Succeeded),
			zap.Strings("failed", failed))
		return nil
	})
}

func (w *LedgerAuditWorker) once(ctx context.Context, base models.BaseEvent, fn func() error) error {
	processed, err := w.store.IsEventProcessed(ctx, base.EventID)
	if err != nil {
		return fmt.Errorf("failed to check event: %w", err)
	}
	if processed {
		w.logger.Debug("Event already processed", zap.String("event_id", base.EventID))
		return nil
	}

	if err := fn(); err != nil {
		return err
	}

	if err := w.store.MarkEventProcessed(ctx, base.EventID, base.EventType); err != nil {
		return fmt.Errorf("failed to mark event processed: %w", err)
	}
	return nil
}

func (w *LedgerAuditWorker) auditLot(ctx context.Context, lotID string, cause zap.Field) error {
	lot, err := w.store.GetLot(ctx, lotID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			w.logger.Warn("Audited lot no longer exists", zap.String("lot_id", lotID), cause)
			return nil
		}
		return fmt.Errorf("failed to load lot: %w", err)
	}

	if !lot.LedgerConsistent() {
		util.LedgerViolationsTotal.Inc()
		w.logger.Error("Lot ledger violated",
			zap.String("lot_id", lot.ID),
			zap.Int("quantity_total", lot.QuantityTotal),
			zap.Int("quantity_reserved", lot.QuantityReserved),
			zap.Int("quantity_sold", lot.QuantitySold),
			cause)
		return nil
	}

	w.logger.Debug("Lot ledger consistent",
		zap.String("lot_id", lot.ID),
		zap.Int("quantity_available", lot.QuantityAvailable()),
		cause)
	return nil
}
