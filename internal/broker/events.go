package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"pickup-service/internal/models"
	"pickup-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventPublisher publishes redemption events. Ledger events are keyed by lot
// so one lot's history stays ordered on a single partition.
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

func lotKey(lotID string) string {
	return fmt.Sprintf("lot-%s", lotID)
}

func merchantKey(merchantID string) string {
	return fmt.Sprintf("merchant-%s", merchantID)
}

// PublishReservationRedeemed publishes ReservationRedeemed event
func (ep *EventPublisher) PublishReservationRedeemed(ctx context.Context, event *models.ReservationRedeemedEvent) error {
	return ep.producer.PublishEvent(ctx, lotKey(event.LotID), event)
}

// PublishBasketClaimed publishes BasketClaimed event
func (ep *EventPublisher) PublishBasketClaimed(ctx context.Context, event *models.BasketClaimedEvent) error {
	return ep.producer.PublishEvent(ctx, lotKey(event.LotID), event)
}

// PublishPartialBatchFailure publishes PartialBatchFailure event
func (ep *EventPublisher) PublishPartialBatchFailure(ctx context.Context, event *models.PartialBatchFailureEvent) error {
	return ep.producer.PublishEvent(ctx, merchantKey(event.MerchantID), event)
}

// EventHandler handles incoming events
type EventHandler struct {
	onReservationRedeemed func(context.Context, *models.ReservationRedeemedEvent) error
	onBasketClaimed       func(context.Context, *models.BasketClaimedEvent) error
	onPartialBatchFailure func(context.Context, *models.PartialBatchFailureEvent) error
	logger                *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnReservationRedeemed registers a handler for ReservationRedeemed events
func (eh *EventHandler) OnReservationRedeemed(handler func(context.Context, *models.ReservationRedeemedEvent) error) {
	eh.onReservationRedeemed = handler
}

// OnBasketClaimed registers a handler for BasketClaimed events
func (eh *EventHandler) OnBasketClaimed(handler func(context.Context, *models.BasketClaimedEvent) error) {
	eh.onBasketClaimed = handler
}

// OnPartialBatchFailure registers a handler for PartialBatchFailure events
func (eh *EventHandler) OnPartialBatchFailure(handler func(context.Context, *models.PartialBatchFailureEvent) error) {
	eh.onPartialBatchFailure = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	eh.logger.Debug("Handling event",
		zap.String("type", baseEvent.EventType),
		zap.String("id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypeReservationRedeemed:
		if eh.onReservationRedeemed != nil {
			var event models.ReservationRedeemedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal ReservationRedeemed event: %w", err)
			}
			return eh.onReservationRedeemed(ctx, &event)
		}

	case models.EventTypeBasketClaimed:
		if eh.onBasketClaimed != nil {
			var event models.BasketClaimedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal BasketClaimed event: %w", err)
			}
			return eh.onBasketClaimed(ctx, &event)
		}

	case models.EventTypePartialBatchFailure:
		if eh.onPartialBatchFailure != nil {
			var event models.PartialBatchFailureEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal PartialBatchFailure event: %w", err)
			}
			return eh.onPartialBatchFailure(ctx, &event)
		}

	default:
		eh.logger.Warn("Unhandled event type", zap.String("type", baseEvent.EventType))
	}

	return nil
}
