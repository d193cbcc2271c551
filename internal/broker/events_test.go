package broker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"pickup-service/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	messages []kafka.Message
	err      error
}

func (w *recordingWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *recordingWriter) Close() error { return nil }

func base(eventType string) models.BaseEvent {
	return models.BaseEvent{EventID: "evt-1", EventType: eventType, Timestamp: time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)}
}

func TestEventPublisher_Keys(t *testing.T) {
	w := &recordingWriter{}
	pub := NewEventPublisher(newProducer(w))
	ctx := context.Background()

	require.NoError(t, pub.PublishReservationRedeemed(ctx, &models.ReservationRedeemedEvent{
		BaseEvent: base(models.EventTypeReservationRedeemed), ReservationID: "r1", LotID: "lot-9", Quantity: 3,
	}))
	require.NoError(t, pub.PublishBasketClaimed(ctx, &models.BasketClaimedEvent{
		BaseEvent: base(models.EventTypeBasketClaimed), BasketID: "b1", LotID: "lot-9",
	}))
	require.NoError(t, pub.PublishPartialBatchFailure(ctx, &models.PartialBatchFailureEvent{
		BaseEvent: base(models.EventTypePartialBatchFailure), MerchantID: "m1", Succeeded: []string{"r1"},
	}))

	require.Len(t, w.messages, 3)
	assert.Equal(t, "lot-lot-9", string(w.messages[0].Key))
	assert.Equal(t, "lot-lot-9", string(w.messages[1].Key))
	assert.Equal(t, "merchant-m1", string(w.messages[2].Key))

	var decoded models.ReservationRedeemedEvent
	require.NoError(t, json.Unmarshal(w.messages[0].Value, &decoded))
	assert.Equal(t, "r1", decoded.ReservationID)
	assert.Equal(t, 3, decoded.Quantity)
	assert.Equal(t, models.EventTypeReservationRedeemed, decoded.EventType)
}

func TestEventPublisher_WriteError(t *testing.T) {
	w := &recordingWriter{err: errors.New("leader not available")}
	pub := NewEventPublisher(newProducer(w))

	err := pub.PublishReservationRedeemed(context.Background(), &models.ReservationRedeemedEvent{LotID: "lot-1"})
	assert.ErrorContains(t, err, "leader not available")
}

func TestEventHandler_Routes(t *testing.T) {
	h := NewEventHandler()

	var redeemed *models.ReservationRedeemedEvent
	var claimed *models.BasketClaimedEvent
	var partial *models.PartialBatchFailureEvent
	h.OnReservationRedeemed(func(ctx context.Context, e *models.ReservationRedeemedEvent) error { redeemed = e; return nil })
	h.OnBasketClaimed(func(ctx context.Context, e *models.BasketClaimedEvent) error { claimed = e; return nil })
	h.OnPartialBatchFailure(func(ctx context.Context, e *models.PartialBatchFailureEvent) error { partial = e; return nil })

	encode := func(v interface{}) kafka.Message {
		b, err := json.Marshal(v)
		require.NoError(t, err)
		return kafka.Message{Value: b}
	}
	ctx := context.Background()

	require.NoError(t, h.HandleMessage(ctx, encode(&models.ReservationRedeemedEvent{BaseEvent: base(models.EventTypeReservationRedeemed), LotID: "lot-1"})))
	require.NoError(t, h.HandleMessage(ctx, encode(&models.BasketClaimedEvent{BaseEvent: base(models.EventTypeBasketClaimed), BasketID: "b1"})))
	require.NoError(t, h.HandleMessage(ctx, encode(&models.PartialBatchFailureEvent{BaseEvent: base(models.EventTypePartialBatchFailure), MerchantID: "m1"})))
	require.NoError(t, h.HandleMessage(ctx, encode(base("SOMETHING_ELSE"))))

	require.NotNil(t, redeemed)
	assert.Equal(t, "lot-1", redeemed.LotID)
	require.NotNil(t, claimed)
	assert.Equal(t, "b1", claimed.BasketID)
	require.NotNil(t, partial)
	assert.Equal(t, "m1", partial.MerchantID)

	assert.Error(t, h.HandleMessage(ctx, kafka.Message{Value: []byte("not json")}))
}
