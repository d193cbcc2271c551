package models

import "time"

// Event types
const (
	EventTypeReservationRedeemed = "RESERVATION_REDEEMED"
	EventTypeBasketClaimed       = "BASKET_CLAIMED"
	EventTypePartialBatchFailure = "PARTIAL_BATCH_FAILURE"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// ReservationRedeemedEvent published when a reservation reaches completed
type ReservationRedeemedEvent struct {
	BaseEvent
	ReservationID string    `json:"reservation_id"`
	LotID         string    `json:"lot_id"`
	MerchantID    string    `json:"merchant_id"`
	UserID        string    `json:"user_id"`
	Quantity      int       `json:"quantity"`
	IsDonation    bool      `json:"is_donation"`
	CompletedAt   time.Time `json:"completed_at"`
}

// BasketClaimedEvent published when a beneficiary wins a suspended basket
type BasketClaimedEvent struct {
	BaseEvent
	BasketID      string `json:"basket_id"`
	BeneficiaryID string `json:"beneficiary_id"`
	ReservationID string `json:"reservation_id"`
	LotID         string `json:"lot_id"`
	MerchantID    string `json:"merchant_id"`
}

// PartialBatchFailureEvent published when a per-row batch only partly completes
type PartialBatchFailureEvent struct {
	BaseEvent
	MerchantID string        `json:"merchant_id"`
	Succeeded  []string      `json:"succeeded"`
	Failed     []ItemFailure `json:"failed"`
}
