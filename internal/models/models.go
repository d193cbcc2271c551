package models

import "time"

// LotStatus is the sale state of a lot
type LotStatus string

const (
	LotStatusAvailable LotStatus = "available"
	LotStatusReserved  LotStatus = "reserved"
	LotStatusSoldOut   LotStatus = "sold_out"
	LotStatusExpired   LotStatus = "expired"
)

// Lot is a sellable batch of surplus food at a merchant
type Lot struct {
	ID               string    `db:"id" json:"id"`
	MerchantID       string    `db:"merchant_id" json:"merchant_id"`
	Title            string    `db:"title" json:"title"`
	QuantityTotal    int       `db:"quantity_total" json:"quantity_total"`
	QuantityReserved int       `db:"quantity_reserved" json:"quantity_reserved"`
	QuantitySold     int       `db:"quantity_sold" json:"quantity_sold"`
	Status           LotStatus `db:"status" json:"status"`
	OriginalPrice    int64     `db:"original_price" json:"original_price"`
	DiscountedPrice  int64     `db:"discounted_price" json:"discounted_price"`
	PickupStart      time.Time `db:"pickup_start" json:"pickup_start"`
	PickupEnd        time.Time `db:"pickup_end" json:"pickup_end"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}

// QuantityAvailable is what is left to reserve or claim.
func (l Lot) QuantityAvailable() int {
	return l.QuantityTotal - l.QuantityReserved - l.QuantitySold
}

// LedgerConsistent reports whether total >= reserved + sold and neither counter is negative.
func (l Lot) LedgerConsistent() bool {
	return l.QuantityReserved >= 0 && l.QuantitySold >= 0 && l.QuantityAvailable() >= 0
}

// ReservationStatus is the lifecycle state of a reservation
type ReservationStatus string

const (
	ReservationStatusPending   ReservationStatus = "pending"
	ReservationStatusConfirmed ReservationStatus = "confirmed"
	ReservationStatusCompleted ReservationStatus = "completed"
	ReservationStatusCancelled ReservationStatus = "cancelled"
)

// Active reports whether the status can still be redeemed.
func (s ReservationStatus) Active() bool {
	return s == ReservationStatusPending || s == ReservationStatusConfirmed
}

// Terminal reports whether the status can no longer change.
func (s ReservationStatus) Terminal() bool {
	return s == ReservationStatusCompleted || s == ReservationStatusCancelled
}

// Reservation is a customer's claim on a quantity of a lot
type Reservation struct {
	ID          string            `db:"id" json:"id"`
	LotID       string            `db:"lot_id" json:"lot_id"`
	UserID      string            `db:"user_id" json:"user_id"`
	Quantity    int               `db:"quantity" json:"quantity"`
	TotalPrice  int64             `db:"total_price" json:"total_price"`
	PickupPin   string            `db:"pickup_pin" json:"-"`
	Status      ReservationStatus `db:"status" json:"status"`
	IsDonation  bool              `db:"is_donation" json:"is_donation"`
	CreatedAt   time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time         `db:"updated_at" json:"updated_at"`
	CompletedAt *time.Time        `db:"completed_at" json:"completed_at,omitempty"`
}

// ReservationDetail is a reservation joined with the lot it draws from
type ReservationDetail struct {
	Reservation
	MerchantID string `db:"merchant_id" json:"merchant_id"`
	LotTitle   string `db:"lot_title" json:"lot_title"`
}

// BasketStatus is the claim state of a suspended basket
type BasketStatus string

const (
	BasketStatusAvailable BasketStatus = "available"
	BasketStatusClaimed   BasketStatus = "claimed"
)

// SuspendedBasket is a pre-funded donation redeemable by a beneficiary
type SuspendedBasket struct {
	ID         string       `db:"id" json:"id"`
	MerchantID string       `db:"merchant_id" json:"merchant_id"`
	LotID      *string      `db:"lot_id" json:"lot_id,omitempty"`
	Amount     int64        `db:"amount" json:"amount"`
	Status     BasketStatus `db:"status" json:"status"`
	ClaimedBy  *string      `db:"claimed_by" json:"claimed_by,omitempty"`
	ClaimedAt  *time.Time   `db:"claimed_at" json:"claimed_at,omitempty"`
	CreatedAt  time.Time    `db:"created_at" json:"created_at"`
}

// BasketDetail is a suspended basket joined with its lot, if the lot still exists
type BasketDetail struct {
	SuspendedBasket
	Lot *Lot `json:"lot,omitempty"`
}

// Claimable reports whether the basket is unclaimed and its lot still has stock.
func (b BasketDetail) Claimable() bool {
	if b.Status != BasketStatusAvailable || b.ClaimedBy != nil || b.Lot == nil {
		return false
	}
	return b.Lot.Status == LotStatusAvailable && b.Lot.QuantityAvailable() > 0
}

// Profile is a marketplace account; beneficiaries carry a scan code
type Profile struct {
	ID              string    `db:"id" json:"id"`
	Role            Role      `db:"role" json:"role"`
	DisplayName     string    `db:"display_name" json:"display_name"`
	BeneficiaryCode *string   `db:"beneficiary_code" json:"beneficiary_code,omitempty"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}

// ProcessedEvent for idempotency
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
