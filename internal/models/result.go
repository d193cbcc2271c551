package models

// ItemFailure is one selection member that could not be redeemed
type ItemFailure struct {
	ID      string `json:"id"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RedemptionResult summarises a redeem or claim request
type RedemptionResult struct {
	Redeemed []Reservation `json:"redeemed"`
	Failed   []ItemFailure `json:"failed,omitempty"`
}

// RedeemedIDs lists the reservation ids that reached completed.
func (r RedemptionResult) RedeemedIDs() []string {
	ids := make([]string, 0, len(r.Redeemed))
	for _, res := range r.Redeemed {
		ids = append(ids, res.ID)
	}
	return ids
}

// RedeemedQuantity is the number of units handed over.
func (r RedemptionResult) RedeemedQuantity() int {
	total := 0
	for _, res := range r.Redeemed {
		total += res.Quantity
	}
	return total
}

// Partial reports whether some but not all members succeeded.
func (r RedemptionResult) Partial() bool {
	return len(r.Redeemed) > 0 && len(r.Failed) > 0
}
