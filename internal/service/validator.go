package service

import (
	"crypto/subtle"
	"strings"

	"pickup-service/internal/models"
)

// NormalizeSelection trims and de-duplicates ids, keeping first-seen order.
func NormalizeSelection(ids []string) ([]string, error) {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	if len(out) == 0 {
		return nil, models.ErrEmptySelection
	}
	return out, nil
}

// ValidateRedemption checks a reservation selection before anything is written.
// Every member must belong to the scanning merchant, be held by the same
// customer and still be active, and the PIN must match at least one member's
// stored pickup PIN.
func ValidateRedemption(selection []models.ReservationDetail, merchantID, pin string) error {
	if len(selection) == 0 {
		return models.ErrEmptySelection
	}

	owner := selection[0].UserID
	for i := range selection {
		r := &selection[i]
		if r.MerchantID != merchantID || r.UserID != owner {
			return &models.ItemError{ID: r.ID, Err: models.ErrForbidden}
		}
		if err := lifecycleError(r); err != nil {
			return err
		}
	}

	if !pinMatchesAny(selection, strings.TrimSpace(pin)) {
		return models.ErrPinMismatch
	}
	return nil
}

func pinMatchesAny(selection []models.ReservationDetail, pin string) bool {
	if pin == "" {
		return false
	}
	matched := false
	for _, r := range selection {
		if subtle.ConstantTimeCompare([]byte(r.PickupPin), []byte(pin)) == 1 {
			matched = true
		}
	}
	return matched
}
