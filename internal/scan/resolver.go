// Package scan classifies raw strings read from a pickup code.
package scan

import (
	"encoding/json"
	"fmt"
	"strings"

	"pickup-service/internal/models"
)

// Kind tags which variant an Intent carries
type Kind string

const (
	KindReservation Kind = "reservation"
	KindBeneficiary Kind = "beneficiary"
)

// ReservationRef is the structured payload printed on a customer's pickup code.
// Pin is informational; the stored reservation PIN is authoritative.
type ReservationRef struct {
	ReservationID string `json:"reservationId"`
	Pin           string `json:"pin,omitempty"`
	UserID        string `json:"userId,omitempty"`
}

// Intent is the typed result of a scan. Exactly one of Reservation or
// BeneficiaryID is set, matching Kind.
type Intent struct {
	Kind          Kind            `json:"kind"`
	Reservation   *ReservationRef `json:"reservation,omitempty"`
	BeneficiaryID string          `json:"beneficiary_id,omitempty"`
}

// Resolve decodes raw as a reservation payload and falls back to a bare
// beneficiary identifier when it is not one.
func Resolve(raw string) (Intent, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Intent{}, fmt.Errorf("resolve scan: %w", models.ErrInvalidPayload)
	}

	if ref, ok := decodeReservation(trimmed); ok {
		return Intent{Kind: KindReservation, Reservation: &ref}, nil
	}

	return Intent{Kind: KindBeneficiary, BeneficiaryID: trimmed}, nil
}

func decodeReservation(s string) (ReservationRef, bool) {
	if !strings.HasPrefix(s, "{") {
		return ReservationRef{}, false
	}

	var ref ReservationRef
	if err := json.Unmarshal([]byte(s), &ref); err != nil {
		return ReservationRef{}, false
	}

	ref.ReservationID = strings.TrimSpace(ref.ReservationID)
	if ref.ReservationID == "" {
		return ReservationRef{}, false
	}
	return ref, true
}
