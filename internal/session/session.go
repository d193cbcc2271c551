// Package session holds the pickup counter state machine. It performs no I/O;
// the caller loads data, runs redemptions and feeds the outcomes back in.
package session

import (
	"fmt"
	"time"

	"pickup-service/internal/models"
	"pickup-service/internal/scan"
)

type State string

// ValidatingTimeout bounds how long a session may sit in StateValidating
// before Refresh treats the commit as interrupted.
const ValidatingTimeout = 2 * time.Minute

// Basket flows skip StatePinEntry: StateSuspendedBaskets confirms straight to StateValidating.
const (
	StateIdle              State = "idle"
	StateScanned           State = "scanned"
	StateSingleReservation State = "single_reservation"
	StateMultiReservation  State = "multi_reservation"
	StateSuspendedBaskets  State = "suspended_baskets"
	StatePinEntry          State = "pin_entry"
	StateValidating        State = "validating"
	StateCompleted         State = "completed"
	StateError             State = "error"
)

// Failure is the last error shown to the operator
type Failure struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	Recoverable bool   `json:"recoverable"`
}

// Session is one station's redemption flow
type Session struct {
	StationID    string                     `json:"station_id"`
	MerchantID   string                     `json:"merchant_id"`
	State        State                      `json:"state"`
	Intent       *scan.Intent               `json:"intent,omitempty"`
	Reservations []models.ReservationDetail `json:"reservations,omitempty"`
	Baskets      []models.BasketDetail      `json:"baskets,omitempty"`
	Selected     []string                   `json:"selected,omitempty"`
	// Origin is the selection state the flow returns to after a recoverable error.
	Origin    State                    `json:"origin,omitempty"`
	ReturnTo  State                    `json:"return_to,omitempty"`
	LastError *Failure                 `json:"last_error,omitempty"`
	Result    *models.RedemptionResult `json:"result,omitempty"`
	ResetAt   *time.Time               `json:"reset_at,omitempty"`
	StaleAt   *time.Time               `json:"stale_at,omitempty"`
	UpdatedAt time.Time                `json:"updated_at"`
	Version   int64                    `json:"-"`
}

// New returns an idle session for a station.
func New(stationID, merchantID string, now time.Time) *Session {
	return &Session{StationID: stationID, MerchantID: merchantID, State: StateIdle, UpdatedAt: now}
}

// Refresh applies the post-completion reset once its deadline has passed,
// and moves a validation that outlived ValidatingTimeout to the error state
// so the station can start over. It reports whether the session changed.
func (s *Session) Refresh(now time.Time) bool {
	switch {
	case s.State == StateCompleted && s.ResetAt != nil && !now.Before(*s.ResetAt):
		s.reset(now)
		return true
	case s.State == StateValidating && s.StaleAt != nil && !now.Before(*s.StaleAt):
		s.LastError = failureOf(fmt.Errorf("station %s: %w", s.StationID, models.ErrOutcomeUnknown))
		s.ReturnTo = StateIdle
		s.State = StateError
		s.StaleAt = nil
		s.touch(now)
		return true
	default:
		return false
	}
}

// Scan starts a new flow. A fresh scan is accepted anywhere except while a
// redemption is being committed.
func (s *Session) Scan(intent scan.Intent, now time.Time) error {
	if s.State == StateValidating {
		return s.invalid("scan")
	}
	s.reset(now)
	s.Intent = &intent
	s.State = StateScanned
	return nil
}

// PresentReservations shows the scanned customer's active reservations with
// the scanned one pre-selected. More than one candidate means multi-pickup.
func (s *Session) PresentReservations(candidates []models.ReservationDetail, scannedID string, now time.Time) error {
	if s.State != StateScanned || s.Intent == nil || s.Intent.Kind != scan.KindReservation {
		return s.invalid("present reservations")
	}
	if len(candidates) == 0 {
		return fmt.Errorf("present reservations: %w", models.ErrEmptySelection)
	}

	s.Reservations = candidates
	s.Selected = []string{scannedID}
	if len(candidates) > 1 {
		s.State = StateMultiReservation
	} else {
		s.State = StateSingleReservation
	}
	s.Origin = s.State
	s.touch(now)
	return nil
}

// PresentBaskets shows the baskets a beneficiary can take, all pre-selected.
func (s *Session) PresentBaskets(baskets []models.BasketDetail, now time.Time) error {
	if s.State != StateScanned || s.Intent == nil || s.Intent.Kind != scan.KindBeneficiary {
		return s.invalid("present baskets")
	}
	if len(baskets) == 0 {
		return fmt.Errorf("present baskets: %w", models.ErrNoAvailableBaskets)
	}

	s.Baskets = baskets
	s.Selected = make([]string, 0, len(baskets))
	for _, b := range baskets {
		s.Selected = append(s.Selected, b.ID)
	}
	s.State = StateSuspendedBaskets
	s.Origin = s.State
	s.touch(now)
	return nil
}

// Reject aborts a scan whose lookup failed. The operator must scan again.
func (s *Session) Reject(err error, now time.Time) error {
	if s.State != StateScanned {
		return s.invalid("reject")
	}
	s.reset(now)
	s.LastError = failureOf(err)
	return nil
}

// Toggle adds or removes a candidate from the selection.
func (s *Session) Toggle(id string, now time.Time) error {
	switch s.State {
	case StateSingleReservation, StateMultiReservation, StateSuspendedBaskets, StatePinEntry:
	default:
		return s.invalid("toggle")
	}
	if !s.isCandidate(id) {
		return fmt.Errorf("toggle %s: %w", id, models.ErrNotFound)
	}

	for i, sel := range s.Selected {
		if sel == id {
			s.Selected = append(s.Selected[:i:i], s.Selected[i+1:]...)
			s.touch(now)
			return nil
		}
	}
	s.Selected = append(s.Selected, id)
	s.touch(now)
	return nil
}

// EnterPin moves a reservation flow to PIN entry.
func (s *Session) EnterPin(now time.Time) error {
	if s.State != StateSingleReservation && s.State != StateMultiReservation {
		return s.invalid("enter pin")
	}
	s.State = StatePinEntry
	s.LastError = nil
	s.touch(now)
	return nil
}

// BeginValidation freezes the selection and returns a copy of it. Reservation
// flows confirm from PIN entry; basket flows confirm straight from the basket list.
func (s *Session) BeginValidation(now time.Time) ([]string, error) {
	if s.State != StatePinEntry && s.State != StateSuspendedBaskets {
		return nil, s.invalid("confirm")
	}
	if len(s.Selected) == 0 {
		s.LastError = failureOf(models.ErrEmptySelection)
		return nil, fmt.Errorf("confirm: %w", models.ErrEmptySelection)
	}

	s.State = StateValidating
	s.LastError = nil
	staleAt := now.Add(ValidatingTimeout)
	s.StaleAt = &staleAt
	s.touch(now)
	return append([]string(nil), s.Selected...), nil
}

// Complete records a committed redemption and schedules the return to idle.
func (s *Session) Complete(result models.RedemptionResult, now time.Time, resetAfter time.Duration) error {
	if s.State != StateValidating {
		return s.invalid("complete")
	}
	s.State = StateCompleted
	s.Result = &result
	s.StaleAt = nil
	resetAt := now.Add(resetAfter)
	s.ResetAt = &resetAt
	s.touch(now)
	return nil
}

// Fail records a redemption that did not commit. Recoverable errors return
// to the selection state before PIN entry; the rest require a fresh scan.
func (s *Session) Fail(err error, now time.Time) error {
	if s.State != StateValidating {
		return s.invalid("fail")
	}
	s.LastError = failureOf(err)
	if models.IsRecoverable(err) {
		s.ReturnTo = s.Origin
	} else {
		s.ReturnTo = StateIdle
	}
	s.State = StateError
	s.StaleAt = nil
	s.touch(now)
	return nil
}

// Recover leaves the error state.
func (s *Session) Recover(now time.Time) error {
	if s.State != StateError {
		return s.invalid("recover")
	}
	if s.ReturnTo == StateIdle || s.ReturnTo == "" {
		last := s.LastError
		s.reset(now)
		s.LastError = last
		return nil
	}
	s.State = s.ReturnTo
	s.ReturnTo = ""
	s.touch(now)
	return nil
}

// Abort abandons the flow. Nothing has been written before validation, so
// there is nothing to undo.
func (s *Session) Abort(now time.Time) error {
	if s.State == StateValidating {
		return s.invalid("abort")
	}
	s.reset(now)
	return nil
}

func (s *Session) isCandidate(id string) bool {
	for _, r := range s.Reservations {
		if r.ID == id {
			return true
		}
	}
	for _, b := range s.Baskets {
		if b.ID == id {
			return true
		}
	}
	return false
}

func (s *Session) reset(now time.Time) {
	*s = Session{
		StationID:  s.StationID,
		MerchantID: s.MerchantID,
		State:      StateIdle,
		UpdatedAt:  now,
		Version:    s.Version,
	}
}

func (s *Session) touch(now time.Time) {
	s.UpdatedAt = now
}

func (s *Session) invalid(op string) error {
	return fmt.Errorf("%s in state %s: %w", op, s.State, models.ErrInvalidTransition)
}

func failureOf(err error) *Failure {
	return &Failure{
		Code:        models.ErrorCode(err),
		Message:     err.Error(),
		Recoverable: models.IsRecoverable(err),
	}
}
