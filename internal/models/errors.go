package models

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrForbidden           = errors.New("forbidden")
	ErrAlreadyRedeemed     = errors.New("already redeemed")
	ErrCancelled           = errors.New("reservation cancelled")
	ErrPinMismatch         = errors.New("pin mismatch")
	ErrEmptySelection      = errors.New("empty selection")
	ErrNoAvailableBaskets  = errors.New("no available baskets")
	ErrAlreadyClaimed      = errors.New("basket already claimed")
	ErrPartialBatchFailure = errors.New("partial batch failure")
	ErrInvalidPayload      = errors.New("invalid scan payload")
	ErrLotUnavailable      = errors.New("lot unavailable")
	ErrLedgerConflict      = errors.New("lot ledger conflict")
	ErrInvalidTransition   = errors.New("invalid session transition")
	ErrOutcomeUnknown      = errors.New("redemption outcome unknown")
)

// ItemError ties a failure to one member of a selection set.
type ItemError struct {
	ID  string
	Err error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("%s: %v", e.ID, e.Err)
}

func (e *ItemError) Unwrap() error {
	return e.Err
}

// BatchError reports a batch where some members were redeemed and others were not.
type BatchError struct {
	Succeeded []string
	Failed    []ItemFailure
}

func (e *BatchError) Error() string {
	ids := make([]string, 0, len(e.Failed))
	for _, f := range e.Failed {
		ids = append(ids, f.ID+"="+f.Code)
	}
	return fmt.Sprintf("%v: %d succeeded, %d failed (%s)",
		ErrPartialBatchFailure, len(e.Succeeded), len(e.Failed), strings.Join(ids, ", "))
}

func (e *BatchError) Unwrap() error {
	return ErrPartialBatchFailure
}

// IsRecoverable reports whether the operator can retry without a fresh scan.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrPinMismatch) || errors.Is(err, ErrEmptySelection)
}

// ErrorCode returns a stable machine-readable code for err.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrPartialBatchFailure):
		return "partial_batch_failure"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrAlreadyRedeemed):
		return "already_redeemed"
	case errors.Is(err, ErrCancelled):
		return "cancelled"
	case errors.Is(err, ErrPinMismatch):
		return "pin_mismatch"
	case errors.Is(err, ErrEmptySelection):
		return "empty_selection"
	case errors.Is(err, ErrNoAvailableBaskets):
		return "no_available_baskets"
	case errors.Is(err, ErrAlreadyClaimed):
		return "already_claimed"
	case errors.Is(err, ErrInvalidPayload):
		return "invalid_payload"
	case errors.Is(err, ErrLotUnavailable):
		return "lot_unavailable"
	case errors.Is(err, ErrLedgerConflict):
		return "ledger_conflict"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrOutcomeUnknown):
		return "outcome_unknown"
	default:
		return "internal"
	}
}

// NewItemFailure converts an item error into its reportable form.
func NewItemFailure(id string, err error) ItemFailure {
	return ItemFailure{ID: id, Code: ErrorCode(err), Message: err.Error()}
}
