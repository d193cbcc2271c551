package api

import (
	"errors"
	"net/http"

	"pickup-service/internal/models"

	"github.com/gin-gonic/gin"
)

// statusFor maps domain errors onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrPartialBatchFailure):
		return http.StatusMultiStatus
	case errors.Is(err, models.ErrNotFound), errors.Is(err, models.ErrNoAvailableBaskets):
		return http.StatusNotFound
	case errors.Is(err, models.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, models.ErrAlreadyRedeemed),
		errors.Is(err, models.ErrCancelled),
		errors.Is(err, models.ErrAlreadyClaimed),
		errors.Is(err, models.ErrLedgerConflict),
		errors.Is(err, models.ErrLotUnavailable),
		errors.Is(err, models.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, models.ErrPinMismatch):
		return http.StatusUnauthorized
	case errors.Is(err, models.ErrEmptySelection), errors.Is(err, models.ErrInvalidPayload):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	details := err.Error()
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		details = "internal error"
	}
	c.JSON(status, gin.H{
		"error":   models.ErrorCode(err),
		"details": details,
	})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "invalid_request",
		"details": err.Error(),
	})
}
