package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/richardliu001/prediction-tournament/internal/service"
)

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrTryLater):
		return http.StatusServiceUnavailable
	case errors.Is(err, service.ErrInvalidAmount),
		errors.Is(err, service.ErrInvalidInput),
		errors.Is(err, service.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrDepositExpired):
		return http.StatusGone
	case errors.Is(err, service.ErrDuplicateRequest),
		errors.Is(err, service.ErrDuplicateIdempotencyKey),
		errors.Is(err, service.ErrInvalidStateTransition),
		errors.Is(err, service.ErrCapacityExceeded),
		errors.Is(err, service.ErrWalletNotActive):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func (h *handler) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.log.Errorw("request failed", "path", c.FullPath(), "err", err)
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	if status == http.StatusServiceUnavailable {
		c.Header("Retry-After", "1")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}
