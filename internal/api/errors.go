package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/ecotionbuddy/binhub/internal/apperr"
	"github.com/gin-gonic/gin"
)

// statusFor maps a component error to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, apperr.ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err as {"detail": ...}. Internal errors are logged and their
// text is not returned.
func fail(c *gin.Context, log *slog.Logger, err error) {
	status := statusFor(err)
	detail := err.Error()
	if status == http.StatusInternalServerError {
		log.Error("request failed", "path", c.FullPath(), "error", err)
		detail = "internal error"
	}
	c.AbortWithStatusJSON(status, gin.H{"detail": detail})
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": msg})
}
