package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"openarchive/internal/service"
)

// respondError escribe el cuerpo de error estandar {"error": code, "message": text}.
func respondError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{"error": code, "message": message})
}

func respondData(c *gin.Context, status int, data any) {
	c.JSON(status, gin.H{"data": data})
}

// respondServiceError traduce los errores del servicio a HTTP.
func respondServiceError(c *gin.Context, logger *zap.Logger, op string, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		respondError(c, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, service.ErrInvalidRole):
		respondError(c, http.StatusBadRequest, "invalid_role", "Invalid role")
	case errors.Is(err, service.ErrEmailTaken):
		respondError(c, http.StatusConflict, "email_taken", "Email already registered")
	case errors.Is(err, service.ErrInvalidCredentials):
		respondError(c, http.StatusUnauthorized, "invalid_credentials", "Invalid email or password")
	case errors.Is(err, service.ErrSessionInvalid):
		respondError(c, http.StatusUnauthorized, "session_invalid", "Invalid or expired refresh token")
	case errors.Is(err, service.ErrRateLimited):
		respondError(c, http.StatusTooManyRequests, "rate_limited", "Too many attempts, try again later")
	case errors.Is(err, service.ErrUserNotFound):
		respondError(c, http.StatusNotFound, "not_found", "User not found")
	case errors.Is(err, service.ErrForbidden):
		respondError(c, http.StatusForbidden, "forbidden", "Insufficient permissions")
	case errors.Is(err, service.ErrResetInvalid):
		respondError(c, http.StatusBadRequest, "reset_invalid", "Invalid reset code")
	case errors.Is(err, service.ErrResetExpired):
		respondError(c, http.StatusBadRequest, "reset_expired", "Reset code expired")
	case errors.Is(err, service.ErrEmailSendFailure):
		respondError(c, http.StatusServiceUnavailable, "email_unavailable", "Email delivery unavailable")
	default:
		logger.Error(op+" failed", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "internal_error", "Internal server error")
	}
}

// Health maneja GET /healthz.
func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
