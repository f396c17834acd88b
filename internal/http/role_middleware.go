package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"openarchive/internal/access"
	"openarchive/internal/domain"
)

// RequireRole permite el paso si la identidad cumple alguno de los roles; admin siempre pasa.
// Debe montarse despues de JWTAuthMiddleware: sin identidad responde 401.
func RequireRole(logger *zap.Logger, allowed ...domain.Role) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	roles := append([]domain.Role(nil), allowed...)
	return func(c *gin.Context) {
		id, ok := GetIdentity(c)
		if !ok {
			logger.Error("role check without identity; auth middleware missing",
				zap.String("path", c.FullPath()),
			)
			respondError(c, http.StatusUnauthorized, "unauthorized", "Authentication required")
			return
		}
		if !access.Allowed(id.Role, roles) {
			logger.Info("role denied",
				zap.String("user_id", id.UserID),
				zap.String("role", string(id.Role)),
				zap.String("path", c.FullPath()),
			)
			respondError(c, http.StatusForbidden, "forbidden", "Insufficient permissions")
			return
		}
		c.Next()
	}
}

// RequireStaff: cualquier funcionario.
func RequireStaff(logger *zap.Logger) gin.HandlerFunc {
	return RequireRole(logger, domain.RoleClerk, domain.RoleArchivist, domain.RoleInspector, domain.RoleAdmin)
}

func RequireDocumentManager(logger *zap.Logger) gin.HandlerFunc {
	return RequireRole(logger, domain.RoleArchivist, domain.RoleAdmin)
}

func RequireAdmin(logger *zap.Logger) gin.HandlerFunc {
	return RequireRole(logger, domain.RoleAdmin)
}
