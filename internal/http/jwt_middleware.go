package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"openarchive/internal/access"
	"openarchive/internal/service"
)

const identityKey = "auth_identity"

// JWTAuthMiddleware valida el access token y guarda la identidad en el contexto.
// Sin token responde 401; con token invalido o vencido responde 403.
func JWTAuthMiddleware(jwtSvc *service.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if jwtSvc == nil {
			respondError(c, http.StatusInternalServerError, "internal_error", "jwt not configured")
			return
		}

		token, ok := bearerToken(c)
		if !ok {
			respondError(c, http.StatusUnauthorized, "unauthorized", "Access token required")
			return
		}

		claims, err := jwtSvc.ParseAccessToken(token)
		if err != nil {
			respondError(c, http.StatusForbidden, "invalid_token", "Invalid or expired token")
			return
		}

		c.Set(identityKey, identityFromClaims(claims))
		c.Next()
	}
}

// OptionalAuth adjunta la identidad si el token es valido y sigue como anonimo si no.
func OptionalAuth(jwtSvc *service.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token, ok := bearerToken(c); ok && jwtSvc != nil {
			if claims, err := jwtSvc.ParseAccessToken(token); err == nil {
				c.Set(identityKey, identityFromClaims(claims))
			}
		}
		c.Next()
	}
}

// GetIdentity obtiene la identidad autenticada desde el contexto.
func GetIdentity(c *gin.Context) (access.Identity, bool) {
	val, ok := c.Get(identityKey)
	if !ok {
		return access.Identity{}, false
	}
	id, ok := val.(access.Identity)
	return id, ok
}

func bearerToken(c *gin.Context) (string, bool) {
	header := strings.TrimSpace(c.GetHeader("Authorization"))
	if len(header) < len("Bearer ") || !strings.EqualFold(header[:len("Bearer ")], "bearer ") {
		return "", false
	}
	token := strings.TrimSpace(header[len("Bearer "):])
	return token, token != ""
}

func identityFromClaims(claims service.Claims) access.Identity {
	return access.Identity{
		UserID: claims.UserID,
		Email:  claims.Email,
		Role:   claims.Role,
	}
}
