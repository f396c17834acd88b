package http

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"openarchive/internal/domain"
	"openarchive/internal/ids"
	"openarchive/internal/service"
)

const requestIDKey = "request_id"

// RouterDeps reune lo necesario para montar el router.
type RouterDeps struct {
	Logger        *zap.Logger
	JWT           *service.JWTService
	Users         *UserHandler
	Admin         *AdminHandler
	Metrics       *Metrics
	AuthRate      float64
	AuthRateBurst int
	CORSOrigins   []string
	// Proxies cuyo X-Forwarded-For se acepta. Vacio: ninguno.
	TrustedProxies []string
}

// NewRouter configura el router de Gin con middlewares y rutas.
func NewRouter(deps RouterDeps) *gin.Engine {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = NewMetrics()
	}

	r := gin.New()
	if err := r.SetTrustedProxies(deps.TrustedProxies); err != nil {
		logger.Warn("invalid trusted proxies, trusting none", zap.Error(err), zap.Strings("proxies", deps.TrustedProxies))
		_ = r.SetTrustedProxies(nil)
	}
	r.Use(requestIDMiddleware(), CORSMiddleware(deps.CORSOrigins), zapLoggerMiddleware(logger), gin.Recovery(), metrics.Middleware())

	r.GET("/healthz", Health)
	r.GET("/metrics", metrics.Handler())

	authn := JWTAuthMiddleware(deps.JWT)

	auth := r.Group("/auth")
	auth.Use(RateLimitMiddleware(deps.AuthRate, deps.AuthRateBurst))
	auth.POST("/register", deps.Users.Register)
	auth.POST("/login", deps.Users.Login)
	auth.POST("/refresh", deps.Users.Refresh)
	auth.POST("/password/reset", deps.Users.RequestPasswordReset)
	auth.POST("/password/confirm", deps.Users.ConfirmPasswordReset)
	auth.POST("/logout", authn, deps.Users.Logout)
	auth.GET("/profile", authn, deps.Users.GetProfile)
	auth.PUT("/profile", authn, deps.Users.UpdateProfile)
	auth.GET("/profile/:id", authn, deps.Users.GetProfileByID)

	admin := r.Group("/admin", authn, RequireAdmin(logger))
	admin.GET("/users", deps.Admin.ListUsers)
	admin.POST("/users", deps.Admin.CreateUser)
	admin.PUT("/users/:id/role", deps.Admin.ChangeRole)

	inspector := r.Group("/inspector", authn, RequireRole(logger, domain.RoleInspector))
	inspector.GET("/audit-logs", deps.Admin.AuditLogs)

	return r
}

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = ids.New()
		}
		c.Set(requestIDKey, id)
		c.Writer.Header().Set("X-Request-ID", id)
		c.Next()
	}
}

// zapLoggerMiddleware registra cada request con zap.
func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", latency),
			zap.String("client_ip", c.ClientIP()),
			zap.String("request_id", c.GetString(requestIDKey)),
		}
		if id, ok := GetIdentity(c); ok {
			fields = append(fields, zap.String("user_id", id.UserID))
		}
		logger.Info("request", fields...)
	}
}
