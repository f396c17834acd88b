package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"openarchive/internal/config"
	"openarchive/internal/db"
	"openarchive/internal/email"
	apihttp "openarchive/internal/http"
	"openarchive/internal/repository"
	"openarchive/internal/service"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: loading .env: %v", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		panic(err)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	defer pool.Close()
	if err := db.EnsureSchema(ctx, pool); err != nil {
		logger.Fatal("db schema", zap.Error(err))
	}

	userRepo := repository.NewPgUserRepository(pool)
	auditRepo := repository.NewPgAuditRepository(pool)

	emailSender := email.NewDisabledSender("email sender not configured")
	if cfg.EmailLogOnly {
		logger.Warn("password reset codes are written to the log")
		emailSender = email.NewLogSender(logger)
	} else if cfg.SMTPHost != "" {
		sender, err := email.NewSMTPSender(email.SMTPOptions{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUser,
			Password: cfg.SMTPPass,
			From:     cfg.SMTPFrom,
			FromName: cfg.SMTPFromName,
			AppURL:   cfg.AppURL,
			UseTLS:   cfg.SMTPUseTLS,
		})
		if err != nil {
			logger.Warn("smtp sender init failed", zap.Error(err))
		} else {
			emailSender = sender
		}
	}

	loginWindow := time.Duration(cfg.LoginWindowMinutes) * time.Minute
	var (
		loginLimiter service.LoginLimiter
		tokenStore   service.RefreshTokenStore
	)
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer redisClient.Close()
		ctxPing, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := redisClient.Ping(ctxPing).Err(); err != nil {
			logger.Warn("redis ping failed, using in-memory stores", zap.Error(err))
		} else {
			loginLimiter = service.NewRedisLoginLimiter(redisClient, loginWindow, cfg.LoginMaxAttempts)
			tokenStore = service.NewRedisRefreshTokenStore(redisClient)
		}
		cancel()
	}
	if loginLimiter == nil {
		loginLimiter = service.NewMemoryLoginLimiter(loginWindow, cfg.LoginMaxAttempts)
	}

	jwtSvc := service.NewJWTServiceWithStore(
		cfg.JWTSecret,
		cfg.JWTIssuer,
		time.Duration(cfg.JWTAccessTTLMinutes)*time.Minute,
		time.Duration(cfg.JWTRefreshTTLMinutes)*time.Minute,
		tokenStore,
	)

	auditSvc := service.NewAuditService(logger, auditRepo)
	userSvc := service.NewUserService(logger, userRepo, jwtSvc, auditSvc, emailSender, loginLimiter)

	router := apihttp.NewRouter(apihttp.RouterDeps{
		Logger:         logger,
		JWT:            jwtSvc,
		Users:          apihttp.NewUserHandler(logger, userSvc),
		Admin:          apihttp.NewAdminHandler(logger, userSvc, auditSvc),
		Metrics:        apihttp.NewMetrics(),
		AuthRate:       cfg.AuthRatePerSecond,
		AuthRateBurst:  cfg.AuthRateBurst,
		CORSOrigins:    cfg.CORSAllowedOrigins,
		TrustedProxies: cfg.TrustedProxies,
	})

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("server shutdown", zap.Error(err))
		}
	}()

	logger.Info("starting server", zap.String("port", cfg.HTTPPort))

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server error", zap.Error(err))
	}
	logger.Info("server stopped")
}
