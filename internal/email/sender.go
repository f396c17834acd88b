package email

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrDisabled indica que no hay transporte de correo configurado.
var ErrDisabled = errors.New("email sender disabled")

// Sender envia los correos transaccionales del flujo de autenticacion.
type Sender interface {
	SendPasswordReset(ctx context.Context, toEmail, code string, expiresAt time.Time) error
}

type disabledSender struct {
	reason string
}

// NewDisabledSender devuelve un Sender que siempre falla; el reset responde 503.
func NewDisabledSender(reason string) Sender {
	return &disabledSender{reason: strings.TrimSpace(reason)}
}

func (s *disabledSender) SendPasswordReset(_ context.Context, toEmail, _ string, _ time.Time) error {
	if s.reason == "" {
		return ErrDisabled
	}
	return errors.Join(ErrDisabled, errors.New(s.reason+" ("+toEmail+")"))
}

// LogSender escribe el codigo en el log en lugar de enviarlo. Solo para desarrollo.
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSender{logger: logger}
}

func (s *LogSender) SendPasswordReset(ctx context.Context, toEmail, code string, expiresAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.logger.Info("password reset code (log-only sender)",
		zap.String("to", toEmail),
		zap.String("code", code),
		zap.Time("expires_at", expiresAt),
	)
	return nil
}
