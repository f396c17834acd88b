package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"openarchive/internal/domain"
	"openarchive/internal/ids"
	"openarchive/internal/repository"
)

// AuditService registra eventos en audit_logs sin bloquear el flujo principal.
type AuditService struct {
	logger *zap.Logger
	repo   repository.AuditRepository
}

func NewAuditService(logger *zap.Logger, repo repository.AuditRepository) *AuditService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditService{logger: logger, repo: repo}
}

// Record persiste el evento; un fallo se registra en el log y no se propaga.
func (s *AuditService) Record(ctx context.Context, action, entityType, entityID, actorID string, details map[string]any) {
	if s == nil || s.repo == nil {
		return
	}
	event := domain.AuditEvent{
		ID:         ids.New(),
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		ActorID:    actorID,
		Details:    details,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.repo.Create(ctx, event); err != nil {
		s.logger.Warn("audit write failed",
			zap.Error(err),
			zap.String("action", action),
			zap.String("entity_id", entityID),
		)
	}
}

// List devuelve eventos filtrados, con limite acotado a [1,200].
func (s *AuditService) List(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditEvent, error) {
	if s == nil || s.repo == nil {
		return nil, errors.New("audit service not configured")
	}
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 50
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return s.repo.List(ctx, filter)
}
