package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	refreshLead     = 5 * time.Minute
	refreshMinDelay = time.Minute
)

// RefreshDelay calcula cuanto esperar para el refresh proactivo:
// 5 minutos antes de expirar y nunca antes de 1 minuto desde ahora.
func RefreshDelay(expiresAtMillis int64, now time.Time) time.Duration {
	return refreshDelay(expiresAtMillis, now, refreshLead, refreshMinDelay)
}

func refreshDelay(expiresAtMillis int64, now time.Time, lead, minDelay time.Duration) time.Duration {
	fireAt := time.UnixMilli(NormalizeExpiry(expiresAtMillis)).Add(-lead)
	d := fireAt.Sub(now)
	if d < minDelay {
		return minDelay
	}
	return d
}

// Refresher programa un refresh antes de que venza el access token.
// Se rearma con cada cambio de sesion y se cancela al cerrar sesion o con Stop.
type Refresher struct {
	gateway  *Gateway
	logger   *zap.Logger
	lead     time.Duration
	minDelay time.Duration
	timeout  time.Duration

	mu          sync.Mutex
	timer       *time.Timer
	gen         uint64
	unsubscribe func()
}

func NewRefresher(g *Gateway, logger *zap.Logger) *Refresher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Refresher{
		gateway:  g,
		logger:   logger,
		lead:     refreshLead,
		minDelay: refreshMinDelay,
		timeout:  30 * time.Second,
	}
}

// Start se suscribe al cache y arma el timer para la sesion actual.
func (r *Refresher) Start() {
	r.mu.Lock()
	if r.unsubscribe != nil {
		r.mu.Unlock()
		return
	}
	r.unsubscribe = r.gateway.cache.Subscribe(r.arm)
	r.mu.Unlock()

	s, ok := r.gateway.cache.Get()
	r.arm(s, ok)
}

func (r *Refresher) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.unsubscribe != nil {
		r.unsubscribe()
		r.unsubscribe = nil
	}
	r.cancelLocked()
}

func (r *Refresher) arm(s Session, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelLocked()
	if r.unsubscribe == nil || !ok || r.gateway.cache.LoggingOut() {
		return
	}
	delay := refreshDelay(s.ExpiresAt, r.gateway.now(), r.lead, r.minDelay)
	gen := r.gen
	token := s.AccessToken
	r.timer = time.AfterFunc(delay, func() { r.fire(gen, token) })
	r.logger.Debug("refresh scheduled", zap.String("user_id", s.User.ID), zap.Duration("in", delay))
}

func (r *Refresher) cancelLocked() {
	r.gen++
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

func (r *Refresher) fire(gen uint64, token string) {
	r.mu.Lock()
	stale := gen != r.gen
	r.mu.Unlock()
	if stale || r.gateway.cache.LoggingOut() {
		return
	}
	current, ok := r.gateway.cache.Get()
	if !ok || current.AccessToken != token {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if _, err := r.gateway.Refresh(ctx); err != nil {
		if errors.Is(err, ErrSessionExpired) {
			r.logger.Info("proactive refresh ended session", zap.String("user_id", current.User.ID))
			return
		}
		r.logger.Warn("proactive refresh failed", zap.Error(err), zap.String("user_id", current.User.ID))
		r.arm(current, true)
	}
}
