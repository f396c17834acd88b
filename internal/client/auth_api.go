package client

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"openarchive/internal/domain"
)

type RegisterRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	FullName    string `json:"full_name"`
	Institution string `json:"institution,omitempty"`
	Department  string `json:"department,omitempty"`
	Phone       string `json:"phone,omitempty"`
}

// Login autentica y guarda la sesion.
func (g *Gateway) Login(ctx context.Context, email, password string) (Session, error) {
	return g.openSession(ctx, "login", "/auth/login", map[string]string{"email": email, "password": password})
}

// Register crea una cuenta de ciudadano y guarda la sesion.
func (g *Gateway) Register(ctx context.Context, req RegisterRequest) (Session, error) {
	return g.openSession(ctx, "register", "/auth/register", req)
}

func (g *Gateway) openSession(ctx context.Context, kind, endpoint string, body any) (Session, error) {
	resp, err := g.send(ctx, http.MethodPost, endpoint, body, "")
	if err != nil {
		g.event(kind, "", "transport_error")
		return Session{}, err
	}
	if resp.status < 200 || resp.status >= 300 {
		apiErr := toAPIError(resp)
		g.event(kind, "", "rejected", zap.Int("status", resp.status))
		return Session{}, apiErr
	}
	var res domain.AuthResult
	if err := decodeData(resp.body, &res); err != nil {
		return Session{}, &APIError{Status: resp.status, Message: "malformed auth response", Err: err}
	}
	if err := g.cache.Save(res.Session, res.User); err != nil {
		return Session{}, err
	}
	g.event(kind, res.User.ID, "ok", zap.String("role", string(res.User.Role)))
	s, _ := g.cache.Get()
	return s, nil
}

// Refresh fuerza la rotacion de tokens. Un rechazo cierra la sesion y devuelve ErrSessionExpired.
func (g *Gateway) Refresh(ctx context.Context) (Session, error) {
	if g.cache.LoggingOut() {
		return Session{}, ErrSessionExpired
	}
	current, _ := g.cache.Get()
	s, err := g.refresh(ctx, current.AccessToken)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == 0 {
			return Session{}, err
		}
		g.signOut(ctx, "refresh_failed")
		return Session{}, ErrSessionExpired
	}
	return s, nil
}

// Logout intenta el cierre remoto y siempre borra la sesion local.
func (g *Gateway) Logout(ctx context.Context) {
	g.signOut(ctx, "user_logout")
}

func (g *Gateway) GetProfile(ctx context.Context) (domain.User, error) {
	raw, err := g.Call(ctx, http.MethodGet, "/auth/profile", nil)
	if err != nil {
		return domain.User{}, err
	}
	return g.storeProfile(raw)
}

func (g *Gateway) UpdateProfile(ctx context.Context, upd domain.ProfileUpdate) (domain.User, error) {
	raw, err := g.Call(ctx, http.MethodPut, "/auth/profile", upd)
	if err != nil {
		return domain.User{}, err
	}
	return g.storeProfile(raw)
}

// storeProfile actualiza la copia del usuario en la sesion vigente.
func (g *Gateway) storeProfile(raw []byte) (domain.User, error) {
	var user domain.User
	if err := decodeData(raw, &user); err != nil {
		return domain.User{}, &APIError{Status: http.StatusOK, Message: "malformed profile response", Err: err}
	}
	if s, ok := g.cache.Get(); ok && s.User.ID == user.ID {
		s.User = user
		if err := g.cache.Set(s); err != nil {
			g.logger.Warn("cache profile failed", zap.Error(err))
		}
	}
	return user, nil
}

// RequestPasswordReset pide el envio de un codigo de restablecimiento.
func (g *Gateway) RequestPasswordReset(ctx context.Context, email string) error {
	return g.publicPost(ctx, "/auth/password/reset", map[string]string{"email": email})
}

func (g *Gateway) ConfirmPasswordReset(ctx context.Context, email, code, newPassword string) error {
	return g.publicPost(ctx, "/auth/password/confirm", map[string]string{
		"email":        email,
		"code":         code,
		"new_password": newPassword,
	})
}

func (g *Gateway) publicPost(ctx context.Context, endpoint string, body any) error {
	resp, err := g.send(ctx, http.MethodPost, endpoint, body, "")
	if err != nil {
		return err
	}
	if resp.status < 200 || resp.status >= 300 {
		return toAPIError(resp)
	}
	return nil
}
