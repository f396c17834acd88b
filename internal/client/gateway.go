package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"openarchive/internal/domain"
)

// SessionExpiredMessage es el unico mensaje que ve el usuario ante un fallo de autenticacion.
const SessionExpiredMessage = "Your session has expired. Please sign in again."

var ErrSessionExpired = errors.New(SessionExpiredMessage)

// APIError es una respuesta no exitosa del backend o un fallo de transporte (Status 0).
type APIError struct {
	Status  int
	Code    string
	Message string
	Err     error
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("request failed with status %d", e.Status)
}

func (e *APIError) Unwrap() error { return e.Err }

// invalidTokenCode es el codigo con que el backend rechaza un token invalido (403).
const invalidTokenCode = "invalid_token"

// Gateway es el unico punto por el que salen las llamadas autenticadas.
type Gateway struct {
	baseURL    string
	httpClient *http.Client
	cache      *SessionCache
	logger     *zap.Logger
	now        func() time.Time
	refreshes  singleflight.Group
}

func NewGateway(baseURL string, httpClient *http.Client, cache *SessionCache, logger *zap.Logger) *Gateway {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		cache:      cache,
		logger:     logger,
		now:        time.Now,
	}
}

// Cache expone el SessionCache que usa el gateway.
func (g *Gateway) Cache() *SessionCache { return g.cache }

type rawResponse struct {
	status int
	body   []byte
}

// Call ejecuta una llamada autenticada. Ante un 401 refresca una sola vez y reintenta una sola vez.
func (g *Gateway) Call(ctx context.Context, method, endpoint string, body any) (json.RawMessage, error) {
	if g.cache.LoggingOut() {
		g.event("request_blocked", "", "logging_out", zap.String("endpoint", endpoint))
		return nil, ErrSessionExpired
	}

	token := g.currentToken()
	resp, err := g.send(ctx, method, endpoint, body, token)
	if err != nil {
		return nil, err
	}
	if !isAuthFailure(resp) {
		return g.result(resp)
	}

	if g.cache.LoggingOut() {
		return nil, ErrSessionExpired
	}
	session, err := g.refresh(ctx, token)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == 0 {
			return nil, err
		}
		g.signOut(ctx, "refresh_failed")
		return nil, ErrSessionExpired
	}

	resp, err = g.send(ctx, method, endpoint, body, session.AccessToken)
	if err != nil {
		return nil, err
	}
	if isAuthFailure(resp) {
		g.signOut(ctx, "retry_rejected")
		return nil, ErrSessionExpired
	}
	return g.result(resp)
}

func (g *Gateway) currentToken() string {
	s, ok := g.cache.Get()
	if !ok || IsExpired(s, g.now()) {
		return ""
	}
	return s.AccessToken
}

// refresh rota los tokens. Llamadas concurrentes con el mismo token comparten un unico refresh.
func (g *Gateway) refresh(ctx context.Context, staleToken string) (Session, error) {
	v, err, _ := g.refreshes.Do("refresh", func() (any, error) {
		current, ok := g.cache.Get()
		if !ok {
			return Session{}, &APIError{Status: http.StatusUnauthorized, Message: "no session"}
		}
		if staleToken != "" && current.AccessToken != staleToken && !IsExpired(current, g.now()) {
			return current, nil
		}
		// El refresh es compartido: no debe morir con el contexto del primer llamador.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.refreshTimeout())
		defer cancel()
		return g.doRefresh(rctx, current)
	})
	if err != nil {
		return Session{}, err
	}
	return v.(Session), nil
}

func (g *Gateway) refreshTimeout() time.Duration {
	if g.httpClient.Timeout > 0 {
		return g.httpClient.Timeout
	}
	return 30 * time.Second
}

func (g *Gateway) doRefresh(ctx context.Context, current Session) (Session, error) {
	resp, err := g.send(ctx, http.MethodPost, "/auth/refresh", map[string]string{"refresh_token": current.RefreshToken}, "")
	if err != nil {
		g.event("refresh", current.User.ID, "transport_error", zap.Error(err))
		return Session{}, err
	}
	if resp.status < 200 || resp.status >= 300 {
		g.event("refresh", current.User.ID, "rejected", zap.Int("status", resp.status))
		return Session{}, toAPIError(resp)
	}
	var tokens domain.Session
	if err := decodeData(resp.body, &tokens); err != nil {
		return Session{}, &APIError{Status: resp.status, Message: "malformed refresh response", Err: err}
	}
	if err := g.cache.Save(tokens, current.User); err != nil {
		return Session{}, &APIError{Status: resp.status, Message: "refresh returned an incomplete session", Err: err}
	}
	g.event("refresh", current.User.ID, "ok")
	s, _ := g.cache.Get()
	return s, nil
}

// signOut cierra la sesion una sola vez aunque varias llamadas fallen a la vez.
func (g *Gateway) signOut(ctx context.Context, reason string) {
	if !g.cache.BeginLogout() {
		return
	}
	s, ok := g.cache.Get()
	if ok {
		token := ""
		if !IsExpired(s, g.now()) {
			token = s.AccessToken
		}
		resp, err := g.send(ctx, http.MethodPost, "/auth/logout", map[string]string{"refresh_token": s.RefreshToken}, token)
		if err != nil {
			g.logger.Debug("remote logout failed", zap.Error(err))
		} else if resp.status >= 300 {
			g.logger.Debug("remote logout rejected", zap.Int("status", resp.status))
		}
	}
	g.cache.Clear()
	g.event("sign_out", s.User.ID, reason)
}

func (g *Gateway) send(ctx context.Context, method, endpoint string, body any, token string) (rawResponse, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return rawResponse{}, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+endpoint, reader)
	if err != nil {
		return rawResponse{}, &APIError{Message: "invalid request", Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return rawResponse{}, &APIError{Message: "network error: " + err.Error(), Err: err}
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return rawResponse{}, &APIError{Message: "read response: " + err.Error(), Err: err}
	}
	return rawResponse{status: resp.StatusCode, body: data}, nil
}

func (g *Gateway) result(resp rawResponse) (json.RawMessage, error) {
	if resp.status < 200 || resp.status >= 300 {
		return nil, toAPIError(resp)
	}
	if len(bytes.TrimSpace(resp.body)) == 0 {
		return json.RawMessage("{}"), nil
	}
	return json.RawMessage(resp.body), nil
}

func (g *Gateway) event(kind, userID, outcome string, fields ...zap.Field) {
	base := []zap.Field{
		zap.String("event", kind),
		zap.String("user_id", userID),
		zap.String("outcome", outcome),
	}
	g.logger.Info("auth event", append(base, fields...)...)
}

// isAuthFailure: 401, o 403 por token invalido. Un 403 por rol no cuenta.
func isAuthFailure(resp rawResponse) bool {
	if resp.status == http.StatusUnauthorized {
		return true
	}
	if resp.status == http.StatusForbidden {
		var body struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(resp.body, &body)
		return body.Error == invalidTokenCode
	}
	return false
}

func toAPIError(resp rawResponse) *APIError {
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	_ = json.Unmarshal(resp.body, &body)
	msg := body.Message
	if msg == "" {
		msg = http.StatusText(resp.status)
	}
	return &APIError{Status: resp.status, Code: body.Error, Message: msg}
}

func decodeData(body []byte, out any) error {
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return err
	}
	if len(envelope.Data) == 0 || string(envelope.Data) == "null" {
		return errors.New("missing data field")
	}
	return json.Unmarshal(envelope.Data, out)
}
