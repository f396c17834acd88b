package domain

import "time"

// Acciones auditadas por el flujo de autenticacion.
const (
	AuditUserRegistered         = "USER_REGISTERED"
	AuditUserLogin              = "USER_LOGIN"
	AuditLoginFailed            = "LOGIN_FAILED"
	AuditUserLogout             = "USER_LOGOUT"
	AuditProfileUpdated         = "PROFILE_UPDATED"
	AuditUserRoleChanged        = "USER_ROLE_CHANGED"
	AuditPasswordResetRequested = "PASSWORD_RESET_REQUESTED"
	AuditPasswordReset          = "PASSWORD_RESET"
)

// AuditEvent es una entrada de la tabla audit_logs.
type AuditEvent struct {
	ID         string         `json:"id"`
	Action     string         `json:"action"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// AuditFilter restringe el listado de eventos.
type AuditFilter struct {
	Action   string
	ActorID  string
	EntityID string
	Limit    int
	Offset   int
}
