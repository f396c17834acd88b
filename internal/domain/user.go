package domain

import "time"

// User representa un usuario con su perfil institucional.
type User struct {
	ID             string     `json:"id"`
	Email          string     `json:"email"`
	Role           Role       `json:"role"`
	FullName       string     `json:"full_name,omitempty"`
	Institution    string     `json:"institution,omitempty"`
	Department     string     `json:"department,omitempty"`
	Phone          string     `json:"phone,omitempty"`
	PasswordHash   string     `json:"-"`
	ResetCodeHash  string     `json:"-"`
	ResetExpiresAt *time.Time `json:"-"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// ProfileUpdate contiene los campos editables por el propio usuario.
type ProfileUpdate struct {
	FullName    *string `json:"full_name,omitempty"`
	Institution *string `json:"institution,omitempty"`
	Department  *string `json:"department,omitempty"`
	Phone       *string `json:"phone,omitempty"`
}

// Empty indica si la actualizacion no modifica ningun campo.
func (u ProfileUpdate) Empty() bool {
	return u.FullName == nil && u.Institution == nil && u.Department == nil && u.Phone == nil
}
