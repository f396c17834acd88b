package domain

import "strings"

// Role es el rol asignado a un usuario por el backend.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleArchivist Role = "archivist"
	RoleClerk     Role = "clerk"
	RoleInspector Role = "inspector"
	RoleCitizen   Role = "citizen"
)

// AllRoles lista los roles conocidos.
var AllRoles = []Role{RoleAdmin, RoleArchivist, RoleClerk, RoleInspector, RoleCitizen}

// Valid indica si el rol pertenece al conjunto fijo.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleArchivist, RoleClerk, RoleInspector, RoleCitizen:
		return true
	}
	return false
}

// ParseRole normaliza un rol recibido como texto.
func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	return r, r.Valid()
}
