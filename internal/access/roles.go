package access

import "openarchive/internal/domain"

// Identity es la identidad decodificada del token para una sola peticion.
type Identity struct {
	UserID string
	Email  string
	Role   domain.Role
}

// inherits lista, para cada rol, los roles cuyo acceso incluye.
// admin se resuelve aparte: satisface cualquier requisito.
var inherits = map[domain.Role][]domain.Role{
	domain.RoleArchivist: {domain.RoleClerk},
}

// Satisfies indica si el rol actual cumple el rol requerido segun la jerarquia estatica.
func Satisfies(actual, required domain.Role) bool {
	if !actual.Valid() {
		return false
	}
	if actual == domain.RoleAdmin || actual == required {
		return true
	}
	// Cualquier usuario autenticado cumple un requisito de ciudadano.
	if required == domain.RoleCitizen {
		return true
	}
	for _, r := range inherits[actual] {
		if r == required {
			return true
		}
	}
	return false
}

// Allowed indica si el rol actual cumple alguno de los roles permitidos.
func Allowed(actual domain.Role, allowed []domain.Role) bool {
	for _, required := range allowed {
		if Satisfies(actual, required) {
			return true
		}
	}
	return actual == domain.RoleAdmin
}

var landing = map[domain.Role]string{
	domain.RoleAdmin:     "/dashboard",
	domain.RoleArchivist: "/archivist/ingest",
	domain.RoleClerk:     "/documents/upload",
	domain.RoleInspector: "/inspector/audit-logs",
	domain.RoleCitizen:   "/",
}

// LandingPath devuelve la vista por defecto de un rol.
func LandingPath(role domain.Role) (string, bool) {
	p, ok := landing[role]
	return p, ok
}
