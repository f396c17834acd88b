package access

import (
	"strings"

	"openarchive/internal/domain"
)

// Route describe una vista y los roles que pueden abrirla.
// Un patron acepta segmentos ":param" y un "*" final.
// GuestOnly marca vistas publicas que no tienen sentido con sesion abierta.
type Route struct {
	Pattern   string
	Roles     []domain.Role
	Public    bool
	GuestOnly bool
}

var (
	staffUpload = []domain.Role{domain.RoleClerk, domain.RoleArchivist, domain.RoleAdmin}
	archivists  = []domain.Role{domain.RoleArchivist, domain.RoleAdmin}
	inspectors  = []domain.Role{domain.RoleAdmin, domain.RoleInspector}
	admins      = []domain.Role{domain.RoleAdmin}
)

// DefaultRoutes es la tabla de vistas de la aplicacion.
var DefaultRoutes = []Route{
	{Pattern: "/", Public: true},
	{Pattern: "/search", Public: true},
	{Pattern: "/document/:id", Public: true},
	{Pattern: "/about", Public: true},
	{Pattern: "/faq", Public: true},
	{Pattern: "/contact", Public: true},
	{Pattern: "/portal", Public: true},
	{Pattern: "/login", Public: true, GuestOnly: true},
	{Pattern: "/register", Public: true, GuestOnly: true},
	{Pattern: "/forgot-password", Public: true, GuestOnly: true},
	{Pattern: "/reset-password", Public: true, GuestOnly: true},
	{Pattern: "/access-denied", Public: true},

	{Pattern: "/dashboard", Roles: admins},
	{Pattern: "/documents/upload", Roles: staffUpload},
	{Pattern: "/documents/my-uploads", Roles: staffUpload},
	{Pattern: "/documents/search", Roles: []domain.Role{domain.RoleArchivist, domain.RoleAdmin, domain.RoleInspector}},
	{Pattern: "/documents/:id", Roles: staffUpload},
	{Pattern: "/archivist/*", Roles: archivists},
	{Pattern: "/inspector/*", Roles: inspectors},
	{Pattern: "/admin/*", Roles: admins},
	{Pattern: "/profile", Roles: []domain.Role{domain.RoleCitizen}},
}

// MatchRoute busca la primera ruta que coincide con path.
func MatchRoute(routes []Route, path string) (Route, bool) {
	for _, r := range routes {
		if matchPattern(r.Pattern, path) {
			return r, true
		}
	}
	return Route{}, false
}

func matchPattern(pattern, path string) bool {
	path = cleanPath(path)
	if pattern == path {
		return true
	}
	ps := splitPath(pattern)
	xs := splitPath(path)
	for i, seg := range ps {
		if seg == "*" {
			return i < len(xs)
		}
		if i >= len(xs) {
			return false
		}
		if strings.HasPrefix(seg, ":") {
			if xs[i] == "" {
				return false
			}
			continue
		}
		if seg != xs[i] {
			return false
		}
	}
	return len(ps) == len(xs)
}

func cleanPath(p string) string {
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
	}
	return p
}

func splitPath(p string) []string {
	p = strings.Trim(cleanPath(p), "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}
