package client

import (
	"openarchive/internal/access"
	"openarchive/internal/domain"
)

// ViewState es el estado del router de vistas.
type ViewState string

const (
	StateLoading         ViewState = "loading"
	StateUnauthenticated ViewState = "unauthenticated"
	StateAuthorized      ViewState = "authorized"
	StateUnauthorized    ViewState = "unauthorized"
	// StateRedirect: ruta desconocida o vista de invitado con sesion abierta.
	StateRedirect ViewState = "redirect"
)

const (
	HomePath         = "/"
	LoginPath        = "/login"
	AccessDeniedPath = "/access-denied"
)

// Decision es el resultado de resolver una navegacion.
// Render y Redirect son excluyentes; en loading ambos quedan vacios.
type Decision struct {
	State    ViewState
	Redirect string
	ReturnTo string
	Render   string
}

// ViewRouter decide que vista mostrar segun la sesion cacheada y la tabla de rutas.
type ViewRouter struct {
	cache  *SessionCache
	routes []access.Route
}

func NewViewRouter(cache *SessionCache, routes []access.Route) *ViewRouter {
	if routes == nil {
		routes = access.DefaultRoutes
	}
	return &ViewRouter{cache: cache, routes: routes}
}

// Resolve decide la navegacion hacia path.
func (v *ViewRouter) Resolve(path string) Decision {
	if !v.cache.Loaded() {
		return Decision{State: StateLoading}
	}

	route, matched := access.MatchRoute(v.routes, path)
	if !matched {
		return Decision{State: StateRedirect, Redirect: HomePath}
	}

	s, ok := v.cache.Get()
	signedIn := ok && !v.cache.LoggingOut()
	if route.Public {
		if route.GuestOnly && signedIn {
			return Decision{State: StateRedirect, Redirect: landingOr(s.User.Role, HomePath)}
		}
		return Decision{State: StateAuthorized, Render: path}
	}
	if !signedIn {
		return Decision{State: StateUnauthenticated, Redirect: LoginPath, ReturnTo: path}
	}

	role := s.User.Role
	if access.Allowed(role, route.Roles) {
		return Decision{State: StateAuthorized, Render: path}
	}
	if landing, ok := access.LandingPath(role); ok {
		return Decision{State: StateUnauthorized, Redirect: landing}
	}
	return Decision{State: StateUnauthorized, Redirect: AccessDeniedPath}
}

func landingOr(role domain.Role, fallback string) string {
	if landing, ok := access.LandingPath(role); ok {
		return landing
	}
	return fallback
}

// AfterLogin elige a donde ir tras iniciar sesion: la ruta recordada si el rol puede verla,
// si no la vista por defecto del rol.
func (v *ViewRouter) AfterLogin(returnTo string) string {
	if returnTo != "" && returnTo != LoginPath {
		if d := v.Resolve(returnTo); d.State == StateAuthorized {
			return returnTo
		}
	}
	s, ok := v.cache.Get()
	if !ok {
		return LoginPath
	}
	if landing, ok := access.LandingPath(s.User.Role); ok {
		return landing
	}
	return AccessDeniedPath
}
