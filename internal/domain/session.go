package domain

// Session es el par de tokens emitido al autenticarse.
// ExpiresAt se expresa en milisegundos epoch.
type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at"`
}

// AuthResult es la respuesta de login y registro.
type AuthResult struct {
	Session Session `json:"session"`
	User    User    `json:"user"`
}
