package config

import "github.com/caarlos0/env/v10"

// Config centraliza la configuración del servicio.
type Config struct {
	HTTPPort             string   `env:"HTTP_PORT" envDefault:"3001"`
	DatabaseURL          string   `env:"DATABASE_URL,required"`
	JWTSecret            string   `env:"JWT_SECRET,required"`
	JWTIssuer            string   `env:"JWT_ISSUER" envDefault:"openarchive"`
	JWTAccessTTLMinutes  int      `env:"JWT_ACCESS_TTL_MINUTES" envDefault:"60"`
	JWTRefreshTTLMinutes int      `env:"JWT_REFRESH_TTL_MINUTES" envDefault:"43200"`
	AppURL               string   `env:"APP_URL" envDefault:"http://localhost:5173"`
	CORSAllowedOrigins   []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:5173"`
	TrustedProxies       []string `env:"TRUSTED_PROXIES" envSeparator:","`
	AuthRatePerSecond    float64  `env:"AUTH_RATE_PER_SECOND" envDefault:"5"`
	AuthRateBurst        int      `env:"AUTH_RATE_BURST" envDefault:"10"`
	LoginMaxAttempts     int      `env:"LOGIN_MAX_ATTEMPTS" envDefault:"5"`
	LoginWindowMinutes   int      `env:"LOGIN_WINDOW_MINUTES" envDefault:"15"`
	SMTPHost             string   `env:"SMTP_HOST"`
	SMTPPort             int      `env:"SMTP_PORT" envDefault:"587"`
	SMTPUser             string   `env:"SMTP_USER"`
	SMTPPass             string   `env:"SMTP_PASS"`
	SMTPFrom             string   `env:"SMTP_FROM"`
	SMTPFromName         string   `env:"SMTP_FROM_NAME" envDefault:"OpenArchive"`
	SMTPUseTLS           bool     `env:"SMTP_USE_TLS" envDefault:"false"`
	EmailLogOnly         bool     `env:"EMAIL_LOG_ONLY" envDefault:"false"`
	RedisAddr            string   `env:"REDIS_ADDR"`
	RedisPassword        string   `env:"REDIS_PASSWORD"`
	RedisDB              int      `env:"REDIS_DB" envDefault:"0"`
}

// ClientConfig agrupa la configuración de archivectl.
type ClientConfig struct {
	BackendURL     string `env:"OPENARCHIVE_BACKEND_URL" envDefault:"http://localhost:3001"`
	SessionDir     string `env:"OPENARCHIVE_SESSION_DIR"`
	TimeoutSeconds int    `env:"OPENARCHIVE_TIMEOUT_SECONDS" envDefault:"30"`
	Debug          bool   `env:"OPENARCHIVE_DEBUG" envDefault:"false"`
}

// LoadConfig carga la configuración desde variables de entorno.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadClientConfig carga la configuración del cliente desde variables de entorno.
func LoadClientConfig() (*ClientConfig, error) {
	var cfg ClientConfig
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
