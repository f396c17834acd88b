package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"openarchive/internal/domain"
)

// SessionKey es la clave bajo la que se persiste la sesion.
const SessionKey = "auth_session"

const (
	expirySkew       = 30 * time.Second
	secondsThreshold = int64(10_000_000_000)
)

var ErrIncompleteSession = errors.New("session is incomplete")

// Session es la sesion del cliente: tokens mas la copia del usuario.
type Session struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	ExpiresAt    int64       `json:"expires_at"`
	User         domain.User `json:"user"`
}

// Complete indica si todos los campos obligatorios estan presentes.
func (s Session) Complete() bool {
	return s.AccessToken != "" && s.RefreshToken != "" && s.ExpiresAt > 0 && s.User.ID != ""
}

// ExpiresAtMillis normaliza la expiracion a milisegundos.
func (s Session) ExpiresAtMillis() int64 {
	return NormalizeExpiry(s.ExpiresAt)
}

// NormalizeExpiry interpreta valores menores a 1e10 como segundos y el resto como milisegundos.
func NormalizeExpiry(v int64) int64 {
	if v < secondsThreshold {
		return v * 1000
	}
	return v
}

// IsExpired es verdadero cuando now >= expiracion - 30s.
func IsExpired(s Session, now time.Time) bool {
	return now.UnixMilli() >= s.ExpiresAtMillis()-expirySkew.Milliseconds()
}

// Listener recibe la sesion vigente (ok=false si no hay) tras cada cambio.
type Listener func(s Session, ok bool)

// SessionCache es la unica fuente de verdad de la sesion en el cliente.
// Persistencia y estado en memoria cambian juntos bajo writeMu.
type SessionCache struct {
	storage Storage
	logger  *zap.Logger

	writeMu sync.Mutex

	mu         sync.RWMutex
	current    *Session
	loaded     bool
	loggingOut bool

	lmu       sync.Mutex
	listeners map[int]Listener
	nextID    int
}

func NewSessionCache(storage Storage, logger *zap.Logger) *SessionCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if storage == nil {
		storage = NewMemoryStorage()
	}
	return &SessionCache{
		storage:   storage,
		logger:    logger,
		listeners: make(map[int]Listener),
	}
}

// Save combina tokens y usuario y los persiste; una sesion parcial no se guarda.
func (c *SessionCache) Save(tokens domain.Session, user domain.User) error {
	return c.Set(Session{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		ExpiresAt:    tokens.ExpiresAt,
		User:         user,
	})
}

// Set reemplaza la sesion completa.
func (c *SessionCache) Set(s Session) error {
	if !s.Complete() {
		return ErrIncompleteSession
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.storage.Write(SessionKey, data); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	c.mu.Lock()
	stored := s
	c.current = &stored
	c.loaded = true
	c.mu.Unlock()

	c.notify(s, true)
	return nil
}

// Load lee la sesion persistida. Un registro corrupto o parcial se borra y cuenta como ausente.
func (c *SessionCache) Load() (Session, bool) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	s, ok := c.readStored()
	c.mu.Lock()
	if ok {
		stored := s
		c.current = &stored
	} else {
		c.current = nil
	}
	c.loaded = true
	c.mu.Unlock()

	c.notify(s, ok)
	return s, ok
}

func (c *SessionCache) readStored() (Session, bool) {
	data, found, err := c.storage.Read(SessionKey)
	if err != nil {
		c.logger.Warn("session read failed", zap.Error(err))
		return Session{}, false
	}
	if !found {
		return Session{}, false
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil || !s.Complete() {
		c.logger.Warn("discarding malformed session record", zap.Bool("decode_error", err != nil))
		if derr := c.storage.Delete(SessionKey); derr != nil {
			c.logger.Warn("session delete failed", zap.Error(derr))
		}
		return Session{}, false
	}
	return s, true
}

// Clear borra la sesion y el indicador de cierre en curso. Es idempotente.
func (c *SessionCache) Clear() {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.storage.Delete(SessionKey); err != nil {
		c.logger.Warn("session delete failed", zap.Error(err))
	}
	c.mu.Lock()
	c.current = nil
	c.loaded = true
	c.loggingOut = false
	c.mu.Unlock()

	c.notify(Session{}, false)
}

// Get devuelve la sesion en memoria.
func (c *SessionCache) Get() (Session, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.current == nil {
		return Session{}, false
	}
	return *c.current, true
}

// Loaded indica si la sesion ya fue resuelta al menos una vez.
func (c *SessionCache) Loaded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loaded
}

// BeginLogout marca el cierre de sesion; devuelve false si ya estaba en curso.
func (c *SessionCache) BeginLogout() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loggingOut {
		return false
	}
	c.loggingOut = true
	return true
}

func (c *SessionCache) LoggingOut() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loggingOut
}

// Subscribe registra un listener y devuelve la funcion para darlo de baja.
// Los listeners no deben llamar a Set, Save, Load ni Clear.
func (c *SessionCache) Subscribe(fn Listener) func() {
	c.lmu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.lmu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.lmu.Lock()
			delete(c.listeners, id)
			c.lmu.Unlock()
		})
	}
}

func (c *SessionCache) notify(s Session, ok bool) {
	c.lmu.Lock()
	fns := make([]Listener, 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.lmu.Unlock()
	for _, fn := range fns {
		fn(s, ok)
	}
}
