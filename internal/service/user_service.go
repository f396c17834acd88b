package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"openarchive/internal/domain"
	"openarchive/internal/email"
	"openarchive/internal/repository"
)

// UserService coordina registro, login, sesiones y perfiles.
type UserService struct {
	logger      *zap.Logger
	users       repository.UserRepository
	tokens      *JWTService
	audit       *AuditService
	emailSender email.Sender
	limiter     LoginLimiter
	now         func() time.Time
}

func NewUserService(
	logger *zap.Logger,
	users repository.UserRepository,
	tokens *JWTService,
	audit *AuditService,
	emailSender email.Sender,
	limiter LoginLimiter,
) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if limiter == nil {
		limiter = NewMemoryLoginLimiter(15*time.Minute, 5)
	}
	return &UserService{
		logger:      logger,
		users:       users,
		tokens:      tokens,
		audit:       audit,
		emailSender: emailSender,
		limiter:     limiter,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidRole        = errors.New("invalid role")
	ErrEmailTaken         = errors.New("email already registered")
	ErrRateLimited        = errors.New("rate limited")
	ErrSessionInvalid     = errors.New("session invalid")
	ErrResetInvalid       = errors.New("reset code invalid")
	ErrResetExpired       = errors.New("reset code expired")
	ErrEmailSendFailure   = errors.New("email send failed")
	ErrForbidden          = errors.New("forbidden")
)

const (
	resetTTL          = 30 * time.Minute
	minPasswordLength = 8
)

type RegisterInput struct {
	Email       string
	Password    string
	FullName    string
	Role        string
	Institution string
	Department  string
	Phone       string
}

// CreateUserInput lo usa el administrador; permite cualquier rol.
type CreateUserInput = RegisterInput

// Register da de alta un ciudadano y abre una sesion.
func (s *UserService) Register(ctx context.Context, input RegisterInput) (domain.AuthResult, error) {
	if input.Role != "" {
		role, ok := domain.ParseRole(input.Role)
		if !ok || role != domain.RoleCitizen {
			return domain.AuthResult{}, ErrInvalidRole
		}
	}
	input.Role = string(domain.RoleCitizen)
	user, err := s.createUser(ctx, input)
	if err != nil {
		return domain.AuthResult{}, err
	}
	s.audit.Record(ctx, domain.AuditUserRegistered, "user", user.ID, user.ID, map[string]any{
		"email":         user.Email,
		"role":          string(user.Role),
		"institution":   user.Institution,
		"auth_provider": "email",
	})
	return s.openSession(user)
}

// CreateUser da de alta un usuario con rol arbitrario (solo admin).
func (s *UserService) CreateUser(ctx context.Context, actorID string, input CreateUserInput) (domain.User, error) {
	role, ok := domain.ParseRole(input.Role)
	if !ok {
		return domain.User{}, ErrInvalidRole
	}
	input.Role = string(role)
	user, err := s.createUser(ctx, input)
	if err != nil {
		return domain.User{}, err
	}
	s.audit.Record(ctx, domain.AuditUserRegistered, "user", user.ID, actorID, map[string]any{
		"email":      user.Email,
		"role":       string(user.Role),
		"created_by": actorID,
	})
	return user, nil
}

func (s *UserService) createUser(ctx context.Context, input RegisterInput) (domain.User, error) {
	if s.users == nil {
		return domain.User{}, errors.New("user service not configured")
	}
	emailAddr := normalizeEmail(input.Email)
	if !isValidEmail(emailAddr) {
		return domain.User{}, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	password := strings.TrimSpace(input.Password)
	if len(password) < minPasswordLength {
		return domain.User{}, fmt.Errorf("%w: password must have at least %d characters", ErrInvalidInput, minPasswordLength)
	}
	fullName := strings.TrimSpace(input.FullName)
	if fullName == "" {
		return domain.User{}, fmt.Errorf("%w: full_name is required", ErrInvalidInput)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return domain.User{}, fmt.Errorf("hash password: %w", err)
	}

	now := s.now()
	user := domain.User{
		ID:           uuid.NewString(),
		Email:        emailAddr,
		Role:         domain.Role(input.Role),
		FullName:     fullName,
		Institution:  strings.TrimSpace(input.Institution),
		Department:   strings.TrimSpace(input.Department),
		Phone:        strings.TrimSpace(input.Phone),
		PasswordHash: string(hash),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return domain.User{}, ErrEmailTaken
		}
		return domain.User{}, err
	}
	return user, nil
}

// Login valida credenciales y abre una sesion.
func (s *UserService) Login(ctx context.Context, emailAddr, password string) (domain.AuthResult, error) {
	if s.users == nil {
		return domain.AuthResult{}, errors.New("user service not configured")
	}
	emailAddr = normalizeEmail(emailAddr)
	password = strings.TrimSpace(password)
	if emailAddr == "" || password == "" {
		return domain.AuthResult{}, ErrInvalidCredentials
	}
	if !s.limiter.Allow(emailAddr) {
		s.logFailedLogin(ctx, emailAddr, "rate limited")
		return domain.AuthResult{}, ErrRateLimited
	}

	user, err := s.users.GetByEmail(ctx, emailAddr)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			s.logFailedLogin(ctx, emailAddr, "unknown email")
			return domain.AuthResult{}, ErrInvalidCredentials
		}
		return domain.AuthResult{}, err
	}
	if user.PasswordHash == "" || bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		s.logFailedLogin(ctx, emailAddr, "bad password")
		return domain.AuthResult{}, ErrInvalidCredentials
	}
	s.limiter.Reset(emailAddr)

	s.audit.Record(ctx, domain.AuditUserLogin, "user", user.ID, user.ID, map[string]any{
		"email":    user.Email,
		"role":     string(user.Role),
		"provider": "email",
	})
	return s.openSession(user)
}

func (s *UserService) logFailedLogin(ctx context.Context, emailAddr, reason string) {
	s.logger.Info("login failed", zap.String("email", emailAddr), zap.String("reason", reason))
	s.audit.Record(ctx, domain.AuditLoginFailed, "auth", "", "", map[string]any{
		"email":    emailAddr,
		"provider": "email",
		"error":    reason,
	})
}

// Refresh rota el refresh token y reemite la sesion con el rol vigente.
func (s *UserService) Refresh(ctx context.Context, refreshToken string) (domain.Session, error) {
	if s.tokens == nil {
		return domain.Session{}, errors.New("jwt not configured")
	}
	claims, err := s.tokens.ConsumeRefresh(refreshToken)
	if err != nil {
		return domain.Session{}, ErrSessionInvalid
	}
	user, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Session{}, ErrSessionInvalid
		}
		return domain.Session{}, err
	}
	return s.tokens.GenerateSession(user)
}

// Logout revoca el refresh token si se envia y deja constancia en auditoria.
func (s *UserService) Logout(ctx context.Context, userID, refreshToken string) {
	if s.tokens != nil && strings.TrimSpace(refreshToken) != "" {
		if err := s.tokens.RevokeRefresh(userID, refreshToken); err != nil {
			s.logger.Debug("refresh revoke failed", zap.Error(err), zap.String("user_id", userID))
		}
	}
	s.audit.Record(ctx, domain.AuditUserLogout, "user", userID, userID, map[string]any{})
}

func (s *UserService) GetProfile(ctx context.Context, id string) (domain.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, ErrUserNotFound
		}
		return domain.User{}, err
	}
	return user, nil
}

func (s *UserService) UpdateProfile(ctx context.Context, id string, upd domain.ProfileUpdate) (domain.User, error) {
	if upd.Empty() {
		return domain.User{}, fmt.Errorf("%w: no fields to update", ErrInvalidInput)
	}
	if upd.FullName != nil {
		name := strings.TrimSpace(*upd.FullName)
		if name == "" {
			return domain.User{}, fmt.Errorf("%w: full_name cannot be empty", ErrInvalidInput)
		}
		upd.FullName = &name
	}
	trimPtr(upd.Institution)
	trimPtr(upd.Department)
	trimPtr(upd.Phone)

	user, err := s.users.UpdateProfile(ctx, id, upd, s.now())
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, ErrUserNotFound
		}
		return domain.User{}, err
	}
	s.audit.Record(ctx, domain.AuditProfileUpdated, "user", id, id, profileUpdateDetails(upd))
	return user, nil
}

func (s *UserService) ListUsers(ctx context.Context, limit, offset int) ([]domain.User, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.users.List(ctx, limit, offset)
}

// ChangeRole cambia el rol de un usuario. El llamador debe ser admin.
func (s *UserService) ChangeRole(ctx context.Context, actor domain.User, targetID, newRole string) (domain.User, error) {
	if actor.Role != domain.RoleAdmin {
		return domain.User{}, ErrForbidden
	}
	role, ok := domain.ParseRole(newRole)
	if !ok {
		return domain.User{}, ErrInvalidRole
	}
	current, err := s.GetProfile(ctx, targetID)
	if err != nil {
		return domain.User{}, err
	}
	updated, err := s.users.UpdateRole(ctx, targetID, role, s.now())
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, ErrUserNotFound
		}
		return domain.User{}, err
	}
	if s.tokens != nil && current.Role != role {
		if err := s.tokens.RevokeUser(targetID); err != nil {
			s.logger.Warn("revoke sessions after role change failed", zap.Error(err), zap.String("user_id", targetID))
		}
	}
	s.audit.Record(ctx, domain.AuditUserRoleChanged, "user", targetID, actor.ID, map[string]any{
		"previous_role": string(current.Role),
		"new_role":      string(role),
		"changed_by":    actor.ID,
	})
	return updated, nil
}

// RequestPasswordReset envia un codigo de reset. Un email desconocido no es error.
func (s *UserService) RequestPasswordReset(ctx context.Context, emailAddr string) error {
	emailAddr = normalizeEmail(emailAddr)
	if !isValidEmail(emailAddr) {
		return fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	if !s.limiter.Allow("reset:" + emailAddr) {
		return ErrRateLimited
	}
	user, err := s.users.GetByEmail(ctx, emailAddr)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		return err
	}

	code, hash, err := generateResetCode()
	if err != nil {
		return err
	}
	expiresAt := s.now().Add(resetTTL)
	if err := s.users.UpdateResetCode(ctx, user.ID, hash, expiresAt); err != nil {
		return err
	}
	if s.emailSender == nil {
		return ErrEmailSendFailure
	}
	if err := s.emailSender.SendPasswordReset(ctx, emailAddr, code, expiresAt); err != nil {
		s.logger.Warn("send password reset failed", zap.Error(err), zap.String("email", emailAddr))
		return ErrEmailSendFailure
	}
	s.audit.Record(ctx, domain.AuditPasswordResetRequested, "auth", user.ID, "", map[string]any{"email": emailAddr})
	return nil
}

// ResetPassword valida el codigo y reemplaza la contraseña.
func (s *UserService) ResetPassword(ctx context.Context, emailAddr, code, newPassword string) error {
	emailAddr = normalizeEmail(emailAddr)
	code = strings.TrimSpace(code)
	newPassword = strings.TrimSpace(newPassword)
	if !isValidResetCode(code) {
		return ErrResetInvalid
	}
	if len(newPassword) < minPasswordLength {
		return fmt.Errorf("%w: password must have at least %d characters", ErrInvalidInput, minPasswordLength)
	}
	user, err := s.users.GetByEmail(ctx, emailAddr)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrResetInvalid
		}
		return err
	}
	if user.ResetCodeHash == "" || user.ResetExpiresAt == nil {
		return ErrResetInvalid
	}
	if s.now().After(*user.ResetExpiresAt) {
		return ErrResetExpired
	}
	confirmKey := "confirm:" + emailAddr
	if !s.limiter.Allow(confirmKey) {
		// Agotados los intentos, el codigo deja de servir y hay que pedir otro.
		if err := s.users.UpdateResetCode(ctx, user.ID, "", time.Time{}); err != nil {
			s.logger.Warn("clear reset code failed", zap.Error(err), zap.String("user_id", user.ID))
		}
		s.logger.Info("reset confirm rate limited", zap.String("user_id", user.ID))
		return ErrRateLimited
	}
	if !verifyResetCode(code, user.ResetCodeHash) {
		return ErrResetInvalid
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.users.UpdatePassword(ctx, user.ID, string(hash), s.now()); err != nil {
		return err
	}
	s.limiter.Reset(emailAddr)
	s.limiter.Reset(confirmKey)
	if s.tokens != nil {
		if err := s.tokens.RevokeUser(user.ID); err != nil {
			s.logger.Warn("revoke sessions after password reset failed", zap.Error(err), zap.String("user_id", user.ID))
		}
	}
	s.audit.Record(ctx, domain.AuditPasswordReset, "user", user.ID, user.ID, map[string]any{})
	return nil
}

func (s *UserService) openSession(user domain.User) (domain.AuthResult, error) {
	if s.tokens == nil {
		return domain.AuthResult{}, errors.New("jwt not configured")
	}
	session, err := s.tokens.GenerateSession(user)
	if err != nil {
		return domain.AuthResult{}, err
	}
	return domain.AuthResult{Session: session, User: user}, nil
}

func profileUpdateDetails(upd domain.ProfileUpdate) map[string]any {
	details := map[string]any{}
	if upd.FullName != nil {
		details["full_name"] = *upd.FullName
	}
	if upd.Institution != nil {
		details["institution"] = *upd.Institution
	}
	if upd.Department != nil {
		details["department"] = *upd.Department
	}
	if upd.Phone != nil {
		details["phone"] = *upd.Phone
	}
	return details
}

func trimPtr(p *string) {
	if p != nil {
		*p = strings.TrimSpace(*p)
	}
}

func generateResetCode() (string, string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", "", err
	}
	code := fmt.Sprintf("%06d", n.Int64())

	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return "", "", err
	}
	saltStr := base64.StdEncoding.EncodeToString(salt)
	sum := sha256.Sum256([]byte(saltStr + ":" + code))
	return code, saltStr + ":" + base64.StdEncoding.EncodeToString(sum[:]), nil
}

func verifyResetCode(code, stored string) bool {
	saltStr, expected, ok := strings.Cut(stored, ":")
	if !ok {
		return false
	}
	sum := sha256.Sum256([]byte(saltStr + ":" + code))
	got := base64.StdEncoding.EncodeToString(sum[:])
	return subtle.ConstantTimeCompare([]byte(got), []byte(expected)) == 1
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func isValidEmail(email string) bool {
	at := strings.Index(email, "@")
	return at > 0 && at < len(email)-1 && !strings.ContainsAny(email, " \t")
}

func isValidResetCode(code string) bool {
	if len(code) != 6 {
		return false
	}
	for _, r := range code {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
