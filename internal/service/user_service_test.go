package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"openarchive/internal/domain"
)

type userServiceFixture struct {
	svc    *UserService
	users  *mockUserRepo
	audit  *mockAuditRepo
	sender *mockEmailSender
	jwt    *JWTService
}

func newUserServiceFixture(limiter LoginLimiter) userServiceFixture {
	users := newMockUserRepo()
	auditRepo := &mockAuditRepo{}
	sender := &mockEmailSender{}
	jwtSvc := newTestJWT()
	svc := NewUserService(zap.NewNop(), users, jwtSvc, NewAuditService(zap.NewNop(), auditRepo), sender, limiter)
	return userServiceFixture{svc: svc, users: users, audit: auditRepo, sender: sender, jwt: jwtSvc}
}

func (f userServiceFixture) register(t *testing.T, email string) domain.AuthResult {
	t.Helper()
	res, err := f.svc.Register(context.Background(), RegisterInput{
		Email:    email,
		Password: "parola-sigura",
		FullName: "Ana Popescu",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	return res
}

func TestUserService_RegisterDefaultsToCitizen(t *testing.T) {
	f := newUserServiceFixture(nil)
	res := f.register(t, " Ana@Primarie.RO ")

	if res.User.Role != domain.RoleCitizen {
		t.Fatalf("expected citizen role, got %s", res.User.Role)
	}
	if res.User.Email != "ana@primarie.ro" {
		t.Fatalf("expected normalized email, got %s", res.User.Email)
	}
	if res.Session.AccessToken == "" || res.Session.RefreshToken == "" || res.Session.ExpiresAt == 0 {
		t.Fatalf("expected full session, got %+v", res.Session)
	}
	if res.User.PasswordHash == "parola-sigura" {
		t.Fatalf("password must be hashed")
	}
	if got := f.audit.actions(); len(got) != 1 || got[0] != domain.AuditUserRegistered {
		t.Fatalf("unexpected audit trail: %v", got)
	}
}

func TestUserService_RegisterRejectsPrivilegedRole(t *testing.T) {
	f := newUserServiceFixture(nil)
	_, err := f.svc.Register(context.Background(), RegisterInput{
		Email: "x@y.ro", Password: "parola-sigura", FullName: "X", Role: "admin",
	})
	if !errors.Is(err, ErrInvalidRole) {
		t.Fatalf("expected ErrInvalidRole, got %v", err)
	}
}

func TestUserService_RegisterValidation(t *testing.T) {
	f := newUserServiceFixture(nil)
	cases := map[string]RegisterInput{
		"bad email":      {Email: "nope", Password: "parola-sigura", FullName: "X"},
		"short password": {Email: "a@b.ro", Password: "short", FullName: "X"},
		"missing name":   {Email: "a@b.ro", Password: "parola-sigura"},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := f.svc.Register(context.Background(), in); !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestUserService_RegisterDuplicateEmail(t *testing.T) {
	f := newUserServiceFixture(nil)
	f.register(t, "ana@primarie.ro")
	_, err := f.svc.Register(context.Background(), RegisterInput{
		Email: "ana@primarie.ro", Password: "parola-sigura", FullName: "Ana",
	})
	if !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func TestUserService_Login(t *testing.T) {
	f := newUserServiceFixture(nil)
	f.register(t, "ana@primarie.ro")

	res, err := f.svc.Login(context.Background(), "ANA@primarie.ro", "parola-sigura")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	claims, err := f.jwt.ParseAccessToken(res.Session.AccessToken)
	if err != nil {
		t.Fatalf("parse access: %v", err)
	}
	if claims.UserID != res.User.ID || claims.Role != domain.RoleCitizen {
		t.Fatalf("unexpected claims %+v", claims)
	}

	if _, err := f.svc.Login(context.Background(), "ana@primarie.ro", "wrong-pass"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := f.svc.Login(context.Background(), "ghost@primarie.ro", "parola-sigura"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown user, got %v", err)
	}

	got := f.audit.actions()
	want := []string{domain.AuditUserRegistered, domain.AuditUserLogin, domain.AuditLoginFailed, domain.AuditLoginFailed}
	if len(got) != len(want) {
		t.Fatalf("unexpected audit trail: %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("audit[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestUserService_LoginRateLimited(t *testing.T) {
	f := newUserServiceFixture(NewMemoryLoginLimiter(time.Minute, 2))
	f.register(t, "ana@primarie.ro")

	for i := 0; i < 2; i++ {
		if _, err := f.svc.Login(context.Background(), "ana@primarie.ro", "wrong-pass"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i, err)
		}
	}
	if _, err := f.svc.Login(context.Background(), "ana@primarie.ro", "parola-sigura"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestUserService_RefreshUsesCurrentRole(t *testing.T) {
	f := newUserServiceFixture(nil)
	res := f.register(t, "ana@primarie.ro")

	if _, err := f.users.UpdateRole(context.Background(), res.User.ID, domain.RoleClerk, time.Now()); err != nil {
		t.Fatalf("update role: %v", err)
	}

	session, err := f.svc.Refresh(context.Background(), res.Session.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	claims, err := f.jwt.ParseAccessToken(session.AccessToken)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Role != domain.RoleClerk {
		t.Fatalf("expected refreshed token to carry clerk role, got %s", claims.Role)
	}

	if _, err := f.svc.Refresh(context.Background(), res.Session.RefreshToken); !errors.Is(err, ErrSessionInvalid) {
		t.Fatalf("expected reused refresh token to fail, got %v", err)
	}
}

func TestUserService_ChangeRoleRevokesSessions(t *testing.T) {
	f := newUserServiceFixture(nil)
	res := f.register(t, "ana@primarie.ro")
	other := f.register(t, "ion@primarie.ro")

	admin := domain.User{ID: "admin-1", Role: domain.RoleAdmin}
	if _, err := f.svc.ChangeRole(context.Background(), admin, res.User.ID, "clerk"); err != nil {
		t.Fatalf("change role: %v", err)
	}
	if _, err := f.svc.Refresh(context.Background(), res.Session.RefreshToken); !errors.Is(err, ErrSessionInvalid) {
		t.Fatalf("role change must revoke the user's refresh tokens, got %v", err)
	}
	if _, err := f.svc.Refresh(context.Background(), other.Session.RefreshToken); err != nil {
		t.Fatalf("other users must keep their sessions: %v", err)
	}

	login, err := f.svc.Login(context.Background(), "ana@primarie.ro", "parola-sigura")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	claims, err := f.jwt.ParseAccessToken(login.Session.AccessToken)
	if err != nil || claims.Role != domain.RoleClerk {
		t.Fatalf("expected clerk token after re-login, got %+v, %v", claims, err)
	}
}

func TestUserService_LogoutIgnoresForeignRefreshToken(t *testing.T) {
	f := newUserServiceFixture(nil)
	victim := f.register(t, "ana@primarie.ro")
	attacker := f.register(t, "ion@primarie.ro")

	f.svc.Logout(context.Background(), attacker.User.ID, victim.Session.RefreshToken)
	if _, err := f.svc.Refresh(context.Background(), victim.Session.RefreshToken); err != nil {
		t.Fatalf("logout must not revoke another user's refresh token: %v", err)
	}
}

func TestUserService_LogoutRevokesRefresh(t *testing.T) {
	f := newUserServiceFixture(nil)
	res := f.register(t, "ana@primarie.ro")

	f.svc.Logout(context.Background(), res.User.ID, res.Session.RefreshToken)
	if _, err := f.svc.Refresh(context.Background(), res.Session.RefreshToken); !errors.Is(err, ErrSessionInvalid) {
		t.Fatalf("expected refresh after logout to fail, got %v", err)
	}
	got := f.audit.actions()
	if got[len(got)-1] != domain.AuditUserLogout {
		t.Fatalf("expected logout audit, got %v", got)
	}
}

func TestUserService_UpdateProfile(t *testing.T) {
	f := newUserServiceFixture(nil)
	res := f.register(t, "ana@primarie.ro")

	dept := "  Registratura "
	user, err := f.svc.UpdateProfile(context.Background(), res.User.ID, domain.ProfileUpdate{Department: &dept})
	if err != nil {
		t.Fatalf("update profile: %v", err)
	}
	if user.Department != "Registratura" || user.FullName != "Ana Popescu" {
		t.Fatalf("unexpected profile: %+v", user)
	}

	if _, err := f.svc.UpdateProfile(context.Background(), res.User.ID, domain.ProfileUpdate{}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for empty update, got %v", err)
	}
	blank := " "
	if _, err := f.svc.UpdateProfile(context.Background(), res.User.ID, domain.ProfileUpdate{FullName: &blank}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for blank name, got %v", err)
	}
	if _, err := f.svc.UpdateProfile(context.Background(), "missing", domain.ProfileUpdate{Department: &dept}); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestUserService_ChangeRole(t *testing.T) {
	f := newUserServiceFixture(nil)
	res := f.register(t, "ana@primarie.ro")

	clerk := domain.User{ID: "c1", Role: domain.RoleClerk}
	if _, err := f.svc.ChangeRole(context.Background(), clerk, res.User.ID, "archivist"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	admin := domain.User{ID: "a1", Role: domain.RoleAdmin}
	if _, err := f.svc.ChangeRole(context.Background(), admin, res.User.ID, "overlord"); !errors.Is(err, ErrInvalidRole) {
		t.Fatalf("expected ErrInvalidRole, got %v", err)
	}
	user, err := f.svc.ChangeRole(context.Background(), admin, res.User.ID, "Archivist")
	if err != nil {
		t.Fatalf("change role: %v", err)
	}
	if user.Role != domain.RoleArchivist {
		t.Fatalf("expected archivist, got %s", user.Role)
	}
	last := f.audit.events[len(f.audit.events)-1]
	if last.Action != domain.AuditUserRoleChanged || last.Details["previous_role"] != "citizen" {
		t.Fatalf("unexpected audit event: %+v", last)
	}
}

func TestUserService_PasswordResetFlow(t *testing.T) {
	f := newUserServiceFixture(nil)
	before := f.register(t, "ana@primarie.ro")

	if err := f.svc.RequestPasswordReset(context.Background(), "ana@primarie.ro"); err != nil {
		t.Fatalf("request reset: %v", err)
	}
	if f.sender.lastTo != "ana@primarie.ro" || len(f.sender.lastCode) != 6 {
		t.Fatalf("expected reset email, got %+v", f.sender)
	}

	if err := f.svc.ResetPassword(context.Background(), "ana@primarie.ro", "abc", "parola-noua-1"); !errors.Is(err, ErrResetInvalid) {
		t.Fatalf("expected ErrResetInvalid for malformed code, got %v", err)
	}
	wrong := "000000"
	if f.sender.lastCode == wrong {
		wrong = "111111"
	}
	if err := f.svc.ResetPassword(context.Background(), "ana@primarie.ro", wrong, "parola-noua-1"); !errors.Is(err, ErrResetInvalid) {
		t.Fatalf("expected ErrResetInvalid for wrong code, got %v", err)
	}
	if err := f.svc.ResetPassword(context.Background(), "ana@primarie.ro", f.sender.lastCode, "parola-noua-1"); err != nil {
		t.Fatalf("reset password: %v", err)
	}
	if _, err := f.svc.Refresh(context.Background(), before.Session.RefreshToken); !errors.Is(err, ErrSessionInvalid) {
		t.Fatalf("reset must revoke earlier sessions, got %v", err)
	}
	if _, err := f.svc.Login(context.Background(), "ana@primarie.ro", "parola-noua-1"); err != nil {
		t.Fatalf("login with new password: %v", err)
	}
	if err := f.svc.ResetPassword(context.Background(), "ana@primarie.ro", f.sender.lastCode, "parola-noua-2"); !errors.Is(err, ErrResetInvalid) {
		t.Fatalf("expected consumed code to be rejected, got %v", err)
	}
}

func TestUserService_PasswordResetConfirmIsThrottled(t *testing.T) {
	f := newUserServiceFixture(NewMemoryLoginLimiter(time.Minute, 3))
	f.register(t, "ana@primarie.ro")
	if err := f.svc.RequestPasswordReset(context.Background(), "ana@primarie.ro"); err != nil {
		t.Fatalf("request reset: %v", err)
	}
	code := f.sender.lastCode
	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}

	for i := 0; i < 3; i++ {
		if err := f.svc.ResetPassword(context.Background(), "ana@primarie.ro", wrong, "parola-noua-1"); !errors.Is(err, ErrResetInvalid) {
			t.Fatalf("attempt %d: expected ErrResetInvalid, got %v", i+1, err)
		}
	}
	if err := f.svc.ResetPassword(context.Background(), "ana@primarie.ro", code, "parola-noua-1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited once attempts are exhausted, got %v", err)
	}
	stored, _ := f.users.GetByEmail(context.Background(), "ana@primarie.ro")
	if stored.ResetCodeHash != "" || stored.ResetExpiresAt != nil {
		t.Fatalf("exhausted attempts must clear the reset code, got %+v", stored)
	}
	if _, err := f.svc.Login(context.Background(), "ana@primarie.ro", "parola-noua-1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("password must not change, got %v", err)
	}
}

func TestUserService_PasswordResetExpired(t *testing.T) {
	f := newUserServiceFixture(nil)
	f.register(t, "ana@primarie.ro")
	if err := f.svc.RequestPasswordReset(context.Background(), "ana@primarie.ro"); err != nil {
		t.Fatalf("request reset: %v", err)
	}
	f.svc.now = func() time.Time { return time.Now().UTC().Add(2 * resetTTL) }
	if err := f.svc.ResetPassword(context.Background(), "ana@primarie.ro", f.sender.lastCode, "parola-noua-1"); !errors.Is(err, ErrResetExpired) {
		t.Fatalf("expected ErrResetExpired, got %v", err)
	}
}

func TestUserService_PasswordResetUnknownEmailIsSilent(t *testing.T) {
	f := newUserServiceFixture(nil)
	if err := f.svc.RequestPasswordReset(context.Background(), "ghost@primarie.ro"); err != nil {
		t.Fatalf("expected nil for unknown email, got %v", err)
	}
	if f.sender.lastTo != "" {
		t.Fatalf("no email expected for unknown user")
	}
}

func TestUserService_PasswordResetSendFailure(t *testing.T) {
	f := newUserServiceFixture(nil)
	f.register(t, "ana@primarie.ro")
	f.sender.err = errors.New("smtp down")
	if err := f.svc.RequestPasswordReset(context.Background(), "ana@primarie.ro"); !errors.Is(err, ErrEmailSendFailure) {
		t.Fatalf("expected ErrEmailSendFailure, got %v", err)
	}
}

func TestAuditService_FailureDoesNotPropagate(t *testing.T) {
	repo := &mockAuditRepo{err: errRepoDown}
	svc := NewAuditService(zap.NewNop(), repo)
	svc.Record(context.Background(), domain.AuditUserLogin, "user", "u1", "u1", nil)

	var nilSvc *AuditService
	nilSvc.Record(context.Background(), domain.AuditUserLogin, "user", "u1", "u1", nil)
}

func TestAuditService_ListClampsLimit(t *testing.T) {
	repo := &mockAuditRepo{}
	svc := NewAuditService(zap.NewNop(), repo)
	svc.Record(context.Background(), domain.AuditUserLogin, "user", "u1", "u1", nil)
	svc.Record(context.Background(), domain.AuditUserLogout, "user", "u1", "u1", nil)

	events, err := svc.List(context.Background(), domain.AuditFilter{Action: domain.AuditUserLogout, Limit: 10000})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 1 || events[0].ID == "" {
		t.Fatalf("unexpected events: %+v", events)
	}
}
