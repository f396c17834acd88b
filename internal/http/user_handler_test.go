package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"openarchive/internal/domain"
	"openarchive/internal/repository"
	"openarchive/internal/service"
)

type memUserRepo struct {
	mu    sync.Mutex
	users map[string]domain.User
}

func (m *memUserRepo) Create(_ context.Context, user domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == user.Email {
			return repository.ErrDuplicate
		}
	}
	m.users[user.ID] = user
	return nil
}

func (m *memUserRepo) GetByID(_ context.Context, id string) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return domain.User{}, pgx.ErrNoRows
	}
	return u, nil
}

func (m *memUserRepo) GetByEmail(_ context.Context, email string) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return domain.User{}, pgx.ErrNoRows
}

func (m *memUserRepo) List(_ context.Context, limit, _ int) ([]domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.User, 0, len(m.users))
	for _, u := range m.users {
		if len(out) == limit {
			break
		}
		out = append(out, u)
	}
	return out, nil
}

func (m *memUserRepo) mutate(id string, fn func(*domain.User)) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return domain.User{}, pgx.ErrNoRows
	}
	fn(&u)
	m.users[id] = u
	return u, nil
}

func (m *memUserRepo) UpdateProfile(_ context.Context, id string, upd domain.ProfileUpdate, at time.Time) (domain.User, error) {
	return m.mutate(id, func(u *domain.User) {
		if upd.FullName != nil {
			u.FullName = *upd.FullName
		}
		if upd.Institution != nil {
			u.Institution = *upd.Institution
		}
		if upd.Department != nil {
			u.Department = *upd.Department
		}
		if upd.Phone != nil {
			u.Phone = *upd.Phone
		}
		u.UpdatedAt = at
	})
}

func (m *memUserRepo) UpdateRole(_ context.Context, id string, role domain.Role, at time.Time) (domain.User, error) {
	return m.mutate(id, func(u *domain.User) { u.Role = role; u.UpdatedAt = at })
}

func (m *memUserRepo) UpdateResetCode(_ context.Context, id, hash string, exp time.Time) error {
	_, err := m.mutate(id, func(u *domain.User) {
		u.ResetCodeHash, u.ResetExpiresAt = hash, &exp
		if hash == "" {
			u.ResetExpiresAt = nil
		}
	})
	return err
}

func (m *memUserRepo) UpdatePassword(_ context.Context, id, hash string, at time.Time) error {
	_, err := m.mutate(id, func(u *domain.User) { u.PasswordHash = hash; u.ResetCodeHash = ""; u.UpdatedAt = at })
	return err
}

type memAuditRepo struct {
	mu     sync.Mutex
	events []domain.AuditEvent
}

func (m *memAuditRepo) Create(_ context.Context, e domain.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

func (m *memAuditRepo) List(_ context.Context, f domain.AuditFilter) ([]domain.AuditEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.AuditEvent
	for _, e := range m.events {
		if f.Action == "" || e.Action == f.Action {
			out = append(out, e)
		}
	}
	return out, nil
}

type apiFixture struct {
	router  *gin.Engine
	users   *service.UserService
	jwt     *service.JWTService
	auditDB *memAuditRepo
}

func newAPIFixture(t *testing.T) apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()
	jwtSvc := newTestJWT()
	auditDB := &memAuditRepo{}
	auditSvc := service.NewAuditService(logger, auditDB)
	userSvc := service.NewUserService(logger, &memUserRepo{users: map[string]domain.User{}}, jwtSvc, auditSvc, nil, nil)

	router := NewRouter(RouterDeps{
		Logger:        logger,
		JWT:           jwtSvc,
		Users:         NewUserHandler(logger, userSvc),
		Admin:         NewAdminHandler(logger, userSvc, auditSvc),
		AuthRate:      1000,
		AuthRateBurst: 1000,
	})
	return apiFixture{router: router, users: userSvc, jwt: jwtSvc, auditDB: auditDB}
}

func (f apiFixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeAuth(t *testing.T, rec *httptest.ResponseRecorder) domain.AuthResult {
	t.Helper()
	var resp struct {
		Data domain.AuthResult `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode auth response: %v (%s)", err, rec.Body.String())
	}
	return resp.Data
}

func decodeErrorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	if resp.Message == "" {
		t.Fatalf("error body must carry a message: %s", rec.Body.String())
	}
	return resp.Error
}

func (f apiFixture) staffToken(t *testing.T, email string, role domain.Role) (domain.User, string) {
	t.Helper()
	user, err := f.users.CreateUser(context.Background(), "bootstrap", service.CreateUserInput{
		Email: email, Password: "parola-sigura", FullName: "Staff", Role: string(role),
	})
	if err != nil {
		t.Fatalf("create staff: %v", err)
	}
	return user, accessTokenFor(t, f.jwt, user.ID, role)
}

func TestAuthFlow_RegisterLoginRefreshProfile(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/auth/register", "", map[string]string{
		"email": "ana@primarie.ro", "password": "parola-sigura", "full_name": "Ana Popescu",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d %s", rec.Code, rec.Body.String())
	}
	reg := decodeAuth(t, rec)
	if reg.User.Role != domain.RoleCitizen || reg.Session.AccessToken == "" {
		t.Fatalf("unexpected register payload %+v", reg)
	}
	if strings.Contains(rec.Body.String(), "password") {
		t.Fatalf("password hash leaked: %s", rec.Body.String())
	}

	rec = f.do(t, http.MethodPost, "/auth/register", "", map[string]string{
		"email": "ana@primarie.ro", "password": "parola-sigura", "full_name": "Ana",
	})
	if rec.Code != http.StatusConflict || decodeErrorCode(t, rec) != "email_taken" {
		t.Fatalf("duplicate: expected 409, got %d %s", rec.Code, rec.Body.String())
	}

	rec = f.do(t, http.MethodPost, "/auth/login", "", map[string]string{"email": "ana@primarie.ro", "password": "wrong-one"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad login: expected 401, got %d", rec.Code)
	}

	rec = f.do(t, http.MethodPost, "/auth/login", "", map[string]string{"email": "ana@primarie.ro", "password": "parola-sigura"})
	if rec.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d %s", rec.Code, rec.Body.String())
	}
	login := decodeAuth(t, rec)

	rec = f.do(t, http.MethodPost, "/auth/refresh", "", map[string]string{"refresh_token": login.Session.RefreshToken})
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh: expected 200, got %d %s", rec.Code, rec.Body.String())
	}
	var refreshed struct {
		Data domain.Session `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &refreshed); err != nil || refreshed.Data.AccessToken == "" {
		t.Fatalf("refresh payload: %v %s", err, rec.Body.String())
	}
	rec = f.do(t, http.MethodPost, "/auth/refresh", "", map[string]string{"refresh_token": login.Session.RefreshToken})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("reused refresh: expected 401, got %d", rec.Code)
	}

	rec = f.do(t, http.MethodPut, "/auth/profile", refreshed.Data.AccessToken, map[string]string{"institution": "Arhivele Nationale"})
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "Arhivele Nationale") {
		t.Fatalf("update profile: got %d %s", rec.Code, rec.Body.String())
	}
	rec = f.do(t, http.MethodGet, "/auth/profile", refreshed.Data.AccessToken, nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"role":"citizen"`) {
		t.Fatalf("get profile: got %d %s", rec.Code, rec.Body.String())
	}

	rec = f.do(t, http.MethodPost, "/auth/logout", refreshed.Data.AccessToken, map[string]string{"refresh_token": refreshed.Data.RefreshToken})
	if rec.Code != http.StatusOK {
		t.Fatalf("logout: got %d", rec.Code)
	}
	rec = f.do(t, http.MethodPost, "/auth/refresh", "", map[string]string{"refresh_token": refreshed.Data.RefreshToken})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("refresh after logout: expected 401, got %d", rec.Code)
	}
}

func TestAuth_RegisterRejectsStaffRole(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodPost, "/auth/register", "", map[string]string{
		"email": "x@primarie.ro", "password": "parola-sigura", "full_name": "X", "role": "admin",
	})
	if rec.Code != http.StatusBadRequest || decodeErrorCode(t, rec) != "invalid_role" {
		t.Fatalf("expected 400 invalid_role, got %d %s", rec.Code, rec.Body.String())
	}

	rec = f.do(t, http.MethodPost, "/auth/register", "", map[string]string{"email": "x@primarie.ro"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing fields, got %d", rec.Code)
	}
}

func TestAuth_ProtectedEndpointsNeedToken(t *testing.T) {
	f := newAPIFixture(t)
	if rec := f.do(t, http.MethodGet, "/auth/profile", "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/auth/profile", "tampered", nil); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 with invalid token, got %d", rec.Code)
	}
}

func TestAuth_ProfileByIDOwnOrAdmin(t *testing.T) {
	f := newAPIFixture(t)
	clerk, clerkToken := f.staffToken(t, "clerk@primarie.ro", domain.RoleClerk)
	other, _ := f.staffToken(t, "other@primarie.ro", domain.RoleInspector)
	_, adminToken := f.staffToken(t, "admin@primarie.ro", domain.RoleAdmin)

	if rec := f.do(t, http.MethodGet, "/auth/profile/"+clerk.ID, clerkToken, nil); rec.Code != http.StatusOK {
		t.Fatalf("own profile: got %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/auth/profile/"+other.ID, clerkToken, nil); rec.Code != http.StatusForbidden {
		t.Fatalf("foreign profile: expected 403, got %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/auth/profile/"+other.ID, adminToken, nil); rec.Code != http.StatusOK {
		t.Fatalf("admin read: got %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/auth/profile/missing", adminToken, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("missing profile: expected 404, got %d", rec.Code)
	}
}

func TestAdmin_UserManagement(t *testing.T) {
	f := newAPIFixture(t)
	_, archivistToken := f.staffToken(t, "arh@primarie.ro", domain.RoleArchivist)
	_, adminToken := f.staffToken(t, "admin@primarie.ro", domain.RoleAdmin)

	if rec := f.do(t, http.MethodGet, "/admin/users", archivistToken, nil); rec.Code != http.StatusForbidden {
		t.Fatalf("archivist listing users: expected 403, got %d", rec.Code)
	}

	rec := f.do(t, http.MethodPost, "/admin/users", adminToken, map[string]string{
		"email": "clerk@primarie.ro", "password": "parola-sigura", "full_name": "Ion", "role": "clerk",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create user: got %d %s", rec.Code, rec.Body.String())
	}
	var created struct {
		Data domain.User `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil || created.Data.Role != domain.RoleClerk {
		t.Fatalf("created payload: %v %s", err, rec.Body.String())
	}

	rec = f.do(t, http.MethodPut, "/admin/users/"+created.Data.ID+"/role", adminToken, map[string]string{"role": "archivist"})
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"role":"archivist"`) {
		t.Fatalf("change role: got %d %s", rec.Code, rec.Body.String())
	}
	rec = f.do(t, http.MethodPut, "/admin/users/"+created.Data.ID+"/role", adminToken, map[string]string{"role": "root"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid role: expected 400, got %d", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/admin/users?limit=10", adminToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list users: got %d", rec.Code)
	}
}

func TestInspector_AuditLogs(t *testing.T) {
	f := newAPIFixture(t)
	_, inspectorToken := f.staffToken(t, "insp@primarie.ro", domain.RoleInspector)
	_, clerkToken := f.staffToken(t, "clerk@primarie.ro", domain.RoleClerk)
	_, adminToken := f.staffToken(t, "admin@primarie.ro", domain.RoleAdmin)

	if rec := f.do(t, http.MethodGet, "/inspector/audit-logs", clerkToken, nil); rec.Code != http.StatusForbidden {
		t.Fatalf("clerk: expected 403, got %d", rec.Code)
	}
	for _, token := range []string{inspectorToken, adminToken} {
		rec := f.do(t, http.MethodGet, "/inspector/audit-logs?action="+domain.AuditUserRegistered, token, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("audit logs: got %d", rec.Code)
		}
		var resp struct {
			Data []domain.AuditEvent `json:"data"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(resp.Data) != 3 {
			t.Fatalf("expected 3 registration events, got %d", len(resp.Data))
		}
	}
}

func TestHealthAndMetrics(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK || rec.Body.String() != `{"status":"ok"}` {
		t.Fatalf("healthz: got %d %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected request id header")
	}
	f.do(t, http.MethodGet, "/auth/profile", "", nil)

	rec = f.do(t, http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics: got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "http_requests_total") || !strings.Contains(body, `auth_rejections_total{status="401"} 1`) {
		t.Fatalf("unexpected metrics output: %s", body)
	}
}

func TestAuthRateLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/auth/ping", RateLimitMiddleware(1, 2), func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/ping", nil))
		codes = append(codes, rec.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("unexpected codes %v", codes)
	}
}
