package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"openarchive/internal/domain"
	"openarchive/internal/repository"
)

type mockUserRepo struct {
	mu      sync.Mutex
	byID    map[string]domain.User
	byEmail map[string]string
	err     error
}

func newMockUserRepo() *mockUserRepo {
	return &mockUserRepo{
		byID:    make(map[string]domain.User),
		byEmail: make(map[string]string),
	}
}

func (m *mockUserRepo) Create(_ context.Context, user domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if _, ok := m.byEmail[user.Email]; ok {
		return repository.ErrDuplicate
	}
	m.byID[user.ID] = user
	m.byEmail[user.Email] = user.ID
	return nil
}

func (m *mockUserRepo) GetByID(_ context.Context, id string) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return domain.User{}, pgx.ErrNoRows
	}
	return u, nil
}

func (m *mockUserRepo) GetByEmail(ctx context.Context, email string) (domain.User, error) {
	m.mu.Lock()
	id, ok := m.byEmail[email]
	m.mu.Unlock()
	if !ok {
		return domain.User{}, pgx.ErrNoRows
	}
	return m.GetByID(ctx, id)
}

func (m *mockUserRepo) List(_ context.Context, limit, offset int) ([]domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.User
	for _, u := range m.byID {
		out = append(out, u)
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockUserRepo) update(id string, fn func(*domain.User)) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return domain.User{}, pgx.ErrNoRows
	}
	fn(&u)
	m.byID[id] = u
	return u, nil
}

func (m *mockUserRepo) UpdateProfile(_ context.Context, id string, upd domain.ProfileUpdate, updatedAt time.Time) (domain.User, error) {
	return m.update(id, func(u *domain.User) {
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
		u.UpdatedAt = updatedAt
	})
}

func (m *mockUserRepo) UpdateRole(_ context.Context, id string, role domain.Role, updatedAt time.Time) (domain.User, error) {
	return m.update(id, func(u *domain.User) {
		u.Role = role
		u.UpdatedAt = updatedAt
	})
}

func (m *mockUserRepo) UpdateResetCode(_ context.Context, id, codeHash string, expiresAt time.Time) error {
	_, err := m.update(id, func(u *domain.User) {
		u.ResetCodeHash = codeHash
		u.ResetExpiresAt = &expiresAt
		if codeHash == "" {
			u.ResetExpiresAt = nil
		}
	})
	return err
}

func (m *mockUserRepo) UpdatePassword(_ context.Context, id, passwordHash string, updatedAt time.Time) error {
	_, err := m.update(id, func(u *domain.User) {
		u.PasswordHash = passwordHash
		u.ResetCodeHash = ""
		u.ResetExpiresAt = nil
		u.UpdatedAt = updatedAt
	})
	return err
}

type mockAuditRepo struct {
	mu     sync.Mutex
	events []domain.AuditEvent
	err    error
}

func (m *mockAuditRepo) Create(_ context.Context, event domain.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, event)
	return nil
}

func (m *mockAuditRepo) List(_ context.Context, filter domain.AuditFilter) ([]domain.AuditEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.AuditEvent
	for _, e := range m.events {
		if filter.Action != "" && e.Action != filter.Action {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (m *mockAuditRepo) actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.events))
	for _, e := range m.events {
		out = append(out, e.Action)
	}
	return out
}

type mockEmailSender struct {
	lastTo   string
	lastCode string
	err      error
}

func (m *mockEmailSender) SendPasswordReset(_ context.Context, toEmail, code string, _ time.Time) error {
	m.lastTo = toEmail
	m.lastCode = code
	return m.err
}

var errRepoDown = errors.New("repo down")
