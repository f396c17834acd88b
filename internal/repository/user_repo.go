package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"openarchive/internal/domain"
)

// ErrDuplicate se devuelve cuando el email ya existe.
var ErrDuplicate = errors.New("duplicate record")

// UserRepository define el contrato de persistencia para usuarios y perfiles.
type UserRepository interface {
	Create(ctx context.Context, user domain.User) error
	GetByID(ctx context.Context, id string) (domain.User, error)
	GetByEmail(ctx context.Context, email string) (domain.User, error)
	List(ctx context.Context, limit, offset int) ([]domain.User, error)
	UpdateProfile(ctx context.Context, id string, upd domain.ProfileUpdate, updatedAt time.Time) (domain.User, error)
	UpdateRole(ctx context.Context, id string, role domain.Role, updatedAt time.Time) (domain.User, error)
	UpdateResetCode(ctx context.Context, id, codeHash string, expiresAt time.Time) error
	UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error
}

// PgUserRepository implementa UserRepository usando pgxpool.
type PgUserRepository struct {
	pool *pgxpool.Pool
}

func NewPgUserRepository(pool *pgxpool.Pool) *PgUserRepository {
	return &PgUserRepository{pool: pool}
}

const userColumns = `id, email, role, full_name, institution, department, phone,
	password_hash, reset_code_hash, reset_expires_at, created_at, updated_at`

func scanUser(row pgx.Row) (domain.User, error) {
	var (
		u         domain.User
		role      string
		resetHash *string
	)
	err := row.Scan(
		&u.ID,
		&u.Email,
		&role,
		&u.FullName,
		&u.Institution,
		&u.Department,
		&u.Phone,
		&u.PasswordHash,
		&resetHash,
		&u.ResetExpiresAt,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return domain.User{}, err
	}
	u.Role = domain.Role(role)
	if resetHash != nil {
		u.ResetCodeHash = *resetHash
	}
	return u, nil
}

func (r *PgUserRepository) Create(ctx context.Context, user domain.User) error {
	const query = `
		INSERT INTO user_profiles (id, email, role, full_name, institution, department, phone,
			password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.pool.Exec(ctx, query,
		user.ID,
		user.Email,
		string(user.Role),
		user.FullName,
		user.Institution,
		user.Department,
		user.Phone,
		user.PasswordHash,
		user.CreatedAt,
		user.UpdatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicate
	}
	return err
}

func (r *PgUserRepository) GetByID(ctx context.Context, id string) (domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM user_profiles WHERE id = $1`
	return scanUser(r.pool.QueryRow(ctx, query, id))
}

func (r *PgUserRepository) GetByEmail(ctx context.Context, email string) (domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM user_profiles WHERE email = $1`
	return scanUser(r.pool.QueryRow(ctx, query, email))
}

func (r *PgUserRepository) List(ctx context.Context, limit, offset int) ([]domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM user_profiles ORDER BY created_at DESC LIMIT $1 OFFSET $2`
	rows, err := r.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (r *PgUserRepository) UpdateProfile(ctx context.Context, id string, upd domain.ProfileUpdate, updatedAt time.Time) (domain.User, error) {
	query := `
		UPDATE user_profiles SET
			full_name = COALESCE($2, full_name),
			institution = COALESCE($3, institution),
			department = COALESCE($4, department),
			phone = COALESCE($5, phone),
			updated_at = $6
		WHERE id = $1
		RETURNING ` + userColumns
	return scanUser(r.pool.QueryRow(ctx, query, id, upd.FullName, upd.Institution, upd.Department, upd.Phone, updatedAt))
}

func (r *PgUserRepository) UpdateRole(ctx context.Context, id string, role domain.Role, updatedAt time.Time) (domain.User, error) {
	query := `UPDATE user_profiles SET role = $2, updated_at = $3 WHERE id = $1 RETURNING ` + userColumns
	return scanUser(r.pool.QueryRow(ctx, query, id, string(role), updatedAt))
}

// UpdateResetCode guarda el hash del codigo; un hash vacio borra el codigo vigente.
func (r *PgUserRepository) UpdateResetCode(ctx context.Context, id, codeHash string, expiresAt time.Time) error {
	const query = `UPDATE user_profiles SET reset_code_hash = $2, reset_expires_at = $3 WHERE id = $1`
	var (
		hash any = codeHash
		exp  any = expiresAt
	)
	if codeHash == "" {
		hash, exp = nil, nil
	}
	tag, err := r.pool.Exec(ctx, query, id, hash, exp)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *PgUserRepository) UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error {
	const query = `
		UPDATE user_profiles
		SET password_hash = $2, reset_code_hash = NULL, reset_expires_at = NULL, updated_at = $3
		WHERE id = $1
	`
	tag, err := r.pool.Exec(ctx, query, id, passwordHash, updatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}
