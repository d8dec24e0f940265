package postgres

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/splax/accountd/internal/domain"
	"github.com/splax/accountd/internal/repository"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

// New constructs a Repository. Every query runs under the given timeout so
// no lifecycle operation blocks indefinitely on the store.
func New(pool *pgxpool.Pool, timeout time.Duration) *Repository {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Repository{pool: pool, timeout: timeout}
}

// ensure Repository satisfies interfaces.
var (
	_ repository.UserRepository  = (*Repository)(nil)
	_ repository.TokenRepository = (*Repository)(nil)
)

const userColumns = `id, login, email, first_name, last_name, password_hash, activated, lang_key, image_url, roles, created_at, updated_at`

// CreateUser inserts a user. Uniqueness of login and email is enforced by
// unique indexes on their lowercased forms, so two concurrent inserts for
// the same login never both succeed.
func (r *Repository) CreateUser(ctx context.Context, user *domain.User) error {
	if user == nil {
		return repository.ErrInvalidArgument
	}
	ctx, cancel := r.bound(ctx)
	defer cancel()
	const query = `INSERT INTO users (id, login, email, first_name, last_name, password_hash, activated, lang_key, image_url, roles, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err := r.pool.Exec(ctx, query,
		user.ID,
		domain.NormalizeLogin(user.Login),
		strings.TrimSpace(user.Email),
		user.FirstName,
		user.LastName,
		user.PasswordHash,
		user.Activated,
		user.LangKey,
		user.ImageURL,
		user.Roles,
		user.CreatedAt,
		user.UpdatedAt,
	)
	return r.mapError(err)
}

// GetUserByID retrieves a user by identifier.
func (r *Repository) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()
	const query = `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(r.pool.QueryRow(ctx, query, id))
}

// GetUserByLogin fetches a user by login, case-insensitively.
func (r *Repository) GetUserByLogin(ctx context.Context, login string) (*domain.User, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()
	const query = `SELECT ` + userColumns + ` FROM users WHERE lower(login) = $1`
	return scanUser(r.pool.QueryRow(ctx, query, domain.NormalizeLogin(login)))
}

// GetUserByEmail fetches a user by email, case-insensitively.
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()
	const query = `SELECT ` + userColumns + ` FROM users WHERE lower(email) = $1`
	return scanUser(r.pool.QueryRow(ctx, query, domain.NormalizeEmail(email)))
}

// UpdateUser persists profile mutations.
func (r *Repository) UpdateUser(ctx context.Context, user *domain.User) error {
	if user == nil {
		return repository.ErrInvalidArgument
	}
	ctx, cancel := r.bound(ctx)
	defer cancel()
	const query = `UPDATE users
		SET email = $2,
			first_name = $3,
			last_name = $4,
			lang_key = $5,
			image_url = $6,
			updated_at = NOW()
		WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query,
		user.ID,
		strings.TrimSpace(user.Email),
		user.FirstName,
		user.LastName,
		user.LangKey,
		user.ImageURL,
	)
	if err != nil {
		return r.mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// UpdatePassword replaces the stored password hash.
func (r *Repository) UpdatePassword(ctx context.Context, userID string, hash []byte) error {
	ctx, cancel := r.bound(ctx)
	defer cancel()
	const query = `UPDATE users SET password_hash = $2, updated_at = NOW() WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, userID, hash)
	if err != nil {
		return r.mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ActivateUser flips the activation flag.
func (r *Repository) ActivateUser(ctx context.Context, userID string) error {
	ctx, cancel := r.bound(ctx)
	defer cancel()
	const query = `UPDATE users SET activated = TRUE, updated_at = NOW() WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, userID)
	if err != nil {
		return r.mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *Repository) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.timeout)
}

// mapError translates driver errors into repository sentinels.
func (r *Repository) mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return repository.ErrUnavailable
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		switch {
		case strings.Contains(pgErr.ConstraintName, "login"):
			return repository.ErrDuplicateLogin
		case strings.Contains(pgErr.ConstraintName, "email"):
			return repository.ErrDuplicateEmail
		}
		return repository.ErrInvalidArgument
	}
	return err
}

func scanUser(row pgx.Row) (*domain.User, error) {
	var u domain.User
	if err := row.Scan(
		&u.ID,
		&u.Login,
		&u.Email,
		&u.FirstName,
		&u.LastName,
		&u.PasswordHash,
		&u.Activated,
		&u.LangKey,
		&u.ImageURL,
		&u.Roles,
		&u.CreatedAt,
		&u.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, repository.ErrUnavailable
		}
		return nil, err
	}
	return &u, nil
}
