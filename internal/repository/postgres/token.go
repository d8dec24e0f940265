package postgres

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/splax/accountd/internal/domain"
	"github.com/splax/accountd/internal/repository"
)

// SetToken stores a one-time token, replacing any outstanding token of the
// same kind for the user. A user holds at most one live token per kind.
func (r *Repository) SetToken(ctx context.Context, token *domain.AccountToken) error {
	if token == nil || strings.TrimSpace(token.Token) == "" {
		return repository.ErrInvalidArgument
	}
	ctx, cancel := r.bound(ctx)
	defer cancel()
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return r.mapError(err)
	}
	defer tx.Rollback(ctx)

	const del = `DELETE FROM account_tokens WHERE user_id = $1 AND kind = $2`
	if _, err := tx.Exec(ctx, del, token.UserID, token.Kind); err != nil {
		return r.mapError(err)
	}
	const ins = `INSERT INTO account_tokens (token, user_id, kind, issued_at) VALUES ($1, $2, $3, $4)`
	if _, err := tx.Exec(ctx, ins, token.Token, token.UserID, token.Kind, token.IssuedAt.UTC()); err != nil {
		return r.mapError(err)
	}
	return r.mapError(tx.Commit(ctx))
}

// ConsumeToken atomically deletes the token and returns its user. The
// conditional DELETE guarantees at most one caller observes success for a
// given token value; tokens issued at or before issuedAfter are treated as
// absent, which is how reset expiry is enforced.
func (r *Repository) ConsumeToken(ctx context.Context, token, kind string, issuedAfter time.Time) (*domain.User, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()
	const query = `DELETE FROM account_tokens
		WHERE token = $1
			AND kind = $2
			AND issued_at > $3
		RETURNING user_id`
	row := r.pool.QueryRow(ctx, query, strings.TrimSpace(token), kind, issuedAfter.UTC())
	var userID string
	if err := row.Scan(&userID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, repository.ErrUnavailable
		}
		return nil, err
	}
	return r.GetUserByID(ctx, userID)
}

// DeleteTokens removes all tokens of the given kind for the user.
func (r *Repository) DeleteTokens(ctx context.Context, userID, kind string) error {
	ctx, cancel := r.bound(ctx)
	defer cancel()
	const query = `DELETE FROM account_tokens WHERE user_id = $1 AND kind = $2`
	_, err := r.pool.Exec(ctx, query, userID, kind)
	return r.mapError(err)
}
