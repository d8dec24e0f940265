package repository

import (
	"context"
	"time"

	"github.com/splax/accountd/internal/domain"
)

// UserRepository persists accounts. Lookups by login and email are
// case-insensitive. CreateUser must reject duplicates atomically: two
// concurrent registrations for the same login observe exactly one success
// and one ErrDuplicateLogin.
type UserRepository interface {
	CreateUser(ctx context.Context, user *domain.User) error
	GetUserByID(ctx context.Context, id string) (*domain.User, error)
	GetUserByLogin(ctx context.Context, login string) (*domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	UpdateUser(ctx context.Context, user *domain.User) error
	UpdatePassword(ctx context.Context, userID string, hash []byte) error
	ActivateUser(ctx context.Context, userID string) error
}

// TokenRepository persists one-time account tokens keyed by token value.
// ConsumeToken is the exactly-once point of the lifecycle: for a given
// token value at most one caller ever observes a non-error return, even
// under concurrent invocation. Tokens issued at or before issuedAfter are
// treated as absent.
type TokenRepository interface {
	SetToken(ctx context.Context, token *domain.AccountToken) error
	ConsumeToken(ctx context.Context, token, kind string, issuedAfter time.Time) (*domain.User, error)
	DeleteTokens(ctx context.Context, userID, kind string) error
}
