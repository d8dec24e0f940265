package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/splax/accountd/internal/domain"
	"github.com/splax/accountd/internal/repository"
)

// Repository is an in-memory implementation of the persistence interfaces.
// It backs tests and development mode and provides the same atomicity
// guarantees as the PostgreSQL implementation: uniqueness checks and token
// consumption happen under a single lock.
type Repository struct {
	mu     sync.Mutex
	users  map[string]*domain.User         // by id
	tokens map[string]*domain.AccountToken // by token value
}

// New constructs an empty Repository.
func New() *Repository {
	return &Repository{
		users:  make(map[string]*domain.User),
		tokens: make(map[string]*domain.AccountToken),
	}
}

var (
	_ repository.UserRepository  = (*Repository)(nil)
	_ repository.TokenRepository = (*Repository)(nil)
)

// CreateUser inserts a user, rejecting duplicate logins and emails.
func (r *Repository) CreateUser(ctx context.Context, user *domain.User) error {
	if user == nil {
		return repository.ErrInvalidArgument
	}
	if err := ctx.Err(); err != nil {
		return repository.ErrUnavailable
	}
	login := domain.NormalizeLogin(user.Login)
	email := domain.NormalizeEmail(user.Email)
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.users {
		if domain.NormalizeLogin(existing.Login) == login {
			return repository.ErrDuplicateLogin
		}
		if domain.NormalizeEmail(existing.Email) == email {
			return repository.ErrDuplicateEmail
		}
	}
	clone := cloneUser(user)
	clone.Login = login
	r.users[user.ID] = clone
	return nil
}

// GetUserByID retrieves a user by identifier.
func (r *Repository) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lookupLocked(id)
}

// GetUserByLogin fetches a user by login, case-insensitively.
func (r *Repository) GetUserByLogin(ctx context.Context, login string) (*domain.User, error) {
	normalized := domain.NormalizeLogin(login)
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if domain.NormalizeLogin(u.Login) == normalized {
			return cloneUser(u), nil
		}
	}
	return nil, repository.ErrNotFound
}

// GetUserByEmail fetches a user by email, case-insensitively.
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	normalized := domain.NormalizeEmail(email)
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if domain.NormalizeEmail(u.Email) == normalized {
			return cloneUser(u), nil
		}
	}
	return nil, repository.ErrNotFound
}

// UpdateUser persists profile mutations.
func (r *Repository) UpdateUser(ctx context.Context, user *domain.User) error {
	if user == nil {
		return repository.ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.users[user.ID]
	if !ok {
		return repository.ErrNotFound
	}
	email := domain.NormalizeEmail(user.Email)
	for id, other := range r.users {
		if id != user.ID && domain.NormalizeEmail(other.Email) == email {
			return repository.ErrDuplicateEmail
		}
	}
	existing.Email = strings.TrimSpace(user.Email)
	existing.FirstName = user.FirstName
	existing.LastName = user.LastName
	existing.LangKey = user.LangKey
	existing.ImageURL = user.ImageURL
	existing.UpdatedAt = time.Now().UTC()
	return nil
}

// UpdatePassword replaces the stored password hash.
func (r *Repository) UpdatePassword(ctx context.Context, userID string, hash []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.users[userID]
	if !ok {
		return repository.ErrNotFound
	}
	existing.PasswordHash = append([]byte(nil), hash...)
	existing.UpdatedAt = time.Now().UTC()
	return nil
}

// ActivateUser flips the activation flag.
func (r *Repository) ActivateUser(ctx context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.users[userID]
	if !ok {
		return repository.ErrNotFound
	}
	existing.Activated = true
	existing.UpdatedAt = time.Now().UTC()
	return nil
}

// SetToken stores a token, replacing any outstanding token of the same kind
// for the user.
func (r *Repository) SetToken(ctx context.Context, token *domain.AccountToken) error {
	if token == nil || strings.TrimSpace(token.Token) == "" {
		return repository.ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for value, existing := range r.tokens {
		if existing.UserID == token.UserID && existing.Kind == token.Kind {
			delete(r.tokens, value)
		}
	}
	clone := *token
	r.tokens[token.Token] = &clone
	return nil
}

// ConsumeToken removes the token and returns its user under one lock, so at
// most one concurrent caller succeeds for a given token value.
func (r *Repository) ConsumeToken(ctx context.Context, token, kind string, issuedAfter time.Time) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.tokens[strings.TrimSpace(token)]
	if !ok || existing.Kind != kind {
		return nil, repository.ErrNotFound
	}
	if !existing.IssuedAt.After(issuedAfter) {
		return nil, repository.ErrNotFound
	}
	delete(r.tokens, existing.Token)
	return r.lookupLocked(existing.UserID)
}

// DeleteTokens removes all tokens of the given kind for the user.
func (r *Repository) DeleteTokens(ctx context.Context, userID, kind string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for value, existing := range r.tokens {
		if existing.UserID == userID && existing.Kind == kind {
			delete(r.tokens, value)
		}
	}
	return nil
}

func (r *Repository) lookupLocked(id string) (*domain.User, error) {
	existing, ok := r.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneUser(existing), nil
}

func cloneUser(u *domain.User) *domain.User {
	clone := *u
	clone.PasswordHash = append([]byte(nil), u.PasswordHash...)
	clone.Roles = append([]string(nil), u.Roles...)
	return &clone
}
