package account

import (
	"context"
	"errors"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/splax/accountd/internal/config"
	"github.com/splax/accountd/internal/crypto"
	"github.com/splax/accountd/internal/domain"
	"github.com/splax/accountd/internal/repository"
)

var (
	// ErrInvalidPassword covers both length-policy violations and a wrong
	// current password on change. The two are deliberately not
	// distinguishable in the error signal.
	ErrInvalidPassword = errors.New("account: invalid password")

	// ErrActivationNotFound means the activation key is unknown or was
	// already consumed.
	ErrActivationNotFound = errors.New("account: activation key not found")

	// ErrResetNotFound means the reset key is unknown, expired, or was
	// already consumed.
	ErrResetNotFound = errors.New("account: reset key not found")

	// ErrUserNotFound means an authenticated caller has no backing record.
	// This is an invariant violation, surfaced server-side.
	ErrUserNotFound = errors.New("account: user not found")
)

// Notifier emits account lifecycle emails. Sends are fire-and-forget; the
// service never awaits delivery and failures must not undo committed state.
type Notifier interface {
	SendActivationEmail(user domain.User, key string)
	SendCreationEmail(user domain.User)
	SendPasswordResetEmail(user domain.User, key string)
}

// Service orchestrates the account lifecycle: registration, activation,
// password change, and password reset.
type Service struct {
	users    repository.UserRepository
	tokens   repository.TokenRepository
	notifier Notifier
	logger   *slog.Logger
	cfg      config.Config
}

// New constructs a Service.
func New(users repository.UserRepository, tokens repository.TokenRepository, notifier Notifier, logger *slog.Logger, cfg config.Config) Service {
	return Service{users: users, tokens: tokens, notifier: notifier, logger: logger, cfg: cfg}
}

// Register creates an inactive account and mails its activation key.
func (s Service) Register(ctx context.Context, login, email, password, langKey string) (*domain.User, error) {
	if !validPassword(password) {
		return nil, ErrInvalidPassword
	}
	hash, err := crypto.HashPassword(password)
	if err != nil {
		return nil, err
	}
	if langKey == "" {
		langKey = "en"
	}
	now := time.Now().UTC()
	user := &domain.User{
		ID:           uuid.NewString(),
		Login:        domain.NormalizeLogin(login),
		Email:        strings.TrimSpace(email),
		PasswordHash: hash,
		Activated:    false,
		LangKey:      langKey,
		Roles:        []string{domain.RoleUser},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	key, err := newAccountKey()
	if err != nil {
		return nil, err
	}
	token := &domain.AccountToken{
		Token:    key,
		UserID:   user.ID,
		Kind:     domain.TokenKindActivation,
		IssuedAt: now,
	}
	if err := s.tokens.SetToken(ctx, token); err != nil {
		return nil, err
	}
	s.logger.Info("user registered", "user_id", user.ID, "login", user.Login)
	s.notifier.SendActivationEmail(*user, key)
	return user, nil
}

// Activate consumes an activation key and transitions the user to active.
// A key can only ever be consumed once.
func (s Service) Activate(ctx context.Context, key string) (*domain.User, error) {
	user, err := s.tokens.ConsumeToken(ctx, key, domain.TokenKindActivation, time.Time{})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrActivationNotFound
		}
		return nil, err
	}
	if err := s.users.ActivateUser(ctx, user.ID); err != nil {
		return nil, err
	}
	user.Activated = true
	s.logger.Info("user activated", "user_id", user.ID, "login", user.Login)
	s.notifier.SendCreationEmail(*user)
	return user, nil
}

// ChangePassword replaces the caller's password after verifying the current
// one. A wrong current password and a policy violation on the new password
// report the same error.
func (s Service) ChangePassword(ctx context.Context, login, currentPassword, newPassword string) error {
	if !validPassword(newPassword) {
		return ErrInvalidPassword
	}
	user, err := s.users.GetUserByLogin(ctx, login)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrUserNotFound
		}
		return err
	}
	if err := crypto.ComparePassword(user.PasswordHash, currentPassword); err != nil {
		return ErrInvalidPassword
	}
	hash, err := crypto.HashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := s.users.UpdatePassword(ctx, user.ID, hash); err != nil {
		return err
	}
	s.logger.Info("password changed", "user_id", user.ID)
	return nil
}

// RequestPasswordReset issues a reset key for the given email and mails it.
// An unknown or unactivated email succeeds silently with no side effect, so
// responses cannot be used to enumerate registered addresses.
func (s Service) RequestPasswordReset(ctx context.Context, email string) error {
	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.logger.Warn("password reset requested for non existing mail")
			return nil
		}
		return err
	}
	if !user.Activated {
		s.logger.Warn("password reset requested for inactive account", "user_id", user.ID)
		return nil
	}
	key, err := newAccountKey()
	if err != nil {
		return err
	}
	token := &domain.AccountToken{
		Token:    key,
		UserID:   user.ID,
		Kind:     domain.TokenKindReset,
		IssuedAt: time.Now().UTC(),
	}
	if err := s.tokens.SetToken(ctx, token); err != nil {
		return err
	}
	s.logger.Info("password reset requested", "user_id", user.ID)
	s.notifier.SendPasswordResetEmail(*user, key)
	return nil
}

// CompletePasswordReset consumes a reset key and installs the new password.
// Keys older than the configured TTL are rejected as not found.
func (s Service) CompletePasswordReset(ctx context.Context, newPassword, key string) (*domain.User, error) {
	if !validPassword(newPassword) {
		return nil, ErrInvalidPassword
	}
	cutoff := time.Now().UTC().Add(-s.resetTTL())
	user, err := s.tokens.ConsumeToken(ctx, key, domain.TokenKindReset, cutoff)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrResetNotFound
		}
		return nil, err
	}
	hash, err := crypto.HashPassword(newPassword)
	if err != nil {
		return nil, err
	}
	if err := s.users.UpdatePassword(ctx, user.ID, hash); err != nil {
		return nil, err
	}
	user.PasswordHash = hash
	s.logger.Info("password reset completed", "user_id", user.ID)
	return user, nil
}

// ProfileUpdate carries the mutable profile fields.
type ProfileUpdate struct {
	FirstName string
	LastName  string
	Email     string
	LangKey   string
	ImageURL  string
}

// UpdateProfile applies profile mutations for the authenticated caller. An
// email already owned by a different user is rejected.
func (s Service) UpdateProfile(ctx context.Context, login string, update ProfileUpdate) (*domain.User, error) {
	if email := strings.TrimSpace(update.Email); email != "" {
		owner, err := s.users.GetUserByEmail(ctx, email)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
		if owner != nil && !strings.EqualFold(owner.Login, login) {
			return nil, repository.ErrDuplicateEmail
		}
	}
	user, err := s.users.GetUserByLogin(ctx, login)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	user.FirstName = update.FirstName
	user.LastName = update.LastName
	if strings.TrimSpace(update.Email) != "" {
		user.Email = strings.TrimSpace(update.Email)
	}
	if update.LangKey != "" {
		user.LangKey = update.LangKey
	}
	user.ImageURL = update.ImageURL
	if err := s.users.UpdateUser(ctx, user); err != nil {
		return nil, err
	}
	s.logger.Info("profile updated", "user_id", user.ID)
	return user, nil
}

// GetAccount returns the caller's account record.
func (s Service) GetAccount(ctx context.Context, login string) (*domain.User, error) {
	user, err := s.users.GetUserByLogin(ctx, login)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return user, nil
}

func (s Service) resetTTL() time.Duration {
	if s.cfg.ResetTokenTTL <= 0 {
		return 24 * time.Hour
	}
	return s.cfg.ResetTokenTTL
}
