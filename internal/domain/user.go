package domain

import (
	"strings"
	"time"
)

// Role names assignable to an account.
const (
	RoleUser  = "ROLE_USER"
	RoleAdmin = "ROLE_ADMIN"
)

// User represents a platform account.
type User struct {
	ID           string
	Login        string
	Email        string
	FirstName    string
	LastName     string
	PasswordHash []byte
	Activated    bool
	LangKey      string
	ImageURL     string
	Roles        []string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NormalizeLogin lowercases and trims a login for case-insensitive matching.
func NormalizeLogin(login string) string {
	return strings.ToLower(strings.TrimSpace(login))
}

// NormalizeEmail lowercases and trims an email for case-insensitive matching.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// HasRole reports whether the user carries the given role.
func (u User) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}
