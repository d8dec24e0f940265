package domain

import "time"

// TokenKind enumerates account token purposes.
const (
	TokenKindActivation = "activation"
	TokenKindReset      = "reset"
)

// AccountToken is a one-time key tied to a user. Activation tokens prove
// ownership of the registration email; reset tokens authorize a forgotten
// password change and are only honored within their expiry window.
type AccountToken struct {
	Token    string
	UserID   string
	Kind     string
	IssuedAt time.Time
}

// Expired reports whether the token was issued before the given cutoff.
func (t AccountToken) Expired(cutoff time.Time) bool {
	return t.IssuedAt.Before(cutoff)
}
