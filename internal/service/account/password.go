package account

// Password length bounds, matching the registration form contract.
const (
	passwordMinLength = 4
	passwordMaxLength = 100
)

// validPassword reports whether a raw password satisfies the length policy.
// Empty passwords are invalid.
func validPassword(password string) bool {
	if password == "" {
		return false
	}
	if len(password) < passwordMinLength || len(password) > passwordMaxLength {
		return false
	}
	return true
}
