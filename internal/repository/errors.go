package repository

import "errors"

var (
	// ErrNotFound indicates an entity was not located.
	ErrNotFound = errors.New("repository: not found")

	// ErrDuplicateLogin indicates the login is already taken, compared
	// case-insensitively.
	ErrDuplicateLogin = errors.New("repository: login already used")

	// ErrDuplicateEmail indicates the email is already taken, compared
	// case-insensitively.
	ErrDuplicateEmail = errors.New("repository: email already used")

	// ErrInvalidArgument indicates malformed input to a repository call.
	ErrInvalidArgument = errors.New("repository: invalid argument")

	// ErrUnavailable indicates a transient store failure such as a timeout;
	// callers surface it as a server-side condition, never as client error.
	ErrUnavailable = errors.New("repository: store unavailable")
)
