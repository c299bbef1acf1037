package credentials

import (
	"errors"
	"fmt"
	"time"
)

// DefaultExpiryBuffer is how long before its nominal expiry a token is
// already treated as expired.
const DefaultExpiryBuffer = 5 * time.Minute

var (
	// ErrCredentialNotFound is returned when no credential is stored for a
	// (user, provider) pair.
	ErrCredentialNotFound = errors.New("credential not found")

	// ErrNoRefreshToken is returned when an expired credential has no refresh
	// token to renew it with.
	ErrNoRefreshToken = errors.New("no refresh token available")

	// ErrCredentialRevoked is matched by refresh errors the provider rejected
	// permanently. The user has to reconnect the integration.
	ErrCredentialRevoked = errors.New("credential revoked")

	// ErrRefreshFailed is matched by refresh errors that may succeed on retry.
	ErrRefreshFailed = errors.New("token refresh failed")

	// ErrUnknownProvider is returned for providers that are not configured.
	ErrUnknownProvider = errors.New("unknown provider")
)

// Credential is a stored OAuth credential for one (user, provider) pair.
type Credential struct {
	UserID       string    `json:"userId"`
	Provider     string    `json:"provider"`
	AccessToken  string    `json:"-"`
	RefreshToken string    `json:"-"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// ExpiredAt reports whether the access token must be treated as expired at
// now, given the safety buffer. A credential without an expiry never
// expires; one without an access token always has.
func (c Credential) ExpiredAt(now time.Time, buffer time.Duration) bool {
	if c.AccessToken == "" {
		return true
	}
	if c.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(buffer).Before(c.ExpiresAt)
}

// ErrorKind classifies refresh failures.
type ErrorKind string

const (
	// Recoverable failures keep the credential; a later retry may succeed.
	Recoverable ErrorKind = "RECOVERABLE"

	// Permanent failures delete the credential.
	Permanent ErrorKind = "PERMANENT"
)

// RefreshResult is the outcome of one refresh.
type RefreshResult struct {
	Success     bool
	AccessToken string
	ExpiresAt   time.Time
	ErrorKind   ErrorKind
	Err         error
}

// RefreshError carries the classification of a failed refresh. It matches
// ErrCredentialRevoked or ErrRefreshFailed depending on its kind.
type RefreshError struct {
	Kind     ErrorKind
	Provider string
	Err      error
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("%s token refresh failed (%s): %v", e.Provider, e.Kind, e.Err)
}

func (e *RefreshError) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel matching the error kind.
func (e *RefreshError) Is(target error) bool {
	switch target {
	case ErrCredentialRevoked:
		return e.Kind == Permanent
	case ErrRefreshFailed:
		return e.Kind == Recoverable
	}
	return false
}

// ConnectionStatus is the state of a user's integration.
type ConnectionStatus string

const (
	StatusConnected    ConnectionStatus = "connected"
	StatusExpired      ConnectionStatus = "expired"
	StatusDisconnected ConnectionStatus = "disconnected"
)
