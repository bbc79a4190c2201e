// Package provider holds the contracts the account flow needs from its
// backend: identity, the profiles record store and the avatar object store.
// Implementations live in the remote (HTTP) and memory subpackages.
package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/carbontrail/carbontrail/backend/go-services/internal/models"
)

// Event names an auth state change.
type Event string

const (
	EventInitialSession   Event = "INITIAL_SESSION"
	EventSignedIn         Event = "SIGNED_IN"
	EventSignedOut        Event = "SIGNED_OUT"
	EventTokenRefreshed   Event = "TOKEN_REFRESHED"
	EventUserUpdated      Event = "USER_UPDATED"
	EventPasswordRecovery Event = "PASSWORD_RECOVERY"
)

// User is the identity record as the provider reports it.
type User struct {
	ID               string                 `json:"id"`
	Email            string                 `json:"email"`
	CreatedAt        time.Time              `json:"created_at"`
	EmailConfirmedAt *time.Time             `json:"email_confirmed_at,omitempty"`
	Metadata         map[string]interface{} `json:"user_metadata,omitempty"`
}

// MetadataString returns a string metadata value or "".
func (u *User) MetadataString(key string) string {
	if u == nil {
		return ""
	}
	s, _ := u.Metadata[key].(string)
	return s
}

// Session is an authenticated session. A usable session always has both an
// access token and a user.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresAt    time.Time `json:"expires_at"`
	User         *User     `json:"user"`
}

// Valid reports whether s carries both a token and a user.
func (s *Session) Valid() bool {
	return s != nil && s.AccessToken != "" && s.User != nil && s.User.ID != ""
}

// ExpiresWithin reports whether the access token expires within d.
func (s *Session) ExpiresWithin(d time.Duration) bool {
	if s == nil || s.ExpiresAt.IsZero() {
		return false
	}
	return time.Until(s.ExpiresAt) < d
}

// UserAttributes is the payload of UpdateUser. Nil/empty fields are left alone.
type UserAttributes struct {
	Metadata map[string]interface{} `json:"data,omitempty"`
	Password string                 `json:"password,omitempty"`
}

// UploadOptions controls object writes.
type UploadOptions struct {
	Upsert bool
}

// Listener receives auth state changes in the order they occur.
type Listener func(event Event, session *Session)

// Identity is the auth half of the provider.
type Identity interface {
	GetSession(ctx context.Context) (*Session, error)
	SignUp(ctx context.Context, email, password string, metadata map[string]interface{}) (*User, error)
	SignInWithPassword(ctx context.Context, email, password string) (*Session, error)
	SignOut(ctx context.Context) error
	SendPasswordReset(ctx context.Context, email, redirectTo string) error
	UpdateUser(ctx context.Context, attrs UserAttributes) (*User, error)
	// OnAuthStateChange registers fn and returns a function that removes it.
	// Events are delivered synchronously.
	OnAuthStateChange(fn Listener) (unsubscribe func())
}

// RecordStore is the profiles table.
type RecordStore interface {
	// SelectProfile returns ErrNoRows when the user has no profile.
	SelectProfile(ctx context.Context, userID string) (*models.Profile, error)
	// InsertProfileIfAbsent inserts p unless a row with its id exists and
	// returns the stored row either way; created reports which happened.
	InsertProfileIfAbsent(ctx context.Context, p *models.Profile) (stored *models.Profile, created bool, err error)
	UpdateProfileFields(ctx context.Context, userID string, fields models.ProfileFields) (*models.Profile, error)
	UpdateAvatarURL(ctx context.Context, userID, avatarURL string) (*models.Profile, error)
}

// ObjectStorage is the avatars bucket.
type ObjectStorage interface {
	Upload(ctx context.Context, path string, body io.Reader, size int64, contentType string, opts UploadOptions) error
	// PublicURL is computed locally and never fails.
	PublicURL(path string) string
}

// ErrNoRows is the record store's distinct "no such row" signal.
var ErrNoRows = errors.New("no rows in result set")

// ErrNoSession is returned by operations that need a signed-in user.
var ErrNoSession = errors.New("no active session")

// Error is a failure reported by the provider.
type Error struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Code != "" {
		return e.Code
	}
	return fmt.Sprintf("provider error (status %d)", e.Status)
}

// Common provider error codes.
const (
	CodeInvalidGrant      = "invalid_grant"
	CodeEmailNotConfirmed = "email_not_confirmed"
	CodeEmailTaken        = "email_taken"
	CodeWeakPassword      = "weak_password"
	CodeValidation        = "validation_failed"
	CodeUnauthorized      = "unauthorized"
	CodeRateLimited       = "over_request_rate_limit"
	CodeNoRows            = "no_rows"
)

// AsError returns the *Error in err's chain, if any.
func AsError(err error) (*Error, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// IsUnauthorized reports whether the provider rejected the caller's token.
func IsUnauthorized(err error) bool {
	pe, ok := AsError(err)
	return ok && pe.Status == http.StatusUnauthorized
}
