// Package sessions keeps refresh sessions and the revoked access token list
// of the provider service.
package sessions

import "time"

// DefaultTTL applies to sessions created without an expiry.
const DefaultTTL = 7 * 24 * time.Hour

// Session is a refresh session. The refresh token is single use: a refresh
// grant replaces it with a new one.
type Session struct {
	ID           string    `bson:"_id,omitempty" json:"id,omitempty"`
	RefreshToken string    `bson:"refreshToken" json:"refreshToken"`
	UserID       string    `bson:"userId" json:"userId"`
	ExpiresAt    time.Time `bson:"expiresAt" json:"expiresAt"`
	CreatedAt    time.Time `bson:"createdAt" json:"createdAt"`
}

// Expired reports whether the session is past its expiry.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}
