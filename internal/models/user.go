package models

import "time"

// User is an account stored by the provider. Users authenticated by an
// external OIDC issuer are mirrored here with an empty PasswordHash.
type User struct {
	ID               string                 `bson:"_id" json:"id"`
	Subject          string                 `bson:"sub,omitempty" json:"-"`
	Email            string                 `bson:"email" json:"email"`
	PasswordHash     string                 `bson:"passwordHash,omitempty" json:"-"`
	Metadata         map[string]interface{} `bson:"metadata,omitempty" json:"user_metadata,omitempty"`
	EmailConfirmedAt *time.Time             `bson:"emailConfirmedAt,omitempty" json:"email_confirmed_at,omitempty"`
	CreatedAt        time.Time              `bson:"createdAt" json:"created_at"`
	UpdatedAt        time.Time              `bson:"updatedAt" json:"updated_at"`
}

// Confirmed reports whether the email address was verified.
func (u *User) Confirmed() bool {
	return u != nil && u.EmailConfirmedAt != nil
}

// MetadataString returns a string metadata value or "" when absent.
func (u *User) MetadataString(key string) string {
	if u == nil || u.Metadata == nil {
		return ""
	}
	s, _ := u.Metadata[key].(string)
	return s
}
