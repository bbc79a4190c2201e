package models

import (
	"errors"
	"strings"
	"time"
)

// DateLayout is the wire format of Profile.DateOfBirth.
const DateLayout = "2006-01-02"

var ErrInvalidDate = errors.New("date of birth must use the YYYY-MM-DD format")

// Profile is the user-editable record kept in the profiles table, one per user.
type Profile struct {
	ID                   string    `bson:"_id" json:"id"`
	FullName             string    `bson:"full_name" json:"full_name"`
	Username             string    `bson:"username" json:"username"`
	Bio                  string    `bson:"bio" json:"bio"`
	Phone                string    `bson:"phone" json:"phone"`
	Website              string    `bson:"website" json:"website"`
	Location             string    `bson:"location" json:"location"`
	DateOfBirth          *string   `bson:"date_of_birth" json:"date_of_birth"`
	AvatarURL            string    `bson:"avatar_url" json:"avatar_url"`
	NotificationsEnabled bool      `bson:"notifications_enabled" json:"notifications_enabled"`
	EmailNotifications   bool      `bson:"email_notifications" json:"email_notifications"`
	PublicProfile        bool      `bson:"public_profile" json:"public_profile"`
	CreatedAt            time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt            time.Time `bson:"updated_at" json:"updated_at"`
}

// ProfileFields is the set of columns the profile form may overwrite.
// The id and avatar_url are deliberately absent.
type ProfileFields struct {
	FullName             string  `json:"full_name"`
	Username             string  `json:"username"`
	Bio                  string  `json:"bio"`
	Phone                string  `json:"phone"`
	Website              string  `json:"website"`
	Location             string  `json:"location"`
	DateOfBirth          *string `json:"date_of_birth"`
	NotificationsEnabled bool    `json:"notifications_enabled"`
	EmailNotifications   bool    `json:"email_notifications"`
	PublicProfile        bool    `json:"public_profile"`
}

// NewDefaultProfile builds the row created the first time a user's profile is
// read. Full name and avatar are seeded from sign-up metadata.
func NewDefaultProfile(userID, email string, metadata map[string]interface{}) *Profile {
	fullName, _ := metadata["full_name"].(string)
	avatar, _ := metadata["avatar_url"].(string)
	now := time.Now().UTC()
	return &Profile{
		ID:                   userID,
		FullName:             fullName,
		Username:             UsernameFromEmail(email),
		AvatarURL:            avatar,
		NotificationsEnabled: true,
		EmailNotifications:   true,
		PublicProfile:        false,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
}

// UsernameFromEmail returns the local part of an email address.
func UsernameFromEmail(email string) string {
	local, _, _ := strings.Cut(email, "@")
	return local
}

// NormalizeDateOfBirth maps an empty value to nil and checks the layout of
// anything else.
func NormalizeDateOfBirth(dob *string) (*string, error) {
	if dob == nil {
		return nil, nil
	}
	s := strings.TrimSpace(*dob)
	if s == "" {
		return nil, nil
	}
	if _, err := time.Parse(DateLayout, s); err != nil {
		return nil, ErrInvalidDate
	}
	return &s, nil
}

// Fields returns the mutable part of the profile.
func (p *Profile) Fields() ProfileFields {
	return ProfileFields{
		FullName:             p.FullName,
		Username:             p.Username,
		Bio:                  p.Bio,
		Phone:                p.Phone,
		Website:              p.Website,
		Location:             p.Location,
		DateOfBirth:          p.DateOfBirth,
		NotificationsEnabled: p.NotificationsEnabled,
		EmailNotifications:   p.EmailNotifications,
		PublicProfile:        p.PublicProfile,
	}
}

// Apply overwrites the mutable columns with f.
func (p *Profile) Apply(f ProfileFields) {
	p.FullName = f.FullName
	p.Username = f.Username
	p.Bio = f.Bio
	p.Phone = f.Phone
	p.Website = f.Website
	p.Location = f.Location
	p.DateOfBirth = f.DateOfBirth
	p.NotificationsEnabled = f.NotificationsEnabled
	p.EmailNotifications = f.EmailNotifications
	p.PublicProfile = f.PublicProfile
	p.UpdatedAt = time.Now().UTC()
}

// DisplayName prefers the profile's full name, then the name kept in the
// account metadata, then the email local part, then "User".
func (p *Profile) DisplayName(metadataName, email string) string {
	if p != nil && strings.TrimSpace(p.FullName) != "" {
		return p.FullName
	}
	if n := strings.TrimSpace(metadataName); n != "" {
		return n
	}
	if u := UsernameFromEmail(email); u != "" {
		return u
	}
	return "User"
}

// Initial is the placeholder letter shown when no avatar is set.
func (p *Profile) Initial(metadataName, email string) string {
	name := []rune(p.DisplayName(metadataName, email))
	return strings.ToUpper(string(name[0]))
}
