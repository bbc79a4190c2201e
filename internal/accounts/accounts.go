// Package accounts implements the provider's account lifecycle: sign-up,
// password and refresh grants, logout, recovery and user updates.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/carbontrail/carbontrail/backend/go-services/internal/config"
	"github.com/carbontrail/carbontrail/backend/go-services/internal/mailer"
	"github.com/carbontrail/carbontrail/backend/go-services/internal/models"
	"github.com/carbontrail/carbontrail/backend/go-services/internal/recovery"
	"github.com/carbontrail/carbontrail/backend/go-services/internal/sessions"
	"github.com/carbontrail/carbontrail/backend/go-services/internal/tokens"
	"github.com/carbontrail/carbontrail/backend/go-services/internal/users"
	"github.com/carbontrail/carbontrail/backend/go-services/pkg/logger"
)

var (
	ErrInvalidCredentials = errors.New("invalid login credentials")
	ErrEmailNotConfirmed  = errors.New("email not confirmed")
	ErrEmailTaken         = users.ErrEmailTaken
	ErrInvalidEmail       = errors.New("invalid email address")
	ErrWeakPassword       = errors.New("password is too short")
	ErrInvalidToken       = errors.New("token has expired or is invalid")
	ErrUserNotFound       = users.ErrNotFound
)

// TokenResponse is the OAuth2 token response with the signed-in user.
type TokenResponse struct {
	AccessToken  string       `json:"access_token"`
	TokenType    string       `json:"token_type"`
	ExpiresIn    int          `json:"expires_in"`
	ExpiresAt    int64        `json:"expires_at"`
	RefreshToken string       `json:"refresh_token"`
	User         *models.User `json:"user"`
}

// UserUpdate carries the attributes a signed-in user may change.
type UserUpdate struct {
	Data     map[string]interface{}
	Password *string
}

type Service struct {
	cfg       *config.Config
	users     users.UserRepository
	mirror    *users.Mirror
	sessions  *sessions.Service
	blacklist sessions.Blacklist
	otp       recovery.Store
	mail      mailer.Mailer
	validate  *validator.Validate
	now       func() time.Time
}

func NewService(cfg *config.Config, u users.UserRepository, s *sessions.Service, bl sessions.Blacklist, otp recovery.Store, m mailer.Mailer) *Service {
	return &Service{
		cfg:       cfg,
		users:     u,
		mirror:    users.NewMirror(u),
		sessions:  s,
		blacklist: bl,
		otp:       otp,
		mail:      m,
		validate:  validator.New(),
		now:       time.Now,
	}
}

func (s *Service) minPasswordLength() int {
	if s.cfg.Auth.MinPasswordLength > 0 {
		return s.cfg.Auth.MinPasswordLength
	}
	return 6
}

func (s *Service) checkEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if err := s.validate.Var(email, "required,email"); err != nil {
		return "", ErrInvalidEmail
	}
	return email, nil
}

func (s *Service) checkPassword(password string) error {
	if len([]rune(password)) < s.minPasswordLength() {
		return fmt.Errorf("%w: at least %d characters required", ErrWeakPassword, s.minPasswordLength())
	}
	return nil
}

// SignUp registers a user. Unless auto-confirm is on, a confirmation link is
// mailed and the user cannot sign in until it is followed.
func (s *Service) SignUp(ctx context.Context, email, password string, data map[string]interface{}) (*models.User, error) {
	email, err := s.checkEmail(email)
	if err != nil {
		return nil, err
	}
	if err := s.checkPassword(password); err != nil {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	u := &models.User{Email: email, PasswordHash: string(hash), Metadata: data}
	if s.cfg.Auth.AutoConfirm {
		now := s.now().UTC()
		u.EmailConfirmedAt = &now
	}
	if err := s.users.Create(ctx, u); err != nil {
		return nil, err
	}
	logger.Infof("accounts: signed up %s (confirmed=%t)", u.ID, u.Confirmed())

	if !u.Confirmed() {
		tok, err := s.otp.Issue(ctx, recovery.PurposeConfirmation, u.ID, s.cfg.Auth.ConfirmationTTL)
		if err != nil {
			return nil, fmt.Errorf("issuing confirmation token: %w", err)
		}
		link := s.cfg.Server.PublicURL + "/auth/verify?token=" + url.QueryEscape(tok)
		if err := s.mail.Send(ctx, mailer.Message{Kind: mailer.KindConfirmation, To: u.Email, Link: link}); err != nil {
			logger.Errorf("accounts: confirmation mail to %s failed: %v", u.ID, err)
		}
	}
	return u, nil
}

// Confirm consumes a confirmation token and marks the email verified.
func (s *Service) Confirm(ctx context.Context, token string) (*models.User, error) {
	uid, err := s.otp.Consume(ctx, recovery.PurposeConfirmation, token)
	if err != nil {
		if errors.Is(err, recovery.ErrInvalidToken) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	if err := s.users.MarkConfirmed(ctx, uid, s.now()); err != nil {
		return nil, err
	}
	return s.users.GetByID(ctx, uid)
}

// PasswordGrant signs a user in with email and password.
func (s *Service) PasswordGrant(ctx context.Context, email, password string) (*TokenResponse, error) {
	u, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if u == nil || u.PasswordHash == "" {
		return nil, ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}
	if !u.Confirmed() {
		return nil, ErrEmailNotConfirmed
	}
	return s.issue(ctx, u)
}

// RefreshGrant rotates a refresh token and issues a new access token.
func (s *Service) RefreshGrant(ctx context.Context, refresh string) (*TokenResponse, error) {
	if refresh == "" {
		return nil, ErrInvalidToken
	}
	sess, next, err := s.sessions.Rotate(ctx, refresh, s.cfg.JWT.RefreshTokenTTL)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, ErrInvalidToken
	}
	u, err := s.users.GetByID(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	if u == nil {
		_ = s.sessions.DeleteRefresh(ctx, next)
		return nil, ErrInvalidToken
	}
	access, exp, err := tokens.GenerateAccessToken(s.cfg, u, s.cfg.JWT.AccessTokenTTL)
	if err != nil {
		return nil, err
	}
	return s.tokenResponse(access, exp, next, u), nil
}

func (s *Service) issue(ctx context.Context, u *models.User) (*TokenResponse, error) {
	access, exp, err := tokens.GenerateAccessToken(s.cfg, u, s.cfg.JWT.AccessTokenTTL)
	if err != nil {
		return nil, err
	}
	refresh, err := s.sessions.CreateSession(ctx, u.ID, s.cfg.JWT.RefreshTokenTTL)
	if err != nil {
		return nil, err
	}
	return s.tokenResponse(access, exp, refresh, u), nil
}

func (s *Service) tokenResponse(access string, exp time.Time, refresh string, u *models.User) *TokenResponse {
	return &TokenResponse{
		AccessToken:  access,
		TokenType:    "bearer",
		ExpiresIn:    int(time.Until(exp).Seconds()),
		ExpiresAt:    exp.Unix(),
		RefreshToken: refresh,
		User:         u,
	}
}

// Logout revokes the access token until it expires and drops the refresh
// session when it belongs to userID.
func (s *Service) Logout(ctx context.Context, userID, accessToken, refresh string) error {
	ttl := s.cfg.JWT.AccessTokenTTL
	if exp, ok := tokenExpiry(accessToken); ok {
		ttl = time.Until(exp)
	}
	if err := s.blacklist.Add(ctx, accessToken, ttl); err != nil {
		return fmt.Errorf("blacklisting access token: %w", err)
	}
	if refresh == "" {
		return nil
	}
	sess, err := s.sessions.ValidateRefresh(ctx, refresh)
	if err != nil {
		return err
	}
	if sess != nil && sess.UserID == userID {
		return s.sessions.DeleteRefresh(ctx, refresh)
	}
	return nil
}

// tokenExpiry reads exp from an already verified token.
func tokenExpiry(raw string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// Recover mails a password recovery link. Unknown addresses succeed silently.
func (s *Service) Recover(ctx context.Context, email, redirectTo string) error {
	email, err := s.checkEmail(email)
	if err != nil {
		return err
	}
	u, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return err
	}
	if u == nil {
		logger.Debugf("accounts: recovery requested for unknown address")
		return nil
	}
	tok, err := s.otp.Issue(ctx, recovery.PurposeRecovery, u.ID, s.cfg.Auth.RecoveryTTL)
	if err != nil {
		return fmt.Errorf("issuing recovery token: %w", err)
	}
	link := s.recoveryRedirect(redirectTo) + "?token=" + url.QueryEscape(tok)
	return s.mail.Send(ctx, mailer.Message{Kind: mailer.KindRecovery, To: u.Email, Link: link})
}

// recoveryRedirect only honours targets on the configured site.
func (s *Service) recoveryRedirect(redirectTo string) string {
	fallback := s.cfg.Auth.SiteURL + "/reset-password"
	if redirectTo == "" || s.cfg.Auth.SiteURL == "" {
		return fallback
	}
	if redirectTo != s.cfg.Auth.SiteURL && !strings.HasPrefix(redirectTo, s.cfg.Auth.SiteURL+"/") {
		logger.Warnf("accounts: ignoring redirect outside site url: %s", redirectTo)
		return fallback
	}
	return redirectTo
}

// ResetPassword consumes a recovery token and sets a new password.
func (s *Service) ResetPassword(ctx context.Context, token, password string) (*models.User, error) {
	if err := s.checkPassword(password); err != nil {
		return nil, err
	}
	uid, err := s.otp.Consume(ctx, recovery.PurposeRecovery, token)
	if err != nil {
		if errors.Is(err, recovery.ErrInvalidToken) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	if err := s.setPassword(ctx, uid, password); err != nil {
		return nil, err
	}
	if err := s.sessions.RevokeUser(ctx, uid); err != nil {
		logger.Warnf("accounts: revoking sessions of %s after reset failed: %v", uid, err)
	}
	// following the mailed link proves the address
	if err := s.users.MarkConfirmed(ctx, uid, s.now()); err != nil {
		return nil, err
	}
	return s.users.GetByID(ctx, uid)
}

func (s *Service) setPassword(ctx context.Context, userID, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	return s.users.UpdatePasswordHash(ctx, userID, string(hash))
}

// GetUser returns the user or ErrUserNotFound.
func (s *Service) GetUser(ctx context.Context, id string) (*models.User, error) {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrUserNotFound
	}
	return u, nil
}

// UpdateUser merges metadata and optionally replaces the password.
func (s *Service) UpdateUser(ctx context.Context, id string, upd UserUpdate) (*models.User, error) {
	if upd.Password != nil {
		if err := s.checkPassword(*upd.Password); err != nil {
			return nil, err
		}
	}
	if _, err := s.GetUser(ctx, id); err != nil {
		return nil, err
	}
	if upd.Password != nil {
		if err := s.setPassword(ctx, id, *upd.Password); err != nil {
			return nil, err
		}
	}
	if len(upd.Data) > 0 {
		return s.users.UpdateMetadata(ctx, id, upd.Data)
	}
	return s.GetUser(ctx, id)
}

// ResolveUser maps verified token claims to a stored user. Tokens from this
// service carry the user id as subject; tokens from an external issuer are
// mirrored by subject.
func (s *Service) ResolveUser(ctx context.Context, claims map[string]interface{}) (*models.User, error) {
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, ErrInvalidToken
	}
	if iss, _ := claims["iss"].(string); iss == s.cfg.JWT.Issuer {
		return s.GetUser(ctx, sub)
	}
	u, err := s.mirror.Upsert(ctx, claims)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrUserNotFound
	}
	return u, nil
}
