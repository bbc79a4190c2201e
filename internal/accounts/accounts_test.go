package accounts

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carbontrail/carbontrail/backend/go-services/internal/config"
	"github.com/carbontrail/carbontrail/backend/go-services/internal/mailer"
	"github.com/carbontrail/carbontrail/backend/go-services/internal/recovery"
	"github.com/carbontrail/carbontrail/backend/go-services/internal/sessions"
	"github.com/carbontrail/carbontrail/backend/go-services/internal/tokens"
	"github.com/carbontrail/carbontrail/backend/go-services/internal/users"
)

type fixture struct {
	svc       *Service
	cfg       *config.Config
	mail      *mailer.Recorder
	blacklist *sessions.MemoryBlacklist
}

func newFixture(t *testing.T, autoConfirm bool) *fixture {
	t.Helper()
	cfg := &config.Config{}
	cfg.Server.PublicURL = "http://api.test"
	cfg.JWT.Secret = "accounts-test-secret-xxxxxxxxxxxxxxxx"
	cfg.JWT.Issuer = "carbontrail"
	cfg.JWT.AccessTokenTTL = 15 * time.Minute
	cfg.JWT.RefreshTokenTTL = time.Hour
	cfg.Auth.AutoConfirm = autoConfirm
	cfg.Auth.SiteURL = "http://site.test"
	cfg.Auth.MinPasswordLength = 6
	cfg.Auth.RecoveryTTL = time.Hour
	cfg.Auth.ConfirmationTTL = time.Hour

	rec := &mailer.Recorder{}
	bl := sessions.NewMemoryBlacklist()
	svc := NewService(cfg, users.NewMemoryUserRepository(), sessions.NewService(sessions.NewMemoryRepository()), bl, recovery.NewMemoryStore(), rec)
	return &fixture{svc: svc, cfg: cfg, mail: rec, blacklist: bl}
}

func linkToken(t *testing.T, link string) string {
	t.Helper()
	u, err := url.Parse(link)
	require.NoError(t, err)
	tok := u.Query().Get("token")
	require.NotEmpty(t, tok)
	return tok
}

func TestSignUp_Validation(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	_, err := f.svc.SignUp(ctx, "not-an-email", "secret1", nil)
	require.ErrorIs(t, err, ErrInvalidEmail)

	_, err = f.svc.SignUp(ctx, "a@b.com", "12345", nil)
	require.ErrorIs(t, err, ErrWeakPassword)

	u, err := f.svc.SignUp(ctx, " A@B.com ", "secret1", map[string]interface{}{"full_name": "Ann"})
	require.NoError(t, err)
	require.Equal(t, "a@b.com", u.Email)
	require.True(t, u.Confirmed())
	require.Empty(t, f.mail.Sent())

	_, err = f.svc.SignUp(ctx, "a@b.com", "secret2", nil)
	require.ErrorIs(t, err, ErrEmailTaken)
}

func TestSignUp_ConfirmationRequired(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	u, err := f.svc.SignUp(ctx, "a@b.com", "secret1", nil)
	require.NoError(t, err)
	require.False(t, u.Confirmed())

	_, err = f.svc.PasswordGrant(ctx, "a@b.com", "secret1")
	require.ErrorIs(t, err, ErrEmailNotConfirmed)

	msg, ok := f.mail.Last(mailer.KindConfirmation)
	require.True(t, ok)
	require.Equal(t, "a@b.com", msg.To)
	require.Contains(t, msg.Link, "http://api.test/auth/verify?token=")

	confirmed, err := f.svc.Confirm(ctx, linkToken(t, msg.Link))
	require.NoError(t, err)
	require.True(t, confirmed.Confirmed())

	_, err = f.svc.Confirm(ctx, linkToken(t, msg.Link))
	require.ErrorIs(t, err, ErrInvalidToken)

	resp, err := f.svc.PasswordGrant(ctx, "a@b.com", "secret1")
	require.NoError(t, err)
	require.Equal(t, u.ID, resp.User.ID)
}

func TestPasswordGrant(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	u, err := f.svc.SignUp(ctx, "a@b.com", "secret1", nil)
	require.NoError(t, err)

	_, err = f.svc.PasswordGrant(ctx, "a@b.com", "wrong-pass")
	require.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = f.svc.PasswordGrant(ctx, "nobody@b.com", "secret1")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	resp, err := f.svc.PasswordGrant(ctx, "A@b.com", "secret1")
	require.NoError(t, err)
	require.Equal(t, "bearer", resp.TokenType)
	require.NotEmpty(t, resp.RefreshToken)
	require.InDelta(t, 15*60, resp.ExpiresIn, 2)

	claims, err := tokens.ParseAccessToken(f.cfg, resp.AccessToken)
	require.NoError(t, err)
	require.Equal(t, u.ID, claims.Subject)
}

func TestRefreshGrant_Rotates(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	_, err := f.svc.SignUp(ctx, "a@b.com", "secret1", nil)
	require.NoError(t, err)
	first, err := f.svc.PasswordGrant(ctx, "a@b.com", "secret1")
	require.NoError(t, err)

	second, err := f.svc.RefreshGrant(ctx, first.RefreshToken)
	require.NoError(t, err)
	require.NotEqual(t, first.RefreshToken, second.RefreshToken)
	require.Equal(t, first.User.ID, second.User.ID)

	_, err = f.svc.RefreshGrant(ctx, first.RefreshToken)
	require.ErrorIs(t, err, ErrInvalidToken)
	_, err = f.svc.RefreshGrant(ctx, "")
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestLogout_RevokesTokens(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	_, err := f.svc.SignUp(ctx, "a@b.com", "secret1", nil)
	require.NoError(t, err)
	resp, err := f.svc.PasswordGrant(ctx, "a@b.com", "secret1")
	require.NoError(t, err)

	require.NoError(t, f.svc.Logout(ctx, resp.User.ID, resp.AccessToken, resp.RefreshToken))

	revoked, err := f.blacklist.Contains(ctx, resp.AccessToken)
	require.NoError(t, err)
	require.True(t, revoked)

	_, err = f.svc.RefreshGrant(ctx, resp.RefreshToken)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestLogout_KeepsOtherUsersRefresh(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	_, err := f.svc.SignUp(ctx, "a@b.com", "secret1", nil)
	require.NoError(t, err)
	resp, err := f.svc.PasswordGrant(ctx, "a@b.com", "secret1")
	require.NoError(t, err)

	require.NoError(t, f.svc.Logout(ctx, "someone-else", "opaque", resp.RefreshToken))
	_, err = f.svc.RefreshGrant(ctx, resp.RefreshToken)
	require.NoError(t, err)
}

func TestRecoverAndReset(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	_, err := f.svc.SignUp(ctx, "a@b.com", "secret1", nil)
	require.NoError(t, err)

	require.ErrorIs(t, f.svc.Recover(ctx, "bad", ""), ErrInvalidEmail)
	require.NoError(t, f.svc.Recover(ctx, "unknown@b.com", ""))
	require.Empty(t, f.mail.Sent())

	require.NoError(t, f.svc.Recover(ctx, "a@b.com", "http://evil.test/steal"))
	msg, ok := f.mail.Last(mailer.KindRecovery)
	require.True(t, ok)
	assert.Contains(t, msg.Link, "http://site.test/reset-password?token=")

	before, err := f.svc.PasswordGrant(ctx, "a@b.com", "secret1")
	require.NoError(t, err)

	require.NoError(t, f.svc.Recover(ctx, "a@b.com", "http://site.test/reset-password"))
	msg, _ = f.mail.Last(mailer.KindRecovery)
	tok := linkToken(t, msg.Link)

	_, err = f.svc.ResetPassword(ctx, tok, "short")
	require.ErrorIs(t, err, ErrWeakPassword)

	_, err = f.svc.ResetPassword(ctx, tok, "brand-new")
	require.NoError(t, err)
	_, err = f.svc.ResetPassword(ctx, tok, "brand-new")
	require.ErrorIs(t, err, ErrInvalidToken)

	// a reset signs out every existing session
	_, err = f.svc.RefreshGrant(ctx, before.RefreshToken)
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = f.svc.PasswordGrant(ctx, "a@b.com", "secret1")
	require.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = f.svc.PasswordGrant(ctx, "a@b.com", "brand-new")
	require.NoError(t, err)
}

func TestUpdateUser(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	u, err := f.svc.SignUp(ctx, "a@b.com", "secret1", map[string]interface{}{"full_name": "Ann"})
	require.NoError(t, err)

	short := "x"
	_, err = f.svc.UpdateUser(ctx, u.ID, UserUpdate{Password: &short})
	require.ErrorIs(t, err, ErrWeakPassword)

	_, err = f.svc.UpdateUser(ctx, "missing", UserUpdate{Data: map[string]interface{}{"a": 1}})
	require.ErrorIs(t, err, ErrUserNotFound)

	pw := "changed1"
	updated, err := f.svc.UpdateUser(ctx, u.ID, UserUpdate{Data: map[string]interface{}{"location": "Oslo"}, Password: &pw})
	require.NoError(t, err)
	require.Equal(t, "Ann", updated.MetadataString("full_name"))
	require.Equal(t, "Oslo", updated.MetadataString("location"))

	_, err = f.svc.PasswordGrant(ctx, "a@b.com", "changed1")
	require.NoError(t, err)
}

func TestResolveUser(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	u, err := f.svc.SignUp(ctx, "a@b.com", "secret1", nil)
	require.NoError(t, err)

	got, err := f.svc.ResolveUser(ctx, map[string]interface{}{"sub": u.ID, "iss": "carbontrail"})
	require.NoError(t, err)
	require.Equal(t, u.ID, got.ID)

	ext, err := f.svc.ResolveUser(ctx, map[string]interface{}{"sub": "kc-1", "iss": "https://kc.test/realms/x", "email": "k@b.com", "name": "Kay"})
	require.NoError(t, err)
	require.NotEqual(t, "kc-1", ext.ID)
	again, err := f.svc.ResolveUser(ctx, map[string]interface{}{"sub": "kc-1", "iss": "https://kc.test/realms/x", "email": "k@b.com"})
	require.NoError(t, err)
	require.Equal(t, ext.ID, again.ID)

	_, err = f.svc.ResolveUser(ctx, map[string]interface{}{})
	require.ErrorIs(t, err, ErrInvalidToken)
}
