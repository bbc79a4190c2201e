// Package auth exposes the sign-up, sign-in, sign-out, password reset and
// credential update actions of the account flow.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/carbontrail/carbontrail/backend/go-services/internal/apperrors"
	"github.com/carbontrail/carbontrail/backend/go-services/internal/provider"
	"github.com/carbontrail/carbontrail/backend/go-services/pkg/logger"
	"github.com/carbontrail/carbontrail/backend/go-services/pkg/metrics"
)

const (
	DefaultMinPasswordLength = 6
	ResetPasswordPath        = "/reset-password"
)

// User-facing messages.
const (
	MsgInvalidEmail      = "Please enter a valid email address"
	MsgPasswordTooShort  = "Password must be at least 6 characters long"
	MsgPasswordMismatch  = "Passwords do not match"
	MsgNotSignedIn       = "You must be signed in to do that"
	MsgTimeout           = "The request timed out. Please try again."
	MsgProviderReachable = "Could not reach the authentication service. Please try again."
)

// SessionSource reports the current session; session.Store satisfies it.
type SessionSource interface {
	CurrentSession() *provider.Session
}

type Options struct {
	// SiteURL is the public origin of the site; reset links point at
	// SiteURL + /reset-password.
	SiteURL string
	// Timeout bounds each provider call. Zero means no bound.
	Timeout           time.Duration
	MinPasswordLength int
}

// SignUpHints end up in the new user's metadata.
type SignUpHints struct {
	FullName  string
	AvatarURL string
	Extra     map[string]interface{}
}

// CredentialUpdate changes metadata and/or the password of the signed-in user.
type CredentialUpdate struct {
	Metadata        map[string]interface{}
	Password        string
	PasswordConfirm string
}

// Gateway runs auth actions against a provider.Identity. Every returned
// error is an *apperrors.Error.
type Gateway struct {
	idp      provider.Identity
	sessions SessionSource
	opts     Options
	validate *validator.Validate
	inFlight atomic.Int32
}

func NewGateway(idp provider.Identity, sessions SessionSource, opts Options) *Gateway {
	if opts.MinPasswordLength <= 0 {
		opts.MinPasswordLength = DefaultMinPasswordLength
	}
	opts.SiteURL = strings.TrimRight(opts.SiteURL, "/")
	return &Gateway{
		idp:      idp,
		sessions: sessions,
		opts:     opts,
		validate: validator.New(),
	}
}

// InFlight reports whether any action is running.
func (g *Gateway) InFlight() bool {
	return g.inFlight.Load() > 0
}

// ValidateEmail checks an address before it is sent anywhere.
func (g *Gateway) ValidateEmail(email string) error {
	if err := g.validate.Var(strings.TrimSpace(email), "required,email"); err != nil {
		return apperrors.Wrap(apperrors.KindValidation, MsgInvalidEmail, err)
	}
	return nil
}

// ValidateCredentials checks an email/password pair.
func (g *Gateway) ValidateCredentials(email, password string) error {
	if err := g.ValidateEmail(email); err != nil {
		return err
	}
	return g.validatePassword(password)
}

func (g *Gateway) validatePassword(password string) error {
	if len([]rune(password)) < g.opts.MinPasswordLength {
		msg := MsgPasswordTooShort
		if g.opts.MinPasswordLength != DefaultMinPasswordLength {
			msg = fmt.Sprintf("Password must be at least %d characters long", g.opts.MinPasswordLength)
		}
		return apperrors.New(apperrors.KindValidation, msg)
	}
	return nil
}

// SignUp creates an account. It never signs the user in; the provider may
// require email confirmation first.
func (g *Gateway) SignUp(ctx context.Context, email, password string, hints SignUpHints) (user *provider.User, err error) {
	done := g.begin("signup")
	defer func() { done(err) }()

	email = strings.TrimSpace(email)
	if err := g.ValidateCredentials(email, password); err != nil {
		return nil, err
	}

	metadata := make(map[string]interface{}, len(hints.Extra)+2)
	for k, v := range hints.Extra {
		metadata[k] = v
	}
	metadata["full_name"] = strings.TrimSpace(hints.FullName)
	metadata["avatar_url"] = hints.AvatarURL

	ctx, cancel := g.withTimeout(ctx)
	defer cancel()
	u, perr := g.idp.SignUp(ctx, email, password, metadata)
	if perr != nil {
		return nil, mapError(perr)
	}
	return u, nil
}

// SignIn authenticates with email and password. On failure the previous
// session, if any, is left alone.
func (g *Gateway) SignIn(ctx context.Context, email, password string) (sess *provider.Session, err error) {
	done := g.begin("signin")
	defer func() { done(err) }()

	email = strings.TrimSpace(email)
	if err := g.ValidateEmail(email); err != nil {
		return nil, err
	}
	if password == "" {
		return nil, apperrors.New(apperrors.KindValidation, "Password is required")
	}

	ctx, cancel := g.withTimeout(ctx)
	defer cancel()
	s, perr := g.idp.SignInWithPassword(ctx, email, password)
	if perr != nil {
		return nil, mapSignInError(perr)
	}
	return s, nil
}

// SignOut ends the session. Signing out while signed out succeeds.
func (g *Gateway) SignOut(ctx context.Context) (err error) {
	done := g.begin("signout")
	defer func() { done(err) }()

	ctx, cancel := g.withTimeout(ctx)
	defer cancel()
	if perr := g.idp.SignOut(ctx); perr != nil {
		if errors.Is(perr, provider.ErrNoSession) || provider.IsUnauthorized(perr) {
			return nil
		}
		return mapError(perr)
	}
	return nil
}

// ResetPassword asks the provider to mail a reset link. The result does not
// reveal whether the address has an account.
func (g *Gateway) ResetPassword(ctx context.Context, email string) (err error) {
	done := g.begin("reset_password")
	defer func() { done(err) }()

	email = strings.TrimSpace(email)
	if err := g.ValidateEmail(email); err != nil {
		return err
	}

	ctx, cancel := g.withTimeout(ctx)
	defer cancel()
	if perr := g.idp.SendPasswordReset(ctx, email, g.opts.SiteURL+ResetPasswordPath); perr != nil {
		return mapError(perr)
	}
	return nil
}

// UpdateCredentials changes the signed-in user's metadata and/or password.
func (g *Gateway) UpdateCredentials(ctx context.Context, upd CredentialUpdate) (user *provider.User, err error) {
	done := g.begin("update_user")
	defer func() { done(err) }()

	if g.sessions != nil && g.sessions.CurrentSession() == nil {
		return nil, apperrors.New(apperrors.KindUnauthenticated, MsgNotSignedIn)
	}
	if upd.Password != "" || upd.PasswordConfirm != "" {
		if upd.Password != upd.PasswordConfirm {
			return nil, apperrors.New(apperrors.KindValidation, MsgPasswordMismatch)
		}
		if err := g.validatePassword(upd.Password); err != nil {
			return nil, err
		}
	}
	if upd.Password == "" && len(upd.Metadata) == 0 {
		return nil, apperrors.New(apperrors.KindValidation, "Nothing to update")
	}

	ctx, cancel := g.withTimeout(ctx)
	defer cancel()
	u, perr := g.idp.UpdateUser(ctx, provider.UserAttributes{Metadata: upd.Metadata, Password: upd.Password})
	if perr != nil {
		if errors.Is(perr, provider.ErrNoSession) || provider.IsUnauthorized(perr) {
			return nil, apperrors.Wrap(apperrors.KindUnauthenticated, MsgNotSignedIn, perr)
		}
		return nil, mapError(perr)
	}
	return u, nil
}

// begin marks an action in flight and returns the function that ends it.
func (g *Gateway) begin(op string) func(error) {
	g.inFlight.Add(1)
	return func(err error) {
		g.inFlight.Add(-1)
		metrics.AuthOperations.WithLabelValues(op, metrics.Outcome(err)).Inc()
		if err != nil {
			logger.Debugf("auth: %s failed: %v", op, err)
		}
	}
}

func (g *Gateway) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.opts.Timeout > 0 {
		return context.WithTimeout(ctx, g.opts.Timeout)
	}
	return context.WithCancel(ctx)
}

func mapSignInError(err error) *apperrors.Error {
	if pe, ok := provider.AsError(err); ok {
		switch {
		case pe.Code == provider.CodeInvalidGrant, pe.Code == provider.CodeEmailNotConfirmed,
			pe.Status == http.StatusBadRequest, pe.Status == http.StatusUnauthorized:
			return apperrors.Wrap(apperrors.KindInvalidCredentials, providerMessage(pe, "Invalid login credentials"), err)
		}
	}
	return mapError(err)
}

// mapError converts a provider failure into the account flow's taxonomy.
func mapError(err error) *apperrors.Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.Wrap(apperrors.KindTimeout, MsgTimeout, err)
	}
	pe, ok := provider.AsError(err)
	if !ok {
		return apperrors.Wrap(apperrors.KindNetworkOrProvider, MsgProviderReachable, err)
	}
	switch {
	case pe.Status == http.StatusUnauthorized:
		return apperrors.Wrap(apperrors.KindUnauthenticated, providerMessage(pe, MsgNotSignedIn), err)
	case pe.Status == http.StatusNotFound:
		return apperrors.Wrap(apperrors.KindNotFound, providerMessage(pe, "Not found"), err)
	case pe.Code == provider.CodeWeakPassword, pe.Code == provider.CodeValidation,
		pe.Status == http.StatusUnprocessableEntity:
		return apperrors.Wrap(apperrors.KindValidation, providerMessage(pe, apperrors.FallbackMessage), err)
	default:
		return apperrors.Wrap(apperrors.KindNetworkOrProvider, providerMessage(pe, apperrors.FallbackMessage), err)
	}
}

func providerMessage(pe *provider.Error, fallback string) string {
	if pe.Message != "" {
		return pe.Message
	}
	return fallback
}
