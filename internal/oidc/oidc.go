// Package oidc accepts ID tokens from an external identity provider
// (Keycloak in our deployments) next to the tokens the service mints itself.
package oidc

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"

	"github.com/carbontrail/carbontrail/backend/go-services/pkg/middleware"
)

// ErrEmailNotVerified is returned when verified email is required and the
// token says otherwise.
var ErrEmailNotVerified = errors.New("oidc: email not verified")

type Options struct {
	Issuer   string
	ClientID string

	RequireVerifiedEmail bool

	// Now overrides the clock used for expiry checks.
	Now func() time.Time
}

// Verifier checks signature, issuer, audience and expiry of external ID tokens.
type Verifier struct {
	ids           *gooidc.IDTokenVerifier
	requireVerify bool
}

// KeycloakIssuer builds the issuer URL of a Keycloak realm.
func KeycloakIssuer(baseURL, realm string) string {
	return strings.TrimRight(baseURL, "/") + "/realms/" + realm
}

// Discover fetches the provider's discovery document and signing keys.
func Discover(ctx context.Context, opts Options) (*Verifier, error) {
	p, err := gooidc.NewProvider(ctx, opts.Issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc discovery for %s: %w", opts.Issuer, err)
	}
	return &Verifier{ids: p.Verifier(idConfig(opts)), requireVerify: opts.RequireVerifiedEmail}, nil
}

// NewStaticVerifier verifies against a fixed key set instead of discovery.
func NewStaticVerifier(keys gooidc.KeySet, opts Options) *Verifier {
	return &Verifier{ids: gooidc.NewVerifier(opts.Issuer, keys, idConfig(opts)), requireVerify: opts.RequireVerifiedEmail}
}

func idConfig(opts Options) *gooidc.Config {
	return &gooidc.Config{ClientID: opts.ClientID, Now: opts.Now}
}

func (v *Verifier) Verify(ctx context.Context, raw string) (middleware.Token, error) {
	tok, err := v.ids.Verify(ctx, raw)
	if err != nil {
		return nil, err
	}
	if v.requireVerify {
		var c struct {
			EmailVerified *bool `json:"email_verified"`
		}
		if err := tok.Claims(&c); err != nil {
			return nil, err
		}
		if c.EmailVerified == nil || !*c.EmailVerified {
			return nil, ErrEmailNotVerified
		}
	}
	return tok, nil
}
