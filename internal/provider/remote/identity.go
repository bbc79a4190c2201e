package remote

import (
	"context"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/carbontrail/carbontrail/backend/go-services/internal/provider"
	"github.com/carbontrail/carbontrail/backend/go-services/pkg/logger"
)

// GetSession returns the stored session, refreshing it first when the access
// token is about to expire. A rejected refresh signs the user out.
func (c *Client) GetSession(ctx context.Context) (*provider.Session, error) {
	s := c.storedSession()
	if s == nil {
		return nil, nil
	}
	if s.AccessToken != "" && !s.ExpiresWithin(refreshMargin) {
		return s, nil
	}
	if s.RefreshToken == "" {
		c.setSession(nil)
		c.emit(provider.EventSignedOut, nil)
		return nil, nil
	}

	// Refresh tokens are single use, so concurrent callers share one refresh.
	v, err, _ := c.refreshes.Do(s.RefreshToken, func() (interface{}, error) {
		cur := c.storedSession()
		if cur == nil {
			return nil, nil
		}
		if cur.RefreshToken != s.RefreshToken && !cur.ExpiresWithin(refreshMargin) {
			return cur, nil
		}
		refreshed, err := c.refresh(ctx, s)
		if err != nil {
			if pe, ok := provider.AsError(err); ok && (pe.Status == http.StatusBadRequest || pe.Status == http.StatusUnauthorized) {
				logger.Infof("remote: refresh rejected (%s), signing out", pe.Message)
				c.setSession(nil)
				c.emit(provider.EventSignedOut, nil)
				return nil, nil
			}
			return nil, err
		}
		c.setSession(refreshed)
		c.emit(provider.EventTokenRefreshed, refreshed)
		return refreshed, nil
	})
	if err != nil {
		return nil, err
	}
	refreshed, _ := v.(*provider.Session)
	return refreshed, nil
}

func (c *Client) refresh(ctx context.Context, s *provider.Session) (*provider.Session, error) {
	src := c.oauth.TokenSource(c.oauthContext(ctx), &oauth2.Token{RefreshToken: s.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, tokenError(err)
	}
	return sessionFromToken(tok, s.User)
}

type signUpRequest struct {
	Email    string                 `json:"email"`
	Password string                 `json:"password"`
	Data     map[string]interface{} `json:"data,omitempty"`
}

type userResponse struct {
	User *provider.User `json:"user"`
}

func (c *Client) SignUp(ctx context.Context, email, password string, metadata map[string]interface{}) (*provider.User, error) {
	var out userResponse
	if _, err := c.do(ctx, http.MethodPost, "/auth/signup", signUpRequest{Email: email, Password: password, Data: metadata}, &out, ""); err != nil {
		return nil, err
	}
	return out.User, nil
}

func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*provider.Session, error) {
	tok, err := c.oauth.PasswordCredentialsToken(c.oauthContext(ctx), email, password)
	if err != nil {
		return nil, tokenError(err)
	}
	s, err := sessionFromToken(tok, nil)
	if err != nil {
		return nil, err
	}
	if !s.Valid() {
		return nil, &provider.Error{Status: http.StatusBadGateway, Message: "token response did not include a user"}
	}
	c.setSession(s)
	c.emit(provider.EventSignedIn, s)
	return s, nil
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token,omitempty"`
}

// SignOut always drops the local session and tells listeners, then reports
// any error the service returned for revoking it.
func (c *Client) SignOut(ctx context.Context) error {
	s := c.storedSession()
	var err error
	if s != nil && s.AccessToken != "" {
		_, err = c.do(ctx, http.MethodPost, "/auth/logout", logoutRequest{RefreshToken: s.RefreshToken}, nil, s.AccessToken)
		if provider.IsUnauthorized(err) {
			err = nil
		}
	}
	c.setSession(nil)
	c.emit(provider.EventSignedOut, nil)
	return err
}

type recoverRequest struct {
	Email      string `json:"email"`
	RedirectTo string `json:"redirect_to,omitempty"`
}

func (c *Client) SendPasswordReset(ctx context.Context, email, redirectTo string) error {
	_, err := c.do(ctx, http.MethodPost, "/auth/recover", recoverRequest{Email: email, RedirectTo: redirectTo}, nil, "")
	return err
}

func (c *Client) UpdateUser(ctx context.Context, attrs provider.UserAttributes) (*provider.User, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	var u provider.User
	if _, err := c.do(ctx, http.MethodPut, "/auth/user", attrs, &u, token); err != nil {
		return nil, err
	}

	s := c.storedSession()
	if s == nil {
		return &u, nil
	}
	updated := *s
	updated.User = &u
	c.setSession(&updated)
	c.emit(provider.EventUserUpdated, &updated)
	return &u, nil
}

// CurrentUser fetches the user behind the stored session from the service.
func (c *Client) CurrentUser(ctx context.Context) (*provider.User, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	var u provider.User
	if _, err := c.do(ctx, http.MethodGet, "/auth/user", nil, &u, token); err != nil {
		return nil, err
	}
	return &u, nil
}
