// Package remote talks to the carbontrail provider service over HTTP. It
// implements provider.Identity, provider.RecordStore and
// provider.ObjectStorage.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/carbontrail/carbontrail/backend/go-services/internal/provider"
	"github.com/carbontrail/carbontrail/backend/go-services/pkg/logger"
)

// ClientID identifies carbonctl to the token endpoint.
const ClientID = "carbonctl"

// refreshMargin is how close to expiry a token may get before GetSession
// refreshes it.
const refreshMargin = 30 * time.Second

type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	Persister  Persister
}

type Client struct {
	baseURL   string
	http      *http.Client
	oauth     *oauth2.Config
	persister Persister

	mu        sync.Mutex
	session   *provider.Session
	loaded    bool
	listeners map[int]provider.Listener
	nextID    int

	refreshes singleflight.Group
}

var (
	_ provider.Identity      = (*Client)(nil)
	_ provider.RecordStore   = (*Client)(nil)
	_ provider.ObjectStorage = (*Client)(nil)
)

func New(opts Options) *Client {
	base := strings.TrimRight(opts.BaseURL, "/")
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	p := opts.Persister
	if p == nil {
		p = &MemoryPersister{}
	}
	return &Client{
		baseURL: base,
		http:    hc,
		oauth: &oauth2.Config{
			ClientID: ClientID,
			Endpoint: oauth2.Endpoint{
				TokenURL:  base + "/auth/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		persister: p,
		listeners: make(map[int]provider.Listener),
	}
}

// BaseURL returns the provider origin the client talks to.
func (c *Client) BaseURL() string { return c.baseURL }

func (c *Client) OnAuthStateChange(fn provider.Listener) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.listeners, id)
			c.mu.Unlock()
		})
	}
}

func (c *Client) emit(event provider.Event, s *provider.Session) {
	c.mu.Lock()
	ids := make([]int, 0, len(c.listeners))
	for id := range c.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]provider.Listener, 0, len(ids))
	for _, id := range ids {
		fns = append(fns, c.listeners[id])
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(event, s)
	}
}

// setSession replaces the in-memory and persisted session.
func (c *Client) setSession(s *provider.Session) {
	c.mu.Lock()
	c.session = s
	c.loaded = true
	c.mu.Unlock()

	var err error
	if s == nil {
		err = c.persister.Clear()
	} else {
		err = c.persister.Save(s)
	}
	if err != nil {
		logger.Warnf("remote: persisting session failed: %v", err)
	}
}

// storedSession returns the in-memory session, loading it from the
// persister on first use.
func (c *Client) storedSession() *provider.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.loaded {
		s, err := c.persister.Load()
		if err != nil {
			logger.Warnf("remote: loading persisted session failed: %v", err)
		}
		if s.Valid() || (s != nil && s.RefreshToken != "") {
			c.session = s
		}
		c.loaded = true
	}
	return c.session
}

// oauthContext makes the oauth2 package use our HTTP client.
func (c *Client) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.http)
}

// sessionFromToken builds a Session from a token response. The service puts
// the user in the "user" field next to the tokens; fallback is used when a
// refresh response omits it.
func sessionFromToken(tok *oauth2.Token, fallback *provider.User) (*provider.Session, error) {
	s := &provider.Session{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.Type(),
		ExpiresAt:    tok.Expiry,
		User:         fallback,
	}
	if raw := tok.Extra("user"); raw != nil {
		b, err := json.Marshal(raw)
		if err != nil {
			return nil, err
		}
		var u provider.User
		if err := json.Unmarshal(b, &u); err != nil {
			return nil, fmt.Errorf("decoding user: %w", err)
		}
		s.User = &u
	}
	return s, nil
}

// do sends a JSON request and decodes a JSON response into out (if non-nil).
func (c *Client) do(ctx context.Context, method, path string, in, out interface{}, token string) (int, error) {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return 0, err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return c.send(req, out)
}

func (c *Client) send(req *http.Request, out interface{}) (int, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, decodeError(resp)
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decoding %s %s response: %w", req.Method, req.URL.Path, err)
		}
	}
	return resp.StatusCode, nil
}

// accessToken returns a valid access token for authenticated calls.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	s, err := c.GetSession(ctx)
	if err != nil {
		return "", err
	}
	if s == nil {
		return "", provider.ErrNoSession
	}
	return s.AccessToken, nil
}
