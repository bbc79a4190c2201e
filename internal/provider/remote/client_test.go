package remote

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"github.com/carbontrail/carbontrail/backend/go-services/internal/models"
	"github.com/carbontrail/carbontrail/backend/go-services/internal/provider"
)

// fakeService is a minimal stand-in for the provider service.
type fakeService struct {
	mu           sync.Mutex
	expiresIn    int
	refreshCalls int
	logoutCalls  int
	rejectRefesh bool
	refreshDelay time.Duration
	usedRefresh  map[string]bool
	profiles     map[string]models.Profile
	uploads      map[string]string
	lastUpsert   string
}

func newFakeService() *fakeService {
	return &fakeService{expiresIn: 3600, profiles: map[string]models.Profile{}, uploads: map[string]string{}, usedRefresh: map[string]bool{}}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (f *fakeService) handler() http.Handler {
	mux := http.NewServeMux()
	user := map[string]interface{}{"id": "u1", "email": "a@b.com", "user_metadata": map[string]interface{}{"full_name": "Ann"}}

	mux.HandleFunc("/auth/token", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		f.mu.Lock()
		defer f.mu.Unlock()
		switch r.PostForm.Get("grant_type") {
		case "password":
			if r.PostForm.Get("username") != "a@b.com" || r.PostForm.Get("password") != "secret1" {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant", "error_description": "Invalid login credentials"})
				return
			}
		case "refresh_token":
			f.refreshCalls++
			time.Sleep(f.refreshDelay)
			token := r.PostForm.Get("refresh_token")
			if f.rejectRefesh || f.usedRefresh[token] {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant", "error_description": "Invalid Refresh Token"})
				return
			}
			f.usedRefresh[token] = true
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"access_token":  "access-" + r.PostForm.Get("grant_type"),
			"refresh_token": "refresh-1",
			"token_type":    "bearer",
			"expires_in":    f.expiresIn,
			"user":          user,
		})
	})
	mux.HandleFunc("/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.logoutCalls++
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/auth/signup", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"code": "email_taken", "message": "User already registered"})
	})
	mux.HandleFunc("/rest/profiles/", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"code": "unauthorized", "message": "missing token"})
			return
		}
		id := strings.TrimPrefix(r.URL.Path, "/rest/profiles/")
		f.mu.Lock()
		defer f.mu.Unlock()
		p, ok := f.profiles[id]
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"code": "no_rows", "message": "profile not found"})
			return
		}
		writeJSON(w, http.StatusOK, p)
	})
	mux.HandleFunc("/rest/profiles", func(w http.ResponseWriter, r *http.Request) {
		var in models.Profile
		_ = json.NewDecoder(r.Body).Decode(&in)
		f.mu.Lock()
		defer f.mu.Unlock()
		if p, ok := f.profiles[in.ID]; ok {
			writeJSON(w, http.StatusOK, p)
			return
		}
		f.profiles[in.ID] = in
		writeJSON(w, http.StatusCreated, in)
	})
	mux.HandleFunc("/storage/avatars/", func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.uploads[strings.TrimPrefix(r.URL.Path, "/storage/avatars/")] = string(b)
		f.lastUpsert = r.Header.Get("x-upsert")
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]string{"Key": "avatars/" + r.URL.Path})
	})
	return mux
}

func newClient(t *testing.T, f *fakeService) (*Client, *MemoryPersister) {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)
	p := &MemoryPersister{}
	return New(Options{BaseURL: srv.URL + "/", HTTPClient: srv.Client(), Persister: p}), p
}

func TestSignInPersistsAndEmits(t *testing.T) {
	f := newFakeService()
	c, p := newClient(t, f)

	var events []provider.Event
	unsub := c.OnAuthStateChange(func(e provider.Event, _ *provider.Session) { events = append(events, e) })
	defer unsub()

	s, err := c.SignInWithPassword(context.Background(), "a@b.com", "secret1")
	require.NoError(t, err)
	require.Equal(t, "access-password", s.AccessToken)
	require.Equal(t, "u1", s.User.ID)
	require.Equal(t, "Ann", s.User.MetadataString("full_name"))
	require.WithinDuration(t, time.Now().Add(time.Hour), s.ExpiresAt, time.Minute)

	stored, err := p.Load()
	require.NoError(t, err)
	require.Equal(t, s.AccessToken, stored.AccessToken)
	require.Equal(t, []provider.Event{provider.EventSignedIn}, events)
}

func TestSignInRejectedMapsProviderError(t *testing.T) {
	c, p := newClient(t, newFakeService())
	_, err := c.SignInWithPassword(context.Background(), "a@b.com", "wrong")
	pe, ok := provider.AsError(err)
	require.True(t, ok)
	require.Equal(t, http.StatusBadRequest, pe.Status)
	require.Equal(t, provider.CodeInvalidGrant, pe.Code)
	require.Equal(t, "Invalid login credentials", pe.Message)

	s, _ := p.Load()
	require.Nil(t, s)
}

func TestGetSessionRefreshesNearExpiry(t *testing.T) {
	f := newFakeService()
	c, p := newClient(t, f)
	require.NoError(t, p.Save(&provider.Session{
		AccessToken:  "stale",
		RefreshToken: "refresh-0",
		ExpiresAt:    time.Now().Add(10 * time.Second),
		User:         &provider.User{ID: "u1", Email: "a@b.com"},
	}))

	var events []provider.Event
	c.OnAuthStateChange(func(e provider.Event, _ *provider.Session) { events = append(events, e) })

	s, err := c.GetSession(context.Background())
	require.NoError(t, err)
	require.Equal(t, "access-refresh_token", s.AccessToken)
	require.Equal(t, 1, f.refreshCalls)
	require.Equal(t, []provider.Event{provider.EventTokenRefreshed}, events)

	again, err := c.GetSession(context.Background())
	require.NoError(t, err)
	require.Equal(t, s.AccessToken, again.AccessToken)
	require.Equal(t, 1, f.refreshCalls)
}

func TestConcurrentGetSessionRefreshesOnce(t *testing.T) {
	f := newFakeService()
	f.refreshDelay = 50 * time.Millisecond
	c, p := newClient(t, f)
	require.NoError(t, p.Save(&provider.Session{
		AccessToken:  "stale",
		RefreshToken: "refresh-0",
		ExpiresAt:    time.Now().Add(10 * time.Second),
		User:         &provider.User{ID: "u1", Email: "a@b.com"},
	}))

	var (
		mu     sync.Mutex
		events []provider.Event
	)
	c.OnAuthStateChange(func(e provider.Event, _ *provider.Session) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	})

	var wg sync.WaitGroup
	sessions := make([]*provider.Session, 4)
	errs := make([]error, len(sessions))
	for i := range sessions {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sessions[i], errs[i] = c.GetSession(context.Background())
		}(i)
	}
	wg.Wait()

	for i, s := range sessions {
		require.NoError(t, errs[i])
		require.NotNil(t, s, "no caller is signed out")
		require.Equal(t, "refresh-1", s.RefreshToken)
	}
	require.Equal(t, 1, f.refreshCalls)
	require.Equal(t, []provider.Event{provider.EventTokenRefreshed}, events)
	stored, _ := p.Load()
	require.NotNil(t, stored)
}

func TestGetSessionRejectedRefreshSignsOut(t *testing.T) {
	f := newFakeService()
	f.rejectRefesh = true
	c, p := newClient(t, f)
	require.NoError(t, p.Save(&provider.Session{AccessToken: "stale", RefreshToken: "gone", ExpiresAt: time.Now().Add(-time.Minute), User: &provider.User{ID: "u1"}}))

	var events []provider.Event
	c.OnAuthStateChange(func(e provider.Event, _ *provider.Session) { events = append(events, e) })

	s, err := c.GetSession(context.Background())
	require.NoError(t, err)
	require.Nil(t, s)
	require.Equal(t, []provider.Event{provider.EventSignedOut}, events)
	stored, _ := p.Load()
	require.Nil(t, stored)
}

func TestSignOutClearsLocalState(t *testing.T) {
	f := newFakeService()
	c, p := newClient(t, f)
	_, err := c.SignInWithPassword(context.Background(), "a@b.com", "secret1")
	require.NoError(t, err)

	require.NoError(t, c.SignOut(context.Background()))
	require.Equal(t, 1, f.logoutCalls)
	s, err := c.GetSession(context.Background())
	require.NoError(t, err)
	require.Nil(t, s)
	stored, _ := p.Load()
	require.Nil(t, stored)

	require.NoError(t, c.SignOut(context.Background()))
	require.Equal(t, 1, f.logoutCalls)
}

func TestSignUpDecodesCodeMessageBody(t *testing.T) {
	c, _ := newClient(t, newFakeService())
	_, err := c.SignUp(context.Background(), "a@b.com", "secret1", nil)
	pe, ok := provider.AsError(err)
	require.True(t, ok)
	require.Equal(t, http.StatusUnprocessableEntity, pe.Status)
	require.Equal(t, provider.CodeEmailTaken, pe.Code)
}

func TestProfilesRoundTrip(t *testing.T) {
	f := newFakeService()
	c, _ := newClient(t, f)
	ctx := context.Background()

	_, err := c.SelectProfile(ctx, "u1")
	require.ErrorIs(t, err, provider.ErrNoSession)

	_, err = c.SignInWithPassword(ctx, "a@b.com", "secret1")
	require.NoError(t, err)

	_, err = c.SelectProfile(ctx, "u1")
	require.ErrorIs(t, err, provider.ErrNoRows)

	p, created, err := c.InsertProfileIfAbsent(ctx, &models.Profile{ID: "u1", Username: "a"})
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, "a", p.Username)

	_, created, err = c.InsertProfileIfAbsent(ctx, &models.Profile{ID: "u1", Username: "other"})
	require.NoError(t, err)
	require.False(t, created)

	got, err := c.SelectProfile(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, "a", got.Username)
}

func TestUploadSendsUpsertHeader(t *testing.T) {
	f := newFakeService()
	c, _ := newClient(t, f)
	ctx := context.Background()
	_, err := c.SignInWithPassword(ctx, "a@b.com", "secret1")
	require.NoError(t, err)

	require.NoError(t, c.Upload(ctx, "u1/x.png", strings.NewReader("img"), 3, "image/png", provider.UploadOptions{Upsert: true}))
	require.Equal(t, "img", f.uploads["u1/x.png"])
	require.Equal(t, "true", f.lastUpsert)
	require.Equal(t, c.BaseURL()+"/storage/public/avatars/u1/x.png", c.PublicURL("u1/x.png"))
}

func TestKeyringPersister(t *testing.T) {
	keyring.MockInit()
	k := NewKeyringPersister("", "https://API.carbontrail.example/")

	s, err := k.Load()
	require.NoError(t, err)
	require.Nil(t, s)

	require.NoError(t, k.Save(&provider.Session{AccessToken: "a", User: &provider.User{ID: "u1"}}))
	other := NewKeyringPersister(DefaultKeyringService, "https://api.carbontrail.example")
	s, err = other.Load()
	require.NoError(t, err)
	require.Equal(t, "a", s.AccessToken)

	require.NoError(t, k.Clear())
	require.NoError(t, k.Clear())
	s, err = other.Load()
	require.NoError(t, err)
	require.Nil(t, s)
}
