package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/carbontrail/carbontrail/backend/go-services/internal/accounts"
	"github.com/carbontrail/carbontrail/backend/go-services/internal/config"
	"github.com/carbontrail/carbontrail/backend/go-services/internal/mailer"
	"github.com/carbontrail/carbontrail/backend/go-services/internal/profilestore"
	"github.com/carbontrail/carbontrail/backend/go-services/internal/recovery"
	"github.com/carbontrail/carbontrail/backend/go-services/internal/sessions"
	"github.com/carbontrail/carbontrail/backend/go-services/internal/storage"
	"github.com/carbontrail/carbontrail/backend/go-services/internal/tokens"
	"github.com/carbontrail/carbontrail/backend/go-services/internal/users"
	"github.com/carbontrail/carbontrail/backend/go-services/pkg/middleware"
)

type testServer struct {
	t        *testing.T
	cfg      *config.Config
	engine   *gin.Engine
	mail     *mailer.Recorder
	objects  *storage.MemoryStore
	profiles *profilestore.MemoryStore
}

func testConfig(autoConfirm bool) *config.Config {
	cfg := &config.Config{}
	cfg.Server.PublicURL = "http://provider.test"
	cfg.JWT.Secret = "handlers-test-secret-xxxxxxxxxxxxxxxx"
	cfg.JWT.Issuer = "carbontrail"
	cfg.JWT.AccessTokenTTL = 15 * time.Minute
	cfg.JWT.RefreshTokenTTL = time.Hour
	cfg.Auth.AutoConfirm = autoConfirm
	cfg.Auth.SiteURL = "http://site.test"
	cfg.Auth.MinPasswordLength = 6
	cfg.Auth.RecoveryTTL = time.Hour
	cfg.Auth.ConfirmationTTL = time.Hour
	return cfg
}

func newTestServer(t *testing.T, autoConfirm bool) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := testConfig(autoConfirm)
	rec := &mailer.Recorder{}
	bl := sessions.NewMemoryBlacklist()
	acc := accounts.NewService(cfg, users.NewMemoryUserRepository(), sessions.NewService(sessions.NewMemoryRepository()), bl, recovery.NewMemoryStore(), rec)
	requireAuth := middleware.AuthMiddleware(tokens.NewVerifier(cfg), bl)

	objects := storage.NewMemoryStore()
	profiles := profilestore.NewMemoryStore()
	r := gin.New()
	r.Use(middleware.CORS(""))
	NewAuthHandler(cfg, acc, requireAuth).Register(r)
	NewProfileHandler(profiles, acc, requireAuth).Register(r)
	NewAvatarHandler(objects, acc, requireAuth).Register(r)
	return &testServer{t: t, cfg: cfg, engine: r, mail: rec, objects: objects, profiles: profiles}
}

type request struct {
	method      string
	path        string
	body        io.Reader
	contentType string
	token       string
	headers     map[string]string
}

func (s *testServer) serve(r request) *httptest.ResponseRecorder {
	req := httptest.NewRequest(r.method, r.path, r.body)
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

func (s *testServer) json(method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(s.t, err)
		rd = bytes.NewReader(b)
	}
	return s.serve(request{method: method, path: path, body: rd, contentType: "application/json", token: token})
}

func (s *testServer) form(path string, values url.Values) *httptest.ResponseRecorder {
	return s.serve(request{method: http.MethodPost, path: path, body: strings.NewReader(values.Encode()), contentType: "application/x-www-form-urlencoded"})
}

func (s *testServer) signUp(email, password string) map[string]interface{} {
	w := s.json(http.MethodPost, "/auth/signup", map[string]interface{}{"email": email, "password": password}, "")
	require.Equal(s.t, http.StatusOK, w.Code, w.Body.String())
	var out struct {
		User map[string]interface{} `json:"user"`
	}
	require.NoError(s.t, json.Unmarshal(w.Body.Bytes(), &out))
	return out.User
}

func (s *testServer) signIn(email, password string) accounts.TokenResponse {
	w := s.form("/auth/token", url.Values{"grant_type": {"password"}, "username": {email}, "password": {password}})
	require.Equal(s.t, http.StatusOK, w.Code, w.Body.String())
	var out accounts.TokenResponse
	require.NoError(s.t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &m), w.Body.String())
	return m
}
