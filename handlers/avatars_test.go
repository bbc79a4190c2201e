package handlers

import (
	"bytes"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/carbontrail/carbontrail/backend/go-services/internal/profile"
)

func TestAvatarUploadAndDownload(t *testing.T) {
	s := newTestServer(t, true)
	id := s.signUp("ann@example.com", "secret1")["id"].(string)
	tok := s.signIn("ann@example.com", "secret1").AccessToken
	path := "/storage/avatars/" + id + "/pic.png"

	upload := func(body, contentType, token, upsert string) int {
		w := s.serve(request{method: http.MethodPut, path: path, body: strings.NewReader(body), contentType: contentType, token: token,
			headers: map[string]string{"x-upsert": upsert}})
		return w.Code
	}

	require.Equal(t, http.StatusUnauthorized, upload("png", "image/png", "", "false"))
	require.Equal(t, http.StatusUnsupportedMediaType, upload("txt", "text/plain", tok, "false"))
	require.Equal(t, http.StatusOK, upload("png-1", "image/png", tok, "false"))
	require.Equal(t, http.StatusConflict, upload("png-2", "image/png", tok, "false"))
	require.Equal(t, http.StatusOK, upload("png-3", "image/png", tok, "true"))

	w := s.serve(request{method: http.MethodGet, path: "/storage/public/avatars/" + id + "/pic.png"})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "png-3", w.Body.String())
	require.Equal(t, "image/png", w.Header().Get("Content-Type"))

	w = s.serve(request{method: http.MethodGet, path: "/storage/public/avatars/" + id + "/missing.png"})
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestAvatarUploadRules(t *testing.T) {
	s := newTestServer(t, true)
	s.signUp("ann@example.com", "secret1")
	bob := s.signUp("bob@example.com", "secret1")["id"].(string)
	tok := s.signIn("ann@example.com", "secret1").AccessToken

	w := s.serve(request{method: http.MethodPut, path: "/storage/avatars/" + bob + "/x.png", body: strings.NewReader("x"), contentType: "image/png", token: tok})
	require.Equal(t, http.StatusForbidden, w.Code)

	w = s.serve(request{method: http.MethodPut, path: "/storage/avatars/x.png", body: strings.NewReader("x"), contentType: "image/png", token: tok})
	require.Equal(t, http.StatusForbidden, w.Code)

	big := bytes.Repeat([]byte{1}, int(profile.MaxAvatarBytes)+1)
	w = s.serve(request{method: http.MethodPut, path: "/storage/avatars/anything/x.png", body: bytes.NewReader(big), contentType: "image/png", token: tok})
	require.Equal(t, http.StatusForbidden, w.Code)

	me := s.json(http.MethodGet, "/auth/user", nil, tok)
	id := decode(t, me)["id"].(string)
	w = s.serve(request{method: http.MethodPut, path: "/storage/avatars/" + id + "/big.png", body: bytes.NewReader(big), contentType: "image/png", token: tok})
	require.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestObjectKey(t *testing.T) {
	for raw, want := range map[string]string{"/u1/a.png": "u1/a.png", "/u1/x/y.png": "u1/x/y.png"} {
		got, ok := objectKey(raw)
		require.True(t, ok, raw)
		require.Equal(t, want, got)
	}
	for _, raw := range []string{"", "/", "/u1//a.png", "/u1/../u2/a.png", "/./a.png"} {
		_, ok := objectKey(raw)
		require.False(t, ok, raw)
	}
}
