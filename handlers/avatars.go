package handlers

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/carbontrail/carbontrail/backend/go-services/internal/accounts"
	"github.com/carbontrail/carbontrail/backend/go-services/internal/apperrors"
	"github.com/carbontrail/carbontrail/backend/go-services/internal/profile"
	"github.com/carbontrail/carbontrail/backend/go-services/internal/storage"
	"github.com/carbontrail/carbontrail/backend/go-services/pkg/metrics"
	"github.com/carbontrail/carbontrail/backend/go-services/pkg/middleware"
)

// AvatarHandler serves the avatars bucket: authenticated writes under the
// caller's own prefix and public reads.
type AvatarHandler struct {
	store       storage.Store
	accounts    *accounts.Service
	requireAuth gin.HandlerFunc
}

func NewAvatarHandler(store storage.Store, a *accounts.Service, requireAuth gin.HandlerFunc) *AvatarHandler {
	return &AvatarHandler{store: store, accounts: a, requireAuth: requireAuth}
}

func (h *AvatarHandler) Register(r gin.IRouter) {
	r.PUT("/storage/avatars/*path", h.requireAuth, h.Upload)
	r.GET("/storage/public/avatars/*path", h.Download)
}

// objectKey validates the wildcard path: non-empty segments, no dot segments.
func objectKey(raw string) (string, bool) {
	key := strings.TrimPrefix(raw, "/")
	if key == "" {
		return "", false
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return "", false
		}
	}
	return key, true
}

func (h *AvatarHandler) Upload(c *gin.Context) {
	key, ok := objectKey(c.Param("path"))
	if !ok {
		abortJSON(c, http.StatusBadRequest, CodeValidationFailed, "invalid object path")
		return
	}
	u, ok := currentUser(c, h.accounts)
	if !ok {
		return
	}
	if owner, _, _ := strings.Cut(key, "/"); owner != u.ID || !strings.Contains(key, "/") {
		abortJSON(c, http.StatusForbidden, CodeForbidden, "avatars must be stored under the caller's folder")
		return
	}

	contentType := c.ContentType()
	if err := profile.ValidateAvatarMeta(contentType, c.Request.ContentLength); err != nil {
		metrics.AvatarUploads.WithLabelValues("rejected").Inc()
		status := http.StatusUnsupportedMediaType
		if c.Request.ContentLength > profile.MaxAvatarBytes {
			status = http.StatusRequestEntityTooLarge
		}
		abortJSON(c, status, CodeValidationFailed, apperrors.UserMessage(err))
		return
	}
	data, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, profile.MaxAvatarBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			metrics.AvatarUploads.WithLabelValues("rejected").Inc()
			abortJSON(c, http.StatusRequestEntityTooLarge, CodeValidationFailed, profile.MsgAvatarTooLarge)
			return
		}
		abortJSON(c, http.StatusBadRequest, CodeValidationFailed, "could not read upload")
		return
	}
	upsert, _ := strconv.ParseBool(c.GetHeader("x-upsert"))

	err = h.store.Put(c.Request.Context(), key, bytes.NewReader(data), int64(len(data)), storage.PutOptions{ContentType: contentType, Upsert: upsert})
	switch {
	case errors.Is(err, storage.ErrExists):
		metrics.AvatarUploads.WithLabelValues("rejected").Inc()
		abortJSON(c, http.StatusConflict, CodeDuplicate, "The resource already exists")
		return
	case err != nil:
		metrics.AvatarUploads.WithLabelValues("error").Inc()
		middleware.RequestLog(c).Error().Err(err).Str("key", key).Msg("avatar store failed")
		abortJSON(c, http.StatusInternalServerError, CodeInternal, "storage error")
		return
	}
	metrics.AvatarUploads.WithLabelValues("ok").Inc()
	c.JSON(http.StatusOK, gin.H{"Key": "avatars/" + key})
}

func (h *AvatarHandler) Download(c *gin.Context) {
	key, ok := objectKey(c.Param("path"))
	if !ok {
		abortJSON(c, http.StatusBadRequest, CodeValidationFailed, "invalid object path")
		return
	}
	rc, info, err := h.store.Get(c.Request.Context(), key)
	if errors.Is(err, storage.ErrNotFound) {
		abortJSON(c, http.StatusNotFound, "not_found", "Object not found")
		return
	}
	if err != nil {
		middleware.RequestLog(c).Error().Err(err).Str("key", key).Msg("avatar read failed")
		abortJSON(c, http.StatusInternalServerError, CodeInternal, "storage error")
		return
	}
	defer rc.Close()
	c.Header("Cache-Control", "public, max-age=3600")
	c.DataFromReader(http.StatusOK, info.Size, info.ContentType, rc, nil)
}
