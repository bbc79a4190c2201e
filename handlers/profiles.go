package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/carbontrail/carbontrail/backend/go-services/internal/accounts"
	"github.com/carbontrail/carbontrail/backend/go-services/internal/models"
	"github.com/carbontrail/carbontrail/backend/go-services/internal/profilestore"
	"github.com/carbontrail/carbontrail/backend/go-services/pkg/metrics"
	"github.com/carbontrail/carbontrail/backend/go-services/pkg/middleware"
)

type AvatarURLRequest struct {
	AvatarURL string `json:"avatar_url"`
}

// ProfileHandler serves /rest/profiles. Callers may only touch their own row.
type ProfileHandler struct {
	store       profilestore.Store
	accounts    *accounts.Service
	requireAuth gin.HandlerFunc
}

func NewProfileHandler(store profilestore.Store, a *accounts.Service, requireAuth gin.HandlerFunc) *ProfileHandler {
	return &ProfileHandler{store: store, accounts: a, requireAuth: requireAuth}
}

func (h *ProfileHandler) Register(r gin.IRouter) {
	p := r.Group("/rest/profiles", h.requireAuth)
	p.GET("/:id", h.Get)
	p.POST("", h.Insert)
	p.PUT("/:id", h.Update)
	p.PUT("/:id/avatar", h.UpdateAvatar)
}

// owner resolves the caller and checks it owns profile id.
func (h *ProfileHandler) owner(c *gin.Context, id string) bool {
	u, ok := currentUser(c, h.accounts)
	if !ok {
		return false
	}
	if u.ID != id {
		abortJSON(c, http.StatusForbidden, CodeForbidden, "profiles can only be accessed by their owner")
		return false
	}
	return true
}

func profileError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, profilestore.ErrNotFound):
		abortJSON(c, http.StatusNotFound, CodeNoRows, "profile not found")
	case errors.Is(err, models.ErrInvalidDate):
		abortJSON(c, http.StatusUnprocessableEntity, CodeValidationFailed, err.Error())
	default:
		middleware.RequestLog(c).Error().Err(err).Msg("profiles")
		abortJSON(c, http.StatusInternalServerError, CodeInternal, "internal error")
	}
}

func (h *ProfileHandler) Get(c *gin.Context) {
	id := c.Param("id")
	if !h.owner(c, id) {
		return
	}
	p, err := h.store.Get(c.Request.Context(), id)
	if err != nil {
		profileError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// Insert creates the row unless it exists: 201 with the new row, 200 with
// the existing one.
func (h *ProfileHandler) Insert(c *gin.Context) {
	var in models.Profile
	if err := c.ShouldBindJSON(&in); err != nil {
		abortJSON(c, http.StatusBadRequest, CodeValidationFailed, err.Error())
		return
	}
	if !h.owner(c, in.ID) {
		return
	}
	dob, err := models.NormalizeDateOfBirth(in.DateOfBirth)
	if err != nil {
		profileError(c, err)
		return
	}
	in.DateOfBirth = dob
	p, created, err := h.store.InsertIfAbsent(c.Request.Context(), &in)
	if err != nil {
		profileError(c, err)
		return
	}
	if created {
		metrics.ProfilesCreated.Inc()
		c.JSON(http.StatusCreated, p)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *ProfileHandler) Update(c *gin.Context) {
	id := c.Param("id")
	var f models.ProfileFields
	if err := c.ShouldBindJSON(&f); err != nil {
		abortJSON(c, http.StatusBadRequest, CodeValidationFailed, err.Error())
		return
	}
	if !h.owner(c, id) {
		return
	}
	dob, err := models.NormalizeDateOfBirth(f.DateOfBirth)
	if err != nil {
		profileError(c, err)
		return
	}
	f.DateOfBirth = dob
	p, err := h.store.UpdateFields(c.Request.Context(), id, f)
	if err != nil {
		profileError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *ProfileHandler) UpdateAvatar(c *gin.Context) {
	id := c.Param("id")
	var req AvatarURLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortJSON(c, http.StatusBadRequest, CodeValidationFailed, err.Error())
		return
	}
	if !h.owner(c, id) {
		return
	}
	p, err := h.store.UpdateAvatarURL(c.Request.Context(), id, req.AvatarURL)
	if err != nil {
		profileError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}
