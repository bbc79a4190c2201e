package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/carbontrail/carbontrail/backend/go-services/internal/accounts"
	"github.com/carbontrail/carbontrail/backend/go-services/internal/config"
	"github.com/carbontrail/carbontrail/backend/go-services/internal/models"
	"github.com/carbontrail/carbontrail/backend/go-services/pkg/middleware"
)

type SignUpRequest struct {
	Email    string                 `json:"email" binding:"required"`
	Password string                 `json:"password" binding:"required"`
	Data     map[string]interface{} `json:"data"`
}

type RecoverRequest struct {
	Email      string `json:"email" binding:"required"`
	RedirectTo string `json:"redirect_to"`
}

type ResetRequest struct {
	Token    string `json:"token" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type UpdateUserRequest struct {
	Data     map[string]interface{} `json:"data"`
	Password *string                `json:"password"`
}

type LogoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// AuthHandler serves the /auth routes.
type AuthHandler struct {
	cfg         *config.Config
	accounts    *accounts.Service
	requireAuth gin.HandlerFunc
}

func NewAuthHandler(cfg *config.Config, a *accounts.Service, requireAuth gin.HandlerFunc) *AuthHandler {
	return &AuthHandler{cfg: cfg, accounts: a, requireAuth: requireAuth}
}

// Register routes under /auth
func (h *AuthHandler) Register(r gin.IRouter) {
	a := r.Group("/auth")
	a.POST("/signup", h.SignUp)
	a.GET("/verify", h.Verify)
	a.POST("/token", h.Token)
	a.POST("/recover", h.Recover)
	a.POST("/reset", h.Reset)
	a.POST("/logout", h.requireAuth, h.Logout)
	a.GET("/user", h.requireAuth, h.GetUser)
	a.PUT("/user", h.requireAuth, h.UpdateUser)
}

// accountError writes the response for an accounts error.
func accountError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, accounts.ErrInvalidEmail):
		abortJSON(c, http.StatusUnprocessableEntity, CodeValidationFailed, "Unable to validate email address: invalid format")
	case errors.Is(err, accounts.ErrWeakPassword):
		abortJSON(c, http.StatusUnprocessableEntity, CodeWeakPassword, err.Error())
	case errors.Is(err, accounts.ErrEmailTaken):
		abortJSON(c, http.StatusUnprocessableEntity, CodeEmailTaken, "User already registered")
	case errors.Is(err, accounts.ErrInvalidToken):
		abortJSON(c, http.StatusBadRequest, CodeInvalidToken, "Token has expired or is invalid")
	case errors.Is(err, accounts.ErrUserNotFound):
		abortJSON(c, http.StatusNotFound, CodeUserNotFound, "User not found")
	default:
		middleware.RequestLog(c).Error().Err(err).Msg("accounts")
		abortJSON(c, http.StatusInternalServerError, CodeInternal, "internal error")
	}
}

// currentUser resolves the caller from the claims set by the auth middleware.
func currentUser(c *gin.Context, a *accounts.Service) (*models.User, bool) {
	u, err := a.ResolveUser(c.Request.Context(), claimsOf(c))
	if err != nil {
		if errors.Is(err, accounts.ErrInvalidToken) || errors.Is(err, accounts.ErrUserNotFound) {
			abortJSON(c, http.StatusUnauthorized, CodeUnauthorized, "user for this token no longer exists")
			return nil, false
		}
		accountError(c, err)
		return nil, false
	}
	return u, true
}

func (h *AuthHandler) SignUp(c *gin.Context) {
	var req SignUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortJSON(c, http.StatusBadRequest, CodeValidationFailed, err.Error())
		return
	}
	u, err := h.accounts.SignUp(c.Request.Context(), req.Email, req.Password, req.Data)
	if err != nil {
		accountError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": u})
}

// Verify follows a confirmation link and sends the browser to the site.
func (h *AuthHandler) Verify(c *gin.Context) {
	if _, err := h.accounts.Confirm(c.Request.Context(), c.Query("token")); err != nil {
		accountError(c, err)
		return
	}
	c.Redirect(http.StatusSeeOther, h.cfg.Auth.SiteURL+"/")
}

// Token implements the password and refresh_token grants.
func (h *AuthHandler) Token(c *gin.Context) {
	ctx := c.Request.Context()
	var (
		resp *accounts.TokenResponse
		err  error
	)
	switch grant := c.PostForm("grant_type"); grant {
	case "password":
		resp, err = h.accounts.PasswordGrant(ctx, c.PostForm("username"), c.PostForm("password"))
	case "refresh_token":
		resp, err = h.accounts.RefreshGrant(ctx, c.PostForm("refresh_token"))
	default:
		abortOAuth(c, http.StatusBadRequest, "unsupported_grant_type", "unsupported grant_type "+grant)
		return
	}
	switch {
	case err == nil:
		c.Header("Cache-Control", "no-store")
		c.JSON(http.StatusOK, resp)
	case errors.Is(err, accounts.ErrInvalidCredentials):
		abortOAuth(c, http.StatusBadRequest, "invalid_grant", "Invalid login credentials")
	case errors.Is(err, accounts.ErrEmailNotConfirmed):
		abortOAuth(c, http.StatusBadRequest, "email_not_confirmed", "Email not confirmed")
	case errors.Is(err, accounts.ErrInvalidToken):
		abortOAuth(c, http.StatusBadRequest, "invalid_grant", "Invalid Refresh Token")
	default:
		middleware.RequestLog(c).Error().Err(err).Msg("token grant failed")
		abortOAuth(c, http.StatusInternalServerError, "server_error", "token issuance failed")
	}
}

func (h *AuthHandler) Logout(c *gin.Context) {
	var req LogoutRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			abortJSON(c, http.StatusBadRequest, CodeValidationFailed, err.Error())
			return
		}
	}
	userID := middleware.Subject(c)
	if u, err := h.accounts.ResolveUser(c.Request.Context(), claimsOf(c)); err == nil {
		userID = u.ID
	}
	if err := h.accounts.Logout(c.Request.Context(), userID, c.GetString(middleware.TokenKey), req.RefreshToken); err != nil {
		accountError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func claimsOf(c *gin.Context) map[string]interface{} {
	v, _ := c.Get(middleware.ClaimsKey)
	claims, _ := v.(map[string]interface{})
	return claims
}

// Recover sends a reset link. Unknown addresses get the same answer.
func (h *AuthHandler) Recover(c *gin.Context) {
	var req RecoverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortJSON(c, http.StatusBadRequest, CodeValidationFailed, err.Error())
		return
	}
	if err := h.accounts.Recover(c.Request.Context(), req.Email, req.RedirectTo); err != nil {
		accountError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{})
}

func (h *AuthHandler) Reset(c *gin.Context) {
	var req ResetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortJSON(c, http.StatusBadRequest, CodeValidationFailed, err.Error())
		return
	}
	u, err := h.accounts.ResetPassword(c.Request.Context(), req.Token, req.Password)
	if err != nil {
		accountError(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

func (h *AuthHandler) GetUser(c *gin.Context) {
	u, ok := currentUser(c, h.accounts)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, u)
}

func (h *AuthHandler) UpdateUser(c *gin.Context) {
	var req UpdateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortJSON(c, http.StatusBadRequest, CodeValidationFailed, err.Error())
		return
	}
	u, ok := currentUser(c, h.accounts)
	if !ok {
		return
	}
	if req.Password != nil && *req.Password == "" {
		req.Password = nil
	}
	updated, err := h.accounts.UpdateUser(c.Request.Context(), u.ID, accounts.UserUpdate{Data: req.Data, Password: req.Password})
	if err != nil {
		accountError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}
