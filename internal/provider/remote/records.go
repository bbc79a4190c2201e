package remote

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/carbontrail/carbontrail/backend/go-services/internal/models"
	"github.com/carbontrail/carbontrail/backend/go-services/internal/provider"
)

func profilePath(userID string) string {
	return "/rest/profiles/" + url.PathEscape(userID)
}

func (c *Client) SelectProfile(ctx context.Context, userID string) (*models.Profile, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	var p models.Profile
	if _, err := c.do(ctx, http.MethodGet, profilePath(userID), nil, &p, token); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) InsertProfileIfAbsent(ctx context.Context, in *models.Profile) (*models.Profile, bool, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, false, err
	}
	var p models.Profile
	status, err := c.do(ctx, http.MethodPost, "/rest/profiles", in, &p, token)
	if err != nil {
		return nil, false, err
	}
	return &p, status == http.StatusCreated, nil
}

func (c *Client) UpdateProfileFields(ctx context.Context, userID string, fields models.ProfileFields) (*models.Profile, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	var p models.Profile
	if _, err := c.do(ctx, http.MethodPut, profilePath(userID), fields, &p, token); err != nil {
		return nil, err
	}
	return &p, nil
}

type avatarURLRequest struct {
	AvatarURL string `json:"avatar_url"`
}

func (c *Client) UpdateAvatarURL(ctx context.Context, userID, avatarURL string) (*models.Profile, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	var p models.Profile
	if _, err := c.do(ctx, http.MethodPut, profilePath(userID)+"/avatar", avatarURLRequest{AvatarURL: avatarURL}, &p, token); err != nil {
		return nil, err
	}
	return &p, nil
}

// Upload streams body to the avatars bucket.
func (c *Client) Upload(ctx context.Context, path string, body io.Reader, size int64, contentType string, opts provider.UploadOptions) error {
	token, err := c.accessToken(ctx)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+"/storage/avatars/"+escapeObjectPath(path), body)
	if err != nil {
		return err
	}
	if size >= 0 {
		req.ContentLength = size
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("x-upsert", strconv.FormatBool(opts.Upsert))
	_, err = c.send(req, nil)
	return err
}

// PublicURL returns the unauthenticated download URL of an avatar object.
func (c *Client) PublicURL(path string) string {
	return c.baseURL + "/storage/public/avatars/" + escapeObjectPath(path)
}

func escapeObjectPath(p string) string {
	parts := strings.Split(p, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}
