package users

import (
	"context"
	"strings"

	"github.com/carbontrail/carbontrail/backend/go-services/internal/models"
)

// Mirror keeps local copies of users authenticated by an external OIDC
// issuer, so their profile and avatar hang off a stable user id.
type Mirror struct {
	repo UserRepository
}

func NewMirror(r UserRepository) *Mirror {
	return &Mirror{repo: r}
}

// Upsert stores or refreshes the user behind claims. It returns nil, nil
// when the claims carry no subject. Metadata is only written on first sight.
func (m *Mirror) Upsert(ctx context.Context, claims map[string]interface{}) (*models.User, error) {
	sub := claimString(claims, "sub")
	if sub == "" {
		return nil, nil
	}
	u := &models.User{
		Subject:  sub,
		Email:    claimString(claims, "email"),
		Metadata: metadataFromClaims(claims),
	}
	return m.repo.UpsertBySubject(ctx, u)
}

// metadataFromClaims maps standard OIDC claims onto the metadata keys sign-up
// uses, which seed the default profile.
func metadataFromClaims(claims map[string]interface{}) map[string]interface{} {
	md := make(map[string]interface{}, 2)
	name := claimString(claims, "name")
	if name == "" {
		name = strings.TrimSpace(claimString(claims, "given_name") + " " + claimString(claims, "family_name"))
	}
	if name != "" {
		md["full_name"] = name
	}
	if pic := claimString(claims, "picture"); pic != "" {
		md["avatar_url"] = pic
	}
	return md
}

func claimString(claims map[string]interface{}, key string) string {
	s, _ := claims[key].(string)
	return strings.TrimSpace(s)
}
