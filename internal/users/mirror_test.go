package users

import (
	"context"
	"testing"
)

func TestMirrorUpsert(t *testing.T) {
	repo := NewMemoryUserRepository()
	m := NewMirror(repo)
	ctx := context.Background()

	u, err := m.Upsert(ctx, map[string]interface{}{
		"sub":     "kc-123",
		"email":   "X@Example.com",
		"name":    "X User",
		"picture": "https://idp.example/x.png",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u == nil || u.ID == "" {
		t.Fatalf("expected stored user with an id, got %v", u)
	}
	if u.Subject != "kc-123" {
		t.Fatalf("unexpected subject: %s", u.Subject)
	}
	if u.MetadataString("full_name") != "X User" || u.MetadataString("avatar_url") != "https://idp.example/x.png" {
		t.Fatalf("unexpected metadata: %v", u.Metadata)
	}
	if !u.Confirmed() {
		t.Fatalf("mirrored users are trusted as confirmed")
	}

	again, err := m.Upsert(ctx, map[string]interface{}{"sub": "kc-123", "email": "x@example.com", "name": "Renamed"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if again.ID != u.ID {
		t.Fatalf("expected the same user, got %s and %s", u.ID, again.ID)
	}
	if again.MetadataString("full_name") != "X User" {
		t.Fatalf("metadata must only be written on first sight, got %v", again.Metadata)
	}
}

func TestMirrorUpsert_NoSubject(t *testing.T) {
	u, err := NewMirror(NewMemoryUserRepository()).Upsert(context.Background(), map[string]interface{}{"email": "y@e.com"})
	if err != nil || u != nil {
		t.Fatalf("expected nil, nil without sub; got %v, %v", u, err)
	}
}

func TestMetadataFromClaims_GivenAndFamilyName(t *testing.T) {
	md := metadataFromClaims(map[string]interface{}{"given_name": "Ann", "family_name": "Lee"})
	if md["full_name"] != "Ann Lee" {
		t.Fatalf("unexpected full_name: %v", md["full_name"])
	}
	if _, ok := metadataFromClaims(map[string]interface{}{})["full_name"]; ok {
		t.Fatalf("no name claims must not set full_name")
	}
}
