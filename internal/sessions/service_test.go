package sessions

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestCreateAndValidateSession(t *testing.T) {
	svc := NewService(NewMemoryRepository())
	ctx := context.Background()
	r, err := svc.CreateSession(ctx, "user-1", time.Hour)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if len(r) != 64 {
		t.Fatalf("expected 32 random bytes hex encoded, got %q", r)
	}
	sess, err := svc.ValidateRefresh(ctx, r)
	if err != nil {
		t.Fatalf("validate error: %v", err)
	}
	if sess == nil || sess.UserID != "user-1" {
		t.Fatalf("unexpected session: %v", sess)
	}
	if err := svc.DeleteRefresh(ctx, r); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if sess2, _ := svc.ValidateRefresh(ctx, r); sess2 != nil {
		t.Fatalf("expected session removed")
	}
	if sess3, _ := svc.ValidateRefresh(ctx, ""); sess3 != nil {
		t.Fatalf("empty token must not match")
	}
}

func TestRotateConsumesRefreshToken(t *testing.T) {
	svc := NewService(NewMemoryRepository())
	ctx := context.Background()
	r, err := svc.CreateSession(ctx, "user-1", time.Hour)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	sess, next, err := svc.Rotate(ctx, r, time.Hour)
	if err != nil || sess == nil || next == "" || next == r {
		t.Fatalf("rotate: sess=%v next=%q err=%v", sess, next, err)
	}
	if sess.UserID != "user-1" {
		t.Fatalf("unexpected user %q", sess.UserID)
	}

	// the old token is gone
	again, _, err := svc.Rotate(ctx, r, time.Hour)
	if err != nil || again != nil {
		t.Fatalf("expected reused refresh token to be rejected, got %v %v", again, err)
	}
}

func TestRotateConcurrentUseWinsOnce(t *testing.T) {
	svc := NewService(NewMemoryRepository())
	ctx := context.Background()
	r, err := svc.CreateSession(ctx, "user-1", time.Hour)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if sess, _, err := svc.Rotate(ctx, r, time.Hour); err == nil && sess != nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	if wins.Load() != 1 {
		t.Fatalf("expected exactly one rotation, got %d", wins.Load())
	}
}

func TestRotateRejectsExpired(t *testing.T) {
	repo := NewMemoryRepository()
	svc := NewService(repo)
	ctx := context.Background()
	_ = repo.Create(ctx, &Session{RefreshToken: "old", UserID: "u", ExpiresAt: time.Now().Add(-time.Minute)})

	sess, next, err := svc.Rotate(ctx, "old", time.Hour)
	if err != nil || sess != nil || next != "" {
		t.Fatalf("expected expired token to be rejected: %v %q %v", sess, next, err)
	}
}

func TestValidateRefreshDropsExpired(t *testing.T) {
	repo := NewMemoryRepository()
	svc := NewService(repo)
	ctx := context.Background()
	_ = repo.Create(ctx, &Session{RefreshToken: "old", UserID: "u", ExpiresAt: time.Now().Add(-time.Minute)})

	sess, err := svc.ValidateRefresh(ctx, "old")
	if err != nil || sess != nil {
		t.Fatalf("expected expired session to be rejected")
	}
	if s, _ := repo.GetByRefresh(ctx, "old"); s != nil {
		t.Fatalf("expected expired session to be deleted")
	}
}

func TestRevokeUser(t *testing.T) {
	svc := NewService(NewMemoryRepository())
	ctx := context.Background()
	a, _ := svc.CreateSession(ctx, "user-1", time.Hour)
	b, _ := svc.CreateSession(ctx, "user-1", time.Hour)
	other, _ := svc.CreateSession(ctx, "user-2", time.Hour)

	if err := svc.RevokeUser(ctx, "user-1"); err != nil {
		t.Fatalf("revoke failed: %v", err)
	}
	for _, r := range []string{a, b} {
		if s, _ := svc.ValidateRefresh(ctx, r); s != nil {
			t.Fatalf("expected %s revoked", r)
		}
	}
	if s, _ := svc.ValidateRefresh(ctx, other); s == nil {
		t.Fatalf("other users keep their sessions")
	}
}
