package profilestore

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/carbontrail/carbontrail/backend/go-services/internal/models"
)

func TestMemoryStore_InsertIfAbsent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.Get(ctx, "u1")
	require.ErrorIs(t, err, ErrNotFound)

	p, created, err := s.InsertIfAbsent(ctx, models.NewDefaultProfile("u1", "ann@example.com", nil))
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, "ann", p.Username)

	other := models.NewDefaultProfile("u1", "bob@example.com", nil)
	p, created, err = s.InsertIfAbsent(ctx, other)
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, "ann", p.Username)
}

func TestMemoryStore_ConcurrentInsertCreatesOnce(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	var creations int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, created, err := s.InsertIfAbsent(ctx, models.NewDefaultProfile("u1", "ann@example.com", nil))
			if err == nil && created {
				atomic.AddInt32(&creations, 1)
			}
		}()
	}
	wg.Wait()
	require.EqualValues(t, 1, creations)
}

func TestMemoryStore_Updates(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.UpdateFields(ctx, "u1", models.ProfileFields{})
	require.ErrorIs(t, err, ErrNotFound)
	_, err = s.UpdateAvatarURL(ctx, "u1", "x")
	require.ErrorIs(t, err, ErrNotFound)

	_, _, err = s.InsertIfAbsent(ctx, models.NewDefaultProfile("u1", "ann@example.com", map[string]interface{}{"avatar_url": "a.png"}))
	require.NoError(t, err)

	dob := "1990-04-02"
	p, err := s.UpdateFields(ctx, "u1", models.ProfileFields{FullName: "Ann", Username: "ann", DateOfBirth: &dob})
	require.NoError(t, err)
	require.Equal(t, "Ann", p.FullName)
	require.Equal(t, "a.png", p.AvatarURL)
	require.Equal(t, &dob, p.DateOfBirth)

	p, err = s.UpdateAvatarURL(ctx, "u1", "b.png")
	require.NoError(t, err)
	require.Equal(t, "b.png", p.AvatarURL)
	require.Equal(t, "Ann", p.FullName)
}

func TestInsertDocOmitsID(t *testing.T) {
	doc, err := insertDoc(models.NewDefaultProfile("u1", "ann@example.com", nil))
	require.NoError(t, err)
	require.NotContains(t, doc, "_id")
	require.Equal(t, "ann", doc["username"])
	require.Equal(t, true, doc["notifications_enabled"])
}

func TestFieldsDocKeys(t *testing.T) {
	doc := fieldsDoc(models.ProfileFields{FullName: "Ann"})
	require.Equal(t, "Ann", doc["full_name"])
	require.Contains(t, doc, "date_of_birth")
	require.NotContains(t, doc, "avatar_url")
	require.NotContains(t, doc, "_id")
}
