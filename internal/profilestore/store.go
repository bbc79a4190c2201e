// Package profilestore persists the profiles table behind the provider's
// /rest/profiles routes.
package profilestore

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/carbontrail/carbontrail/backend/go-services/internal/models"
)

var ErrNotFound = errors.New("profile not found")

// Store holds one profile per user, keyed by user id.
type Store interface {
	Get(ctx context.Context, id string) (*models.Profile, error)
	// InsertIfAbsent stores p unless a row with its id exists and returns the
	// row that is stored afterwards, reporting whether p was inserted.
	InsertIfAbsent(ctx context.Context, p *models.Profile) (*models.Profile, bool, error)
	UpdateFields(ctx context.Context, id string, f models.ProfileFields) (*models.Profile, error)
	UpdateAvatarURL(ctx context.Context, id, avatarURL string) (*models.Profile, error)
}

// MemoryStore keeps profiles in process.
type MemoryStore struct {
	mu       sync.Mutex
	profiles map[string]models.Profile
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{profiles: make(map[string]models.Profile)}
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*models.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (m *MemoryStore) InsertIfAbsent(ctx context.Context, in *models.Profile) (*models.Profile, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.profiles[in.ID]; ok {
		return &p, false, nil
	}
	p := *in
	stampCreated(&p)
	m.profiles[p.ID] = p
	return &p, true, nil
}

func (m *MemoryStore) UpdateFields(ctx context.Context, id string, f models.ProfileFields) (*models.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[id]
	if !ok {
		return nil, ErrNotFound
	}
	p.Apply(f)
	m.profiles[id] = p
	return &p, nil
}

func (m *MemoryStore) UpdateAvatarURL(ctx context.Context, id, avatarURL string) (*models.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[id]
	if !ok {
		return nil, ErrNotFound
	}
	p.AvatarURL = avatarURL
	p.UpdatedAt = time.Now().UTC()
	m.profiles[id] = p
	return &p, nil
}

func stampCreated(p *models.Profile) {
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
}
