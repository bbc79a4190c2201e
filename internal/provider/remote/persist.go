package remote

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"github.com/zalando/go-keyring"

	"github.com/carbontrail/carbontrail/backend/go-services/internal/provider"
)

// DefaultKeyringService is the OS keyring service sessions are stored under.
const DefaultKeyringService = "carbontrail"

// Persister keeps the session between process runs. Load returns nil, nil
// when nothing is stored.
type Persister interface {
	Load() (*provider.Session, error)
	Save(s *provider.Session) error
	Clear() error
}

// normalizeKey converts a base URL into a stable keyring entry name so
// https://api.example/ and https://api.example share one entry.
func normalizeKey(baseURL string) string {
	s := strings.TrimSpace(baseURL)
	s = strings.TrimRight(s, "/")
	return strings.ToLower(s)
}

// KeyringPersister stores the session as JSON in the OS keyring, one entry
// per provider base URL.
type KeyringPersister struct {
	Service string
	BaseURL string
}

func NewKeyringPersister(service, baseURL string) *KeyringPersister {
	if service == "" {
		service = DefaultKeyringService
	}
	return &KeyringPersister{Service: service, BaseURL: baseURL}
}

func (k *KeyringPersister) Load() (*provider.Session, error) {
	raw, err := keyring.Get(k.Service, normalizeKey(k.BaseURL))
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var s provider.Session
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		// A corrupt entry is as good as none.
		_ = k.Clear()
		return nil, nil
	}
	return &s, nil
}

func (k *KeyringPersister) Save(s *provider.Session) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return keyring.Set(k.Service, normalizeKey(k.BaseURL), string(raw))
}

func (k *KeyringPersister) Clear() error {
	err := keyring.Delete(k.Service, normalizeKey(k.BaseURL))
	if errors.Is(err, keyring.ErrNotFound) {
		return nil
	}
	return err
}

// MemoryPersister keeps the session for the life of the process only.
type MemoryPersister struct {
	mu sync.Mutex
	s  *provider.Session
}

func (m *MemoryPersister) Load() (*provider.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.s == nil {
		return nil, nil
	}
	c := *m.s
	return &c, nil
}

func (m *MemoryPersister) Save(s *provider.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *s
	m.s = &c
	return nil
}

func (m *MemoryPersister) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.s = nil
	return nil
}
