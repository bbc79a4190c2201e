// Package recovery issues single-use tokens for password recovery and email
// confirmation links.
package recovery

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Purpose scopes a token; a token issued for one purpose is invalid for another.
type Purpose string

const (
	PurposeRecovery     Purpose = "recovery"
	PurposeConfirmation Purpose = "confirmation"
)

var ErrInvalidToken = errors.New("token is invalid or has expired")

// Store issues tokens bound to a user and consumes them at most once.
type Store interface {
	Issue(ctx context.Context, purpose Purpose, userID string, ttl time.Duration) (string, error)
	Consume(ctx context.Context, purpose Purpose, token string) (string, error)
}

func newToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "") + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// RedisStore keeps tokens as keys expiring with the token.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "otp:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(purpose Purpose, token string) string {
	return s.prefix + string(purpose) + ":" + token
}

func (s *RedisStore) Issue(ctx context.Context, purpose Purpose, userID string, ttl time.Duration) (string, error) {
	token := newToken()
	if err := s.client.Set(ctx, s.key(purpose, token), userID, ttl).Err(); err != nil {
		return "", err
	}
	return token, nil
}

// Consume deletes the token atomically, so concurrent uses succeed at most once.
func (s *RedisStore) Consume(ctx context.Context, purpose Purpose, token string) (string, error) {
	if token == "" {
		return "", ErrInvalidToken
	}
	userID, err := s.client.GetDel(ctx, s.key(purpose, token)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrInvalidToken
	}
	if err != nil {
		return "", err
	}
	return userID, nil
}

type memoryEntry struct {
	userID    string
	expiresAt time.Time
}

// MemoryStore is the in-process fallback used when Redis is not configured.
type MemoryStore struct {
	mu     sync.Mutex
	tokens map[string]memoryEntry
	now    func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tokens: make(map[string]memoryEntry), now: time.Now}
}

func (s *MemoryStore) Issue(ctx context.Context, purpose Purpose, userID string, ttl time.Duration) (string, error) {
	token := newToken()
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for k, e := range s.tokens {
		if now.After(e.expiresAt) {
			delete(s.tokens, k)
		}
	}
	s.tokens[string(purpose)+":"+token] = memoryEntry{userID: userID, expiresAt: now.Add(ttl)}
	return token, nil
}

func (s *MemoryStore) Consume(ctx context.Context, purpose Purpose, token string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := string(purpose) + ":" + token
	e, ok := s.tokens[k]
	if !ok {
		return "", ErrInvalidToken
	}
	delete(s.tokens, k)
	if s.now().After(e.expiresAt) {
		return "", ErrInvalidToken
	}
	return e.userID, nil
}
