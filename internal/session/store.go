// Package session tracks the signed-in session and user for the lifetime of
// an application instance.
package session

import (
	"context"
	"sort"
	"sync"

	"github.com/carbontrail/carbontrail/backend/go-services/internal/provider"
	"github.com/carbontrail/carbontrail/backend/go-services/pkg/logger"
)

// Store mirrors the provider's session. Only the provider callback and
// Initialize write to it.
type Store struct {
	idp provider.Identity

	mu          sync.RWMutex
	session     *provider.Session
	loading     bool
	sawEvent    bool
	unsubscribe func()
	listeners   map[int]provider.Listener
	nextID      int
}

func NewStore(idp provider.Identity) *Store {
	return &Store{
		idp:       idp,
		loading:   true,
		listeners: make(map[int]provider.Listener),
	}
}

// Initialize registers the store's provider listener and loads the persisted
// session. A failed load leaves the store signed out. Loading is false once
// Initialize returns. Repeated calls are no-ops while the store is open.
func (s *Store) Initialize(ctx context.Context) {
	s.mu.Lock()
	if s.unsubscribe != nil {
		s.mu.Unlock()
		return
	}
	s.sawEvent = false
	s.unsubscribe = s.idp.OnAuthStateChange(s.handle)
	s.mu.Unlock()

	sess, err := s.idp.GetSession(ctx)
	if err != nil {
		logger.Warnf("session: loading persisted session failed: %v", err)
		sess = nil
	}

	s.mu.Lock()
	// An event that arrived while loading is newer than the fetched value.
	if !s.sawEvent {
		s.session = usable(sess)
	}
	s.loading = false
	current := s.session
	s.mu.Unlock()

	s.notify(provider.EventInitialSession, current)
}

// Close removes the provider listener. It is safe to call more than once.
func (s *Store) Close() {
	s.mu.Lock()
	unsub := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

// Subscribe registers fn for every state change the store applies. The
// returned function removes it and may be called any number of times.
func (s *Store) Subscribe(fn provider.Listener) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

// SubscriberCount returns the number of registered subscribers.
func (s *Store) SubscriberCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.listeners)
}

func (s *Store) CurrentSession() *provider.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session
}

func (s *Store) CurrentUser() *provider.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return nil
	}
	return s.session.User
}

func (s *Store) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

func (s *Store) handle(event provider.Event, sess *provider.Session) {
	s.mu.Lock()
	if event == provider.EventSignedOut {
		s.session = nil
	} else {
		s.session = usable(sess)
	}
	s.sawEvent = true
	s.loading = false
	current := s.session
	s.mu.Unlock()

	logger.Debugf("session: %s (signed in: %t)", event, current != nil)
	s.notify(event, current)
}

func (s *Store) notify(event provider.Event, sess *provider.Session) {
	s.mu.RLock()
	ids := make([]int, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]provider.Listener, 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.listeners[id])
	}
	s.mu.RUnlock()

	for _, fn := range fns {
		fn(event, sess)
	}
}

// usable drops sessions that lack a token or a user.
func usable(sess *provider.Session) *provider.Session {
	if !sess.Valid() {
		return nil
	}
	return sess
}
