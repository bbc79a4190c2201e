// Package memory is an in-process provider. It backs the account flow's tests
// and carbonctl's --offline mode.
package memory

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/carbontrail/carbontrail/backend/go-services/internal/models"
	"github.com/carbontrail/carbontrail/backend/go-services/internal/provider"
)

// Operation names used by Calls, FailNext and SetLatency.
const (
	OpGetSession            = "GetSession"
	OpSignUp                = "SignUp"
	OpSignIn                = "SignInWithPassword"
	OpSignOut               = "SignOut"
	OpSendPasswordReset     = "SendPasswordReset"
	OpUpdateUser            = "UpdateUser"
	OpSelectProfile         = "SelectProfile"
	OpInsertProfileIfAbsent = "InsertProfileIfAbsent"
	OpUpdateProfileFields   = "UpdateProfileFields"
	OpUpdateAvatarURL       = "UpdateAvatarURL"
	OpUpload                = "Upload"
)

const minPasswordLength = 6

type Options struct {
	// AutoConfirm skips email confirmation for new accounts.
	AutoConfirm bool
	// PublicBaseURL prefixes PublicURL results.
	PublicBaseURL string
	SessionTTL    time.Duration
}

type account struct {
	user     provider.User
	password string
}

type object struct {
	data        []byte
	contentType string
}

// ResetRequest records a password reset mail the provider would have sent.
type ResetRequest struct {
	Email      string
	RedirectTo string
}

// Provider implements provider.Identity, provider.RecordStore and
// provider.ObjectStorage.
type Provider struct {
	opts Options

	mu        sync.Mutex
	accounts  map[string]*account // by lower-cased email
	session   *provider.Session
	listeners map[int]provider.Listener
	nextID    int
	profiles  map[string]models.Profile
	objects   map[string]object
	resets    []ResetRequest

	calls   map[string]int
	failing map[string]error
	latency map[string]time.Duration
}

var (
	_ provider.Identity      = (*Provider)(nil)
	_ provider.RecordStore   = (*Provider)(nil)
	_ provider.ObjectStorage = (*Provider)(nil)
)

func New(opts Options) *Provider {
	if opts.PublicBaseURL == "" {
		opts.PublicBaseURL = "http://localhost:5001"
	}
	if opts.SessionTTL == 0 {
		opts.SessionTTL = time.Hour
	}
	return &Provider{
		opts:      opts,
		accounts:  make(map[string]*account),
		listeners: make(map[int]provider.Listener),
		profiles:  make(map[string]models.Profile),
		objects:   make(map[string]object),
		calls:     make(map[string]int),
		failing:   make(map[string]error),
		latency:   make(map[string]time.Duration),
	}
}

// Calls returns how many times op was invoked.
func (p *Provider) Calls(op string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[op]
}

// TotalCalls returns the number of provider operations invoked so far.
func (p *Provider) TotalCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.calls {
		n += c
	}
	return n
}

// FailNext makes the next call of op return err.
func (p *Provider) FailNext(op string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failing[op] = err
}

// SetLatency delays every call of op by d, or until its context ends.
func (p *Provider) SetLatency(op string, d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.latency[op] = d
}

// ListenerCount returns the number of registered auth listeners.
func (p *Provider) ListenerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.listeners)
}

// Resets returns the password reset mails requested so far.
func (p *Provider) Resets() []ResetRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ResetRequest(nil), p.resets...)
}

// AddUser registers an account directly.
func (p *Provider) AddUser(email, password string, metadata map[string]interface{}, confirmed bool) *provider.User {
	p.mu.Lock()
	defer p.mu.Unlock()
	a := p.newAccountLocked(email, password, metadata)
	if confirmed {
		now := time.Now().UTC()
		a.user.EmailConfirmedAt = &now
	}
	u := a.user
	return &u
}

// ConfirmEmail marks the account's email as verified.
func (p *Provider) ConfirmEmail(email string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.accounts[strings.ToLower(email)]
	if !ok {
		return false
	}
	now := time.Now().UTC()
	a.user.EmailConfirmedAt = &now
	return true
}

// Emit delivers an event as if it came from elsewhere (another tab, a
// recovery link). A nil session with a sign-in event is passed through as is.
func (p *Provider) Emit(event provider.Event, session *provider.Session) {
	p.mu.Lock()
	switch event {
	case provider.EventSignedOut:
		p.session = nil
	default:
		if session != nil {
			p.session = cloneSession(session)
		}
	}
	p.mu.Unlock()
	p.emit(event, session)
}

// Object returns a stored object.
func (p *Provider) Object(path string) ([]byte, string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.objects[path]
	return o.data, o.contentType, ok
}

// ObjectPaths lists stored object paths in order.
func (p *Provider) ObjectPaths() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.objects))
	for k := range p.objects {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Profile returns the stored profile row.
func (p *Provider) Profile(userID string) (models.Profile, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pr, ok := p.profiles[userID]
	return pr, ok
}

// begin counts the call, applies latency and returns an injected failure.
func (p *Provider) begin(ctx context.Context, op string) error {
	p.mu.Lock()
	p.calls[op]++
	err := p.failing[op]
	delete(p.failing, op)
	d := p.latency[op]
	p.mu.Unlock()

	if d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	if err != nil {
		return err
	}
	return ctx.Err()
}

func (p *Provider) emit(event provider.Event, session *provider.Session) {
	p.mu.Lock()
	ids := make([]int, 0, len(p.listeners))
	for id := range p.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]provider.Listener, 0, len(ids))
	for _, id := range ids {
		fns = append(fns, p.listeners[id])
	}
	p.mu.Unlock()

	for _, fn := range fns {
		fn(event, cloneSession(session))
	}
}

func (p *Provider) newAccountLocked(email, password string, metadata map[string]interface{}) *account {
	meta := make(map[string]interface{}, len(metadata))
	for k, v := range metadata {
		meta[k] = v
	}
	a := &account{
		user: provider.User{
			ID:        uuid.NewString(),
			Email:     email,
			CreatedAt: time.Now().UTC(),
			Metadata:  meta,
		},
		password: password,
	}
	p.accounts[strings.ToLower(email)] = a
	return a
}

// Identity

func (p *Provider) OnAuthStateChange(fn provider.Listener) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = fn
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.listeners, id)
			p.mu.Unlock()
		})
	}
}

func (p *Provider) GetSession(ctx context.Context) (*provider.Session, error) {
	if err := p.begin(ctx, OpGetSession); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return cloneSession(p.session), nil
}

func (p *Provider) SignUp(ctx context.Context, email, password string, metadata map[string]interface{}) (*provider.User, error) {
	if err := p.begin(ctx, OpSignUp); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.accounts[strings.ToLower(email)]; exists {
		return nil, &provider.Error{Status: http.StatusUnprocessableEntity, Code: provider.CodeEmailTaken, Message: "User already registered"}
	}
	if len(password) < minPasswordLength {
		return nil, &provider.Error{Status: http.StatusUnprocessableEntity, Code: provider.CodeWeakPassword, Message: "Password should be at least 6 characters"}
	}
	a := p.newAccountLocked(email, password, metadata)
	if p.opts.AutoConfirm {
		now := time.Now().UTC()
		a.user.EmailConfirmedAt = &now
	}
	u := a.user
	return &u, nil
}

func (p *Provider) SignInWithPassword(ctx context.Context, email, password string) (*provider.Session, error) {
	if err := p.begin(ctx, OpSignIn); err != nil {
		return nil, err
	}
	p.mu.Lock()
	a, ok := p.accounts[strings.ToLower(email)]
	if !ok || a.password != password {
		p.mu.Unlock()
		return nil, &provider.Error{Status: http.StatusBadRequest, Code: provider.CodeInvalidGrant, Message: "Invalid login credentials"}
	}
	if a.user.EmailConfirmedAt == nil {
		p.mu.Unlock()
		return nil, &provider.Error{Status: http.StatusBadRequest, Code: provider.CodeEmailNotConfirmed, Message: "Email not confirmed"}
	}
	u := a.user
	s := &provider.Session{
		AccessToken:  uuid.NewString(),
		RefreshToken: uuid.NewString(),
		TokenType:    "bearer",
		ExpiresAt:    time.Now().Add(p.opts.SessionTTL),
		User:         &u,
	}
	p.session = s
	p.mu.Unlock()

	p.emit(provider.EventSignedIn, s)
	return cloneSession(s), nil
}

// SignOut clears the session and notifies listeners even when nobody was
// signed in.
func (p *Provider) SignOut(ctx context.Context) error {
	if err := p.begin(ctx, OpSignOut); err != nil {
		return err
	}
	p.mu.Lock()
	p.session = nil
	p.mu.Unlock()
	p.emit(provider.EventSignedOut, nil)
	return nil
}

func (p *Provider) SendPasswordReset(ctx context.Context, email, redirectTo string) error {
	if err := p.begin(ctx, OpSendPasswordReset); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	// Unknown addresses are accepted silently so callers cannot probe accounts.
	if _, ok := p.accounts[strings.ToLower(email)]; ok {
		p.resets = append(p.resets, ResetRequest{Email: email, RedirectTo: redirectTo})
	}
	return nil
}

func (p *Provider) UpdateUser(ctx context.Context, attrs provider.UserAttributes) (*provider.User, error) {
	if err := p.begin(ctx, OpUpdateUser); err != nil {
		return nil, err
	}
	p.mu.Lock()
	if p.session == nil {
		p.mu.Unlock()
		return nil, &provider.Error{Status: http.StatusUnauthorized, Code: provider.CodeUnauthorized, Message: "Auth session missing!"}
	}
	a, ok := p.accounts[strings.ToLower(p.session.User.Email)]
	if !ok {
		p.mu.Unlock()
		return nil, &provider.Error{Status: http.StatusUnauthorized, Code: provider.CodeUnauthorized, Message: "User not found"}
	}
	if attrs.Password != "" {
		if len(attrs.Password) < minPasswordLength {
			p.mu.Unlock()
			return nil, &provider.Error{Status: http.StatusUnprocessableEntity, Code: provider.CodeWeakPassword, Message: "Password should be at least 6 characters"}
		}
		a.password = attrs.Password
	}
	if a.user.Metadata == nil {
		a.user.Metadata = make(map[string]interface{})
	}
	for k, v := range attrs.Metadata {
		a.user.Metadata[k] = v
	}
	u := a.user
	p.session.User = cloneUser(&u)
	s := cloneSession(p.session)
	p.mu.Unlock()

	p.emit(provider.EventUserUpdated, s)
	return cloneUser(&u), nil
}

// RecordStore

func (p *Provider) SelectProfile(ctx context.Context, userID string) (*models.Profile, error) {
	if err := p.begin(ctx, OpSelectProfile); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	pr, ok := p.profiles[userID]
	if !ok {
		return nil, provider.ErrNoRows
	}
	return &pr, nil
}

func (p *Provider) InsertProfileIfAbsent(ctx context.Context, in *models.Profile) (*models.Profile, bool, error) {
	if err := p.begin(ctx, OpInsertProfileIfAbsent); err != nil {
		return nil, false, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if pr, ok := p.profiles[in.ID]; ok {
		return &pr, false, nil
	}
	pr := *in
	p.profiles[in.ID] = pr
	return &pr, true, nil
}

func (p *Provider) UpdateProfileFields(ctx context.Context, userID string, fields models.ProfileFields) (*models.Profile, error) {
	if err := p.begin(ctx, OpUpdateProfileFields); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	pr, ok := p.profiles[userID]
	if !ok {
		return nil, provider.ErrNoRows
	}
	pr.Apply(fields)
	p.profiles[userID] = pr
	return &pr, nil
}

func (p *Provider) UpdateAvatarURL(ctx context.Context, userID, avatarURL string) (*models.Profile, error) {
	if err := p.begin(ctx, OpUpdateAvatarURL); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	pr, ok := p.profiles[userID]
	if !ok {
		return nil, provider.ErrNoRows
	}
	pr.AvatarURL = avatarURL
	pr.UpdatedAt = time.Now().UTC()
	p.profiles[userID] = pr
	return &pr, nil
}

// ObjectStorage

func (p *Provider) Upload(ctx context.Context, path string, body io.Reader, size int64, contentType string, opts provider.UploadOptions) error {
	if err := p.begin(ctx, OpUpload); err != nil {
		return err
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, body); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.objects[path]; exists && !opts.Upsert {
		return &provider.Error{Status: http.StatusConflict, Code: "duplicate", Message: "The resource already exists"}
	}
	p.objects[path] = object{data: buf.Bytes(), contentType: contentType}
	return nil
}

func (p *Provider) PublicURL(path string) string {
	return strings.TrimRight(p.opts.PublicBaseURL, "/") + "/storage/public/avatars/" + path
}

func cloneUser(u *provider.User) *provider.User {
	if u == nil {
		return nil
	}
	c := *u
	if u.Metadata != nil {
		c.Metadata = make(map[string]interface{}, len(u.Metadata))
		for k, v := range u.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

func cloneSession(s *provider.Session) *provider.Session {
	if s == nil {
		return nil
	}
	c := *s
	c.User = cloneUser(s.User)
	return &c
}
