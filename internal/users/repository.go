package users

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/carbontrail/carbontrail/backend/go-services/internal/models"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var (
	ErrEmailTaken = errors.New("email already registered")
	ErrNotFound   = errors.New("user not found")
)

// UserRepository defines persistence operations for users. Lookups return
// nil, nil when no user matches.
type UserRepository interface {
	Create(ctx context.Context, u *models.User) error
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	UpdateMetadata(ctx context.Context, id string, metadata map[string]interface{}) (*models.User, error)
	UpdatePasswordHash(ctx context.Context, id, hash string) error
	MarkConfirmed(ctx context.Context, id string, at time.Time) error
	UpsertBySubject(ctx context.Context, u *models.User) (*models.User, error)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// MongoUserRepository implements UserRepository using MongoDB
type MongoUserRepository struct {
	col *mongo.Collection
}

// NewMongoUserRepository creates a new repository for the given collection
func NewMongoUserRepository(col *mongo.Collection) *MongoUserRepository {
	return &MongoUserRepository{col: col}
}

// EnsureIndexes makes email unique and indexes external subjects.
func (r *MongoUserRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "sub", Value: 1}}, Options: options.Index().SetUnique(true).SetSparse(true)},
	})
	return err
}

func (r *MongoUserRepository) Create(ctx context.Context, u *models.User) error {
	now := time.Now().UTC()
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.Email = normalizeEmail(u.Email)
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	if _, err := r.col.InsertOne(ctx, u); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrEmailTaken
		}
		return err
	}
	return nil
}

func (r *MongoUserRepository) findOne(ctx context.Context, filter bson.M) (*models.User, error) {
	var u models.User
	if err := r.col.FindOne(ctx, filter).Decode(&u); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

func (r *MongoUserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *MongoUserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.findOne(ctx, bson.M{"email": normalizeEmail(email)})
}

// UpdateMetadata merges metadata into the stored map key by key.
func (r *MongoUserRepository) UpdateMetadata(ctx context.Context, id string, metadata map[string]interface{}) (*models.User, error) {
	set := bson.M{"updatedAt": time.Now().UTC()}
	for k, v := range metadata {
		set["metadata."+k] = v
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var updated models.User
	if err := r.col.FindOneAndUpdate(ctx, bson.M{"_id": id}, bson.M{"$set": set}, opts).Decode(&updated); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &updated, nil
}

func (r *MongoUserRepository) updateOne(ctx context.Context, id string, set bson.M) error {
	set["updatedAt"] = time.Now().UTC()
	res, err := r.col.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MongoUserRepository) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	return r.updateOne(ctx, id, bson.M{"passwordHash": hash})
}

func (r *MongoUserRepository) MarkConfirmed(ctx context.Context, id string, at time.Time) error {
	return r.updateOne(ctx, id, bson.M{"emailConfirmedAt": at.UTC()})
}

// UpsertBySubject mirrors a user authenticated by an external issuer.
func (r *MongoUserRepository) UpsertBySubject(ctx context.Context, u *models.User) (*models.User, error) {
	now := time.Now().UTC()
	filter := bson.M{"sub": u.Subject}
	update := bson.M{
		"$set": bson.M{
			"email":     normalizeEmail(u.Email),
			"updatedAt": now,
		},
		"$setOnInsert": bson.M{
			"_id":              uuid.NewString(),
			"metadata":         u.Metadata,
			"emailConfirmedAt": now,
			"createdAt":        now,
		},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	var updated models.User
	if err := r.col.FindOneAndUpdate(ctx, filter, update, opts).Decode(&updated); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, ErrEmailTaken
		}
		return nil, err
	}
	return &updated, nil
}

// MemoryUserRepository keeps users in process.
type MemoryUserRepository struct {
	mu    sync.Mutex
	users map[string]models.User
}

func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{users: make(map[string]models.User)}
}

func (m *MemoryUserRepository) Create(ctx context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u.Email = normalizeEmail(u.Email)
	for _, existing := range m.users {
		if existing.Email == u.Email {
			return ErrEmailTaken
		}
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	m.users[u.ID] = cloneUser(*u)
	return nil
}

func (m *MemoryUserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, nil
	}
	c := cloneUser(u)
	return &c, nil
}

func (m *MemoryUserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	email = normalizeEmail(email)
	for _, u := range m.users {
		if u.Email == email {
			c := cloneUser(u)
			return &c, nil
		}
	}
	return nil, nil
}

func (m *MemoryUserRepository) UpdateMetadata(ctx context.Context, id string, metadata map[string]interface{}) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	if u.Metadata == nil {
		u.Metadata = make(map[string]interface{})
	}
	for k, v := range metadata {
		u.Metadata[k] = v
	}
	u.UpdatedAt = time.Now().UTC()
	m.users[id] = u
	c := cloneUser(u)
	return &c, nil
}

func (m *MemoryUserRepository) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	u.PasswordHash = hash
	u.UpdatedAt = time.Now().UTC()
	m.users[id] = u
	return nil
}

func (m *MemoryUserRepository) MarkConfirmed(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	at = at.UTC()
	u.EmailConfirmedAt = &at
	m.users[id] = u
	return nil
}

func (m *MemoryUserRepository) UpsertBySubject(ctx context.Context, in *models.User) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	for id, u := range m.users {
		if u.Subject == in.Subject {
			u.Email = normalizeEmail(in.Email)
			u.UpdatedAt = now
			m.users[id] = u
			c := cloneUser(u)
			return &c, nil
		}
	}
	u := cloneUser(*in)
	u.ID = uuid.NewString()
	u.Email = normalizeEmail(in.Email)
	u.EmailConfirmedAt = &now
	u.CreatedAt = now
	u.UpdatedAt = now
	m.users[u.ID] = u
	c := cloneUser(u)
	return &c, nil
}

func cloneUser(u models.User) models.User {
	if u.Metadata != nil {
		meta := make(map[string]interface{}, len(u.Metadata))
		for k, v := range u.Metadata {
			meta[k] = v
		}
		u.Metadata = meta
	}
	return u
}
