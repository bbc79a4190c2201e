package profilestore

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/carbontrail/carbontrail/backend/go-services/internal/models"
)

// MongoStore keeps profiles in a collection with the user id as _id.
type MongoStore struct {
	col *mongo.Collection
}

var _ Store = (*MongoStore)(nil)

func NewMongoStore(col *mongo.Collection) *MongoStore {
	return &MongoStore{col: col}
}

func (s *MongoStore) findOneAndUpdate(ctx context.Context, id string, update bson.M) (*models.Profile, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var p models.Profile
	if err := s.col.FindOneAndUpdate(ctx, bson.M{"_id": id}, update, opts).Decode(&p); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *MongoStore) Get(ctx context.Context, id string) (*models.Profile, error) {
	var p models.Profile
	if err := s.col.FindOne(ctx, bson.M{"_id": id}).Decode(&p); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// InsertIfAbsent upserts with $setOnInsert so concurrent first reads create
// exactly one row. The pre-image tells whether this call inserted it.
func (s *MongoStore) InsertIfAbsent(ctx context.Context, in *models.Profile) (*models.Profile, bool, error) {
	p := *in
	stampCreated(&p)
	doc, err := insertDoc(&p)
	if err != nil {
		return nil, false, err
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.Before)
	var existing models.Profile
	err = s.col.FindOneAndUpdate(ctx, bson.M{"_id": p.ID}, bson.M{"$setOnInsert": doc}, opts).Decode(&existing)
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		return &p, true, nil
	case err != nil:
		return nil, false, err
	}
	return &existing, false, nil
}

func (s *MongoStore) UpdateFields(ctx context.Context, id string, f models.ProfileFields) (*models.Profile, error) {
	set := fieldsDoc(f)
	set["updated_at"] = time.Now().UTC()
	return s.findOneAndUpdate(ctx, id, bson.M{"$set": set})
}

func (s *MongoStore) UpdateAvatarURL(ctx context.Context, id, avatarURL string) (*models.Profile, error) {
	return s.findOneAndUpdate(ctx, id, bson.M{"$set": bson.M{"avatar_url": avatarURL, "updated_at": time.Now().UTC()}})
}

// insertDoc is the profile document without _id, which the upsert takes
// from the filter.
func insertDoc(p *models.Profile) (bson.M, error) {
	raw, err := bson.Marshal(p)
	if err != nil {
		return nil, err
	}
	var doc bson.M
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	delete(doc, "_id")
	return doc, nil
}

func fieldsDoc(f models.ProfileFields) bson.M {
	return bson.M{
		"full_name":             f.FullName,
		"username":              f.Username,
		"bio":                   f.Bio,
		"phone":                 f.Phone,
		"website":               f.Website,
		"location":              f.Location,
		"date_of_birth":         f.DateOfBirth,
		"notifications_enabled": f.NotificationsEnabled,
		"email_notifications":   f.EmailNotifications,
		"public_profile":        f.PublicProfile,
	}
}
