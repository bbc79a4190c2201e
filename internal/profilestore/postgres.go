package profilestore

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carbontrail/carbontrail/backend/go-services/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS profiles (
	id                    TEXT PRIMARY KEY,
	full_name             TEXT NOT NULL DEFAULT '',
	username              TEXT NOT NULL DEFAULT '',
	bio                   TEXT NOT NULL DEFAULT '',
	phone                 TEXT NOT NULL DEFAULT '',
	website               TEXT NOT NULL DEFAULT '',
	location              TEXT NOT NULL DEFAULT '',
	date_of_birth         DATE,
	avatar_url            TEXT NOT NULL DEFAULT '',
	notifications_enabled BOOLEAN NOT NULL DEFAULT TRUE,
	email_notifications   BOOLEAN NOT NULL DEFAULT TRUE,
	public_profile        BOOLEAN NOT NULL DEFAULT FALSE,
	created_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at            TIMESTAMPTZ NOT NULL DEFAULT now()
)`

const columns = `id, full_name, username, bio, phone, website, location,
	to_char(date_of_birth, 'YYYY-MM-DD'), avatar_url, notifications_enabled,
	email_notifications, public_profile, created_at, updated_at`

// PostgresStore keeps profiles in the profiles table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates the profiles table when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	return err
}

func scanProfile(row pgx.Row) (*models.Profile, error) {
	var p models.Profile
	err := row.Scan(&p.ID, &p.FullName, &p.Username, &p.Bio, &p.Phone, &p.Website, &p.Location,
		&p.DateOfBirth, &p.AvatarURL, &p.NotificationsEnabled, &p.EmailNotifications, &p.PublicProfile,
		&p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*models.Profile, error) {
	return scanProfile(s.pool.QueryRow(ctx, `SELECT `+columns+` FROM profiles WHERE id = $1`, id))
}

// InsertIfAbsent relies on ON CONFLICT DO NOTHING; RETURNING yields no row
// when another writer got there first.
func (s *PostgresStore) InsertIfAbsent(ctx context.Context, in *models.Profile) (*models.Profile, bool, error) {
	p := *in
	stampCreated(&p)
	inserted, err := scanProfile(s.pool.QueryRow(ctx, `
		INSERT INTO profiles (id, full_name, username, bio, phone, website, location, date_of_birth,
			avatar_url, notifications_enabled, email_notifications, public_profile, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::text::date, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO NOTHING
		RETURNING `+columns,
		p.ID, p.FullName, p.Username, p.Bio, p.Phone, p.Website, p.Location, p.DateOfBirth,
		p.AvatarURL, p.NotificationsEnabled, p.EmailNotifications, p.PublicProfile, p.CreatedAt, p.UpdatedAt))
	if err == nil {
		return inserted, true, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}
	existing, err := s.Get(ctx, p.ID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (s *PostgresStore) UpdateFields(ctx context.Context, id string, f models.ProfileFields) (*models.Profile, error) {
	return scanProfile(s.pool.QueryRow(ctx, `
		UPDATE profiles SET full_name = $2, username = $3, bio = $4, phone = $5, website = $6,
			location = $7, date_of_birth = $8::text::date, notifications_enabled = $9,
			email_notifications = $10, public_profile = $11, updated_at = now()
		WHERE id = $1
		RETURNING `+columns,
		id, f.FullName, f.Username, f.Bio, f.Phone, f.Website, f.Location, f.DateOfBirth,
		f.NotificationsEnabled, f.EmailNotifications, f.PublicProfile))
}

func (s *PostgresStore) UpdateAvatarURL(ctx context.Context, id, avatarURL string) (*models.Profile, error) {
	return scanProfile(s.pool.QueryRow(ctx,
		`UPDATE profiles SET avatar_url = $2, updated_at = now() WHERE id = $1 RETURNING `+columns,
		id, avatarURL))
}
