// Package profile loads, creates and edits the signed-in user's profile and
// avatar.
package profile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/carbontrail/carbontrail/backend/go-services/internal/apperrors"
	"github.com/carbontrail/carbontrail/backend/go-services/internal/models"
	"github.com/carbontrail/carbontrail/backend/go-services/internal/provider"
	"github.com/carbontrail/carbontrail/backend/go-services/pkg/logger"
	"github.com/carbontrail/carbontrail/backend/go-services/pkg/metrics"
)

// MaxAvatarBytes is the largest accepted avatar.
const MaxAvatarBytes int64 = 5 << 20

const (
	MsgAvatarNotImage = "Please select an image file"
	MsgAvatarTooLarge = "Image must be smaller than 5MB"
	MsgLoadFailed     = "Failed to load profile"
	MsgSaveFailed     = "Failed to update profile"
	MsgUploadFailed   = "Failed to upload avatar"
	MsgAvatarNotSaved = "Avatar uploaded but the profile could not be updated"
)

// Avatar is a file picked for upload.
type Avatar struct {
	Name        string
	ContentType string
	Size        int64
	Body        io.Reader
}

type Options struct {
	// Timeout bounds each provider call. Zero means no bound.
	Timeout time.Duration
}

// Repository reads and writes profiles and avatars. Every returned error is
// an *apperrors.Error.
type Repository struct {
	records  provider.RecordStore
	objects  provider.ObjectStorage
	opts     Options
	inFlight atomic.Int32
}

func NewRepository(records provider.RecordStore, objects provider.ObjectStorage, opts Options) *Repository {
	return &Repository{records: records, objects: objects, opts: opts}
}

// InFlight reports whether any operation is running.
func (r *Repository) InFlight() bool {
	return r.inFlight.Load() > 0
}

// LoadProfile returns the user's profile, creating the default one the first
// time it is read.
func (r *Repository) LoadProfile(ctx context.Context, user *provider.User) (*models.Profile, error) {
	defer r.begin()()
	if user == nil || user.ID == "" {
		return nil, apperrors.New(apperrors.KindUnauthenticated, "You must be signed in to view your profile")
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	p, err := r.records.SelectProfile(ctx, user.ID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, provider.ErrNoRows) {
		return nil, wrap(MsgLoadFailed, err)
	}

	def := models.NewDefaultProfile(user.ID, user.Email, user.Metadata)
	p, created, err := r.records.InsertProfileIfAbsent(ctx, def)
	if err != nil {
		return nil, wrap(MsgLoadFailed, err)
	}
	if created {
		metrics.ProfilesCreated.Inc()
		logger.Infof("profile: created default profile for user %s", user.ID)
	}
	return p, nil
}

// SaveProfile overwrites the editable fields. An empty date of birth is
// stored as no value.
func (r *Repository) SaveProfile(ctx context.Context, userID string, fields models.ProfileFields) (*models.Profile, error) {
	defer r.begin()()
	if userID == "" {
		return nil, apperrors.New(apperrors.KindUnauthenticated, "You must be signed in to update your profile")
	}
	dob, err := models.NormalizeDateOfBirth(fields.DateOfBirth)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindValidation, "Date of birth must be in YYYY-MM-DD format", err)
	}
	fields.DateOfBirth = dob

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	p, err := r.records.UpdateProfileFields(ctx, userID, fields)
	if errors.Is(err, provider.ErrNoRows) {
		if err = r.ensureRow(ctx, userID); err == nil {
			p, err = r.records.UpdateProfileFields(ctx, userID, fields)
		}
	}
	if err != nil {
		return nil, wrap(MsgSaveFailed, err)
	}
	return p, nil
}

// UploadAvatar stores a new avatar object and points the profile at it.
// The previous object is left in storage. If the profile update fails the new
// object is orphaned and a ProfileWriteConflict is returned.
func (r *Repository) UploadAvatar(ctx context.Context, userID string, a Avatar) (url string, err error) {
	defer r.begin()()
	defer func() { metrics.AvatarUploads.WithLabelValues(metrics.Outcome(err)).Inc() }()

	if userID == "" {
		return "", apperrors.New(apperrors.KindUnauthenticated, "You must be signed in to upload an avatar")
	}
	if err := ValidateAvatar(a); err != nil {
		return "", err
	}

	objectPath := AvatarPath(userID, a.Name, a.ContentType)

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	// The row must exist before the object is stored, or the later update
	// has nothing to point at.
	if _, err := r.records.SelectProfile(ctx, userID); err != nil {
		if !errors.Is(err, provider.ErrNoRows) {
			return "", wrap(MsgUploadFailed, err)
		}
		if err := r.ensureRow(ctx, userID); err != nil {
			return "", wrap(MsgUploadFailed, err)
		}
	}

	if err := r.objects.Upload(ctx, objectPath, a.Body, a.Size, a.ContentType, provider.UploadOptions{Upsert: true}); err != nil {
		return "", wrap(MsgUploadFailed, err)
	}
	publicURL := r.objects.PublicURL(objectPath)

	if _, err := r.records.UpdateAvatarURL(ctx, userID, publicURL); err != nil {
		logger.Warnf("profile: avatar %s stored but profile %s not updated: %v", objectPath, userID, err)
		if errors.Is(err, context.DeadlineExceeded) {
			return "", apperrors.Wrap(apperrors.KindTimeout, "The request timed out. Please try again.", err)
		}
		return "", apperrors.Wrap(apperrors.KindProfileWriteConflict, MsgAvatarNotSaved, err)
	}
	return publicURL, nil
}

// ensureRow inserts a default row for a user whose profile was never read.
// Callers that hold the full user should go through LoadProfile instead so
// the username and name are seeded from the account.
func (r *Repository) ensureRow(ctx context.Context, userID string) error {
	_, created, err := r.records.InsertProfileIfAbsent(ctx, models.NewDefaultProfile(userID, "", nil))
	if err != nil {
		return err
	}
	if created {
		metrics.ProfilesCreated.Inc()
		logger.Infof("profile: created default profile for %s on first write", userID)
	}
	return nil
}

// ValidateAvatarMeta checks the content type and declared size of an avatar.
// The storage service runs it on request headers before reading the body.
func ValidateAvatarMeta(contentType string, size int64) error {
	if !strings.HasPrefix(strings.ToLower(contentType), "image/") {
		return apperrors.New(apperrors.KindValidation, MsgAvatarNotImage)
	}
	if size > MaxAvatarBytes {
		return apperrors.New(apperrors.KindValidation, MsgAvatarTooLarge)
	}
	return nil
}

// ValidateAvatar applies the local checks that run before any upload.
func ValidateAvatar(a Avatar) error {
	if err := ValidateAvatarMeta(a.ContentType, a.Size); err != nil {
		return err
	}
	if a.Body == nil {
		return apperrors.New(apperrors.KindValidation, "No file selected")
	}
	return nil
}

// AvatarPath returns <userID>/<random>.<ext>. The extension comes from the
// file name, or from the content type when the name has none.
func AvatarPath(userID, name, contentType string) string {
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(name)), ".")
	if ext == "" {
		if exts, _ := mime.ExtensionsByType(contentType); len(exts) > 0 {
			ext = strings.TrimPrefix(exts[0], ".")
		}
	}
	if ext == "" {
		ext = "img"
	}
	return fmt.Sprintf("%s/%s.%s", userID, uuid.NewString(), ext)
}

func (r *Repository) begin() func() {
	r.inFlight.Add(1)
	return func() { r.inFlight.Add(-1) }
}

func (r *Repository) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.opts.Timeout > 0 {
		return context.WithTimeout(ctx, r.opts.Timeout)
	}
	return context.WithCancel(ctx)
}

func wrap(msg string, err error) *apperrors.Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.Wrap(apperrors.KindTimeout, "The request timed out. Please try again.", err)
	}
	if pe, ok := provider.AsError(err); ok && pe.Status == 401 {
		return apperrors.Wrap(apperrors.KindUnauthenticated, "Your session has expired. Please sign in again.", err)
	}
	if errors.Is(err, provider.ErrNoRows) {
		return apperrors.Wrap(apperrors.KindNotFound, "Profile not found", err)
	}
	return apperrors.Wrap(apperrors.KindProfileOperationFailed, msg, err)
}
