package services

import (
	"context"
	"fmt"
	"strings"

	"mindsync-backend/internal/cache"
	"mindsync-backend/internal/models"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
)

// ProfileStore is the persistence the profile flow needs
type ProfileStore interface {
	GetByUserID(ctx context.Context, userID string) (*models.Profile, error)
	Create(ctx context.Context, userID string, email *string) error
	Update(ctx context.Context, userID string, patch *models.ProfilePatch) (*models.Profile, error)
}

// UserGetter reads a user
type UserGetter interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
}

// ProfileService handles profile reads and merge-patch updates
type ProfileService struct {
	store    ProfileStore
	users    UserGetter
	images   ImageStore
	cache    *cache.Store
	validate *validator.Validate
}

// NewProfileService creates a new profile service
func NewProfileService(store ProfileStore, users UserGetter, images ImageStore, cacheStore *cache.Store) *ProfileService {
	return &ProfileService{
		store:    store,
		users:    users,
		images:   images,
		cache:    cacheStore,
		validate: validator.New(),
	}
}

// GetProfile returns the user's profile
func (s *ProfileService) GetProfile(ctx context.Context, userID string) (*models.Profile, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", models.ErrInvalidInput)
	}

	profile, err := cache.Fetch(ctx, s.cache, cache.ProfileKey(userID), func(ctx context.Context) (*models.Profile, error) {
		return s.store.GetByUserID(ctx, userID)
	})
	if err != nil {
		return nil, err
	}

	profile.DisplayImageURL = models.DisplayImageURL(profile.ImageURL)
	return profile, nil
}

// UpdateProfile applies a merge-patch; fields absent from the patch are
// left unchanged
func (s *ProfileService) UpdateProfile(ctx context.Context, userID string, patch *models.ProfilePatch) (*models.Profile, error) {
	if userID == "" || patch == nil {
		return nil, fmt.Errorf("%w: user id and patch are required", models.ErrInvalidInput)
	}
	if err := s.validate.Struct(patch); err != nil {
		return nil, fmt.Errorf("%w: %s", models.ErrInvalidInput, err.Error())
	}
	if patch.TraitsVector != nil {
		if err := patch.TraitsVector.Validate(); err != nil {
			return nil, err
		}
	}

	profile, err := s.store.Update(ctx, userID, patch)
	if err != nil {
		return nil, err
	}

	if err := s.cache.Invalidate(ctx, cache.ProfileKey(userID)); err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("Failed to invalidate profile cache")
	}

	profile.DisplayImageURL = models.DisplayImageURL(profile.ImageURL)
	return profile, nil
}

// CompleteOnboarding creates the profile if needed, applies patch and
// marks the user as onboarded
func (s *ProfileService) CompleteOnboarding(ctx context.Context, userID string, patch *models.ProfilePatch) (*models.Profile, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", models.ErrInvalidInput)
	}
	if patch == nil {
		patch = &models.ProfilePatch{}
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if err := s.store.Create(ctx, userID, &user.Email); err != nil {
		return nil, err
	}

	onboarded := true
	patch.IsOnboarded = &onboarded
	return s.UpdateProfile(ctx, userID, patch)
}

// UploadImage stores a new profile picture and points the profile at it
func (s *ProfileService) UploadImage(ctx context.Context, userID, contentType string, data []byte) (*models.Profile, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", models.ErrInvalidInput)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty image", models.ErrInvalidInput)
	}
	if len(data) > maxImageSize {
		return nil, fmt.Errorf("%w: file size must be less than 5MB", models.ErrInvalidInput)
	}
	if !strings.HasPrefix(contentType, "image/") {
		return nil, fmt.Errorf("%w: file must be an image", models.ErrInvalidInput)
	}

	data, contentType = compressImage(data, contentType)

	url, err := s.images.Store(ctx, userID, contentType, data)
	if err != nil {
		return nil, err
	}

	return s.UpdateProfile(ctx, userID, &models.ProfilePatch{ImageURL: &url})
}
