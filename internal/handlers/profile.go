package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"mindsync-backend/internal/middleware"
	"mindsync-backend/internal/models"

	"github.com/rs/zerolog/log"
)

const maxUploadBytes = 5 << 20

type profileService interface {
	GetProfile(ctx context.Context, userID string) (*models.Profile, error)
	UpdateProfile(ctx context.Context, userID string, patch *models.ProfilePatch) (*models.Profile, error)
	CompleteOnboarding(ctx context.Context, userID string, patch *models.ProfilePatch) (*models.Profile, error)
	UploadImage(ctx context.Context, userID, contentType string, data []byte) (*models.Profile, error)
}

// ProfileHandler handles profile HTTP requests
type ProfileHandler struct {
	profileService profileService
}

// NewProfileHandler creates a new profile handler
func NewProfileHandler(profileService profileService) *ProfileHandler {
	return &ProfileHandler{profileService: profileService}
}

// GetProfile handles GET /api/v1/profile
func (h *ProfileHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := h.profileService.GetProfile(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		respondServiceError(w, err, "get profile")
		return
	}
	respondJSON(w, http.StatusOK, profile)
}

// UpdateProfile handles PATCH /api/v1/profile
func (h *ProfileHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var patch models.ProfilePatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	userID := middleware.GetUserID(r.Context())
	profile, err := h.profileService.UpdateProfile(r.Context(), userID, &patch)
	if err != nil {
		respondServiceError(w, err, "update profile")
		return
	}

	log.Info().Str("user_id", userID).Msg("Profile updated")
	respondJSON(w, http.StatusOK, profile)
}

// CompleteOnboarding handles POST /api/v1/profile/onboarding
func (h *ProfileHandler) CompleteOnboarding(w http.ResponseWriter, r *http.Request) {
	var patch models.ProfilePatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	userID := middleware.GetUserID(r.Context())
	profile, err := h.profileService.CompleteOnboarding(r.Context(), userID, &patch)
	if err != nil {
		respondServiceError(w, err, "complete onboarding")
		return
	}

	log.Info().Str("user_id", userID).Msg("Onboarding completed")
	respondJSON(w, http.StatusOK, profile)
}

// UploadImage handles PUT /api/v1/profile/image with the raw image as body
func (h *ProfileHandler) UploadImage(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxUploadBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, "File size must be less than 5MB", http.StatusRequestEntityTooLarge)
			return
		}
		respondError(w, "Failed to read image", http.StatusBadRequest)
		return
	}

	userID := middleware.GetUserID(r.Context())
	profile, err := h.profileService.UploadImage(r.Context(), userID, r.Header.Get("Content-Type"), data)
	if err != nil {
		respondServiceError(w, err, "upload image")
		return
	}

	log.Info().Str("user_id", userID).Int("bytes", len(data)).Msg("Profile image uploaded")
	respondJSON(w, http.StatusOK, profile)
}
