package handlers

import (
	"context"
	"net/http"

	"mindsync-backend/internal/middleware"
	"mindsync-backend/internal/models"
)

type userGetter interface {
	GetUser(ctx context.Context, userID string) (*models.User, error)
}

// UserHandler handles user-related HTTP requests
type UserHandler struct {
	userService userGetter
}

// NewUserHandler creates a new user handler
func NewUserHandler(userService userGetter) *UserHandler {
	return &UserHandler{
		userService: userService,
	}
}

// GetMe handles GET /api/v1/me
func (h *UserHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	user, err := h.userService.GetUser(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		respondServiceError(w, err, "get user")
		return
	}
	respondJSON(w, http.StatusOK, user)
}
