package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"mindsync-backend/internal/middleware"
	"mindsync-backend/internal/models"
	"mindsync-backend/internal/services"

	"github.com/rs/zerolog/log"
)

type groupService interface {
	ListGroups(ctx context.Context, userID string) (*models.GroupLists, error)
	GetGroup(ctx context.Context, groupID int64) (*models.GroupDetail, error)
	IsMember(ctx context.Context, groupID int64, userID string) (bool, error)
}

type messageService interface {
	History(ctx context.Context, groupID int64) ([]models.FormattedMessage, error)
	Send(ctx context.Context, groupID int64, userID, content string) (*models.Message, error)
	Open(ctx context.Context, groupID int64) *services.ChatSession
}

// SendMessageRequest is the body of a message send
type SendMessageRequest struct {
	Content string `json:"content"`
}

// GroupHandler handles group and chat HTTP requests
type GroupHandler struct {
	groupService   groupService
	messageService messageService
}

// NewGroupHandler creates a new group handler
func NewGroupHandler(groupService groupService, messageService messageService) *GroupHandler {
	return &GroupHandler{
		groupService:   groupService,
		messageService: messageService,
	}
}

// ListGroups handles GET /api/v1/groups
func (h *GroupHandler) ListGroups(w http.ResponseWriter, r *http.Request) {
	lists, err := h.groupService.ListGroups(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		respondServiceError(w, err, "list groups")
		return
	}
	respondJSON(w, http.StatusOK, lists)
}

// GetGroup handles GET /api/v1/groups/{group_id}
func (h *GroupHandler) GetGroup(w http.ResponseWriter, r *http.Request) {
	groupID, ok := h.authorize(w, r)
	if !ok {
		return
	}

	detail, err := h.groupService.GetGroup(r.Context(), groupID)
	if err != nil {
		respondServiceError(w, err, "get group")
		return
	}
	respondJSON(w, http.StatusOK, detail)
}

// GetMessages handles GET /api/v1/groups/{group_id}/messages
func (h *GroupHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	groupID, ok := h.authorize(w, r)
	if !ok {
		return
	}

	messages, err := h.messageService.History(r.Context(), groupID)
	if err != nil {
		respondServiceError(w, err, "get messages")
		return
	}
	respondJSON(w, http.StatusOK, messages)
}

// SendMessage handles POST /api/v1/groups/{group_id}/messages
func (h *GroupHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	groupID, ok := h.authorize(w, r)
	if !ok {
		return
	}

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	userID := middleware.GetUserID(r.Context())
	msg, err := h.messageService.Send(r.Context(), groupID, userID, req.Content)
	if err != nil {
		respondServiceError(w, err, "send message")
		return
	}

	log.Info().
		Str("user_id", userID).
		Int64("group_id", groupID).
		Int64("message_id", msg.ID).
		Msg("Message sent")

	respondJSON(w, http.StatusCreated, msg)
}

// authorize parses the group id and checks that the caller is a member
func (h *GroupHandler) authorize(w http.ResponseWriter, r *http.Request) (int64, bool) {
	groupID, ok := urlID(r, "group_id")
	if !ok {
		respondError(w, "Invalid group id", http.StatusBadRequest)
		return 0, false
	}

	member, err := h.groupService.IsMember(r.Context(), groupID, middleware.GetUserID(r.Context()))
	if err != nil {
		respondServiceError(w, err, "check membership")
		return 0, false
	}
	if !member {
		respondError(w, "You are not a member of this group", http.StatusForbidden)
		return 0, false
	}
	return groupID, true
}
