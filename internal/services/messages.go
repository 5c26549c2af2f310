package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"mindsync-backend/internal/cache"
	"mindsync-backend/internal/models"
	"mindsync-backend/internal/realtime"
)

// MessageStore is the persistence the message flow needs
type MessageStore interface {
	Create(ctx context.Context, groupID int64, userID *string, content string) (*models.Message, error)
	GetByID(ctx context.Context, id int64) (*models.Message, error)
	ListByGroup(ctx context.Context, groupID int64) ([]models.Message, error)
	CountByGroup(ctx context.Context, groupID int64) (int64, error)
	LastActivity(ctx context.Context, groupID int64) (*time.Time, error)
}

// ProfileLookup resolves sender and member display fields
type ProfileLookup interface {
	GetSummary(ctx context.Context, userID string) (*models.ProfileSummary, error)
	GetSummaries(ctx context.Context, userIDs []string) (map[string]models.ProfileSummary, error)
}

// GroupGetter reads a single group
type GroupGetter interface {
	GetByID(ctx context.Context, id int64) (*models.Group, error)
}

// MessageService handles chat history, sending and live sessions
type MessageService struct {
	messages MessageStore
	profiles ProfileLookup
	groups   GroupGetter
	cache    *cache.Store
	broker   *realtime.Broker
	now      func() time.Time

	feedsMu sync.Mutex
	feeds   map[int64]*groupFeed
}

// NewMessageService creates a new message service
func NewMessageService(
	messages MessageStore,
	profiles ProfileLookup,
	groups GroupGetter,
	cacheStore *cache.Store,
	broker *realtime.Broker,
) *MessageService {
	return &MessageService{
		messages: messages,
		profiles: profiles,
		groups:   groups,
		cache:    cacheStore,
		broker:   broker,
		now:      time.Now,
		feeds:    make(map[int64]*groupFeed),
	}
}

// History returns a group's formatted messages, oldest first
func (s *MessageService) History(ctx context.Context, groupID int64) ([]models.FormattedMessage, error) {
	if groupID <= 0 {
		return []models.FormattedMessage{}, nil
	}
	return cache.Fetch(ctx, s.cache, cache.MessagesKey(groupID), func(ctx context.Context) ([]models.FormattedMessage, error) {
		return s.loadHistory(ctx, groupID)
	})
}

func (s *MessageService) loadHistory(ctx context.Context, groupID int64) ([]models.FormattedMessage, error) {
	messages, err := s.messages.ListByGroup(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	if len(messages) == 0 {
		return []models.FormattedMessage{}, nil
	}

	seen := make(map[string]struct{})
	senderIDs := make([]string, 0)
	for _, m := range messages {
		if m.UserID == nil {
			continue
		}
		if _, ok := seen[*m.UserID]; ok {
			continue
		}
		seen[*m.UserID] = struct{}{}
		senderIDs = append(senderIDs, *m.UserID)
	}

	profiles, err := s.profiles.GetSummaries(ctx, senderIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load senders: %w", err)
	}

	formatted := make([]models.FormattedMessage, 0, len(messages))
	for _, m := range messages {
		var sender *models.ProfileSummary
		if m.UserID != nil {
			if p, ok := profiles[*m.UserID]; ok {
				sender = &p
			}
		}
		formatted = append(formatted, formatMessage(m, sender))
	}
	return formatted, nil
}

// Send stores a new message. Live feeds pick it up from the change feed.
func (s *MessageService) Send(ctx context.Context, groupID int64, userID, content string) (*models.Message, error) {
	if strings.TrimSpace(content) == "" || userID == "" || groupID <= 0 {
		return nil, fmt.Errorf("%w: content, sender and a valid group are required", models.ErrInvalidInput)
	}

	group, err := s.groups.GetByID(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if group.IsArchived(s.now()) {
		return nil, models.ErrGroupArchived
	}

	msg, err := s.messages.Create(ctx, groupID, &userID, content)
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// formatMessage shapes a row for display using the sender's profile, if any
func formatMessage(m models.Message, sender *models.ProfileSummary) models.FormattedMessage {
	f := models.FormattedMessage{
		ID:           m.ID,
		SenderID:     m.UserID,
		SenderName:   models.DefaultSenderName,
		SenderAvatar: models.PlaceholderAvatar,
		Content:      m.Content,
		Timestamp:    m.CreatedAt,
	}
	if sender != nil {
		f.SenderName = models.DisplayName(sender.Email)
		f.SenderAvatar = models.Avatar(sender.ImageURL)
	}
	return f
}
