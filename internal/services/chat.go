package services

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"mindsync-backend/internal/cache"
	"mindsync-backend/internal/models"
	"mindsync-backend/internal/realtime"

	"github.com/rs/zerolog/log"
)

const (
	sessionBufferSize = 64
	eventTimeout      = 5 * time.Second
)

// groupFeed holds the single change subscription of a group and fans
// formatted messages out to every open session of that group. Each event
// is appended to the shared cache entry once per process.
type groupFeed struct {
	groupID int64
	sub     *realtime.Subscription

	mu       sync.Mutex
	sessions map[*ChatSession]struct{}
}

// ChatSession is one consumer's live view of a group chat
type ChatSession struct {
	service *MessageService
	groupID int64

	initial []models.FormattedMessage
	loadErr error

	mu      sync.Mutex
	live    []models.FormattedMessage
	updates chan models.FormattedMessage
	closed  bool
}

// Open loads a group's history and starts following new messages. A
// non-positive group id yields a disabled session that never touches the
// backend.
func (s *MessageService) Open(ctx context.Context, groupID int64) *ChatSession {
	session := &ChatSession{
		service: s,
		groupID: groupID,
		updates: make(chan models.FormattedMessage, sessionBufferSize),
	}
	if groupID <= 0 {
		session.initial = []models.FormattedMessage{}
		session.closed = true
		close(session.updates)
		return session
	}

	session.initial, session.loadErr = s.History(ctx, groupID)
	if session.loadErr != nil {
		log.Error().Err(session.loadErr).Int64("group_id", groupID).Msg("Failed to load chat history")
	}

	s.attach(session)
	return session
}

// Err returns the error of the initial history load, if any
func (c *ChatSession) Err() error {
	return c.loadErr
}

// GroupID returns the group the session follows
func (c *ChatSession) GroupID() int64 {
	return c.groupID
}

// Updates delivers messages as they arrive. Closed by Close.
func (c *ChatSession) Updates() <-chan models.FormattedMessage {
	return c.updates
}

// Messages returns the session's view of the chat. Once a live message has
// arrived the locally accumulated list is authoritative; before that the
// shared cache is.
func (c *ChatSession) Messages(ctx context.Context) ([]models.FormattedMessage, error) {
	c.mu.Lock()
	if len(c.live) > 0 {
		out := make([]models.FormattedMessage, len(c.live))
		copy(out, c.live)
		c.mu.Unlock()
		return out, nil
	}
	c.mu.Unlock()

	if c.groupID <= 0 {
		return []models.FormattedMessage{}, nil
	}
	return c.service.History(ctx, c.groupID)
}

// Close stops following the group. No update is delivered after it returns.
func (c *ChatSession) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.service.detach(c)

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.updates)
	}
}

func (c *ChatSession) push(msg models.FormattedMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	if len(c.live) == 0 {
		c.live = append(c.live, c.initial...)
	}
	c.live = append(c.live, msg)

	select {
	case c.updates <- msg:
	default:
		log.Warn().Int64("group_id", c.groupID).Int64("message_id", msg.ID).Msg("Chat session lagging, update dropped")
	}
}

func (s *MessageService) attach(session *ChatSession) {
	s.feedsMu.Lock()
	defer s.feedsMu.Unlock()

	feed, ok := s.feeds[session.groupID]
	if !ok {
		feed = &groupFeed{
			groupID:  session.groupID,
			sessions: make(map[*ChatSession]struct{}),
			sub: s.broker.Subscribe(realtime.Filter{
				Table:   "messages",
				Actions: []realtime.Action{realtime.ActionInsert},
				Column:  "group_id",
				Value:   strconv.FormatInt(session.groupID, 10),
			}),
		}
		s.feeds[session.groupID] = feed
		go s.runFeed(feed)
	}

	feed.mu.Lock()
	feed.sessions[session] = struct{}{}
	feed.mu.Unlock()
}

func (s *MessageService) detach(session *ChatSession) {
	s.feedsMu.Lock()
	defer s.feedsMu.Unlock()

	feed, ok := s.feeds[session.groupID]
	if !ok {
		return
	}

	feed.mu.Lock()
	delete(feed.sessions, session)
	empty := len(feed.sessions) == 0
	feed.mu.Unlock()

	if empty {
		delete(s.feeds, session.groupID)
		feed.sub.Release()
	}
}

// OpenFeeds returns the number of groups currently followed
func (s *MessageService) OpenFeeds() int {
	s.feedsMu.Lock()
	defer s.feedsMu.Unlock()
	return len(s.feeds)
}

func (s *MessageService) runFeed(feed *groupFeed) {
	for event := range feed.sub.Events() {
		ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
		msg, ok := s.resolveEvent(ctx, feed.groupID, event)
		if ok {
			if err := cache.Append(ctx, s.cache, cache.MessagesKey(feed.groupID), msg); err != nil {
				log.Warn().Err(err).Int64("group_id", feed.groupID).Msg("Failed to append message to cache")
			}

			feed.mu.Lock()
			for session := range feed.sessions {
				session.push(msg)
			}
			feed.mu.Unlock()
		}
		cancel()
	}
}

// resolveEvent turns an insert event into a formatted message. Truncated
// events are re-read by id.
func (s *MessageService) resolveEvent(ctx context.Context, groupID int64, event realtime.Event) (models.FormattedMessage, bool) {
	var m models.Message
	if event.TooLong {
		id, ok := event.RowID()
		if !ok {
			log.Warn().Str("table", event.Table).Msg("Truncated message event without id")
			return models.FormattedMessage{}, false
		}
		stored, err := s.messages.GetByID(ctx, id)
		if err != nil {
			log.Error().Err(err).Int64("message_id", id).Msg("Failed to re-read message")
			return models.FormattedMessage{}, false
		}
		m = *stored
	} else if err := json.Unmarshal(event.New, &m); err != nil {
		log.Warn().Err(err).Int64("group_id", groupID).Msg("Undecodable message event")
		return models.FormattedMessage{}, false
	}

	if m.GroupID != groupID {
		return models.FormattedMessage{}, false
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now()
	}

	var sender *models.ProfileSummary
	if m.UserID != nil {
		p, err := s.profiles.GetSummary(ctx, *m.UserID)
		if err != nil {
			log.Warn().Err(err).Str("user_id", *m.UserID).Msg("Failed to resolve message sender")
		}
		sender = p
	}
	return formatMessage(m, sender), true
}
