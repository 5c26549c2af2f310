package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"mindsync-backend/internal/middleware"
	"mindsync-backend/internal/models"
	"mindsync-backend/internal/services"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocketHandler handles WebSocket connections
type WebSocketHandler struct {
	hub            *services.WSHub
	tokens         middleware.TokenValidator
	groupService   groupService
	messageService messageService
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(
	hub *services.WSHub,
	tokens middleware.TokenValidator,
	groupService groupService,
	messageService messageService,
) *WebSocketHandler {
	return &WebSocketHandler{
		hub:            hub,
		tokens:         tokens,
		groupService:   groupService,
		messageService: messageService,
	}
}

// wsConnection is the per-connection state: one chat session per
// subscribed group
type wsConnection struct {
	h      *WebSocketHandler
	client *services.WSClient

	mu       sync.Mutex
	sessions map[int64]*services.ChatSession
	forwards sync.WaitGroup
}

// HandleWebSocket handles WebSocket connections
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.ValidateWebSocketToken(middleware.WebSocketToken(r), h.tokens)
	if err != nil {
		respondError(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	c := &wsConnection{
		h:        h,
		client:   h.hub.Register(userID, conn),
		sessions: make(map[int64]*services.ChatSession),
	}
	defer h.hub.Unregister(c.client)
	defer c.closeSessions()

	log.Info().Str("user_id", userID).Msg("WebSocket connection established")

	ctx := r.Context()
	for {
		_, messageBytes, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Error().Err(err).Str("user_id", userID).Msg("WebSocket error")
			}
			break
		}

		var msg services.WSMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			log.Error().Err(err).Str("user_id", userID).Msg("Failed to parse WebSocket message")
			c.sendError(0, "Invalid message format")
			continue
		}

		if err := c.handleMessage(ctx, msg); err != nil {
			log.Error().Err(err).Str("user_id", userID).Str("type", msg.Type).Msg("Failed to handle message")
			c.sendError(msg.GroupID, clientError(err))
		}
	}
}

// handleMessage processes incoming WebSocket messages
func (c *wsConnection) handleMessage(ctx context.Context, msg services.WSMessage) error {
	switch msg.Type {
	case "subscribe":
		return c.subscribe(ctx, msg.GroupID)
	case "unsubscribe":
		c.unsubscribe(msg.GroupID)
		return nil
	case "send_message":
		return c.sendMessage(ctx, msg.GroupID, msg.Content)
	default:
		c.sendError(msg.GroupID, "Unknown message type")
		return nil
	}
}

func (c *wsConnection) authorize(ctx context.Context, groupID int64) error {
	if groupID <= 0 {
		return models.ErrInvalidInput
	}
	member, err := c.h.groupService.IsMember(ctx, groupID, c.client.UserID)
	if err != nil {
		return err
	}
	if !member {
		return models.ErrForbidden
	}
	return nil
}

// subscribe opens a chat session, sends its history and then forwards
// every live message until the session is closed. Updates buffered while
// the history was sent are skipped when the history already holds them.
func (c *wsConnection) subscribe(ctx context.Context, groupID int64) error {
	if err := c.authorize(ctx, groupID); err != nil {
		return err
	}

	c.mu.Lock()
	session, exists := c.sessions[groupID]
	c.mu.Unlock()

	if exists {
		history, err := session.Messages(ctx)
		if err != nil {
			return err
		}
		return c.client.Send(services.WSMessage{Type: "history", GroupID: groupID, Data: history})
	}

	session = c.h.messageService.Open(ctx, groupID)
	if err := session.Err(); err != nil {
		session.Close()
		return err
	}

	history, err := session.Messages(ctx)
	if err != nil {
		session.Close()
		return err
	}
	sent := make(map[int64]struct{}, len(history))
	for _, m := range history {
		sent[m.ID] = struct{}{}
	}

	c.mu.Lock()
	c.sessions[groupID] = session
	c.mu.Unlock()

	if err := c.client.Send(services.WSMessage{Type: "history", GroupID: groupID, Data: history}); err != nil {
		return err
	}

	c.forwards.Add(1)
	go c.forward(session, sent)
	return nil
}

func (c *wsConnection) forward(session *services.ChatSession, sent map[int64]struct{}) {
	defer c.forwards.Done()
	for msg := range session.Updates() {
		if _, ok := sent[msg.ID]; ok {
			delete(sent, msg.ID)
			continue
		}
		err := c.client.Send(services.WSMessage{Type: "message", GroupID: session.GroupID(), Data: msg})
		if err != nil {
			log.Warn().Err(err).Str("user_id", c.client.UserID).Int64("group_id", session.GroupID()).Msg("Failed to forward message")
		}
	}
}

func (c *wsConnection) unsubscribe(groupID int64) {
	c.mu.Lock()
	session, exists := c.sessions[groupID]
	delete(c.sessions, groupID)
	c.mu.Unlock()

	if exists {
		session.Close()
	}
}

func (c *wsConnection) sendMessage(ctx context.Context, groupID int64, content string) error {
	if err := c.authorize(ctx, groupID); err != nil {
		return err
	}

	msg, err := c.h.messageService.Send(ctx, groupID, c.client.UserID, content)
	if err != nil {
		return err
	}
	return c.client.Send(services.WSMessage{Type: "sent", GroupID: groupID, Data: msg})
}

func (c *wsConnection) closeSessions() {
	c.mu.Lock()
	sessions := c.sessions
	c.sessions = make(map[int64]*services.ChatSession)
	c.mu.Unlock()

	for _, session := range sessions {
		session.Close()
	}
	c.forwards.Wait()
}

// sendError sends an error message to the connection
func (c *wsConnection) sendError(groupID int64, message string) {
	err := c.client.Send(services.WSMessage{Type: "error", GroupID: groupID, Message: message})
	if err != nil {
		log.Warn().Err(err).Str("user_id", c.client.UserID).Msg("Failed to send error message")
	}
}

// clientError hides internal failures from the client
func clientError(err error) string {
	switch {
	case errors.Is(err, models.ErrInvalidInput),
		errors.Is(err, models.ErrForbidden),
		errors.Is(err, models.ErrGroupArchived),
		models.IsNotFound(err):
		return err.Error()
	default:
		return "Internal error"
	}
}
