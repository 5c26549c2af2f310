package services

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const writeWait = 10 * time.Second

// WSMessage represents a WebSocket message
type WSMessage struct {
	Type      string      `json:"type"`
	GroupID   int64       `json:"group_id,omitempty"`
	Content   string      `json:"content,omitempty"`
	Message   string      `json:"message,omitempty"`
	Timestamp int64       `json:"timestamp,omitempty"`
	Data      interface{} `json:"data,omitempty"`
}

// WSClient is a registered connection. Writes are serialised.
type WSClient struct {
	UserID string

	conn *websocket.Conn
	mu   sync.Mutex
}

// Send writes a message to the connection
func (c *WSClient) Send(message WSMessage) error {
	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// WSHub manages WebSocket connections, one per user
type WSHub struct {
	mu      sync.RWMutex
	clients map[string]*WSClient
}

// NewWSHub creates a new WebSocket hub
func NewWSHub() *WSHub {
	return &WSHub{
		clients: make(map[string]*WSClient),
	}
}

// Register registers a new WebSocket connection for a user, replacing
// and closing any previous one
func (h *WSHub) Register(userID string, conn *websocket.Conn) *WSClient {
	client := &WSClient{UserID: userID, conn: conn}

	h.mu.Lock()
	defer h.mu.Unlock()

	if existing, exists := h.clients[userID]; exists {
		existing.conn.Close()
	}
	h.clients[userID] = client

	log.Info().Str("user_id", userID).Msg("WebSocket connection registered")
	return client
}

// Unregister removes the client if it is still the user's current one
func (h *WSHub) Unregister(client *WSClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if current, exists := h.clients[client.UserID]; exists && current == client {
		delete(h.clients, client.UserID)
		log.Info().Str("user_id", client.UserID).Msg("WebSocket connection unregistered")
	}
	client.conn.Close()
}

// IsOnline checks if a user is online
func (h *WSHub) IsOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, exists := h.clients[userID]
	return exists
}

// Count returns the number of connected users
func (h *WSHub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close closes every connection
func (h *WSHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for userID, client := range h.clients {
		client.conn.Close()
		delete(h.clients, userID)
	}
}
