package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mindsync-backend/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// MessageRepository handles database operations for messages
type MessageRepository struct {
	db *pgxpool.Pool
}

// NewMessageRepository creates a new message repository
func NewMessageRepository(db *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{db: db}
}

// Create inserts a message and returns the stored row
func (r *MessageRepository) Create(ctx context.Context, groupID int64, userID *string, content string) (*models.Message, error) {
	query := `
		INSERT INTO messages (group_id, user_id, content)
		VALUES ($1, $2, $3)
		RETURNING id, group_id, user_id, content, created_at
	`
	var m models.Message
	err := r.db.QueryRow(ctx, query, groupID, userID, content).Scan(
		&m.ID, &m.GroupID, &m.UserID, &m.Content, &m.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create message: %w", err)
	}
	return &m, nil
}

// GetByID retrieves a message by ID
func (r *MessageRepository) GetByID(ctx context.Context, id int64) (*models.Message, error) {
	query := `
		SELECT id, group_id, user_id, content, created_at
		FROM messages
		WHERE id = $1
	`
	var m models.Message
	err := r.db.QueryRow(ctx, query, id).Scan(&m.ID, &m.GroupID, &m.UserID, &m.Content, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrMessageNotFound
		}
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return &m, nil
}

// ListByGroup retrieves all messages of a group, oldest first
func (r *MessageRepository) ListByGroup(ctx context.Context, groupID int64) ([]models.Message, error) {
	query := `
		SELECT id, group_id, user_id, content, created_at
		FROM messages
		WHERE group_id = $1
		ORDER BY created_at ASC
	`
	rows, err := r.db.Query(ctx, query, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.GroupID, &m.UserID, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}
	return messages, nil
}

// CountByGroup counts the messages of a group
func (r *MessageRepository) CountByGroup(ctx context.Context, groupID int64) (int64, error) {
	var count int64
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM messages WHERE group_id = $1`, groupID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return count, nil
}

// LastActivity returns the creation time of the newest message, or nil
// for a group without messages
func (r *MessageRepository) LastActivity(ctx context.Context, groupID int64) (*time.Time, error) {
	query := `
		SELECT created_at
		FROM messages
		WHERE group_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`
	var at time.Time
	err := r.db.QueryRow(ctx, query, groupID).Scan(&at)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get last activity: %w", err)
	}
	return &at, nil
}
