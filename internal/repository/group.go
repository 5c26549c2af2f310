package repository

import (
	"context"
	"errors"
	"fmt"

	"mindsync-backend/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// GroupRepository handles database operations for groups and their members
type GroupRepository struct {
	db *pgxpool.Pool
}

// NewGroupRepository creates a new group repository
func NewGroupRepository(db *pgxpool.Pool) *GroupRepository {
	return &GroupRepository{db: db}
}

const groupColumns = `id, name, description, created_at, created_by, expires_at, welcomed`

func scanGroup(row pgx.Row) (*models.Group, error) {
	var g models.Group
	err := row.Scan(&g.ID, &g.Name, &g.Description, &g.CreatedAt, &g.CreatedBy, &g.ExpiresAt, &g.Welcomed)
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// GetByID retrieves a group by ID
func (r *GroupRepository) GetByID(ctx context.Context, id int64) (*models.Group, error) {
	query := `SELECT ` + groupColumns + ` FROM groups WHERE id = $1`
	g, err := scanGroup(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrGroupNotFound
		}
		return nil, fmt.Errorf("failed to get group: %w", err)
	}
	return g, nil
}

// ListForUser retrieves every group the user belongs to, in membership order
func (r *GroupRepository) ListForUser(ctx context.Context, userID string) ([]models.Group, error) {
	query := `
		SELECT g.id, g.name, g.description, g.created_at, g.created_by, g.expires_at, g.welcomed
		FROM group_members gm
		JOIN groups g ON g.id = gm.group_id
		WHERE gm.user_id = $1
		ORDER BY gm.id
	`
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups for user: %w", err)
	}
	defer rows.Close()

	groups := make([]models.Group, 0)
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan group: %w", err)
		}
		groups = append(groups, *g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate groups: %w", err)
	}
	return groups, nil
}

// Members retrieves the members of a group
func (r *GroupRepository) Members(ctx context.Context, groupID int64) ([]models.GroupMember, error) {
	query := `
		SELECT id, group_id, user_id, joined_at
		FROM group_members
		WHERE group_id = $1
		ORDER BY id
	`
	rows, err := r.db.Query(ctx, query, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to get group members: %w", err)
	}
	defer rows.Close()

	members := make([]models.GroupMember, 0)
	for rows.Next() {
		var m models.GroupMember
		if err := rows.Scan(&m.ID, &m.GroupID, &m.UserID, &m.JoinedAt); err != nil {
			return nil, fmt.Errorf("failed to scan group member: %w", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate group members: %w", err)
	}
	return members, nil
}

// IsMember checks if a user belongs to a group
func (r *GroupRepository) IsMember(ctx context.Context, groupID int64, userID string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM group_members WHERE group_id = $1 AND user_id = $2)`
	var exists bool
	if err := r.db.QueryRow(ctx, query, groupID, userID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check group membership: %w", err)
	}
	return exists, nil
}

// IsWelcomed reads the welcomed flag without caching
func (r *GroupRepository) IsWelcomed(ctx context.Context, groupID int64) (bool, error) {
	var welcomed bool
	err := r.db.QueryRow(ctx, `SELECT welcomed FROM groups WHERE id = $1`, groupID).Scan(&welcomed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, models.ErrGroupNotFound
		}
		return false, fmt.Errorf("failed to read welcomed flag: %w", err)
	}
	return welcomed, nil
}

// ClaimWelcome atomically flips welcomed from false to true. It returns
// ErrGroupNotFound when the group does not exist and ErrAlreadyWelcomed
// when the flag was already set.
func (r *GroupRepository) ClaimWelcome(ctx context.Context, groupID int64) error {
	query := `
		WITH claimed AS (
			UPDATE groups SET welcomed = true
			WHERE id = $1 AND welcomed = false
			RETURNING id
		)
		SELECT EXISTS(SELECT 1 FROM claimed), EXISTS(SELECT 1 FROM groups WHERE id = $1)`

	var claimed, exists bool
	if err := r.db.QueryRow(ctx, query, groupID).Scan(&claimed, &exists); err != nil {
		return fmt.Errorf("failed to claim welcome: %w", err)
	}
	return claimResult(claimed, exists)
}

func claimResult(claimed, exists bool) error {
	switch {
	case claimed:
		return nil
	case !exists:
		return models.ErrGroupNotFound
	default:
		return models.ErrAlreadyWelcomed
	}
}
