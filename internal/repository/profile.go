package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"mindsync-backend/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ProfileRepository handles database operations for profiles
type ProfileRepository struct {
	db *pgxpool.Pool
}

// NewProfileRepository creates a new profile repository
func NewProfileRepository(db *pgxpool.Pool) *ProfileRepository {
	return &ProfileRepository{db: db}
}

const profileColumns = `id, user_id, email, bio, full_name, interests, describe, image_url, is_onboarded, traits_vector`

func scanProfile(row pgx.Row) (*models.Profile, error) {
	var (
		p      models.Profile
		traits []byte
	)
	err := row.Scan(
		&p.ID, &p.UserID, &p.Email, &p.Bio, &p.FullName,
		&p.Interests, &p.Describe, &p.ImageURL, &p.IsOnboarded, &traits,
	)
	if err != nil {
		return nil, err
	}
	if len(traits) > 0 {
		if err := json.Unmarshal(traits, &p.TraitsVector); err != nil {
			return nil, fmt.Errorf("failed to decode traits vector: %w", err)
		}
	}
	return &p, nil
}

// GetByUserID retrieves the profile of a user
func (r *ProfileRepository) GetByUserID(ctx context.Context, userID string) (*models.Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE user_id = $1`
	p, err := scanProfile(r.db.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrProfileNotFound
		}
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return p, nil
}

// GetSummary retrieves the display fields of one user. A missing profile
// yields a nil summary and no error.
func (r *ProfileRepository) GetSummary(ctx context.Context, userID string) (*models.ProfileSummary, error) {
	query := `SELECT user_id, email, image_url FROM profiles WHERE user_id = $1`
	var s models.ProfileSummary
	err := r.db.QueryRow(ctx, query, userID).Scan(&s.UserID, &s.Email, &s.ImageURL)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get profile summary: %w", err)
	}
	return &s, nil
}

// GetSummaries retrieves the display fields of many users in one query
func (r *ProfileRepository) GetSummaries(ctx context.Context, userIDs []string) (map[string]models.ProfileSummary, error) {
	out := make(map[string]models.ProfileSummary, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}

	ids := parseUserIDs(userIDs)
	if len(ids) == 0 {
		return out, nil
	}

	query := `SELECT user_id, email, image_url FROM profiles WHERE user_id = ANY($1::uuid[])`
	rows, err := r.db.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to get profile summaries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var s models.ProfileSummary
		if err := rows.Scan(&s.UserID, &s.Email, &s.ImageURL); err != nil {
			return nil, fmt.Errorf("failed to scan profile summary: %w", err)
		}
		out[s.UserID] = s
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate profile summaries: %w", err)
	}
	return out, nil
}

// parseUserIDs keeps the ids that are valid UUIDs, without duplicates
func parseUserIDs(userIDs []string) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(userIDs))
	ids := make([]uuid.UUID, 0, len(userIDs))
	for _, raw := range userIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}

// Create inserts an empty profile for a user unless one exists
func (r *ProfileRepository) Create(ctx context.Context, userID string, email *string) error {
	query := `
		INSERT INTO profiles (user_id, email)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO NOTHING
	`
	if _, err := r.db.Exec(ctx, query, userID, email); err != nil {
		return fmt.Errorf("failed to create profile: %w", err)
	}
	return nil
}

// Update applies a merge-patch: only the set fields of patch are written
func (r *ProfileRepository) Update(ctx context.Context, userID string, patch *models.ProfilePatch) (*models.Profile, error) {
	var (
		sets []string
		args []any
	)
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if patch.Bio != nil {
		add("bio", *patch.Bio)
	}
	if patch.FullName != nil {
		add("full_name", *patch.FullName)
	}
	if patch.Interests != nil {
		add("interests", *patch.Interests)
	}
	if patch.Describe != nil {
		add("describe", *patch.Describe)
	}
	if patch.ImageURL != nil {
		add("image_url", *patch.ImageURL)
	}
	if patch.IsOnboarded != nil {
		add("is_onboarded", *patch.IsOnboarded)
	}
	if patch.TraitsVector != nil {
		encoded, err := json.Marshal(*patch.TraitsVector)
		if err != nil {
			return nil, fmt.Errorf("failed to encode traits vector: %w", err)
		}
		args = append(args, string(encoded))
		sets = append(sets, fmt.Sprintf("traits_vector = $%d::jsonb", len(args)))
	}

	if len(sets) == 0 {
		return r.GetByUserID(ctx, userID)
	}

	args = append(args, userID)
	query := fmt.Sprintf(
		`UPDATE profiles SET %s WHERE user_id = $%d RETURNING %s`,
		strings.Join(sets, ", "), len(args), profileColumns,
	)
	p, err := scanProfile(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrProfileNotFound
		}
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}
	return p, nil
}
