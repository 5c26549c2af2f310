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

// QuestionRepository handles database operations for questions and answers
type QuestionRepository struct {
	db *pgxpool.Pool
}

// NewQuestionRepository creates a new question repository
func NewQuestionRepository(db *pgxpool.Pool) *QuestionRepository {
	return &QuestionRepository{db: db}
}

// List retrieves all questions ordered by ID
func (r *QuestionRepository) List(ctx context.Context) ([]models.Question, error) {
	query := `
		SELECT id, question, theme, created_at, expires_at, is_expired
		FROM questions
		ORDER BY id
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get questions: %w", err)
	}
	defer rows.Close()

	questions := make([]models.Question, 0)
	for rows.Next() {
		var q models.Question
		if err := rows.Scan(&q.ID, &q.Question, &q.Theme, &q.CreatedAt, &q.ExpiresAt, &q.IsExpired); err != nil {
			return nil, fmt.Errorf("failed to scan question: %w", err)
		}
		questions = append(questions, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate questions: %w", err)
	}
	return questions, nil
}

// Exists checks if a question exists
func (r *QuestionRepository) Exists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM questions WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check question existence: %w", err)
	}
	return exists, nil
}

// CycleExpiry returns the latest global expiry marker, or nil when none is set
func (r *QuestionRepository) CycleExpiry(ctx context.Context) (*time.Time, error) {
	var at time.Time
	err := r.db.QueryRow(ctx, `SELECT expire_date FROM fdate ORDER BY id DESC LIMIT 1`).Scan(&at)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get cycle expiry: %w", err)
	}
	return &at, nil
}

// AnswersForUser retrieves a user's answers keyed by question ID
func (r *QuestionRepository) AnswersForUser(ctx context.Context, userID string) (map[int64]models.Answer, error) {
	query := `
		SELECT id, question_id, user_id, answer, created_at
		FROM answers
		WHERE user_id = $1
	`
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get answers: %w", err)
	}
	defer rows.Close()

	answers := make(map[int64]models.Answer)
	for rows.Next() {
		var a models.Answer
		if err := rows.Scan(&a.ID, &a.QuestionID, &a.UserID, &a.Answer, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan answer: %w", err)
		}
		answers[a.QuestionID] = a
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate answers: %w", err)
	}
	return answers, nil
}

// UpsertAnswer stores the answer, replacing any previous answer of the
// same user to the same question
func (r *QuestionRepository) UpsertAnswer(ctx context.Context, questionID int64, userID, answer string) (*models.Answer, error) {
	query := `
		INSERT INTO answers (question_id, user_id, answer)
		VALUES ($1, $2, $3)
		ON CONFLICT (question_id, user_id) DO UPDATE SET answer = EXCLUDED.answer
		RETURNING id, question_id, user_id, answer, created_at
	`
	var a models.Answer
	err := r.db.QueryRow(ctx, query, questionID, userID, answer).Scan(
		&a.ID, &a.QuestionID, &a.UserID, &a.Answer, &a.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert answer: %w", err)
	}
	return &a, nil
}
