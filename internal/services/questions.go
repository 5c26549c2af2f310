package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"mindsync-backend/internal/cache"
	"mindsync-backend/internal/models"

	"github.com/rs/zerolog/log"
)

const defaultTheme = "General"

// QuestionStore is the persistence the question flow needs
type QuestionStore interface {
	List(ctx context.Context) ([]models.Question, error)
	Exists(ctx context.Context, id int64) (bool, error)
	CycleExpiry(ctx context.Context) (*time.Time, error)
	AnswersForUser(ctx context.Context, userID string) (map[int64]models.Answer, error)
	UpsertAnswer(ctx context.Context, questionID int64, userID, answer string) (*models.Answer, error)
}

// QuestionService handles the weekly questions and answers
type QuestionService struct {
	store QuestionStore
	cache *cache.Store
	now   func() time.Time
}

// NewQuestionService creates a new question service
func NewQuestionService(store QuestionStore, cacheStore *cache.Store) *QuestionService {
	return &QuestionService{store: store, cache: cacheStore, now: time.Now}
}

// GetQuestions returns this cycle's questions with the user's answers.
// Time left is computed on every call.
func (s *QuestionService) GetQuestions(ctx context.Context, userID string) (*models.QuestionSet, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", models.ErrInvalidInput)
	}

	set, err := cache.Fetch(ctx, s.cache, cache.QuestionsKey(userID), func(ctx context.Context) (*models.QuestionSet, error) {
		return s.loadQuestions(ctx, userID)
	})
	if err != nil {
		return nil, err
	}

	set.TimeLeft, set.IsExpired = TimeLeft(set.ExpiryDate, s.now())
	return set, nil
}

func (s *QuestionService) loadQuestions(ctx context.Context, userID string) (*models.QuestionSet, error) {
	questions, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load questions: %w", err)
	}

	theme := defaultTheme
	if len(questions) > 0 && questions[0].Theme != nil && *questions[0].Theme != "" {
		theme = *questions[0].Theme
	}

	expiry, err := s.store.CycleExpiry(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load cycle expiry: %w", err)
	}

	answers, err := s.store.AnswersForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load answers: %w", err)
	}

	views := make([]models.QuestionView, 0, len(questions))
	answered := 0
	for _, q := range questions {
		view := models.QuestionView{
			ID:        q.ID,
			Question:  q.Question,
			CreatedAt: q.CreatedAt,
			Theme:     q.Theme,
		}
		if a, ok := answers[q.ID]; ok {
			text := a.Answer
			view.Answered = true
			view.Answer = &text
			answered++
		}
		views = append(views, view)
	}

	var progress float64
	if len(views) > 0 {
		progress = float64(answered) / float64(len(views)) * 100
	}

	return &models.QuestionSet{
		Questions:  views,
		Theme:      theme,
		ExpiryDate: expiry,
		Progress:   progress,
	}, nil
}

// SubmitAnswer stores the user's answer, replacing a previous one
func (s *QuestionService) SubmitAnswer(ctx context.Context, userID string, questionID int64, answer string) (*models.Answer, error) {
	answer = strings.TrimSpace(answer)
	if userID == "" || questionID <= 0 || answer == "" {
		return nil, fmt.Errorf("%w: user, question and a non-empty answer are required", models.ErrInvalidInput)
	}

	exists, err := s.store.Exists(ctx, questionID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, models.ErrQuestionNotFound
	}

	stored, err := s.store.UpsertAnswer(ctx, questionID, userID, answer)
	if err != nil {
		return nil, err
	}

	if err := s.cache.Invalidate(ctx, cache.QuestionsKey(userID)); err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("Failed to invalidate questions cache")
	}
	return stored, nil
}

// TimeLeft renders the remaining answer window. A missing expiry renders
// as an empty, unexpired window.
func TimeLeft(expiry *time.Time, now time.Time) (string, bool) {
	if expiry == nil {
		return "", false
	}

	diff := expiry.Sub(now)
	if diff <= 0 {
		return "Time's up for this week's questions", true
	}

	days := int(diff / (24 * time.Hour))
	hours := int(diff % (24 * time.Hour) / time.Hour)
	minutes := int(diff % time.Hour / time.Minute)

	switch {
	case days > 0:
		return fmt.Sprintf("%d day%s left to answer", days, plural(days)), false
	case hours > 0:
		return fmt.Sprintf("%d hour%s and %d minute%s left", hours, plural(hours), minutes, plural(minutes)), false
	default:
		return fmt.Sprintf("%d minute%s left", minutes, plural(minutes)), false
	}
}

func plural(n int) string {
	if n > 1 {
		return "s"
	}
	return ""
}
