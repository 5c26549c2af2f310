package services

import (
	"context"
	"errors"

	"mindsync-backend/internal/cache"
	"mindsync-backend/internal/models"

	"github.com/rs/zerolog/log"
)

// WelcomeGenerator produces the greeting posted into a new group
type WelcomeGenerator interface {
	GenerateWelcomeMessage(ctx context.Context) (string, error)
}

// WelcomeStore reads and claims the welcomed flag of a group
type WelcomeStore interface {
	IsWelcomed(ctx context.Context, groupID int64) (bool, error)
	ClaimWelcome(ctx context.Context, groupID int64) error
}

// MessageCreator inserts messages
type MessageCreator interface {
	Create(ctx context.Context, groupID int64, userID *string, content string) (*models.Message, error)
}

// Welcomer posts the one-time system greeting into a group
type Welcomer struct {
	groups    WelcomeStore
	messages  MessageCreator
	generator WelcomeGenerator
	cache     *cache.Store
}

// NewWelcomer creates a new welcomer
func NewWelcomer(groups WelcomeStore, messages MessageCreator, generator WelcomeGenerator, cacheStore *cache.Store) *Welcomer {
	return &Welcomer{
		groups:    groups,
		messages:  messages,
		generator: generator,
		cache:     cacheStore,
	}
}

// Welcome claims the group's welcomed flag and, if this caller won the
// claim, posts a generated greeting as the system user. It never fails:
// losing the claim is a silent no-op and every other error is logged.
func (w *Welcomer) Welcome(ctx context.Context, groupID int64) {
	logger := log.With().Int64("group_id", groupID).Logger()

	welcomed, err := w.groups.IsWelcomed(ctx, groupID)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to check welcomed flag")
		return
	}
	if welcomed {
		return
	}

	if err := w.groups.ClaimWelcome(ctx, groupID); err != nil {
		if errors.Is(err, models.ErrAlreadyWelcomed) {
			logger.Debug().Msg("Group was already welcomed by another caller")
			return
		}
		logger.Error().Err(err).Msg("Failed to claim welcome")
		return
	}

	// The flag stays set even if the greeting cannot be produced below.
	w.invalidate(ctx, groupID)

	text, err := w.generator.GenerateWelcomeMessage(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to generate welcome message")
		return
	}

	systemID := models.SystemUserID
	if _, err := w.messages.Create(ctx, groupID, &systemID, text); err != nil {
		logger.Error().Err(err).Msg("Failed to send welcome message")
		return
	}

	w.invalidate(ctx, groupID)
	logger.Info().Msg("Welcome message sent")
}

func (w *Welcomer) invalidate(ctx context.Context, groupID int64) {
	if err := w.cache.Invalidate(ctx, cache.GroupKey(groupID)); err != nil {
		log.Warn().Err(err).Int64("group_id", groupID).Msg("Failed to invalidate group cache")
	}
}
