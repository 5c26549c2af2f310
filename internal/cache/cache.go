// Package cache is a Redis-backed query cache with a staleness window.
//
// Entries are stored as {fetched_at, data} envelopes with a TTL equal to the
// gc time. An entry younger than the stale time is served as is; anything
// older (or missing, or undecodable) triggers the fetch function. Redis is
// never authoritative: a Redis failure is logged and treated as a miss.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const maxAppendAttempts = 5

// Store wraps a redis client with the cache policy
type Store struct {
	client    redis.UniversalClient
	staleTime time.Duration
	gcTime    time.Duration
	now       func() time.Time
}

// New creates a new cache store
func New(client redis.UniversalClient, staleTime, gcTime time.Duration) *Store {
	return &Store{
		client:    client,
		staleTime: staleTime,
		gcTime:    gcTime,
		now:       time.Now,
	}
}

type envelope struct {
	FetchedAt time.Time       `json:"fetched_at"`
	Data      json.RawMessage `json:"data"`
}

// Fetch returns the cached value for key when fresh, otherwise runs fetch
// (retrying once on failure) and stores the result.
func Fetch[T any](ctx context.Context, s *Store, key string, fetch func(context.Context) (T, error)) (T, error) {
	if env, ok := s.read(ctx, key); ok && s.now().Sub(env.FetchedAt) < s.staleTime {
		var cached T
		if err := json.Unmarshal(env.Data, &cached); err == nil {
			return cached, nil
		}
		log.Warn().Str("key", key).Msg("Discarding undecodable cache entry")
	}

	value, err := fetch(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return value, err
		}
		log.Debug().Err(err).Str("key", key).Msg("Fetch failed, retrying once")
		value, err = fetch(ctx)
		if err != nil {
			return value, err
		}
	}

	s.write(ctx, key, value)
	return value, nil
}

// Append adds item to the cached list stored under key. The entry keeps its
// fetch time. A missing or undecodable entry is left alone so the next Fetch
// reloads the full list from the source.
func Append[T any](ctx context.Context, s *Store, key string, item T) error {
	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}

		var env envelope
		var list []T
		if err := json.Unmarshal(raw, &env); err != nil {
			return nil
		}
		if err := json.Unmarshal(env.Data, &list); err != nil {
			return nil
		}

		list = append(list, item)
		payload, err := encode(env.FetchedAt, list)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, s.gcTime)
			return nil
		})
		return err
	}

	for i := 0; i < maxAppendAttempts; i++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return fmt.Errorf("failed to append to cache entry %s: %w", key, err)
	}
	return fmt.Errorf("failed to append to cache entry %s: too much contention", key)
}

// Invalidate removes entries so the next Fetch goes to the source
func (s *Store) Invalidate(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to invalidate cache: %w", err)
	}
	return nil
}

func (s *Store) read(ctx context.Context, key string) (*envelope, bool) {
	raw, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Warn().Err(err).Str("key", key).Msg("Cache read failed")
		}
		return nil, false
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, false
	}
	return &env, true
}

func (s *Store) write(ctx context.Context, key string, value any) {
	payload, err := encode(s.now(), value)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Failed to encode cache entry")
		return
	}
	if err := s.client.Set(ctx, key, payload, s.gcTime).Err(); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Cache write failed")
	}
}

func encode(fetchedAt time.Time, value any) ([]byte, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{FetchedAt: fetchedAt, Data: data})
}

// MessagesKey is the cache key of a group's formatted messages
func MessagesKey(groupID int64) string { return fmt.Sprintf("messages:%d", groupID) }

// GroupsKey is the cache key of a user's enriched groups
func GroupsKey(userID string) string { return "groups:" + userID }

// GroupKey is the cache key of a single group's detail
func GroupKey(groupID int64) string { return fmt.Sprintf("group:%d", groupID) }

// QuestionsKey is the cache key of a user's question set
func QuestionsKey(userID string) string { return "questions:" + userID }

// ProfileKey is the cache key of a user's profile
func ProfileKey(userID string) string { return "profile:" + userID }
