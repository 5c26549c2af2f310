package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

const (
	notifyFunctionName = "mindsync_notify_change"

	// Postgres caps NOTIFY payloads at 8000 bytes
	notifyFunctionQuery = `CREATE OR REPLACE FUNCTION mindsync_notify_change() RETURNS TRIGGER AS $$
	DECLARE
		payload json;
	BEGIN
		CASE TG_OP
		WHEN 'INSERT' THEN
			payload = json_build_object('table', TG_TABLE_NAME, 'action', TG_OP, 'new', row_to_json(NEW));
		WHEN 'DELETE' THEN
			payload = json_build_object('table', TG_TABLE_NAME, 'action', TG_OP, 'old', row_to_json(OLD));
		ELSE
			payload = json_build_object('table', TG_TABLE_NAME, 'action', TG_OP,
				'old', row_to_json(OLD), 'new', row_to_json(NEW));
		END CASE;

		IF octet_length(payload::text) >= 7500 THEN
			payload = json_build_object('table', TG_TABLE_NAME, 'action', TG_OP, 'too_long', TRUE,
				'id', COALESCE(row_to_json(NEW)::jsonb->'id', row_to_json(OLD)::jsonb->'id'));
		END IF;

		PERFORM pg_notify(TG_ARGV[0], payload::text);
		RETURN NULL;
	END;
	$$ LANGUAGE plpgsql;`

	minBackoff = time.Second
	maxBackoff = 30 * time.Second
)

var channelPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Listener turns Postgres notifications into broker events
type Listener struct {
	pool    *pgxpool.Pool
	broker  *Broker
	channel string
}

// NewListener creates a new listener on channel
func NewListener(pool *pgxpool.Pool, broker *Broker, channel string) (*Listener, error) {
	if !channelPattern.MatchString(channel) {
		return nil, fmt.Errorf("invalid notification channel %q", channel)
	}
	return &Listener{pool: pool, broker: broker, channel: channel}, nil
}

// EnsureTriggers installs the notify function and a row trigger on every
// table that does not have one yet.
func (l *Listener) EnsureTriggers(ctx context.Context, tables ...string) error {
	if _, err := l.pool.Exec(ctx, notifyFunctionQuery); err != nil {
		return fmt.Errorf("failed to create notify function: %w", err)
	}

	for _, table := range tables {
		trigger := table + "_mindsync_notify"

		var exists bool
		err := l.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM information_schema.triggers WHERE event_object_table = $1 AND trigger_name = $2)`,
			table, trigger,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check trigger for table %s: %w", table, err)
		}
		if exists {
			continue
		}

		query := fmt.Sprintf(
			`CREATE TRIGGER %s AFTER INSERT OR UPDATE OR DELETE ON %s FOR EACH ROW EXECUTE PROCEDURE %s('%s')`,
			pgx.Identifier{trigger}.Sanitize(), pgx.Identifier{table}.Sanitize(), notifyFunctionName, l.channel,
		)
		if _, err := l.pool.Exec(ctx, query); err != nil {
			return fmt.Errorf("failed to create trigger for table %s: %w", table, err)
		}
		log.Info().Str("table", table).Msg("Change feed trigger installed")
	}
	return nil
}

// Run listens until ctx is done, reconnecting with backoff on failure
func (l *Listener) Run(ctx context.Context) {
	backoff := minBackoff
	for {
		established, err := l.listen(ctx)
		if ctx.Err() != nil {
			return
		}
		if established {
			backoff = minBackoff
		}

		log.Error().Err(err).Dur("retry_in", backoff).Msg("Change feed connection lost")
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (l *Listener) listen(ctx context.Context) (bool, error) {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{l.channel}.Sanitize()); err != nil {
		return false, fmt.Errorf("failed to listen: %w", err)
	}
	log.Info().Str("channel", l.channel).Msg("Change feed listening")

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return true, err
		}

		event, err := ParseNotification(n.Payload)
		if err != nil {
			log.Warn().Err(err).Str("channel", n.Channel).Msg("Ignoring malformed change notification")
			continue
		}
		l.broker.Publish(event)
	}
}

// ParseNotification decodes a payload produced by the notify trigger
func ParseNotification(payload string) (Event, error) {
	var e Event
	if err := json.Unmarshal([]byte(payload), &e); err != nil {
		return Event{}, fmt.Errorf("failed to decode notification: %w", err)
	}
	if e.Table == "" || e.Action == "" {
		return Event{}, fmt.Errorf("notification without table or action")
	}
	return e, nil
}
