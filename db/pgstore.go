package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/onnwee/kick-chat-monitor/triggers"
)

// NotifyChannel is the Postgres channel carrying changed key names.
const NotifyChannel = "kcm_config"

const (
	watchBackoffMin = time.Second
	watchBackoffMax = 30 * time.Second
)

// PGStore keeps the configuration in the kv table. Writes notify NotifyChannel; Watch
// turns those notifications, from this process or any other, into Changes.
type PGStore struct {
	db     *sql.DB
	dsn    string
	broker broker
	log    *slog.Logger
}

// NewPGStore returns a store on db. dsn is used by Watch for its dedicated listening
// connection.
func NewPGStore(db *sql.DB, dsn string) *PGStore {
	return &PGStore{db: db, dsn: dsn, log: slog.Default().With(slog.String("component", "db_store"))}
}

func (s *PGStore) get(ctx context.Context, key string) ([]byte, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key=$1`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return []byte(v), nil
}

func (s *PGStore) put(ctx context.Context, key string, value []byte) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO kv (key,value,updated_at) VALUES ($1,$2,NOW()) ON CONFLICT(key) DO UPDATE SET value=EXCLUDED.value, updated_at=NOW()`,
		key, string(value)); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	if _, err := tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, NotifyChannel, key); err != nil {
		return fmt.Errorf("notify %s: %w", key, err)
	}
	return tx.Commit()
}

func (s *PGStore) Load(ctx context.Context) (triggers.Config, error) {
	rawTriggers, err := s.get(ctx, KeyTriggers)
	if err != nil {
		return triggers.DefaultConfig(), err
	}
	rawEnabled, err := s.get(ctx, KeyEnabled)
	if err != nil {
		return triggers.DefaultConfig(), err
	}
	return decodeConfig(rawTriggers, rawEnabled)
}

func (s *PGStore) SaveTriggers(ctx context.Context, rules []triggers.Rule) error {
	if rules == nil {
		rules = []triggers.Rule{}
	}
	raw, err := json.Marshal(rules)
	if err != nil {
		return err
	}
	return s.put(ctx, KeyTriggers, raw)
}

func (s *PGStore) SetEnabled(ctx context.Context, enabled bool) error {
	raw, _ := json.Marshal(enabled)
	return s.put(ctx, KeyEnabled, raw)
}

// Subscribe returns a channel of Changes. Changes flow only while Watch runs.
func (s *PGStore) Subscribe() (<-chan Change, func()) { return s.broker.subscribe() }

func (s *PGStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Watch listens on NotifyChannel until ctx is cancelled, reconnecting with backoff. After
// every (re)connect it republishes both keys so subscribers catch up on anything missed.
func (s *PGStore) Watch(ctx context.Context) {
	backoff := watchBackoffMin
	for {
		err := s.listen(ctx)
		if ctx.Err() != nil {
			return
		}
		s.log.Warn("config listener disconnected", slog.Any("err", err), slog.Duration("retry_in", backoff))
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > watchBackoffMax {
			backoff = watchBackoffMax
		}
	}
}

func (s *PGStore) listen(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, s.dsn)
	if err != nil {
		return fmt.Errorf("connect listener: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = conn.Close(closeCtx)
	}()
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{NotifyChannel}.Sanitize()); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.log.Info("listening for config changes", slog.String("channel", NotifyChannel))

	for _, key := range []string{KeyTriggers, KeyEnabled} {
		s.republish(ctx, key)
	}
	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		s.republish(ctx, n.Payload)
	}
}

func (s *PGStore) republish(ctx context.Context, key string) {
	if key != KeyTriggers && key != KeyEnabled {
		s.log.Debug("ignoring notification for unknown key", slog.String("key", key))
		return
	}
	raw, err := s.get(ctx, key)
	if err != nil {
		s.log.Warn("failed to read changed key", slog.String("key", key), slog.Any("err", err))
		return
	}
	if raw == nil {
		return
	}
	s.broker.publish(Change{Key: key, Value: raw})
}
