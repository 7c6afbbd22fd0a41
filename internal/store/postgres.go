package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/stdlib"
	log "github.com/sirupsen/logrus"
)

const (
	notifyChannel    = "kv_changes"
	listenRetryDelay = time.Second
)

// PostgresStore keeps paths in the kv_entries table and announces changes
// with pg_notify on kv_changes, using the parent path as payload.
type PostgresStore struct {
	db   *sql.DB
	subs subscriberSet

	mu         sync.Mutex
	stopListen context.CancelFunc
	listenDone chan struct{}
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Get(ctx context.Context, path string) (json.RawMessage, bool, error) {
	if _, _, err := Split(path); err != nil {
		return nil, false, err
	}
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv_entries WHERE path=$1`, Join(path)).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s: %w", path, err)
	}
	return json.RawMessage(value), true, nil
}

func (s *PostgresStore) Children(ctx context.Context, parent string) (map[string]json.RawMessage, error) {
	parent = Join(parent)
	rows, err := s.db.QueryContext(ctx, `SELECT path, value FROM kv_entries WHERE parent=$1`, parent)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", parent, err)
	}
	defer rows.Close()

	out := map[string]json.RawMessage{}
	for rows.Next() {
		var path string
		var value []byte
		if err := rows.Scan(&path, &value); err != nil {
			return nil, fmt.Errorf("scan %s: %w", parent, err)
		}
		out[strings.TrimPrefix(path, parent+"/")] = json.RawMessage(value)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list %s: %w", parent, err)
	}
	return out, nil
}

func (s *PostgresStore) Set(ctx context.Context, path string, value json.RawMessage) error {
	return s.Update(ctx, map[string]json.RawMessage{path: value})
}

func (s *PostgresStore) Update(ctx context.Context, updates map[string]json.RawMessage) error {
	if len(updates) == 0 {
		return nil
	}
	for path := range updates {
		if _, _, err := Split(path); err != nil {
			return fmt.Errorf("%w: %q", err, path)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	parents := map[string]struct{}{}
	for path, value := range updates {
		parent, err := writeEntry(ctx, tx, path, value)
		if err != nil {
			return err
		}
		parents[parent] = struct{}{}
	}
	for parent := range parents {
		if _, err := tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, parent); err != nil {
			return fmt.Errorf("notify %s: %w", parent, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit update: %w", err)
	}
	return nil
}

func writeEntry(ctx context.Context, tx *sql.Tx, path string, value json.RawMessage) (string, error) {
	path = Join(path)
	parent, _, err := Split(path)
	if err != nil {
		return "", err
	}
	if value == nil {
		if _, err := tx.ExecContext(ctx, `DELETE FROM kv_entries WHERE path=$1`, path); err != nil {
			return "", fmt.Errorf("delete %s: %w", path, err)
		}
		return parent, nil
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO kv_entries (path, parent, value, updated_at)
		VALUES ($1, $2, $3::jsonb, NOW())
		ON CONFLICT (path) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
	`, path, parent, string(value))
	if err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return parent, nil
}

// Modify serializes writers of one path with a transaction-scoped advisory
// lock, which also covers paths that do not exist yet.
func (s *PostgresStore) Modify(ctx context.Context, path string, fn ModifyFunc) error {
	if _, _, err := Split(path); err != nil {
		return err
	}
	path = Join(path)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin modify: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, path); err != nil {
		return fmt.Errorf("lock %s: %w", path, err)
	}

	var current []byte
	found := true
	err = tx.QueryRowContext(ctx, `SELECT value FROM kv_entries WHERE path=$1`, path).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		found = false
	} else if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	next, err := fn(json.RawMessage(current), found)
	if err != nil {
		return err
	}
	parent, err := writeEntry(ctx, tx, path, next)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, parent); err != nil {
		return fmt.Errorf("notify %s: %w", parent, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit modify: %w", err)
	}
	return nil
}

// Subscribe registers fn with the store's single LISTEN connection, which is
// opened by the first subscription and shared by the rest. Every notification
// naming parent reloads the namespace once for all of its subscribers.
func (s *PostgresStore) Subscribe(ctx context.Context, parent string, fn func(map[string]json.RawMessage)) (func(), error) {
	parent = Join(parent)
	if err := s.startListener(ctx); err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", parent, err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := newSubscription(fn, cancel)
	s.subs.add(parent, sub)

	initial, err := s.Children(ctx, parent)
	if err != nil {
		sub.stop()
		s.subs.remove(parent, sub)
		return nil, err
	}
	sub.deliver(initial)

	go func() {
		<-subCtx.Done()
		s.subs.remove(parent, sub)
	}()
	return sub.stop, nil
}

func (s *PostgresStore) startListener(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopListen != nil {
		return nil
	}

	conn, err := s.listen(ctx)
	if err != nil {
		return err
	}
	listenCtx, cancel := context.WithCancel(context.Background())
	s.stopListen = cancel
	s.listenDone = make(chan struct{})
	go s.runListener(listenCtx, conn)
	return nil
}

func (s *PostgresStore) listen(ctx context.Context) (*sql.Conn, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	err = conn.Raw(func(driverConn any) error {
		_, err := driverConn.(*stdlib.Conn).Conn().Exec(ctx, "LISTEN "+notifyChannel)
		return err
	})
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("listen: %w", err)
	}
	return conn, nil
}

// runListener waits on conn until ctx ends, reconnecting after failures.
func (s *PostgresStore) runListener(ctx context.Context, conn *sql.Conn) {
	defer close(s.listenDone)
	for {
		err := s.waitNotifications(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return
		}
		log.WithError(err).Warn("store: listener lost, reconnecting")

		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(listenRetryDelay):
			}
			conn, err = s.listen(ctx)
			if err == nil {
				break
			}
			log.WithError(err).Warn("store: listener reconnect failed")
		}
		// Changes made while disconnected were never announced.
		for _, parent := range s.subs.parents() {
			s.dispatch(ctx, parent)
		}
	}
}

func (s *PostgresStore) waitNotifications(ctx context.Context, conn *sql.Conn) error {
	return conn.Raw(func(driverConn any) error {
		pgxConn := driverConn.(*stdlib.Conn).Conn()
		defer func() {
			_, _ = pgxConn.Exec(context.Background(), "UNLISTEN "+notifyChannel)
		}()
		for {
			notification, err := pgxConn.WaitForNotification(ctx)
			if err != nil {
				return err
			}
			s.dispatch(ctx, notification.Payload)
		}
	})
}

func (s *PostgresStore) dispatch(ctx context.Context, parent string) {
	targets := s.subs.targets(parent)
	if len(targets) == 0 {
		return
	}
	state, err := s.Children(ctx, parent)
	if err != nil {
		log.WithError(err).WithField("parent", parent).Warn("store: reload after notify failed")
		return
	}
	for _, sub := range targets {
		sub.deliver(state)
	}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	s.mu.Lock()
	stop, done := s.stopListen, s.listenDone
	s.stopListen = nil
	s.mu.Unlock()
	if stop != nil {
		stop()
		<-done
	}
	return s.db.Close()
}

// subscriberSet indexes live subscriptions by the parent path they watch.
type subscriberSet struct {
	mu   sync.Mutex
	subs map[string]map[*subscription]struct{}
}

func (s *subscriberSet) add(parent string, sub *subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subs == nil {
		s.subs = map[string]map[*subscription]struct{}{}
	}
	if s.subs[parent] == nil {
		s.subs[parent] = map[*subscription]struct{}{}
	}
	s.subs[parent][sub] = struct{}{}
}

func (s *subscriberSet) remove(parent string, sub *subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs[parent], sub)
	if len(s.subs[parent]) == 0 {
		delete(s.subs, parent)
	}
}

func (s *subscriberSet) targets(parent string) []*subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*subscription, 0, len(s.subs[parent]))
	for sub := range s.subs[parent] {
		out = append(out, sub)
	}
	return out
}

func (s *subscriberSet) parents() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.subs))
	for parent := range s.subs {
		out = append(out, parent)
	}
	return out
}
