// Package votes reads and appends per-user vote histories kept in the
// realtime store under votes/<ballotType>/<identityKey>.
package votes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"quarters/api/internal/ballot"
	"quarters/api/internal/store"
)

const root = "votes"

var ErrNoIdentity = errors.New("identity key is required")

type Option func(*Store)

// WithClock replaces time.Now for snapshot timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithSkipEmpty makes AppendVote a successful no-op for fully empty
// selections instead of recording them.
func WithSkipEmpty() Option {
	return func(s *Store) { s.skipEmpty = true }
}

// WithKeyNormalizer canonicalizes identity keys read back from the store.
func WithKeyNormalizer(normalize func(string) string) Option {
	return func(s *Store) { s.normalize = normalize }
}

type Store struct {
	kv        store.KV
	now       func() time.Time
	skipEmpty bool
	normalize func(string) string
}

func New(kv store.KV, opts ...Option) *Store {
	s := &Store{
		kv:  kv,
		now: time.Now,
		normalize: func(key string) string {
			return strings.ToLower(strings.TrimSpace(key))
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func namespace(ballotType string) string {
	return store.Join(root, ballotType)
}

func path(ballotType, key string) string {
	return store.Join(root, ballotType, key)
}

// SkipsEmpty reports the empty-selection policy in effect.
func (s *Store) SkipsEmpty() bool {
	return s.skipEmpty
}

// FetchAll reads every history of a ballot type. A missing namespace is an
// empty mapping; only store failures are errors.
func (s *Store) FetchAll(ctx context.Context, ballotType string) (map[string]ballot.History, error) {
	raw, err := s.kv.Children(ctx, namespace(ballotType))
	if err != nil {
		return nil, fmt.Errorf("fetch %s votes: %w", ballotType, err)
	}
	return s.decodeAll(raw), nil
}

// History reads one user's history.
func (s *Store) History(ctx context.Context, ballotType, key string) (ballot.History, error) {
	if key == "" {
		return ballot.History{}, nil
	}
	raw, found, err := s.kv.Get(ctx, path(ballotType, key))
	if err != nil {
		return nil, fmt.Errorf("fetch %s vote history: %w", ballotType, err)
	}
	if !found {
		return ballot.History{}, nil
	}
	return ballot.DecodeHistory(raw), nil
}

// Subscribe calls onUpdate with the full mapping now and after every change.
// The returned function is safe to call repeatedly.
func (s *Store) Subscribe(ctx context.Context, ballotType string, onUpdate func(map[string]ballot.History)) (func(), error) {
	unsubscribe, err := s.kv.Subscribe(ctx, namespace(ballotType), func(raw map[string]json.RawMessage) {
		onUpdate(s.decodeAll(raw))
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s votes: %w", ballotType, err)
	}
	return unsubscribe, nil
}

// AppendVote appends a snapshot of sel to the user's history inside one
// atomic read-modify-write, so concurrent appends by the same identity are
// not lost. Timestamps strictly increase per user. It returns the snapshot
// that was written and whether a write happened.
func (s *Store) AppendVote(ctx context.Context, ballotType, key string, sel ballot.Selection) (ballot.Snapshot, bool, error) {
	if key == "" {
		return ballot.Snapshot{}, false, ErrNoIdentity
	}
	if sel.IsEmpty() && s.skipEmpty {
		log.WithFields(log.Fields{"ballot": ballotType, "identity": key}).Debug("votes: skipped empty selection")
		return ballot.Snapshot{}, false, nil
	}

	var written ballot.Snapshot
	err := s.kv.Modify(ctx, path(ballotType, key), func(current json.RawMessage, found bool) (json.RawMessage, error) {
		history := ballot.History{}
		if found {
			history = ballot.DecodeHistory(current)
		}

		ts := s.now().UnixMilli()
		if last, ok := history.Last(); ok && ts <= last.Timestamp {
			ts = last.Timestamp + 1
		}
		written = ballot.Snapshot{Selection: sel, Timestamp: ts}
		history = append(history, written)
		return json.Marshal(history)
	})
	if err != nil {
		return ballot.Snapshot{}, false, fmt.Errorf("append %s vote: %w", ballotType, err)
	}
	return written, true, nil
}

// ClearAll deletes the history of every given identity in one batch.
// Clearing an absent history is not an error.
func (s *Store) ClearAll(ctx context.Context, ballotType string, keys []string) error {
	updates := make(map[string]json.RawMessage, len(keys))
	for _, key := range keys {
		if key == "" {
			continue
		}
		updates[path(ballotType, key)] = nil
	}
	if err := s.kv.Update(ctx, updates); err != nil {
		return fmt.Errorf("clear %s votes: %w", ballotType, err)
	}
	return nil
}

// decodeAll normalizes stored keys. When two stored keys collapse to the same
// identity the history whose last snapshot is newer wins.
func (s *Store) decodeAll(raw map[string]json.RawMessage) map[string]ballot.History {
	out := make(map[string]ballot.History, len(raw))
	for storedKey, value := range raw {
		key := s.normalize(storedKey)
		if key == "" {
			continue
		}
		history := ballot.DecodeHistory(value)
		if existing, ok := out[key]; ok && !newer(history, existing) {
			continue
		}
		out[key] = history
	}
	return out
}

func newer(a, b ballot.History) bool {
	lastA, okA := a.Last()
	lastB, okB := b.Last()
	if !okB {
		return okA
	}
	return okA && lastA.Timestamp > lastB.Timestamp
}
