// Package store is the realtime key-value store the app keeps its shared
// state in. Values are JSON documents addressed by slash-separated paths such
// as votes/house/alexis; the parent of a path is everything before its last
// segment and the child key is the last segment.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
)

var (
	ErrInvalidPath = errors.New("invalid store path")
	ErrConflict    = errors.New("concurrent modification")
)

// ModifyFunc receives the current value at a path (found reports whether it
// exists) and returns the value to write. Returning a nil value deletes the
// path.
type ModifyFunc func(current json.RawMessage, found bool) (json.RawMessage, error)

// KV is the realtime store contract.
type KV interface {
	// Get reads one path. A missing path is (nil, false, nil).
	Get(ctx context.Context, path string) (json.RawMessage, bool, error)
	// Children reads every direct child of parent keyed by child key. A
	// missing namespace is an empty map.
	Children(ctx context.Context, parent string) (map[string]json.RawMessage, error)
	Set(ctx context.Context, path string, value json.RawMessage) error
	// Update applies several writes at once; a nil value deletes the path.
	Update(ctx context.Context, updates map[string]json.RawMessage) error
	// Modify is an atomic read-modify-write of a single path.
	Modify(ctx context.Context, path string, fn ModifyFunc) error
	// Subscribe delivers the full children mapping of parent once after
	// subscribing and again after every change. The returned function stops
	// delivery and may be called any number of times.
	Subscribe(ctx context.Context, parent string, fn func(map[string]json.RawMessage)) (func(), error)
	Ping(ctx context.Context) error
	Close() error
}

// Join builds a path from segments, dropping empty ones.
func Join(segments ...string) string {
	parts := make([]string, 0, len(segments))
	for _, segment := range segments {
		segment = strings.Trim(segment, "/")
		if segment != "" {
			parts = append(parts, segment)
		}
	}
	return strings.Join(parts, "/")
}

// Split returns the parent and child key of path.
func Split(path string) (parent, child string, err error) {
	path = strings.Trim(path, "/")
	idx := strings.LastIndex(path, "/")
	if idx <= 0 || idx == len(path)-1 {
		return "", "", ErrInvalidPath
	}
	return path[:idx], path[idx+1:], nil
}

// subscription guards a live callback so that nothing is delivered once it
// has been stopped.
type subscription struct {
	fn      func(map[string]json.RawMessage)
	cancel  context.CancelFunc
	stopped atomic.Bool
	once    sync.Once
	mu      sync.Mutex
}

func newSubscription(fn func(map[string]json.RawMessage), cancel context.CancelFunc) *subscription {
	return &subscription{fn: fn, cancel: cancel}
}

func (s *subscription) deliver(state map[string]json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped.Load() {
		return
	}
	s.fn(state)
}

func (s *subscription) stop() {
	s.once.Do(func() {
		s.stopped.Store(true)
		s.cancel()
	})
}
