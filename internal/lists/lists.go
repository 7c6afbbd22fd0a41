// Package lists keeps per-user lists in the realtime store under
// lists/<listName>/<identityKey>: free-text request lists and the shared
// grocery list, which is the union of everybody's items.
package lists

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"quarters/api/internal/store"
)

const root = "lists"

var (
	ErrNoIdentity      = errors.New("identity key is required")
	ErrEmptyText       = errors.New("text is required")
	ErrIndexOutOfRange = errors.New("list index out of range")
	ErrItemNotFound    = errors.New("list item not found")
	ErrInvalidQuantity = errors.New("quantity must be positive")
)

type Option func(*Lists)

// WithClock replaces time.Now for item timestamps.
func WithClock(now func() time.Time) Option {
	return func(l *Lists) { l.now = now }
}

type Lists struct {
	kv  store.KV
	now func() time.Time
}

func New(kv store.KV, opts ...Option) *Lists {
	l := &Lists{kv: kv, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func listPath(list, key string) string {
	return store.Join(root, list, key)
}

// Get returns the entries of one user's list. Missing or unreadable lists
// are empty.
func (l *Lists) Get(ctx context.Context, list, key string) ([]string, error) {
	if key == "" {
		return []string{}, nil
	}
	raw, found, err := l.kv.Get(ctx, listPath(list, key))
	if err != nil {
		return nil, fmt.Errorf("read %s list: %w", list, err)
	}
	if !found {
		return []string{}, nil
	}
	return decodeStrings(raw), nil
}

// All returns every user's entries keyed by identity.
func (l *Lists) All(ctx context.Context, list string) (map[string][]string, error) {
	raw, err := l.kv.Children(ctx, store.Join(root, list))
	if err != nil {
		return nil, fmt.Errorf("read %s lists: %w", list, err)
	}
	out := make(map[string][]string, len(raw))
	for key, value := range raw {
		out[key] = decodeStrings(value)
	}
	return out, nil
}

// Add appends text to the user's list and returns the new list.
func (l *Lists) Add(ctx context.Context, list, key, text string) ([]string, error) {
	if key == "" {
		return nil, ErrNoIdentity
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyText
	}
	var out []string
	err := l.kv.Modify(ctx, listPath(list, key), func(current json.RawMessage, found bool) (json.RawMessage, error) {
		out = append(decodeStrings(current), text)
		return json.Marshal(out)
	})
	if err != nil {
		return nil, fmt.Errorf("add to %s list: %w", list, err)
	}
	return out, nil
}

// Remove deletes the entry at index. Removing the last entry deletes the
// list.
func (l *Lists) Remove(ctx context.Context, list, key string, index int) ([]string, error) {
	if key == "" {
		return nil, ErrNoIdentity
	}
	var out []string
	err := l.kv.Modify(ctx, listPath(list, key), func(current json.RawMessage, found bool) (json.RawMessage, error) {
		entries := decodeStrings(current)
		if index < 0 || index >= len(entries) {
			return nil, ErrIndexOutOfRange
		}
		out = append(entries[:index:index], entries[index+1:]...)
		if len(out) == 0 {
			return nil, nil
		}
		return json.Marshal(out)
	})
	if err != nil {
		if errors.Is(err, ErrIndexOutOfRange) {
			return nil, ErrIndexOutOfRange
		}
		return nil, fmt.Errorf("remove from %s list: %w", list, err)
	}
	return out, nil
}

func decodeStrings(raw json.RawMessage) []string {
	var entries []string
	if len(raw) == 0 || json.Unmarshal(raw, &entries) != nil {
		return []string{}
	}
	return entries
}
