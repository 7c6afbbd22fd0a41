package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const modifyRetries = 16

// RedisStore keeps each path in its own string key, tracks the children of
// every parent in a set, and publishes on a per-parent channel after each
// write so subscribers can reload the namespace.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to redisURL and verifies the connection.
func NewRedisStore(redisURL, namespace string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client, namespace), nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client.
func NewRedisStoreWithClient(client *redis.Client, namespace string) *RedisStore {
	prefix := ""
	if namespace != "" {
		prefix = namespace + ":"
	}
	return &RedisStore{client: client, prefix: prefix}
}

// Client exposes the underlying connection for components sharing it.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

func (s *RedisStore) valueKey(path string) string {
	return s.prefix + "kv:" + path
}

func (s *RedisStore) indexKey(parent string) string {
	return s.prefix + "idx:" + parent
}

func (s *RedisStore) channel(parent string) string {
	return s.prefix + "changes:" + parent
}

func (s *RedisStore) Get(ctx context.Context, path string) (json.RawMessage, bool, error) {
	if _, _, err := Split(path); err != nil {
		return nil, false, err
	}
	data, err := s.client.Get(ctx, s.valueKey(path)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s: %w", path, err)
	}
	return json.RawMessage(data), true, nil
}

func (s *RedisStore) Children(ctx context.Context, parent string) (map[string]json.RawMessage, error) {
	parent = Join(parent)
	children, err := s.client.SMembers(ctx, s.indexKey(parent)).Result()
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", parent, err)
	}
	out := make(map[string]json.RawMessage, len(children))
	if len(children) == 0 {
		return out, nil
	}

	keys := make([]string, len(children))
	for i, child := range children {
		keys[i] = s.valueKey(parent + "/" + child)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", parent, err)
	}
	for i, value := range values {
		str, ok := value.(string)
		if !ok {
			continue
		}
		out[children[i]] = json.RawMessage(str)
	}
	return out, nil
}

func (s *RedisStore) Set(ctx context.Context, path string, value json.RawMessage) error {
	return s.Update(ctx, map[string]json.RawMessage{path: value})
}

func (s *RedisStore) Update(ctx context.Context, updates map[string]json.RawMessage) error {
	if len(updates) == 0 {
		return nil
	}
	for path := range updates {
		if _, _, err := Split(path); err != nil {
			return fmt.Errorf("%w: %q", err, path)
		}
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		parents := map[string]struct{}{}
		for path, value := range updates {
			parent := s.queueWrite(ctx, pipe, path, value)
			parents[parent] = struct{}{}
		}
		for parent := range parents {
			pipe.Publish(ctx, s.channel(parent), parent)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("update: %w", err)
	}
	return nil
}

func (s *RedisStore) queueWrite(ctx context.Context, pipe redis.Pipeliner, path string, value json.RawMessage) string {
	path = Join(path)
	parent, child, _ := Split(path)
	if value == nil {
		pipe.Del(ctx, s.valueKey(path))
		pipe.SRem(ctx, s.indexKey(parent), child)
		return parent
	}
	pipe.Set(ctx, s.valueKey(path), []byte(value), 0)
	pipe.SAdd(ctx, s.indexKey(parent), child)
	return parent
}

// Modify runs fn under WATCH on the path's key and retries when another
// writer gets in first.
func (s *RedisStore) Modify(ctx context.Context, path string, fn ModifyFunc) error {
	if _, _, err := Split(path); err != nil {
		return err
	}
	path = Join(path)
	parent, _, _ := Split(path)
	key := s.valueKey(path)

	txn := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Bytes()
		found := true
		if errors.Is(err, redis.Nil) {
			found = false
			current = nil
		} else if err != nil {
			return err
		}

		next, err := fn(json.RawMessage(current), found)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			s.queueWrite(ctx, pipe, path, next)
			pipe.Publish(ctx, s.channel(parent), parent)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < modifyRetries; attempt++ {
		err := s.client.Watch(ctx, txn, key)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return fmt.Errorf("modify %s: %w", path, err)
	}
	return fmt.Errorf("modify %s: %w", path, ErrConflict)
}

func (s *RedisStore) Subscribe(ctx context.Context, parent string, fn func(map[string]json.RawMessage)) (func(), error) {
	parent = Join(parent)
	subCtx, cancel := context.WithCancel(ctx)

	pubsub := s.client.Subscribe(subCtx, s.channel(parent))
	if _, err := pubsub.Receive(ctx); err != nil {
		cancel()
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", parent, err)
	}

	sub := newSubscription(fn, cancel)
	initial, err := s.Children(ctx, parent)
	if err != nil {
		cancel()
		_ = pubsub.Close()
		return nil, err
	}
	sub.deliver(initial)

	go func() {
		defer pubsub.Close()
		messages := pubsub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case _, ok := <-messages:
				if !ok {
					return
				}
				state, err := s.Children(subCtx, parent)
				if err != nil {
					if subCtx.Err() == nil {
						log.WithError(err).WithField("parent", parent).Warn("store: reload after change failed")
					}
					continue
				}
				sub.deliver(state)
			}
		}
	}()

	return sub.stop, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
