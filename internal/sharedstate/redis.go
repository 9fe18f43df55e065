package sharedstate

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const redisOpTimeout = 2 * time.Second

// changeEvent is the pub/sub payload for a write. Origin identifies the
// writing context so its own subscriber can drop the event.
type changeEvent struct {
	Origin  string `json:"origin"`
	Key     string `json:"key"`
	Value   string `json:"value"`
	Deleted bool   `json:"deleted,omitempty"`
}

// RedisStore is a Store shared between processes through Redis. Values live
// under <namespace>: keys, change events travel over a <namespace>:changes
// pub/sub channel. The event is published after the write, so a reader woken
// by the notification always sees the new value.
type RedisStore struct {
	client *redis.Client
	ns     string
	origin string
	logger zerolog.Logger
	pubsub *redis.PubSub
	done   chan struct{}

	subMu sync.Mutex
	subs  map[string][]*memorySub
}

// NewRedis attaches a context handle to the shared state stored in client
// under namespace. Each call gets its own origin identity, so two handles on
// the same client behave like two independent contexts.
func NewRedis(client *redis.Client, namespace string, logger zerolog.Logger) (*RedisStore, error) {
	s := &RedisStore{
		client: client,
		ns:     namespace,
		origin: uuid.NewString(),
		logger: logger,
		done:   make(chan struct{}),
		subs:   make(map[string][]*memorySub),
	}

	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	s.pubsub = client.Subscribe(context.Background(), s.channel())
	// Force the subscription onto the wire before any caller writes.
	if _, err := s.pubsub.Receive(ctx); err != nil {
		_ = s.pubsub.Close()
		return nil, fmt.Errorf("redis subscribe failed: %w", err)
	}
	go s.dispatch()
	return s, nil
}

func (s *RedisStore) channel() string     { return s.ns + ":changes" }
func (s *RedisStore) dataKey(key string) string { return s.ns + ":" + key }

func (s *RedisStore) Get(key string) (string, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	val, err := s.client.Get(ctx, s.dataKey(key)).Result()
	if err == redis.Nil {
		return "", false
	}
	if err != nil {
		// Degrade to "no value": callers fall back to uncoordinated mode.
		s.logger.Warn().Err(err).Str("key", key).Msg("shared state get failed")
		return "", false
	}
	return val, true
}

func (s *RedisStore) Set(key, value string) error {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	if err := s.client.Set(ctx, s.dataKey(key), value, 0).Err(); err != nil {
		return fmt.Errorf("shared state set %s: %w", key, err)
	}
	return s.publish(ctx, changeEvent{Origin: s.origin, Key: key, Value: value})
}

func (s *RedisStore) Delete(key string) error {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	n, err := s.client.Del(ctx, s.dataKey(key)).Result()
	if err != nil {
		return fmt.Errorf("shared state delete %s: %w", key, err)
	}
	if n == 0 {
		return nil
	}
	return s.publish(ctx, changeEvent{Origin: s.origin, Key: key, Deleted: true})
}

func (s *RedisStore) publish(ctx context.Context, ev changeEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := s.client.Publish(ctx, s.channel(), payload).Err(); err != nil {
		return fmt.Errorf("shared state notify %s: %w", ev.Key, err)
	}
	return nil
}

func (s *RedisStore) OnChange(key string, fn ChangeFunc) func() {
	sub := &memorySub{fn: fn}
	s.subMu.Lock()
	s.subs[key] = append(s.subs[key], sub)
	s.subMu.Unlock()
	return func() {
		s.subMu.Lock()
		sub.removed = true
		live := s.subs[key][:0]
		for _, existing := range s.subs[key] {
			if !existing.removed {
				live = append(live, existing)
			}
		}
		s.subs[key] = live
		s.subMu.Unlock()
	}
}

// dispatch consumes change events and fans them out to local subscribers,
// dropping events this handle published itself.
func (s *RedisStore) dispatch() {
	defer close(s.done)
	for msg := range s.pubsub.Channel() {
		var ev changeEvent
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			s.logger.Warn().Err(err).Msg("malformed shared state event")
			continue
		}
		if ev.Origin == s.origin {
			continue
		}
		s.subMu.Lock()
		var fns []ChangeFunc
		for _, sub := range s.subs[ev.Key] {
			if !sub.removed {
				fns = append(fns, sub.fn)
			}
		}
		s.subMu.Unlock()
		for _, fn := range fns {
			fn(ev.Value, !ev.Deleted)
		}
	}
}

func (s *RedisStore) Close() error {
	err := s.pubsub.Close()
	<-s.done
	return err
}
