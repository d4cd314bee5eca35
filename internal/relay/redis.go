package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

const channelPrefix = "cafemeet:user:"

func channelFor(userID string) string {
	return channelPrefix + userID
}

// Redis fans envelopes out through redis pub/sub so sessions on other
// instances receive them.
type Redis struct {
	client *redis.Client
	logger *slog.Logger

	mu   sync.Mutex
	subs map[*redis.PubSub]struct{}
}

func NewRedis(client *redis.Client, logger *slog.Logger) *Redis {
	if logger == nil {
		logger = slog.Default()
	}
	return &Redis{
		client: client,
		logger: logger.With("component", "relay", "driver", "redis"),
		subs:   make(map[*redis.PubSub]struct{}),
	}
}

// Dial connects to addr and verifies the connection.
func Dial(ctx context.Context, addr string, logger *slog.Logger) (*Redis, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", addr, err)
	}
	return NewRedis(client, logger), nil
}

func (r *Redis) Publish(ctx context.Context, env Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if err := r.client.Publish(ctx, channelFor(env.To), payload).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", env.To, err)
	}
	return nil
}

func (r *Redis) Register(userID string, h Handler) (func(), error) {
	ctx := context.Background()
	pubsub := r.client.Subscribe(ctx, channelFor(userID))
	// Wait for the subscription confirmation so nothing published after
	// Register returns is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", userID, err)
	}

	r.mu.Lock()
	r.subs[pubsub] = struct{}{}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range pubsub.Channel() {
			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				r.logger.Warn("dropping malformed envelope", "channel", msg.Channel, "error", err)
				continue
			}
			h(ctx, env)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subs, pubsub)
			r.mu.Unlock()
			_ = pubsub.Close()
			<-done
		})
	}, nil
}

func (r *Redis) Close() error {
	r.mu.Lock()
	for pubsub := range r.subs {
		_ = pubsub.Close()
	}
	r.subs = make(map[*redis.PubSub]struct{})
	r.mu.Unlock()
	return r.client.Close()
}
