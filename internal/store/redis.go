package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/MeetRecorder/internal/core"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Redis shares state between processes; changes are announced on a pub/sub
// channel so every watcher sees writes from any writer.
type Redis struct {
	client  *redis.Client
	prefix  string
	channel string
	logger  zerolog.Logger
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

func NewRedis(cfg RedisConfig, logger zerolog.Logger) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	logger.Info().Str("addr", cfg.Addr).Int("db", cfg.DB).Msg("connected to redis state store")
	return newRedis(client, cfg.Prefix, logger), nil
}

func newRedis(client *redis.Client, prefix string, logger zerolog.Logger) *Redis {
	return &Redis{
		client:  client,
		prefix:  prefix,
		channel: prefix + "changes",
		logger:  logger,
	}
}

func (r *Redis) key(k string) string { return r.prefix + k }

func (r *Redis) Get(ctx context.Context, key string, dst any) (bool, error) {
	val, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis get %s: %w", key, err)
	}
	if err := json.Unmarshal(val, dst); err != nil {
		return true, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (r *Redis) Set(ctx context.Context, key string, v any) error {
	buf, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := r.client.Set(ctx, r.key(key), buf, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	r.announce(ctx, core.Change{Key: key, Value: buf})
	return nil
}

func (r *Redis) Remove(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = r.key(k)
	}
	if err := r.client.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	for _, k := range keys {
		r.announce(ctx, core.Change{Key: k, Removed: true})
	}
	return nil
}

func (r *Redis) announce(ctx context.Context, c core.Change) {
	msg, err := json.Marshal(c)
	if err != nil {
		return
	}
	if err := r.client.Publish(ctx, r.channel, msg).Err(); err != nil {
		r.logger.Warn().Err(err).Str("key", c.Key).Msg("redis publish failed")
	}
}

func (r *Redis) Watch(ctx context.Context) (<-chan core.Change, error) {
	sub := r.client.Subscribe(ctx, r.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("redis subscribe: %w", err)
	}

	out := make(chan core.Change, watchBuffer)
	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-msgs:
				if !ok {
					return
				}
				var c core.Change
				if err := json.Unmarshal([]byte(m.Payload), &c); err != nil {
					r.logger.Warn().Err(err).Msg("bad change notification")
					continue
				}
				select {
				case out <- c:
				default:
				}
			}
		}
	}()
	return out, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
