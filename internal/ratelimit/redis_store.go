package ratelimit

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisPrefix      = "studio:ratelimit:"
	defaultRedisMaxAttempts = 5
	redisScanCount          = 256
)

//go:embed sliding_window.lua
var slidingWindowSource string

var slidingWindowScript = redis.NewScript(slidingWindowSource)

type RedisStoreConfig struct {
	// Prefix namespaces every window key. Defaults to "studio:ratelimit:".
	Prefix string
	// TTL is applied to a window on every write so abandoned keys expire
	// on their own. Use the limiter's retention ceiling.
	TTL time.Duration
	// MaxAttempts bounds the optimistic transaction retries per Update. Admit
	// runs server-side and never retries.
	MaxAttempts int
}

// RedisStore keeps each window as a Redis list of Unix-nanosecond timestamps.
// Admissions run as one Lua script so concurrent replicas never double-admit.
// Update and Sweep use WATCH/MULTI.
type RedisStore struct {
	client      *redis.Client
	prefix      string
	ttl         time.Duration
	maxAttempts int
}

var (
	_ WindowStore    = (*RedisStore)(nil)
	_ WindowAdmitter = (*RedisStore)(nil)
)

func NewRedisStore(client *redis.Client, config RedisStoreConfig) *RedisStore {
	if config.Prefix == "" {
		config.Prefix = defaultRedisPrefix
	}
	if config.TTL <= 0 {
		config.TTL = DefaultRetention
	}
	if config.MaxAttempts < 1 {
		config.MaxAttempts = defaultRedisMaxAttempts
	}

	return &RedisStore{
		client:      client,
		prefix:      config.Prefix,
		ttl:         config.TTL,
		maxAttempts: config.MaxAttempts,
	}
}

// Admit trims, checks and appends in a single script call. When the request is
// denied it returns the oldest timestamp still inside the window.
func (store *RedisStore) Admit(ctx context.Context, key string, now time.Time, window time.Duration, maxRequests int) (bool, time.Time, error) {
	reply, err := slidingWindowScript.Run(ctx, store.client, []string{store.prefix + key},
		strconv.FormatInt(now.Add(-window).UnixNano(), 10),
		strconv.FormatInt(now.UnixNano(), 10),
		maxRequests,
		store.ttl.Milliseconds(),
	).Slice()
	if err != nil {
		return false, time.Time{}, fmt.Errorf("admit window %s: %w", key, err)
	}
	if len(reply) != 2 {
		return false, time.Time{}, fmt.Errorf("admit window %s: unexpected reply %v", key, reply)
	}

	if admitted, _ := reply[0].(int64); admitted == 1 {
		return true, time.Time{}, nil
	}

	raw, _ := reply[1].(string)
	oldest, err := decodeTimestamps([]string{raw})
	if err != nil {
		return false, time.Time{}, fmt.Errorf("admit window %s: %w", key, err)
	}
	return false, oldest[0], nil
}

func (store *RedisStore) Update(ctx context.Context, key string, fn func([]time.Time) []time.Time) error {
	redisKey := store.prefix + key

	transaction := func(tx *redis.Tx) error {
		raw, err := tx.LRange(ctx, redisKey, 0, -1).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}

		timestamps, err := decodeTimestamps(raw)
		if err != nil {
			return err
		}
		next := fn(timestamps)

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, redisKey)
			if len(next) > 0 {
				pipe.RPush(ctx, redisKey, encodeTimestamps(next)...)
				pipe.PExpire(ctx, redisKey, store.ttl)
			}
			return nil
		})
		return err
	}

	for attempt := 1; attempt <= store.maxAttempts; attempt++ {
		err := store.client.Watch(ctx, transaction, redisKey)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return fmt.Errorf("update window %s: %w", key, err)
		}
		return nil
	}

	return fmt.Errorf("update window %s after %d attempts: %w", key, store.maxAttempts, redis.TxFailedErr)
}

func (store *RedisStore) Delete(ctx context.Context, key string) error {
	if err := store.client.Del(ctx, store.prefix+key).Err(); err != nil {
		return fmt.Errorf("delete window %s: %w", key, err)
	}
	return nil
}

func (store *RedisStore) Len(ctx context.Context) (int, error) {
	count := 0
	err := store.scan(ctx, func(string) error {
		count++
		return nil
	})
	return count, err
}

// Sweep is mostly a no-op in practice because every window carries a TTL, but
// it also removes lists that outlived retention through a long TTL setting.
// A window written between the read and the delete is left alone.
func (store *RedisStore) Sweep(ctx context.Context, evict func([]time.Time) bool) (int, error) {
	evicted := 0
	err := store.scan(ctx, func(redisKey string) error {
		removed := false
		err := store.client.Watch(ctx, func(tx *redis.Tx) error {
			raw, err := tx.LRange(ctx, redisKey, 0, -1).Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				return fmt.Errorf("read window %s: %w", redisKey, err)
			}

			timestamps, err := decodeTimestamps(raw)
			if err != nil {
				return err
			}
			if !evict(timestamps) {
				return nil
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, redisKey)
				return nil
			})
			if err != nil {
				return err
			}
			removed = true
			return nil
		}, redisKey)
		if errors.Is(err, redis.TxFailedErr) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("evict window %s: %w", redisKey, err)
		}
		if removed {
			evicted++
		}
		return nil
	})
	return evicted, err
}

func (store *RedisStore) scan(ctx context.Context, visit func(redisKey string) error) error {
	var cursor uint64
	for {
		keys, next, err := store.client.Scan(ctx, cursor, store.prefix+"*", redisScanCount).Result()
		if err != nil {
			return fmt.Errorf("scan windows: %w", err)
		}
		for _, redisKey := range keys {
			if err := visit(redisKey); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

func encodeTimestamps(timestamps []time.Time) []any {
	values := make([]any, 0, len(timestamps))
	for _, timestamp := range timestamps {
		values = append(values, strconv.FormatInt(timestamp.UnixNano(), 10))
	}
	return values
}

// decodeTimestamps sorts the result since replicas with slightly different
// clocks may append out of order.
func decodeTimestamps(raw []string) ([]time.Time, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	timestamps := make([]time.Time, 0, len(raw))
	for _, value := range raw {
		nanos, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("decode timestamp %q: %w", value, err)
		}
		timestamps = append(timestamps, time.Unix(0, nanos))
	}

	slices.SortFunc(timestamps, func(a, b time.Time) int { return a.Compare(b) })
	return timestamps, nil
}
