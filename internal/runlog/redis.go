package runlog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisOptions configures a Redis log.
type RedisOptions struct {
	Addr       string
	Password   string
	DB         int
	Key        string
	MaxEntries int
	Timeout    time.Duration
}

// Redis stores entries as JSON in a capped list.
type Redis struct {
	client  redis.UniversalClient
	key     string
	max     int
	timeout time.Duration
}

// NewRedis wraps an existing client.
func NewRedis(client redis.UniversalClient, opts RedisOptions) *Redis {
	r := &Redis{client: client, key: opts.Key, max: opts.MaxEntries, timeout: opts.Timeout}
	if r.key == "" {
		r.key = "opennames:runs"
	}
	if r.max <= 0 {
		r.max = DefaultMaxEntries
	}
	if r.timeout <= 0 {
		r.timeout = 5 * time.Second
	}
	return r
}

// DialRedis connects and pings the server.
func DialRedis(ctx context.Context, opts RedisOptions) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	r := NewRedis(client, opts)
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", opts.Addr, err)
	}
	return r, nil
}

// Append implements Log.
func (r *Redis) Append(ctx context.Context, e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal run entry: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, r.key, data)
		pipe.LTrim(ctx, r.key, 0, int64(r.max-1))
		return nil
	})
	if err != nil {
		return fmt.Errorf("append run entry: %w", err)
	}
	return nil
}

// Recent implements Log. n <= 0 returns every stored entry.
func (r *Redis) Recent(ctx context.Context, n int) ([]Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	stop := int64(-1)
	if n > 0 {
		stop = int64(n - 1)
	}
	raw, err := r.client.LRange(ctx, r.key, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("read run entries: %w", err)
	}

	entries := make([]Entry, 0, len(raw))
	for _, s := range raw {
		var e Entry
		if err := json.Unmarshal([]byte(s), &e); err != nil {
			return nil, fmt.Errorf("decode run entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Close releases the client.
func (r *Redis) Close() error {
	return r.client.Close()
}
