package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/matst80/relay/internal/relay"
)

// RedisStore shares totals and recent sessions between relay instances.
// Totals live in one hash, recent records in a capped list of JSON blobs.
type RedisStore struct {
	client    *redis.Client
	statsKey  string
	recentKey string
	keep      int64
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore connects and pings the server before returning.
func NewRedisStore(addr, password string, db int, prefix string, keep int) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	if keep < 1 {
		keep = 1
	}
	if prefix == "" {
		prefix = "relay"
	}
	return &RedisStore{
		client:    rdb,
		statsKey:  prefix + ":stats",
		recentKey: prefix + ":recent",
		keep:      int64(keep),
	}, nil
}

func (r *RedisStore) Record(ctx context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	outcome := "failed"
	if rec.Status == relay.StatusSucceeded.String() {
		outcome = "succeeded"
	}
	pipe := r.client.TxPipeline()
	pipe.HIncrBy(ctx, r.statsKey, "sessions", 1)
	pipe.HIncrBy(ctx, r.statsKey, outcome, 1)
	pipe.HIncrBy(ctx, r.statsKey, "bytes_up", rec.BytesUp)
	pipe.HIncrBy(ctx, r.statsKey, "bytes_down", rec.BytesDown)
	pipe.LPush(ctx, r.recentKey, data)
	pipe.LTrim(ctx, r.recentKey, 0, r.keep-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis record: %w", err)
	}
	return nil
}

func (r *RedisStore) Stats(ctx context.Context) (Stats, error) {
	vals, err := r.client.HGetAll(ctx, r.statsKey).Result()
	if err != nil {
		return Stats{}, fmt.Errorf("redis stats: %w", err)
	}
	field := func(name string) int64 {
		n, _ := strconv.ParseInt(vals[name], 10, 64)
		return n
	}
	return Stats{
		Sessions:  field("sessions"),
		Succeeded: field("succeeded"),
		Failed:    field("failed"),
		BytesUp:   field("bytes_up"),
		BytesDown: field("bytes_down"),
	}, nil
}

func (r *RedisStore) Recent(ctx context.Context, limit int) ([]Record, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	vals, err := r.client.LRange(ctx, r.recentKey, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("redis recent: %w", err)
	}
	out := make([]Record, 0, len(vals))
	for _, v := range vals {
		var rec Record
		if err := json.Unmarshal([]byte(v), &rec); err != nil {
			return nil, fmt.Errorf("unmarshal record: %w", err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// Reset deletes this store's keys.
func (r *RedisStore) Reset(ctx context.Context) error {
	return r.client.Del(ctx, r.statsKey, r.recentKey).Err()
}

func (r *RedisStore) Close() error { return r.client.Close() }
