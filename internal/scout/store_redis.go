package scout

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisSink appends findings to a per-run Redis list and indexes run IDs
// in a set, both under a TTL so abandoned runs age out.
type RedisSink struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisSink(redisURL string, ttl time.Duration) (*RedisSink, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisSink{rdb: rdb, ttl: ttl}, nil
}

func keyRuns() string                 { return "fenscout:runs" }
func keyFindings(runID string) string { return "fenscout:run:" + runID + ":findings" }

func (s *RedisSink) Record(ctx context.Context, f *Finding) error {
	raw, err := json.Marshal(f)
	if err != nil {
		return err
	}
	key := keyFindings(f.RunID)
	if err := s.rdb.RPush(ctx, key, raw).Err(); err != nil {
		return err
	}
	_ = s.rdb.Expire(ctx, key, s.ttl).Err()
	if err := s.rdb.SAdd(ctx, keyRuns(), f.RunID).Err(); err != nil {
		return err
	}
	return s.rdb.Expire(ctx, keyRuns(), s.ttl).Err()
}

// Findings loads every recorded finding for a run, oldest first.
func (s *RedisSink) Findings(ctx context.Context, runID string) ([]*Finding, error) {
	raws, err := s.rdb.LRange(ctx, keyFindings(runID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*Finding, 0, len(raws))
	for _, raw := range raws {
		var f Finding
		if err := json.Unmarshal([]byte(raw), &f); err != nil {
			return nil, err
		}
		out = append(out, &f)
	}
	return out, nil
}

func (s *RedisSink) Close() error {
	return s.rdb.Close()
}
