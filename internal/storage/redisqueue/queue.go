// Package redisqueue keeps scheduled jobs in a Redis sorted set scored by execution time.
package redisqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"retrans/internal/executor"
)

type Config struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	// Namespace separates queues of different contracts sharing one Redis.
	Namespace string `yaml:"namespace"`
}

// Queue implements executor.Queue.
type Queue struct {
	rdb       *redis.Client
	namespace string
}

var _ executor.Queue = (*Queue)(nil)

// New connects and pings Redis.
func New(ctx context.Context, cfg Config) (*Queue, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	ns := cfg.Namespace
	if ns == "" {
		ns = "default"
	}
	return &Queue{rdb: rdb, namespace: ns}, nil
}

func (q *Queue) Close() error {
	return q.rdb.Close()
}

func (q *Queue) Ping(ctx context.Context) error {
	return q.rdb.Ping(ctx).Err()
}

// Key helpers
func (q *Queue) scheduleKey() string {
	return fmt.Sprintf("retrans:jobs:%s", q.namespace)
}

func (q *Queue) dataKey() string {
	return fmt.Sprintf("retrans:job_data:%s", q.namespace)
}

func (q *Queue) Schedule(ctx context.Context, job executor.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	id := job.Key()
	_, err = q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, q.dataKey(), id, data)
		p.ZAdd(ctx, q.scheduleKey(), redis.Z{Score: float64(job.ExecutionTime.Unix()), Member: id})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to schedule job %s: %w", id, err)
	}
	return nil
}

// Due returns jobs with an execution time at or before now, oldest first.
func (q *Queue) Due(ctx context.Context, now time.Time, limit int) ([]executor.Job, error) {
	by := &redis.ZRangeBy{Min: "-inf", Max: strconv.FormatInt(now.Unix(), 10)}
	if limit > 0 {
		by.Count = int64(limit)
	}
	ids, err := q.rdb.ZRangeByScore(ctx, q.scheduleKey(), by).Result()
	if err != nil {
		return nil, fmt.Errorf("zrangebyscore failed: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	raw, err := q.rdb.HMGet(ctx, q.dataKey(), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("hmget failed: %w", err)
	}

	jobs := make([]executor.Job, 0, len(ids))
	for i, v := range raw {
		s, ok := v.(string)
		if !ok {
			// data lost but id still scheduled, drop it
			q.rdb.ZRem(ctx, q.scheduleKey(), ids[i])
			continue
		}
		var job executor.Job
		if err := json.Unmarshal([]byte(s), &job); err != nil {
			return nil, fmt.Errorf("failed to unmarshal job %s: %w", ids[i], err)
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (q *Queue) Remove(ctx context.Context, id *big.Int) error {
	key := id.String()
	_, err := q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZRem(ctx, q.scheduleKey(), key)
		p.HDel(ctx, q.dataKey(), key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to remove job %s: %w", key, err)
	}
	return nil
}

func (q *Queue) Len(ctx context.Context) (int, error) {
	n, err := q.rdb.ZCard(ctx, q.scheduleKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("zcard failed: %w", err)
	}
	return int(n), nil
}

// Clear drops every job in the namespace.
func (q *Queue) Clear(ctx context.Context) error {
	return q.rdb.Del(ctx, q.scheduleKey(), q.dataKey()).Err()
}
