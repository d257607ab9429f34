// Package redis implements the job journal on Redis. Each job is a hash at
// job:<url> holding its JSON encoding and last update time; a sorted set
// orders URLs by submission time.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/cwygoda/audiodrop/internal/domain"
)

const (
	keyPrefix = "job:"
	orderKey  = "jobs"
)

// saveScript writes a job unless the stored copy is newer.
// KEYS: job key, order key. ARGV: data, updated (µs), created (µs), ttl (ms), url.
var saveScript = goredis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'updated')
if cur and tonumber(cur) > tonumber(ARGV[2]) then
  return 0
end
redis.call('HSET', KEYS[1], 'data', ARGV[1], 'updated', ARGV[2])
if tonumber(ARGV[4]) > 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[4])
end
redis.call('ZADD', KEYS[2], ARGV[3], ARGV[5])
return 1
`)

// Options configures the Redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
	// TTL expires jobs that have not been updated for this long; zero keeps them.
	TTL time.Duration
}

// Journal implements domain.JobJournal using Redis.
type Journal struct {
	client *goredis.Client
	ttl    time.Duration
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, opts Options) (*Journal, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis %s: %w", opts.Addr, err)
	}
	return &Journal{client: client, ttl: opts.TTL}, nil
}

// Close closes the client.
func (j *Journal) Close() error {
	return j.client.Close()
}

type record struct {
	ID        string           `json:"id"`
	URL       string           `json:"url"`
	Status    domain.JobStatus `json:"status"`
	Title     string           `json:"title"`
	Thumbnail string           `json:"thumbnail"`
	Filename  string           `json:"filename"`
	Basename  string           `json:"basename"`
	Error     string           `json:"error,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

func toRecord(job domain.Job) record {
	return record(job)
}

func (r record) job() domain.Job {
	return domain.Job(r)
}

// Save upserts a job. A write older than the stored copy is ignored.
func (j *Journal) Save(ctx context.Context, job domain.Job) error {
	data, err := json.Marshal(toRecord(job))
	if err != nil {
		return err
	}
	return saveScript.Run(ctx, j.client,
		[]string{keyPrefix + job.URL, orderKey},
		data, job.UpdatedAt.UnixMicro(), job.CreatedAt.UnixMicro(), j.ttl.Milliseconds(), job.URL,
	).Err()
}

// Load returns all unexpired jobs ordered by creation time.
func (j *Journal) Load(ctx context.Context) ([]domain.Job, error) {
	urls, err := j.client.ZRange(ctx, orderKey, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(urls) == 0 {
		return nil, nil
	}

	pipe := j.client.Pipeline()
	cmds := make([]*goredis.StringCmd, len(urls))
	for i, url := range urls {
		cmds[i] = pipe.HGet(ctx, keyPrefix+url, "data")
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, goredis.Nil) {
		return nil, err
	}

	// A nil reply in a pipeline marks the commands after it as nil too, so
	// presence is decided by the value. Stored data is never empty.
	var jobs []domain.Job
	var expired []any
	for i, cmd := range cmds {
		val := cmd.Val()
		if val == "" {
			expired = append(expired, urls[i])
			continue
		}
		var r record
		if err := json.Unmarshal([]byte(val), &r); err != nil {
			log.Printf("journal: skipping %s: %v", urls[i], err)
			continue
		}
		jobs = append(jobs, r.job())
	}

	if len(expired) > 0 {
		if err := j.client.ZRem(ctx, orderKey, expired...).Err(); err != nil {
			log.Printf("journal: prune expired: %v", err)
		}
	}
	return jobs, nil
}

// get retrieves the job recorded for a source URL.
func (j *Journal) get(ctx context.Context, url string) (*domain.Job, error) {
	val, err := j.client.HGet(ctx, keyPrefix+url, "data").Result()
	if errors.Is(err, goredis.Nil) {
		return nil, domain.ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	var r record
	if err := json.Unmarshal([]byte(val), &r); err != nil {
		return nil, err
	}
	job := r.job()
	return &job, nil
}
