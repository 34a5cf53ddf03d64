// Package queue routes pipeline jobs onto Redis-backed fast and slow
// lanes, retries failures with per-lane back-off, and parks exhausted
// jobs in a dead-letter queue for inspection and replay.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/talenthive/cvflow/pkg/config"
	"github.com/talenthive/cvflow/pkg/models"
)

// Redis key layout.
const (
	keyFastQueue   = "cvflow:queue:fast"
	keySlowQueue   = "cvflow:queue:slow"
	keyFastDelayed = "cvflow:queue:fast:delayed"
	keySlowDelayed = "cvflow:queue:slow:delayed"
)

// Service wraps the singleton Redis connection for queue operations.
type Service struct {
	rdb *redis.Client
	cfg *config.QueueConfig
}

// NewService connects to Redis using the configured URL.
func NewService(cfg *config.QueueConfig) (*Service, error) {
	if cfg == nil {
		cfg = config.DefaultQueueConfig()
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	return &Service{rdb: redis.NewClient(opts), cfg: cfg}, nil
}

// NewServiceWithClient wraps an existing client (tests with miniredis).
func NewServiceWithClient(rdb *redis.Client, cfg *config.QueueConfig) *Service {
	if cfg == nil {
		cfg = config.DefaultQueueConfig()
	}
	return &Service{rdb: rdb, cfg: cfg}
}

// Ping verifies the Redis connection.
func (s *Service) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Close releases the Redis connection.
func (s *Service) Close() error {
	return s.rdb.Close()
}

// RouteByExtension maps a filename onto its queue lane: HWP/HWPX go
// slow (LibreOffice conversion), everything else fast.
func RouteByExtension(fileName string) models.JobType {
	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(fileName), ".")) {
	case "hwp", "hwpx":
		return models.JobTypeSlowPipeline
	}
	return models.JobTypeFastPipeline
}

// JobTimeout returns the processing deadline for a lane.
func (s *Service) JobTimeout(jobType models.JobType) time.Duration {
	if jobType == models.JobTypeSlowPipeline {
		return s.cfg.SlowJobTimeout
	}
	return s.cfg.FastJobTimeout
}

// Enqueue routes the job by its file name and pushes it onto its lane.
func (s *Service) Enqueue(ctx context.Context, job *models.PipelineJob) error {
	if job.Type == "" {
		job.Type = RouteByExtension(job.FileName)
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now()
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	if err := s.rdb.LPush(ctx, queueKey(job.Type), payload).Err(); err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}
	slog.Info("Job enqueued", "job_id", job.JobID, "queue", job.Type, "attempt", job.Attempt)
	return nil
}

// EnqueueDelayed schedules a retry after the given delay via the lane's
// delayed sorted set.
func (s *Service) EnqueueDelayed(ctx context.Context, job *models.PipelineJob, delay time.Duration) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	readyAt := float64(time.Now().Add(delay).UnixMilli())
	if err := s.rdb.ZAdd(ctx, delayedKey(job.Type), redis.Z{Score: readyAt, Member: payload}).Err(); err != nil {
		return fmt.Errorf("schedule delayed job: %w", err)
	}
	slog.Info("Job scheduled for retry",
		"job_id", job.JobID, "queue", job.Type, "attempt", job.Attempt, "delay", delay)
	return nil
}

// Dequeue pops the next job from the lane, first promoting any due
// delayed jobs. Returns nil with no error when nothing is ready.
func (s *Service) Dequeue(ctx context.Context, jobType models.JobType, timeout time.Duration) (*models.PipelineJob, error) {
	if err := s.promoteDue(ctx, jobType); err != nil {
		slog.Warn("Failed to promote delayed jobs", "queue", jobType, "error", err)
	}

	res, err := s.rdb.BRPop(ctx, timeout, queueKey(jobType)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue: %w", err)
	}
	// BRPop returns [key, value].
	var job models.PipelineJob
	if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	return &job, nil
}

// promoteDue moves delayed jobs whose time has come onto the main list.
func (s *Service) promoteDue(ctx context.Context, jobType models.JobType) error {
	now := float64(time.Now().UnixMilli())
	due, err := s.rdb.ZRangeByScore(ctx, delayedKey(jobType), &redis.ZRangeBy{
		Min: "-inf", Max: fmt.Sprintf("%f", now),
	}).Result()
	if err != nil {
		return err
	}
	for _, payload := range due {
		removed, err := s.rdb.ZRem(ctx, delayedKey(jobType), payload).Result()
		if err != nil {
			return err
		}
		if removed == 0 {
			continue // another worker promoted it
		}
		if err := s.rdb.LPush(ctx, queueKey(jobType), payload).Err(); err != nil {
			return err
		}
	}
	return nil
}

// Depth returns the number of jobs waiting on a lane (excluding delayed).
func (s *Service) Depth(ctx context.Context, jobType models.JobType) (int64, error) {
	return s.rdb.LLen(ctx, queueKey(jobType)).Result()
}

// ShouldThrottle reports whether the slow lane is past the back-pressure
// threshold; the API boundary rejects or defers new HWP uploads then.
func (s *Service) ShouldThrottle(ctx context.Context) (bool, error) {
	depth, err := s.Depth(ctx, models.JobTypeSlowPipeline)
	if err != nil {
		return false, err
	}
	throttle := depth > int64(s.cfg.BackPressureThreshold)
	if throttle {
		slog.Warn("Slow queue past back-pressure threshold",
			"depth", depth, "threshold", s.cfg.BackPressureThreshold)
	}
	return throttle, nil
}

// Stats returns the current queue depths.
func (s *Service) Stats(ctx context.Context) (map[string]int64, error) {
	out := make(map[string]int64, 2)
	for _, jt := range []models.JobType{models.JobTypeFastPipeline, models.JobTypeSlowPipeline} {
		depth, err := s.Depth(ctx, jt)
		if err != nil {
			return nil, err
		}
		out[string(jt)] = depth
	}
	return out, nil
}

func queueKey(t models.JobType) string {
	if t == models.JobTypeSlowPipeline {
		return keySlowQueue
	}
	return keyFastQueue
}

func delayedKey(t models.JobType) string {
	if t == models.JobTypeSlowPipeline {
		return keySlowDelayed
	}
	return keyFastDelayed
}
