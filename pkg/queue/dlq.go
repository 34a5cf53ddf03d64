package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/talenthive/cvflow/pkg/models"
)

// DLQ key layout.
const (
	keyDLQList       = "cvflow:dlq:failed_jobs"
	keyDLQMetaPrefix = "cvflow:dlq:meta:"
)

// AddToDLQ writes a dead-letter entry for a job that exhausted its
// retries and returns the DLQ id. Entries expire after the configured
// retention.
func (s *Service) AddToDLQ(ctx context.Context, job *models.PipelineJob, errorType, traceback string) (string, error) {
	entry := models.DLQEntry{
		DLQID:      "dlq-" + uuid.NewString()[:12],
		JobID:      job.JobID,
		UserID:     job.UserID,
		JobType:    job.Type,
		ErrorType:  errorType,
		RetryCount: job.Attempt,
		FailedAt:   time.Now(),
		JobKwargs:  jobKwargs(job),
		Traceback:  traceback,
	}

	payload, err := json.Marshal(entry)
	if err != nil {
		return "", fmt.Errorf("encode DLQ entry: %w", err)
	}

	metaKey := keyDLQMetaPrefix + entry.DLQID
	if err := s.rdb.HSet(ctx, metaKey, "data", payload).Err(); err != nil {
		return "", fmt.Errorf("store DLQ entry: %w", err)
	}
	if err := s.rdb.Expire(ctx, metaKey, s.cfg.DLQRetention).Err(); err != nil {
		return "", fmt.Errorf("set DLQ TTL: %w", err)
	}
	if err := s.rdb.LPush(ctx, keyDLQList, entry.DLQID).Err(); err != nil {
		return "", fmt.Errorf("index DLQ entry: %w", err)
	}

	slog.Warn("Job moved to dead-letter queue",
		"dlq_id", entry.DLQID, "job_id", job.JobID,
		"job_type", job.Type, "error_type", errorType, "retries", job.Attempt)
	return entry.DLQID, nil
}

// ListDLQ returns entries, newest first, optionally filtered by job type
// and user id. Stale ids whose metadata expired are pruned as they are
// encountered.
func (s *Service) ListDLQ(ctx context.Context, jobType, userID string, limit int) ([]models.DLQEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	ids, err := s.rdb.LRange(ctx, keyDLQList, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list DLQ ids: %w", err)
	}

	var entries []models.DLQEntry
	for _, id := range ids {
		entry, err := s.GetDLQEntry(ctx, id)
		if err != nil {
			s.rdb.LRem(ctx, keyDLQList, 1, id)
			continue
		}
		if jobType != "" && string(entry.JobType) != jobType {
			continue
		}
		if userID != "" && entry.UserID != userID {
			continue
		}
		entries = append(entries, *entry)
		if len(entries) >= limit {
			break
		}
	}
	return entries, nil
}

// GetDLQEntry fetches a single entry with its traceback.
func (s *Service) GetDLQEntry(ctx context.Context, dlqID string) (*models.DLQEntry, error) {
	payload, err := s.rdb.HGet(ctx, keyDLQMetaPrefix+dlqID, "data").Result()
	if err == redis.Nil {
		return nil, fmt.Errorf("DLQ entry %s not found", dlqID)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch DLQ entry: %w", err)
	}
	var entry models.DLQEntry
	if err := json.Unmarshal([]byte(payload), &entry); err != nil {
		return nil, fmt.Errorf("decode DLQ entry: %w", err)
	}
	return &entry, nil
}

// RetryDLQEntry re-enqueues the job with its exact original kwargs and
// removes the entry on success.
func (s *Service) RetryDLQEntry(ctx context.Context, dlqID string) (*models.PipelineJob, error) {
	entry, err := s.GetDLQEntry(ctx, dlqID)
	if err != nil {
		return nil, err
	}

	job := jobFromKwargs(entry)
	job.Attempt = 0
	if err := s.Enqueue(ctx, job); err != nil {
		return nil, fmt.Errorf("re-enqueue DLQ job: %w", err)
	}

	if err := s.DeleteDLQEntry(ctx, dlqID); err != nil {
		return nil, fmt.Errorf("remove retried DLQ entry: %w", err)
	}
	slog.Info("DLQ entry retried", "dlq_id", dlqID, "job_id", job.JobID)
	return job, nil
}

// DeleteDLQEntry removes one entry.
func (s *Service) DeleteDLQEntry(ctx context.Context, dlqID string) error {
	if err := s.rdb.Del(ctx, keyDLQMetaPrefix+dlqID).Err(); err != nil {
		return fmt.Errorf("delete DLQ metadata: %w", err)
	}
	if err := s.rdb.LRem(ctx, keyDLQList, 1, dlqID).Err(); err != nil {
		return fmt.Errorf("delete DLQ index: %w", err)
	}
	return nil
}

// ClearDLQ removes every entry and returns how many were dropped.
func (s *Service) ClearDLQ(ctx context.Context) (int, error) {
	ids, err := s.rdb.LRange(ctx, keyDLQList, 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("list DLQ ids: %w", err)
	}
	for _, id := range ids {
		s.rdb.Del(ctx, keyDLQMetaPrefix+id)
	}
	if err := s.rdb.Del(ctx, keyDLQList).Err(); err != nil {
		return 0, fmt.Errorf("clear DLQ index: %w", err)
	}
	return len(ids), nil
}

// DLQStats aggregates entry counts by job type, error type, and user.
func (s *Service) DLQStats(ctx context.Context) (*models.DLQStats, error) {
	entries, err := s.ListDLQ(ctx, "", "", 10000)
	if err != nil {
		return nil, err
	}
	stats := &models.DLQStats{
		Total:       len(entries),
		ByJobType:   make(map[string]int),
		ByErrorType: make(map[string]int),
		ByUser:      make(map[string]int),
	}
	for _, e := range entries {
		stats.ByJobType[string(e.JobType)]++
		stats.ByErrorType[e.ErrorType]++
		stats.ByUser[e.UserID]++
	}
	return stats, nil
}

func jobKwargs(job *models.PipelineJob) map[string]any {
	kwargs := map[string]any{
		"file_path": job.FilePath,
		"file_name": job.FileName,
		"mode":      job.Mode,
	}
	for k, v := range job.Kwargs {
		kwargs[k] = v
	}
	return kwargs
}

func jobFromKwargs(entry *models.DLQEntry) *models.PipelineJob {
	job := &models.PipelineJob{
		JobID:  entry.JobID,
		UserID: entry.UserID,
		Type:   entry.JobType,
		Kwargs: entry.JobKwargs,
	}
	if v, ok := entry.JobKwargs["file_path"].(string); ok {
		job.FilePath = v
	}
	if v, ok := entry.JobKwargs["file_name"].(string); ok {
		job.FileName = v
	}
	if v, ok := entry.JobKwargs["mode"].(string); ok {
		job.Mode = v
	}
	return job
}
