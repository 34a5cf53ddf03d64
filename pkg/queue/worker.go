package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/talenthive/cvflow/pkg/config"
	"github.com/talenthive/cvflow/pkg/models"
)

// JobExecutor processes one dequeued job to completion.
type JobExecutor interface {
	Execute(ctx context.Context, job *models.PipelineJob) error
}

// PermanentError marks a failure the queue must not retry; the job goes
// straight to the DLQ.
type PermanentError struct {
	Code string
	Err  error
}

func (e *PermanentError) Error() string { return fmt.Sprintf("%s: %v", e.Code, e.Err) }
func (e *PermanentError) Unwrap() error { return e.Err }

// Worker polls one lane and processes jobs with the lane's timeout and
// retry policy.
type Worker struct {
	id       string
	jobType  models.JobType
	service  *Service
	cfg      *config.QueueConfig
	executor JobExecutor
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu           sync.RWMutex
	busy         bool
	currentJobID string
	processed    int
	lastActivity time.Time
}

// WorkerHealth is one worker's health snapshot.
type WorkerHealth struct {
	ID           string    `json:"id"`
	JobType      string    `json:"job_type"`
	Busy         bool      `json:"busy"`
	CurrentJobID string    `json:"current_job_id,omitempty"`
	Processed    int       `json:"processed"`
	LastActivity time.Time `json:"last_activity"`
}

// NewWorker creates a worker for one lane.
func NewWorker(id string, jobType models.JobType, service *Service, cfg *config.QueueConfig, executor JobExecutor) *Worker {
	return &Worker{
		id:           id,
		jobType:      jobType,
		service:      service,
		cfg:          cfg,
		executor:     executor,
		stopCh:       make(chan struct{}),
		lastActivity: time.Now(),
	}
}

// Start begins the polling loop in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the worker to stop and waits for the current job to
// finish. Safe to call multiple times.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

// Health returns the worker's current state.
func (w *Worker) Health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{
		ID:           w.id,
		JobType:      string(w.jobType),
		Busy:         w.busy,
		CurrentJobID: w.currentJobID,
		Processed:    w.processed,
		LastActivity: w.lastActivity,
	}
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	log := slog.With("worker_id", w.id, "queue", w.jobType)
	log.Info("Worker started")

	for {
		select {
		case <-w.stopCh:
			log.Info("Worker shutting down")
			return
		case <-ctx.Done():
			log.Info("Context cancelled, worker shutting down")
			return
		default:
			job, err := w.service.Dequeue(ctx, w.jobType, w.cfg.PollInterval)
			if err != nil {
				if ctx.Err() != nil {
					continue
				}
				log.Error("Dequeue failed", "error", err)
				w.sleep(time.Second)
				continue
			}
			if job == nil {
				continue
			}
			w.process(ctx, job)
		}
	}
}

// process executes one job under its lane timeout and applies the retry
// policy on failure.
func (w *Worker) process(ctx context.Context, job *models.PipelineJob) {
	log := slog.With("worker_id", w.id, "job_id", job.JobID, "attempt", job.Attempt)

	w.setBusy(true, job.JobID)
	defer w.setBusy(false, "")

	jobCtx, cancel := context.WithTimeout(ctx, w.service.JobTimeout(job.Type))
	defer cancel()

	start := time.Now()
	err := w.executor.Execute(jobCtx, job)
	if err == nil {
		w.mu.Lock()
		w.processed++
		w.mu.Unlock()
		log.Info("Job completed", "duration", time.Since(start))
		return
	}

	log.Error("Job failed", "error", err, "duration", time.Since(start))
	w.handleFailure(ctx, job, err)
}

// handleFailure requeues retryable failures with the lane back-off; a
// permanent error or exhausted retries writes a DLQ entry.
func (w *Worker) handleFailure(ctx context.Context, job *models.PipelineJob, jobErr error) {
	var permanent *PermanentError
	isPermanent := asPermanent(jobErr, &permanent)

	if !isPermanent && job.Attempt < w.cfg.MaxJobRetries {
		job.Attempt++
		delay := w.cfg.RetryInterval(string(job.Type), job.Attempt)
		if err := w.service.EnqueueDelayed(ctx, job, delay); err != nil {
			slog.Error("Failed to schedule retry, writing to DLQ",
				"job_id", job.JobID, "error", err)
			w.writeDLQ(ctx, job, jobErr)
		}
		return
	}

	w.writeDLQ(ctx, job, jobErr)
}

func (w *Worker) writeDLQ(ctx context.Context, job *models.PipelineJob, jobErr error) {
	errorType := "UNKNOWN"
	var permanent *PermanentError
	if asPermanent(jobErr, &permanent) {
		errorType = permanent.Code
	}
	if _, err := w.service.AddToDLQ(ctx, job, errorType, jobErr.Error()); err != nil {
		slog.Error("Failed to write DLQ entry", "job_id", job.JobID, "error", err)
	}
}

func (w *Worker) setBusy(busy bool, jobID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.busy = busy
	w.currentJobID = jobID
	w.lastActivity = time.Now()
}

func (w *Worker) sleep(d time.Duration) {
	select {
	case <-w.stopCh:
	case <-time.After(d):
	}
}

func asPermanent(err error, target **PermanentError) bool {
	return errors.As(err, target)
}
