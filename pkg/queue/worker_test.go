package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talenthive/cvflow/pkg/models"
)

type scriptedExecutor struct {
	err   error
	calls int
}

func (e *scriptedExecutor) Execute(_ context.Context, _ *models.PipelineJob) error {
	e.calls++
	return e.err
}

func TestWorker_PermanentErrorGoesStraightToDLQ(t *testing.T) {
	s, _ := testService(t)
	ctx := context.Background()

	executor := &scriptedExecutor{err: &PermanentError{Code: "MULTI_IDENTITY", Err: errors.New("two people")}}
	w := NewWorker("w-0", models.JobTypeFastPipeline, s, s.cfg, executor)

	job := failedJob("job-p", "user-1", models.JobTypeFastPipeline)
	job.Attempt = 0
	w.process(ctx, job)

	stats, err := s.DLQStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.ByErrorType["MULTI_IDENTITY"])

	// No retry scheduled.
	depth, _ := s.Depth(ctx, models.JobTypeFastPipeline)
	assert.EqualValues(t, 0, depth)
}

func TestWorker_TransientErrorSchedulesRetry(t *testing.T) {
	s, _ := testService(t)
	ctx := context.Background()

	executor := &scriptedExecutor{err: errors.New("LLM_TIMEOUT: upstream timeout")}
	w := NewWorker("w-0", models.JobTypeFastPipeline, s, s.cfg, executor)

	job := failedJob("job-t", "user-1", models.JobTypeFastPipeline)
	job.Attempt = 0
	w.process(ctx, job)

	stats, err := s.DLQStats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Total, "first transient failure retries, no DLQ entry")
}

func TestWorker_ExhaustedRetriesWriteDLQ(t *testing.T) {
	s, _ := testService(t)
	ctx := context.Background()

	executor := &scriptedExecutor{err: errors.New("still failing")}
	w := NewWorker("w-0", models.JobTypeFastPipeline, s, s.cfg, executor)

	job := failedJob("job-x", "user-1", models.JobTypeFastPipeline)
	job.Attempt = s.cfg.MaxJobRetries // already at the retry ceiling
	w.process(ctx, job)

	stats, err := s.DLQStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Total)
	entry, err := s.ListDLQ(ctx, "", "", 1)
	require.NoError(t, err)
	require.Len(t, entry, 1)
	assert.Equal(t, s.cfg.MaxJobRetries, entry[0].RetryCount)
}

func TestWorker_SuccessCountsProcessed(t *testing.T) {
	s, _ := testService(t)
	executor := &scriptedExecutor{}
	w := NewWorker("w-0", models.JobTypeFastPipeline, s, s.cfg, executor)

	w.process(context.Background(), failedJob("job-ok", "user-1", models.JobTypeFastPipeline))
	health := w.Health()
	assert.Equal(t, 1, health.Processed)
	assert.False(t, health.Busy)
	assert.Equal(t, 1, executor.calls)
}

func TestWorkerPool_StartStop(t *testing.T) {
	s, _ := testService(t)
	pool := NewWorkerPool(s, s.cfg, &scriptedExecutor{})

	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)
	defer cancel()

	health := pool.Health(ctx)
	assert.Len(t, health.WorkerStats, s.cfg.FastWorkerCount+s.cfg.SlowWorkerCount)

	done := make(chan struct{})
	go func() {
		pool.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("pool did not stop in time")
	}
}
