package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talenthive/cvflow/pkg/config"
	"github.com/talenthive/cvflow/pkg/models"
)

func testService(t *testing.T) (*Service, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cfg := config.DefaultQueueConfig()
	cfg.PollInterval = 50 * time.Millisecond
	return NewServiceWithClient(rdb, cfg), mr
}

func TestRouteByExtension(t *testing.T) {
	assert.Equal(t, models.JobTypeFastPipeline, RouteByExtension("resume.pdf"))
	assert.Equal(t, models.JobTypeFastPipeline, RouteByExtension("resume.docx"))
	assert.Equal(t, models.JobTypeFastPipeline, RouteByExtension("resume.doc"))
	assert.Equal(t, models.JobTypeSlowPipeline, RouteByExtension("resume.hwp"))
	assert.Equal(t, models.JobTypeSlowPipeline, RouteByExtension("RESUME.HWPX"))
	assert.Equal(t, models.JobTypeFastPipeline, RouteByExtension("noextension"))
}

func TestEnqueueDequeue_RoundTrip(t *testing.T) {
	s, _ := testService(t)
	ctx := context.Background()

	job := &models.PipelineJob{
		JobID: "job-1", UserID: "user-1",
		FilePath: "resumes/a.pdf", FileName: "a.pdf", Mode: "phase_1",
	}
	require.NoError(t, s.Enqueue(ctx, job))
	assert.Equal(t, models.JobTypeFastPipeline, job.Type, "routed by extension")

	depth, err := s.Depth(ctx, models.JobTypeFastPipeline)
	require.NoError(t, err)
	assert.EqualValues(t, 1, depth)

	got, err := s.Dequeue(ctx, models.JobTypeFastPipeline, 100*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "job-1", got.JobID)
	assert.Equal(t, "resumes/a.pdf", got.FilePath)

	depth, _ = s.Depth(ctx, models.JobTypeFastPipeline)
	assert.EqualValues(t, 0, depth, "depth equals enqueued minus dequeued")
}

func TestDequeue_EmptyReturnsNil(t *testing.T) {
	s, _ := testService(t)
	got, err := s.Dequeue(context.Background(), models.JobTypeFastPipeline, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestEnqueueDelayed_PromotedWhenDue(t *testing.T) {
	s, _ := testService(t)
	ctx := context.Background()

	job := &models.PipelineJob{JobID: "job-2", UserID: "u", FileName: "a.hwp", Type: models.JobTypeSlowPipeline, Attempt: 1}
	require.NoError(t, s.EnqueueDelayed(ctx, job, 150*time.Millisecond))

	got, err := s.Dequeue(ctx, models.JobTypeSlowPipeline, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, got, "not due yet")

	time.Sleep(150 * time.Millisecond)

	got, err = s.Dequeue(ctx, models.JobTypeSlowPipeline, 50*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "job-2", got.JobID)
	assert.Equal(t, 1, got.Attempt)
}

func TestShouldThrottle_PastThreshold(t *testing.T) {
	s, _ := testService(t)
	ctx := context.Background()

	for i := 0; i < 51; i++ {
		require.NoError(t, s.Enqueue(ctx, &models.PipelineJob{
			JobID: "j", UserID: "u", FileName: "a.hwp", Type: models.JobTypeSlowPipeline,
		}))
	}

	throttle, err := s.ShouldThrottle(ctx)
	require.NoError(t, err)
	assert.True(t, throttle, "depth 51 exceeds threshold 50")
}

func TestShouldThrottle_AtThreshold(t *testing.T) {
	s, _ := testService(t)
	ctx := context.Background()
	for i := 0; i < 50; i++ {
		require.NoError(t, s.Enqueue(ctx, &models.PipelineJob{
			JobID: "j", UserID: "u", FileName: "a.hwp", Type: models.JobTypeSlowPipeline,
		}))
	}
	throttle, err := s.ShouldThrottle(ctx)
	require.NoError(t, err)
	assert.False(t, throttle, "threshold is strictly greater-than")
}

func TestRetryInterval_PerLane(t *testing.T) {
	cfg := config.DefaultQueueConfig()
	assert.Equal(t, 30*time.Second, cfg.RetryInterval("fast_pipeline", 1))
	assert.Equal(t, 60*time.Second, cfg.RetryInterval("fast_pipeline", 2))
	assert.Equal(t, 60*time.Second, cfg.RetryInterval("slow_pipeline", 1))
	assert.Equal(t, 120*time.Second, cfg.RetryInterval("slow_pipeline", 2))
}

func TestJobTimeout_PerLane(t *testing.T) {
	s, _ := testService(t)
	assert.Equal(t, 5*time.Minute, s.JobTimeout(models.JobTypeFastPipeline))
	assert.Equal(t, 20*time.Minute, s.JobTimeout(models.JobTypeSlowPipeline))
}
