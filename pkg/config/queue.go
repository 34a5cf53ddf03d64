package config

import (
	"fmt"
	"time"
)

// QueueConfig contains queue routing, worker pool, and retry settings.
// Fast and slow lanes are sized separately so HWP/HWPX conversions cannot
// starve PDF/DOCX throughput.
type QueueConfig struct {
	RedisURL string

	UseSplitQueues bool

	FastWorkerCount int
	SlowWorkerCount int

	// Per-job processing timeouts.
	FastJobTimeout time.Duration
	SlowJobTimeout time.Duration

	// Retry policy: max attempts after the first failure, with the listed
	// back-off intervals between attempts.
	MaxJobRetries      int
	FastRetryIntervals []time.Duration
	SlowRetryIntervals []time.Duration

	// Admission control: reject new slow uploads past this depth.
	BackPressureThreshold int

	// DLQ entries expire after this TTL.
	DLQRetention time.Duration

	PollInterval            time.Duration
	GracefulShutdownTimeout time.Duration
}

// DefaultQueueConfig returns the built-in queue defaults.
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		RedisURL:              "redis://localhost:6379/0",
		UseSplitQueues:        true,
		FastWorkerCount:       4,
		SlowWorkerCount:       2,
		FastJobTimeout:        5 * time.Minute,
		SlowJobTimeout:        20 * time.Minute,
		MaxJobRetries:         2,
		FastRetryIntervals:    []time.Duration{30 * time.Second, 60 * time.Second},
		SlowRetryIntervals:    []time.Duration{60 * time.Second, 120 * time.Second},
		BackPressureThreshold: 50,
		DLQRetention:          30 * 24 * time.Hour,
		PollInterval:          1 * time.Second,
		GracefulShutdownTimeout: 30 * time.Second,
	}
}

// LoadQueueConfig applies env overrides to the defaults.
func LoadQueueConfig() *QueueConfig {
	cfg := DefaultQueueConfig()
	cfg.RedisURL = getEnv("REDIS_URL", cfg.RedisURL)
	cfg.UseSplitQueues = getEnvBool("USE_SPLIT_QUEUES", cfg.UseSplitQueues)
	cfg.FastWorkerCount = getEnvInt("FAST_WORKER_COUNT", cfg.FastWorkerCount)
	cfg.SlowWorkerCount = getEnvInt("SLOW_WORKER_COUNT", cfg.SlowWorkerCount)
	cfg.MaxJobRetries = getEnvInt("QUEUE_MAX_RETRIES", cfg.MaxJobRetries)
	cfg.BackPressureThreshold = getEnvInt("BACKPRESSURE_THRESHOLD", cfg.BackPressureThreshold)
	return cfg
}

// Validate checks worker counts and retry intervals.
func (c *QueueConfig) Validate() error {
	if c.FastWorkerCount < 1 || c.SlowWorkerCount < 1 {
		return fmt.Errorf("worker counts must be at least 1 (fast=%d slow=%d)",
			c.FastWorkerCount, c.SlowWorkerCount)
	}
	if c.MaxJobRetries > len(c.FastRetryIntervals) || c.MaxJobRetries > len(c.SlowRetryIntervals) {
		return fmt.Errorf("QUEUE_MAX_RETRIES (%d) exceeds configured retry intervals", c.MaxJobRetries)
	}
	return nil
}

// RetryInterval returns the back-off delay before the given attempt
// (1-based) for the lane.
func (c *QueueConfig) RetryInterval(jobType string, attempt int) time.Duration {
	intervals := c.FastRetryIntervals
	if jobType == "slow_pipeline" {
		intervals = c.SlowRetryIntervals
	}
	if attempt < 1 {
		attempt = 1
	}
	if attempt > len(intervals) {
		return intervals[len(intervals)-1]
	}
	return intervals[attempt-1]
}
