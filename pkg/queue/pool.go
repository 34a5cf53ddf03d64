package queue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/talenthive/cvflow/pkg/config"
	"github.com/talenthive/cvflow/pkg/models"
)

// WorkerPool runs separately sized fast and slow worker sets so slow
// HWP/HWPX conversions cannot starve fast PDF/DOCX throughput.
type WorkerPool struct {
	service  *Service
	cfg      *config.QueueConfig
	executor JobExecutor
	workers  []*Worker
	started  bool
}

// PoolHealth is the pool's aggregate health snapshot.
type PoolHealth struct {
	FastDepth   int64          `json:"fast_depth"`
	SlowDepth   int64          `json:"slow_depth"`
	WorkerStats []WorkerHealth `json:"workers"`
	Busy        int            `json:"busy_workers"`
}

// NewWorkerPool creates the pool; Start spawns the workers.
func NewWorkerPool(service *Service, cfg *config.QueueConfig, executor JobExecutor) *WorkerPool {
	return &WorkerPool{service: service, cfg: cfg, executor: executor}
}

// Start spawns fast and slow workers. Subsequent calls are no-ops.
func (p *WorkerPool) Start(ctx context.Context) {
	if p.started {
		slog.Warn("Worker pool already started, ignoring duplicate Start call")
		return
	}
	p.started = true

	for i := 0; i < p.cfg.FastWorkerCount; i++ {
		w := NewWorker(fmt.Sprintf("fast-%d", i), models.JobTypeFastPipeline, p.service, p.cfg, p.executor)
		p.workers = append(p.workers, w)
		w.Start(ctx)
	}
	for i := 0; i < p.cfg.SlowWorkerCount; i++ {
		w := NewWorker(fmt.Sprintf("slow-%d", i), models.JobTypeSlowPipeline, p.service, p.cfg, p.executor)
		p.workers = append(p.workers, w)
		w.Start(ctx)
	}

	slog.Info("Worker pool started",
		"fast_workers", p.cfg.FastWorkerCount, "slow_workers", p.cfg.SlowWorkerCount)
}

// Stop signals every worker and waits for in-flight jobs to finish.
func (p *WorkerPool) Stop() {
	slog.Info("Stopping worker pool gracefully")
	for _, w := range p.workers {
		w.Stop()
	}
	slog.Info("Worker pool stopped")
}

// Health returns queue depths and per-worker state.
func (p *WorkerPool) Health(ctx context.Context) *PoolHealth {
	health := &PoolHealth{}
	if depth, err := p.service.Depth(ctx, models.JobTypeFastPipeline); err == nil {
		health.FastDepth = depth
	}
	if depth, err := p.service.Depth(ctx, models.JobTypeSlowPipeline); err == nil {
		health.SlowDepth = depth
	}
	for _, w := range p.workers {
		stat := w.Health()
		health.WorkerStats = append(health.WorkerStats, stat)
		if stat.Busy {
			health.Busy++
		}
	}
	return health
}
