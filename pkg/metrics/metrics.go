// Package metrics aggregates pipeline execution metrics in memory for
// the JSON endpoints and mirrors them onto Prometheus collectors.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Pricing per 1M tokens (input, output) used for cost projection.
var pricing = map[string][2]float64{
	"openai":    {0.15, 0.60},
	"gemini":    {0.10, 0.40},
	"anthropic": {0.80, 4.00},
	"embedding": {0.02, 0},
}

// StageSample is one recorded stage execution.
type StageSample struct {
	Stage    string
	Duration time.Duration
	Success  bool
	At       time.Time
}

// TokenSample is one recorded LLM usage event.
type TokenSample struct {
	Provider  string
	Model     string
	TokensIn  int
	TokensOut int
	At        time.Time
}

// Collector aggregates samples over a bounded in-memory window and
// exports Prometheus series.
type Collector struct {
	mu           sync.Mutex
	stageSamples []StageSample
	tokenSamples []TokenSample
	jobsTotal    int
	jobsFailed   int
	jobsRetried  int
	maxSamples   int

	promJobs      *prometheus.CounterVec
	promRetries   prometheus.Counter
	promStageTime *prometheus.HistogramVec
	promTokens    *prometheus.CounterVec
	promQueue     *prometheus.GaugeVec
}

// NewCollector creates a collector and registers its Prometheus series
// on the given registerer (nil uses the default registry).
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &Collector{
		maxSamples: 10000,
		promJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cvflow_jobs_total",
			Help: "Pipeline jobs by outcome.",
		}, []string{"outcome"}),
		promRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cvflow_job_retries_total",
			Help: "Pipeline runs that were queue or DLQ retries.",
		}),
		promStageTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cvflow_stage_duration_seconds",
			Help:    "Stage execution time.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"stage"}),
		promTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cvflow_llm_tokens_total",
			Help: "LLM tokens by provider, model, and direction.",
		}, []string{"provider", "model", "direction"}),
		promQueue: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cvflow_queue_depth",
			Help: "Queue depth by lane.",
		}, []string{"lane"}),
	}
	reg.MustRegister(c.promJobs, c.promRetries, c.promStageTime, c.promTokens, c.promQueue)
	return c
}

// RecordStage records one stage execution.
func (c *Collector) RecordStage(stage string, duration time.Duration, success bool) {
	c.mu.Lock()
	c.stageSamples = append(c.stageSamples, StageSample{
		Stage: stage, Duration: duration, Success: success, At: time.Now(),
	})
	c.trimLocked()
	c.mu.Unlock()
	c.promStageTime.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordJob records one completed pipeline job.
func (c *Collector) RecordJob(success bool) {
	c.mu.Lock()
	c.jobsTotal++
	if !success {
		c.jobsFailed++
	}
	c.mu.Unlock()
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	c.promJobs.WithLabelValues(outcome).Inc()
}

// RecordJobRetry records that a pipeline run was a retry of an earlier
// attempt (queue back-off or DLQ replay).
func (c *Collector) RecordJobRetry() {
	c.mu.Lock()
	c.jobsRetried++
	c.mu.Unlock()
	c.promRetries.Inc()
}

// RecordTokens records LLM usage for cost attribution.
func (c *Collector) RecordTokens(provider, model string, tokensIn, tokensOut int) {
	c.mu.Lock()
	c.tokenSamples = append(c.tokenSamples, TokenSample{
		Provider: provider, Model: model,
		TokensIn: tokensIn, TokensOut: tokensOut, At: time.Now(),
	})
	c.trimLocked()
	c.mu.Unlock()
	c.promTokens.WithLabelValues(provider, model, "in").Add(float64(tokensIn))
	c.promTokens.WithLabelValues(provider, model, "out").Add(float64(tokensOut))
}

// SetQueueDepth updates the queue depth gauge for a lane.
func (c *Collector) SetQueueDepth(lane string, depth int64) {
	c.promQueue.WithLabelValues(lane).Set(float64(depth))
}

// StageStats is the per-stage aggregate over a window.
type StageStats struct {
	Count       int           `json:"count"`
	SuccessRate float64       `json:"success_rate"`
	Mean        time.Duration `json:"mean"`
	Min         time.Duration `json:"min"`
	Max         time.Duration `json:"max"`
}

// Summary is the aggregated metrics snapshot for the JSON endpoints.
type Summary struct {
	WindowMinutes int                    `json:"window_minutes"`
	JobsTotal     int                    `json:"jobs_total"`
	JobsRetried   int                    `json:"jobs_retried"`
	SuccessRate   float64                `json:"success_rate"`
	Stages        map[string]StageStats  `json:"stages"`
	TokensByProv  map[string]TokenTotals `json:"tokens_by_provider"`
	Cost          CostProjection         `json:"cost"`
}

// TokenTotals is the per-provider token aggregate.
type TokenTotals struct {
	TokensIn  int     `json:"tokens_in"`
	TokensOut int     `json:"tokens_out"`
	CostUSD   float64 `json:"cost_usd"`
}

// CostProjection extrapolates the window's spend.
type CostProjection struct {
	WindowUSD  float64 `json:"window_usd"`
	HourlyUSD  float64 `json:"hourly_usd"`
	DailyUSD   float64 `json:"daily_usd"`
	MonthlyUSD float64 `json:"monthly_usd"`
}

// Snapshot aggregates samples from the last window.
func (c *Collector) Snapshot(window time.Duration) *Summary {
	if window <= 0 {
		window = time.Hour
	}
	cutoff := time.Now().Add(-window)

	c.mu.Lock()
	defer c.mu.Unlock()

	summary := &Summary{
		WindowMinutes: int(window.Minutes()),
		JobsTotal:     c.jobsTotal,
		JobsRetried:   c.jobsRetried,
		Stages:        make(map[string]StageStats),
		TokensByProv:  make(map[string]TokenTotals),
	}
	if c.jobsTotal > 0 {
		summary.SuccessRate = float64(c.jobsTotal-c.jobsFailed) / float64(c.jobsTotal)
	}

	type acc struct {
		count, ok int
		total     time.Duration
		min, max  time.Duration
	}
	stageAcc := make(map[string]*acc)
	for _, s := range c.stageSamples {
		if s.At.Before(cutoff) {
			continue
		}
		a := stageAcc[s.Stage]
		if a == nil {
			a = &acc{min: s.Duration, max: s.Duration}
			stageAcc[s.Stage] = a
		}
		a.count++
		if s.Success {
			a.ok++
		}
		a.total += s.Duration
		if s.Duration < a.min {
			a.min = s.Duration
		}
		if s.Duration > a.max {
			a.max = s.Duration
		}
	}
	for stage, a := range stageAcc {
		summary.Stages[stage] = StageStats{
			Count:       a.count,
			SuccessRate: float64(a.ok) / float64(a.count),
			Mean:        a.total / time.Duration(a.count),
			Min:         a.min,
			Max:         a.max,
		}
	}

	for _, t := range c.tokenSamples {
		if t.At.Before(cutoff) {
			continue
		}
		totals := summary.TokensByProv[t.Provider]
		totals.TokensIn += t.TokensIn
		totals.TokensOut += t.TokensOut
		rates := pricing[t.Provider]
		totals.CostUSD += float64(t.TokensIn)/1e6*rates[0] + float64(t.TokensOut)/1e6*rates[1]
		summary.TokensByProv[t.Provider] = totals
	}
	var windowCost float64
	for _, totals := range summary.TokensByProv {
		windowCost += totals.CostUSD
	}

	hours := window.Hours()
	if hours > 0 {
		hourly := windowCost / hours
		summary.Cost = CostProjection{
			WindowUSD:  windowCost,
			HourlyUSD:  hourly,
			DailyUSD:   hourly * 24,
			MonthlyUSD: hourly * 24 * 30,
		}
	}
	return summary
}

func (c *Collector) trimLocked() {
	if len(c.stageSamples) > c.maxSamples {
		c.stageSamples = append(c.stageSamples[:0], c.stageSamples[len(c.stageSamples)-c.maxSamples:]...)
	}
	if len(c.tokenSamples) > c.maxSamples {
		c.tokenSamples = append(c.tokenSamples[:0], c.tokenSamples[len(c.tokenSamples)-c.maxSamples:]...)
	}
}
