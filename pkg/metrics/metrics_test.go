package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCollector() *Collector {
	return NewCollector(prometheus.NewRegistry())
}

func TestSnapshot_StageAggregation(t *testing.T) {
	c := testCollector()
	c.RecordStage("analysis", 100*time.Millisecond, true)
	c.RecordStage("analysis", 300*time.Millisecond, true)
	c.RecordStage("analysis", 200*time.Millisecond, false)
	c.RecordStage("parsing", 50*time.Millisecond, true)

	summary := c.Snapshot(time.Hour)
	analysis := summary.Stages["analysis"]
	require.Equal(t, 3, analysis.Count)
	assert.InDelta(t, 2.0/3.0, analysis.SuccessRate, 0.001)
	assert.Equal(t, 200*time.Millisecond, analysis.Mean)
	assert.Equal(t, 100*time.Millisecond, analysis.Min)
	assert.Equal(t, 300*time.Millisecond, analysis.Max)
	assert.Equal(t, 1, summary.Stages["parsing"].Count)
}

func TestSnapshot_JobSuccessRate(t *testing.T) {
	c := testCollector()
	c.RecordJob(true)
	c.RecordJob(true)
	c.RecordJob(false)
	c.RecordJobRetry()

	summary := c.Snapshot(time.Hour)
	assert.Equal(t, 3, summary.JobsTotal)
	assert.Equal(t, 1, summary.JobsRetried)
	assert.InDelta(t, 2.0/3.0, summary.SuccessRate, 0.001)
}

func TestSnapshot_TokenTotalsAndCost(t *testing.T) {
	c := testCollector()
	c.RecordTokens("openai", "gpt-4o-mini", 1_000_000, 1_000_000)
	c.RecordTokens("openai", "gpt-4o-mini", 500_000, 0)
	c.RecordTokens("gemini", "gemini-2.0-flash", 1_000_000, 0)

	summary := c.Snapshot(time.Hour)
	openai := summary.TokensByProv["openai"]
	assert.Equal(t, 1_500_000, openai.TokensIn)
	assert.Equal(t, 1_000_000, openai.TokensOut)
	// 1.5M in × $0.15/M + 1M out × $0.60/M
	assert.InDelta(t, 0.225+0.60, openai.CostUSD, 0.001)

	assert.Greater(t, summary.Cost.WindowUSD, 0.0)
	assert.InDelta(t, summary.Cost.HourlyUSD*24, summary.Cost.DailyUSD, 0.0001)
	assert.InDelta(t, summary.Cost.DailyUSD*30, summary.Cost.MonthlyUSD, 0.001)
}

func TestSnapshot_WindowExcludesOldSamples(t *testing.T) {
	c := testCollector()
	c.RecordStage("analysis", time.Second, true)
	c.stageSamples[0].At = time.Now().Add(-2 * time.Hour)

	summary := c.Snapshot(time.Hour)
	assert.Empty(t, summary.Stages)
}
