package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEncryptionKey_Hex(t *testing.T) {
	key, err := ParseEncryptionKey(strings.Repeat("ab", 32))
	require.NoError(t, err)
	assert.Len(t, key, 32)
	assert.Equal(t, byte(0xab), key[0])
}

func TestParseEncryptionKey_Raw32Bytes(t *testing.T) {
	raw := "0123456789abcdef0123456789abcdef"
	key, err := ParseEncryptionKey(raw)
	require.NoError(t, err)
	assert.Equal(t, []byte(raw), key)
}

func TestParseEncryptionKey_Invalid(t *testing.T) {
	_, err := ParseEncryptionKey("too-short")
	assert.Error(t, err)
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8000", cfg.HTTPPort)
	assert.Equal(t, ModePhase1, cfg.Pipeline.AnalysisMode)
	assert.Equal(t, 50, cfg.Pipeline.MinTextLength)
	assert.InDelta(t, 0.85, cfg.Pipeline.ConfidenceThreshold, 0.001)
	assert.Equal(t, 120*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, 10*time.Second, cfg.LLM.ConnectTimeout)
	assert.Equal(t, 3, cfg.LLM.MaxRetries)
	assert.Equal(t, 5*time.Minute, cfg.Queue.FastJobTimeout)
	assert.Equal(t, 20*time.Minute, cfg.Queue.SlowJobTimeout)
	assert.Equal(t, 50, cfg.Queue.BackPressureThreshold)
	assert.False(t, cfg.IsProduction())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("ANALYSIS_MODE", "phase_2")
	t.Setenv("MIN_TEXT_LENGTH", "120")
	t.Setenv("LLM_CONFIDENCE_THRESHOLD", "0.9")
	t.Setenv("LLM_TIMEOUT_SECONDS", "60")
	t.Setenv("USE_PARALLEL_LLM", "true")
	t.Setenv("ENVIRONMENT", "production")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ModePhase2, cfg.Pipeline.AnalysisMode)
	assert.Equal(t, 120, cfg.Pipeline.MinTextLength)
	assert.InDelta(t, 0.9, cfg.Pipeline.ConfidenceThreshold, 0.001)
	assert.Equal(t, 60*time.Second, cfg.LLM.Timeout, "bare numbers read as seconds")
	assert.True(t, cfg.Pipeline.UseParallelLLM)
	assert.True(t, cfg.IsProduction())
}

func TestLoad_InvalidEncryptionKeyFails(t *testing.T) {
	t.Setenv("ENCRYPTION_KEY", "nope")
	_, err := Load()
	assert.Error(t, err)
}

func TestQueueConfig_Validate(t *testing.T) {
	cfg := DefaultQueueConfig()
	require.NoError(t, cfg.Validate())

	cfg.FastWorkerCount = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultQueueConfig()
	cfg.MaxJobRetries = 5
	assert.Error(t, cfg.Validate(), "retries beyond configured intervals")
}

func TestSplitCSV(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitCSV(" a , b ,"))
	assert.Nil(t, splitCSV(""))
}
