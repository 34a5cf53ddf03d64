package pipeline

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvidenceStore_BoundEvictsWeakest(t *testing.T) {
	s := NewEvidenceStore(10)
	for i := 0; i < 11; i++ {
		s.Add("skills", Evidence{
			Value:      fmt.Sprintf("v%d", i),
			Provider:   "openai",
			Confidence: float64(i) / 20.0,
		})
	}
	list := s.Get("skills")
	require.Len(t, list, 10)
	for _, e := range list {
		assert.NotEqual(t, "v0", e.Value, "lowest-confidence entry is evicted")
	}
}

func TestEvidenceStore_Best(t *testing.T) {
	s := NewEvidenceStore(10)
	s.Add("name", Evidence{Value: "a", Provider: "openai", Confidence: 0.6})
	s.Add("name", Evidence{Value: "b", Provider: "gemini", Confidence: 0.9})

	best, ok := s.Best("name")
	require.True(t, ok)
	assert.Equal(t, "b", best.Value)

	_, ok = s.Best("missing")
	assert.False(t, ok)
}

func TestEvidenceStore_Consensus(t *testing.T) {
	s := NewEvidenceStore(10)
	s.Add("email", Evidence{Value: "Kim@example.com", Provider: "openai", Confidence: 0.8})
	s.Add("email", Evidence{Value: "kim@example.com ", Provider: "gemini", Confidence: 1.0})

	agreed, value, confidence := s.Consensus("email")
	assert.True(t, agreed, "normalization ignores case and whitespace")
	assert.Equal(t, "Kim@example.com", value)
	assert.InDelta(t, 0.9, confidence, 0.001)

	s.Add("email", Evidence{Value: "other@example.com", Provider: "anthropic", Confidence: 0.7})
	agreed, _, _ = s.Consensus("email")
	assert.False(t, agreed)
}

func TestEvidenceStore_ConfidenceClamped(t *testing.T) {
	s := NewEvidenceStore(10)
	s.Add("f", Evidence{Value: "x", Confidence: 1.5})
	s.Add("f", Evidence{Value: "y", Confidence: -0.2})
	list := s.Get("f")
	assert.Equal(t, 1.0, list[0].Confidence)
	assert.Equal(t, 0.0, list[1].Confidence)
}
