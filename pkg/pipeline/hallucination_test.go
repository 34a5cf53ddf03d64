package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHallucination_TextualAbsence(t *testing.T) {
	d := NewHallucinationDetector()
	d.SetSource("김철수는 카카오에서 백엔드 개발자로 일했다")

	assert.False(t, d.CheckTextual("current_company", "카카오"))
	assert.True(t, d.CheckTextual("current_company", "네이버"))

	records := d.Records()
	require.Len(t, records, 1)
	assert.Equal(t, "textual_absence", records[0].DetectionMethod)
	assert.Equal(t, HallucinationHigh, records[0].Severity)
}

func TestHallucination_IdentityFieldsAreCritical(t *testing.T) {
	d := NewHallucinationDetector()
	d.SetSource("some unrelated text")
	assert.True(t, d.CheckTextual("name", "홍길동"))
	assert.Equal(t, HallucinationCritical, d.Records()[0].Severity)
}

func TestHallucination_ShortValuesSkipped(t *testing.T) {
	d := NewHallucinationDetector()
	d.SetSource("text")
	assert.False(t, d.CheckTextual("field", "ab"))
	assert.Empty(t, d.Records())
}

func TestHallucination_Resolve(t *testing.T) {
	d := NewHallucinationDetector()
	d.SetSource("text")
	d.CheckTextual("summary", "fabricated content here")
	require.Equal(t, 1, d.UnresolvedCount())

	d.Resolve("summary")
	assert.Zero(t, d.UnresolvedCount())
}

func TestStageResults_Lifecycle(t *testing.T) {
	s := NewStageResults()

	r, ok := s.Get(StageParsing)
	require.True(t, ok)
	assert.Equal(t, StagePending, r.Status)

	s.Start(StageParsing)
	s.AddTokens(StageParsing, 100, 20)
	s.RecordRetry(StageParsing)
	s.Complete(StageParsing, "output")

	r, _ = s.Get(StageParsing)
	assert.Equal(t, StageCompleted, r.Status)
	assert.Equal(t, 100, r.TokensIn)
	assert.Equal(t, 1, r.RetryCount)
	assert.False(t, r.StartedAt.IsZero())
	assert.GreaterOrEqual(t, r.Duration(), time.Duration(0))

	s.Fail(StageAnalysis, assert.AnError)
	r, _ = s.Get(StageAnalysis)
	assert.Equal(t, StageFailed, r.Status)
	assert.NotEmpty(t, r.Error)

	s.Skip(StageEmbedding)
	r, _ = s.Get(StageEmbedding)
	assert.Equal(t, StageSkipped, r.Status)

	assert.Len(t, s.All(), len(StageOrder))
}
