package flags

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUseNewPipelineFor_DisabledGoesLegacy(t *testing.T) {
	s := &Store{}
	s.flags = Flags{UseNewPipeline: false, NewPipelineRolloutPct: 1.0}
	assert.False(t, s.UseNewPipelineFor("user-1", "job-1"))
}

func TestUseNewPipelineFor_WhitelistWins(t *testing.T) {
	s := &Store{}
	s.flags = Flags{
		UseNewPipeline:     true,
		NewPipelineUserIDs: []string{"vip-user"},
	}
	assert.True(t, s.UseNewPipelineFor("vip-user", ""))
	assert.False(t, s.UseNewPipelineFor("other-user", ""))
}

func TestUseNewPipelineFor_FullRollout(t *testing.T) {
	s := &Store{}
	s.flags = Flags{UseNewPipeline: true, NewPipelineRolloutPct: 1.0}
	assert.True(t, s.UseNewPipelineFor("anyone", ""))
}

func TestUseNewPipelineFor_DeterministicHashRouting(t *testing.T) {
	s := &Store{}
	s.flags = Flags{UseNewPipeline: true, NewPipelineRolloutPct: 0.5}

	first := s.UseNewPipelineFor("user-1", "job-abc")
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, s.UseNewPipelineFor("user-1", "job-abc"),
			"same job id must route identically every time")
	}

	// Without a job id, partial rollout stays on legacy.
	assert.False(t, s.UseNewPipelineFor("user-1", ""))
}

func TestUseNewPipelineFor_RolloutProportion(t *testing.T) {
	s := &Store{}
	s.flags = Flags{UseNewPipeline: true, NewPipelineRolloutPct: 0.5}

	selected := 0
	const total = 1000
	for i := 0; i < total; i++ {
		if s.UseNewPipelineFor("u", jobID(i)) {
			selected++
		}
	}
	assert.InDelta(t, total/2, selected, total/10, "hash routing approximates the percentage")
}

func jobID(i int) string {
	return string(rune('a'+i%26)) + string(rune('0'+(i/26)%10)) + "-" + string(rune('a'+(i/260)%26))
}

func TestReload_ReadsEnvironment(t *testing.T) {
	t.Setenv("USE_NEW_PIPELINE", "true")
	t.Setenv("NEW_PIPELINE_ROLLOUT_PERCENTAGE", "0.25")
	t.Setenv("NEW_PIPELINE_USER_IDS", "a, b ,c")

	s := NewStore()
	flags := s.Current()
	assert.True(t, flags.UseNewPipeline)
	assert.Equal(t, 0.25, flags.NewPipelineRolloutPct)
	assert.Equal(t, []string{"a", "b", "c"}, flags.NewPipelineUserIDs)
}

func TestRolloutBucket_Range(t *testing.T) {
	for i := 0; i < 100; i++ {
		bucket := rolloutBucket(jobID(i))
		assert.GreaterOrEqual(t, bucket, 0)
		assert.Less(t, bucket, 100)
	}
}
