package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecide_SingleProposal(t *testing.T) {
	m := NewDecisionManager()
	m.Propose("name", Proposal{Agent: "analyst_openai", Value: "김철수", Confidence: 0.9})

	d, err := m.Decide("name")
	require.NoError(t, err)
	assert.Equal(t, MethodSingle, d.Method)
	assert.Equal(t, "김철수", d.FinalValue)
	assert.InDelta(t, 0.9, d.FinalConfidence, 0.001)
	assert.False(t, d.HadConflict)
}

func TestDecide_Unanimous(t *testing.T) {
	m := NewDecisionManager()
	m.Propose("email", Proposal{Agent: "analyst_openai", Value: "Kim@example.com", Confidence: 0.8})
	m.Propose("email", Proposal{Agent: "analyst_gemini", Value: "kim@example.com", Confidence: 1.0})

	d, err := m.Decide("email")
	require.NoError(t, err)
	assert.Equal(t, MethodUnanimous, d.Method, "case difference should normalize away")
	assert.InDelta(t, 0.9, d.FinalConfidence, 0.001, "unanimous confidence is the mean")
	assert.False(t, d.HadConflict)
	assert.Zero(t, m.ConflictCount())
}

func TestDecide_MajorityVote(t *testing.T) {
	m := NewDecisionManager()
	m.Propose("phone", Proposal{Agent: "analyst_openai", Value: "010-1234-5678", Confidence: 0.9})
	m.Propose("phone", Proposal{Agent: "analyst_gemini", Value: "010-1234-5678", Confidence: 0.8})
	m.Propose("phone", Proposal{Agent: "analyst_claude", Value: "010-1234-5679", Confidence: 0.95})

	d, err := m.Decide("phone")
	require.NoError(t, err)
	assert.Equal(t, MethodMajorityVote, d.Method)
	assert.Equal(t, "010-1234-5678", d.FinalValue)
	assert.True(t, d.HadConflict)
	// Mean of winners (0.85) with the 5% majority penalty.
	assert.InDelta(t, 0.85*0.95, d.FinalConfidence, 0.001)
	assert.Equal(t, 1, m.ConflictCount())
}

func TestDecide_AuthorityThenConfidence(t *testing.T) {
	m := NewDecisionManager()
	m.Propose("name", Proposal{Agent: "analyst_openai", Value: "이영희", Confidence: 0.95})
	m.Propose("name", Proposal{Agent: "pii_extractor", Value: "김철수", Confidence: 0.85})

	d, err := m.Decide("name")
	require.NoError(t, err)
	assert.Equal(t, MethodAuthorityThenConfidence, d.Method)
	assert.Equal(t, "김철수", d.FinalValue,
		"regex extractor outranks LLM analysts regardless of confidence")
	assert.True(t, d.HadConflict)
	assert.InDelta(t, 0.85*0.9, d.FinalConfidence, 0.001)
}

func TestPropose_SameAgentOverwrites(t *testing.T) {
	m := NewDecisionManager()
	m.Propose("name", Proposal{Agent: "analyst_openai", Value: "first", Confidence: 0.5})
	m.Propose("name", Proposal{Agent: "analyst_openai", Value: "second", Confidence: 0.7})

	proposals := m.Proposals("name")
	require.Len(t, proposals, 1, "a later proposal from the same agent replaces the earlier one")
	assert.Equal(t, "second", proposals[0].Value)
}

func TestPropose_InvalidatesCachedDecision(t *testing.T) {
	m := NewDecisionManager()
	m.Propose("name", Proposal{Agent: "a", Value: "x", Confidence: 0.5})
	_, err := m.Decide("name")
	require.NoError(t, err)

	m.Propose("name", Proposal{Agent: "b", Value: "x", Confidence: 0.9})
	d, err := m.Decide("name")
	require.NoError(t, err)
	assert.Equal(t, MethodUnanimous, d.Method, "new proposal must trigger re-arbitration")
}

func TestDecide_NoProposals(t *testing.T) {
	m := NewDecisionManager()
	_, err := m.Decide("missing")
	assert.Error(t, err)
}

func TestDecideAll(t *testing.T) {
	m := NewDecisionManager()
	m.Propose("name", Proposal{Agent: "a", Value: "x", Confidence: 0.5})
	m.Propose("email", Proposal{Agent: "a", Value: "x@y.com", Confidence: 0.9})

	decisions := m.DecideAll()
	assert.Len(t, decisions, 2)
	for field, d := range decisions {
		assert.Equal(t, field, d.Field)
		assert.NotEmpty(t, d.Proposals)
	}
}
