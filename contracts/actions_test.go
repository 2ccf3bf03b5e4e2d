package contracts_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/durableflow/kernel/contracts"
)

func TestEngineDecisionRoundTripsKnownActions(t *testing.T) {
	decision := contracts.EngineDecision{
		DecisionID: "d1",
		BasedOn:    &contracts.DecisionBasis{StepID: "s1", RunID: "r1"},
		Actions: []contracts.EngineAction{
			contracts.RequestWork{WorkKind: "BUILD", StepID: "s2"},
			contracts.RequestApproval{StepID: "ap1"},
			contracts.Annotate{Key: "k", Value: "v"},
		},
		Finalize: true,
	}

	b, err := json.Marshal(decision)
	require.NoError(t, err)

	var got contracts.EngineDecision
	require.NoError(t, json.Unmarshal(b, &got))
	require.Equal(t, decision, got)
}

func TestEngineDecisionDecodesUnknownActionTag(t *testing.T) {
	raw := []byte(`{"actions":[{"type":"REQUEST_UNSUPPORTED","action":{}}]}`)

	var decision contracts.EngineDecision
	require.NoError(t, json.Unmarshal(raw, &decision))
	require.Len(t, decision.Actions, 1)
	require.Equal(t, contracts.UnknownAction{Tag: "REQUEST_UNSUPPORTED"}, decision.Actions[0])
}

func TestGoalStatusTerminal(t *testing.T) {
	terminal := []contracts.GoalStatus{contracts.StatusCompleted, contracts.StatusFailed, contracts.StatusCancelled}
	for _, s := range terminal {
		require.True(t, s.Terminal(), "expected %q to be terminal", s)
	}
	nonTerminal := []contracts.GoalStatus{contracts.StatusRunning, contracts.StatusAwaitingApproval}
	for _, s := range nonTerminal {
		require.False(t, s.Terminal(), "expected %q to not be terminal", s)
	}
}

func TestEngineStateCloneIsIndependent(t *testing.T) {
	orig := contracts.EngineState{
		GoalID:    "g1",
		Status:    contracts.StatusRunning,
		OpenSteps: map[string]contracts.StepState{"s1": {Kind: "X", Status: contracts.StepWaiting}},
		Artifacts: map[string]any{"a": 1},
		Log:       []contracts.LogEvent{{Event: "E"}},
	}
	clone := orig.Clone()
	clone.OpenSteps["s1"] = contracts.StepState{Kind: "Y", Status: contracts.StepDone}
	clone.Artifacts["a"] = 2
	clone.Log[0].Event = "CHANGED"

	require.Equal(t, "X", orig.OpenSteps["s1"].Kind)
	require.Equal(t, 1, orig.Artifacts["a"])
	require.Equal(t, "E", orig.Log[0].Event)
}
