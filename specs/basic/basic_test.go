package basic_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/durableflow/kernel/contracts"
	"github.com/durableflow/kernel/specs/basic"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time  { return c.now }
func (c fixedClock) Random() float64 { return 0 }

func TestTerminalSpecFinalizesOnOK(t *testing.T) {
	s := basic.NewTerminal("greet", "GREET")
	state := contracts.EngineState{
		OpenSteps: map[string]contracts.StepState{"g1": {Kind: "GREET", Status: contracts.StepDone}},
	}
	decision, err := s.OnAgentCompleted(state, contracts.AgentResponse{StepID: "g1", Status: contracts.AgentOK}, fixedClock{})
	require.NoError(t, err)
	require.True(t, decision.Finalize)
	require.Empty(t, decision.Actions)
}

func TestTerminalSpecAnnotatesOnFailure(t *testing.T) {
	s := basic.NewTerminal("greet", "GREET")
	state := contracts.EngineState{
		OpenSteps: map[string]contracts.StepState{"g1": {Kind: "GREET", Status: contracts.StepFailed}},
	}
	decision, err := s.OnAgentCompleted(state, contracts.AgentResponse{StepID: "g1", Status: contracts.AgentFail, Errors: []string{"boom"}}, fixedClock{})
	require.NoError(t, err)
	require.False(t, decision.Finalize)
	require.Len(t, decision.Actions, 1)
	require.Equal(t, contracts.Annotate{Key: "failure:g1", Value: []string{"boom"}}, decision.Actions[0])
}

func TestTerminalSpecIgnoresUnknownStep(t *testing.T) {
	s := basic.NewTerminal("greet", "GREET")
	decision, err := s.OnAgentCompleted(contracts.EngineState{OpenSteps: map[string]contracts.StepState{}}, contracts.AgentResponse{StepID: "missing", Status: contracts.AgentOK}, fixedClock{})
	require.NoError(t, err)
	require.Equal(t, contracts.EngineDecision{}, decision)
}

func TestPipelineSpecAdvancesStages(t *testing.T) {
	s := basic.NewPipeline("build-and-test", []string{"BUILD", "TEST", "DEPLOY"})
	state := contracts.EngineState{
		OpenSteps: map[string]contracts.StepState{"s1": {Kind: "BUILD", Status: contracts.StepDone}},
	}
	decision, err := s.OnAgentCompleted(state, contracts.AgentResponse{StepID: "s1", Status: contracts.AgentOK}, fixedClock{})
	require.NoError(t, err)
	require.False(t, decision.Finalize)
	require.Equal(t, []contracts.EngineAction{contracts.RequestWork{WorkKind: "TEST"}}, decision.Actions)
}

func TestPipelineSpecFinalizesOnLastStage(t *testing.T) {
	s := basic.NewPipeline("build-and-test", []string{"BUILD", "TEST", "DEPLOY"})
	state := contracts.EngineState{
		OpenSteps: map[string]contracts.StepState{"s3": {Kind: "DEPLOY", Status: contracts.StepDone}},
	}
	decision, err := s.OnAgentCompleted(state, contracts.AgentResponse{StepID: "s3", Status: contracts.AgentOK}, fixedClock{})
	require.NoError(t, err)
	require.True(t, decision.Finalize)
	require.Empty(t, decision.Actions)
}

func TestPipelineSpecHaltsOnFailure(t *testing.T) {
	s := basic.NewPipeline("build-and-test", []string{"BUILD", "TEST", "DEPLOY"})
	state := contracts.EngineState{
		OpenSteps: map[string]contracts.StepState{"s1": {Kind: "BUILD", Status: contracts.StepFailed}},
	}
	decision, err := s.OnAgentCompleted(state, contracts.AgentResponse{StepID: "s1", Status: contracts.AgentFail}, fixedClock{})
	require.NoError(t, err)
	require.Equal(t, contracts.EngineDecision{}, decision)
}

func TestApprovalGateSpecOpensGateThenFinalizes(t *testing.T) {
	s := basic.NewApprovalGate("release", basic.ApprovalGateOptions{WorkKind: "W"})

	state := contracts.EngineState{
		OpenSteps: map[string]contracts.StepState{"W-1": {Kind: "W", Status: contracts.StepDone}},
	}
	decision, err := s.OnAgentCompleted(state, contracts.AgentResponse{StepID: "W-1", Status: contracts.AgentOK}, fixedClock{})
	require.NoError(t, err)
	require.Equal(t, []contracts.EngineAction{contracts.RequestApproval{StepID: "approval"}}, decision.Actions)

	state.OpenSteps["approval"] = contracts.StepState{Kind: contracts.ApprovalKind, Status: contracts.StepDone}
	decision, err = s.OnAgentCompleted(state, contracts.AgentResponse{StepID: "W-1", Status: contracts.AgentOK}, fixedClock{})
	require.NoError(t, err)
	require.Empty(t, decision.Actions)

	final, err := s.OnCustomEvent(state, "gateCleared", nil, fixedClock{})
	require.NoError(t, err)
	require.NotNil(t, final)
	require.True(t, final.Finalize)
}

func TestApprovalGateSpecIgnoresUnrelatedEvents(t *testing.T) {
	s := basic.NewApprovalGate("release", basic.ApprovalGateOptions{})
	final, err := s.OnCustomEvent(contracts.EngineState{}, "somethingElse", nil, fixedClock{})
	require.NoError(t, err)
	require.Nil(t, final)
}
