package kernel_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/durableflow/kernel/contracts"
	"github.com/durableflow/kernel/engine"
	"github.com/durableflow/kernel/engine/inmem"
	"github.com/durableflow/kernel/kernel"
	"github.com/durableflow/kernel/spec"
	"github.com/durableflow/kernel/specs/basic"
)

// registry is a trivial kernel.Registry backed by a map, standing in for
// coordinator.Coordinator in these kernel-level tests.
type registry map[string]spec.Spec

func (r registry) Resolve(name string) (spec.Spec, error) {
	s, ok := r[name]
	if !ok {
		return nil, fmt.Errorf("unknown spec %q", name)
	}
	return s, nil
}

// startGoal registers specs against a fresh in-memory engine and starts one
// goal workflow, returning its handle.
func startGoal(t *testing.T, specs registry, goalID, specName string, boot *contracts.EngineDecision) engine.WorkflowHandle {
	t.Helper()
	eng := inmem.New()
	k := kernel.New(specs)
	require.NoError(t, eng.RegisterWorkflow(context.Background(), k.Definition("test-queue")))

	handle, err := eng.StartWorkflow(context.Background(), engine.WorkflowStartRequest{
		ID:        goalID,
		Workflow:  kernel.WorkflowName,
		TaskQueue: "test-queue",
		Input: kernel.GoalInput{
			GoalID:       goalID,
			SpecName:     specName,
			BootDecision: boot,
		},
	})
	require.NoError(t, err)
	return handle
}

// waitForState polls currentState until want reports true or the timeout
// elapses, returning the last-observed state. The in-memory engine delivers
// signals asynchronously over a buffered channel, so tests must not assume a
// Signal call has already been processed by the time it returns.
func waitForState(t *testing.T, handle engine.WorkflowHandle, want func(contracts.EngineState) bool) contracts.EngineState {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	var last contracts.EngineState
	for time.Now().Before(deadline) {
		var state contracts.EngineState
		if err := handle.Query(context.Background(), kernel.QueryCurrentState, &state); err == nil {
			last = state
			if want(state) {
				return state
			}
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for expected state; last observed: %+v", last)
	return last
}

func signal(t *testing.T, handle engine.WorkflowHandle, name string, payload any) {
	t.Helper()
	require.NoError(t, handle.Signal(context.Background(), name, payload))
}

// Scenario 1: Hello.
func TestHelloScenario(t *testing.T) {
	specs := registry{"hello": basic.NewTerminal("hello", "GREET")}
	boot := &contracts.EngineDecision{
		Actions: []contracts.EngineAction{contracts.RequestWork{WorkKind: "GREET", StepID: "g1"}},
	}
	handle := startGoal(t, specs, "goal-hello", "hello", boot)

	signal(t, handle, kernel.SignalAgentCompleted, map[string]any{
		"stepId":   "g1",
		"response": contracts.AgentResponse{StepID: "g1", Status: contracts.AgentOK},
	})

	state := waitForState(t, handle, func(s contracts.EngineState) bool {
		return s.Status == contracts.StatusCompleted
	})
	require.Equal(t, contracts.StatusCompleted, state.Status)
	require.Equal(t, contracts.StepDone, state.OpenSteps["g1"].Status)
}

// twoPhaseSpec implements the spec.Spec for scenario 2 directly, since its
// "classify by step id prefix" rule is a test fixture, not a reusable shape
// offered by specs/basic.
type twoPhaseSpec struct {
	spec.NoCustomEvents
	spec.NoPostApply
}

func (twoPhaseSpec) Name() string { return "two-phase" }

func (twoPhaseSpec) OnAgentCompleted(state contracts.EngineState, resp contracts.AgentResponse, _ spec.ExecContext) (contracts.EngineDecision, error) {
	if resp.Status != contracts.AgentOK {
		return contracts.EngineDecision{}, nil
	}
	switch {
	case len(resp.StepID) >= 2 && resp.StepID[:2] == "A-":
		return contracts.EngineDecision{Actions: []contracts.EngineAction{contracts.RequestWork{WorkKind: "B"}}}, nil
	case len(resp.StepID) >= 2 && resp.StepID[:2] == "B-":
		return contracts.EngineDecision{Finalize: true}, nil
	default:
		return contracts.EngineDecision{}, nil
	}
}

// Scenario 2: Two-phase.
func TestTwoPhaseScenario(t *testing.T) {
	specs := registry{"two-phase": twoPhaseSpec{}}
	boot := &contracts.EngineDecision{
		Actions: []contracts.EngineAction{contracts.RequestWork{WorkKind: "A", StepID: "A-1"}},
	}
	handle := startGoal(t, specs, "goal-two-phase", "two-phase", boot)

	signal(t, handle, kernel.SignalAgentCompleted, map[string]any{
		"stepId":   "A-1",
		"response": contracts.AgentResponse{StepID: "A-1", Status: contracts.AgentOK},
	})

	var bStepID string
	state := waitForState(t, handle, func(s contracts.EngineState) bool {
		for id, step := range s.OpenSteps {
			if step.Kind == "B" && step.Status == contracts.StepWaiting {
				bStepID = id
				return true
			}
		}
		return false
	})
	require.NotEmpty(t, bStepID)
	require.Equal(t, contracts.StatusRunning, state.Status)

	signal(t, handle, kernel.SignalAgentCompleted, map[string]any{
		"stepId":   bStepID,
		"response": contracts.AgentResponse{StepID: bStepID, Status: contracts.AgentOK},
	})

	state = waitForState(t, handle, func(s contracts.EngineState) bool {
		return s.Status == contracts.StatusCompleted
	})
	require.Equal(t, contracts.StatusCompleted, state.Status)
}

// Scenario 3: Approval gate.
func TestApprovalGateScenario(t *testing.T) {
	specs := registry{
		"approval-gate": basic.NewApprovalGate("approval-gate", basic.ApprovalGateOptions{
			WorkKind:       "W",
			ApprovalStepID: "ap1",
		}),
	}
	boot := &contracts.EngineDecision{
		Actions: []contracts.EngineAction{contracts.RequestWork{WorkKind: "W", StepID: "W-1"}},
	}
	handle := startGoal(t, specs, "goal-approval", "approval-gate", boot)

	signal(t, handle, kernel.SignalAgentCompleted, map[string]any{
		"stepId":   "W-1",
		"response": contracts.AgentResponse{StepID: "W-1", Status: contracts.AgentOK},
	})

	state := waitForState(t, handle, func(s contracts.EngineState) bool {
		return s.Status == contracts.StatusAwaitingApproval
	})
	require.Equal(t, contracts.StepWaiting, state.OpenSteps["ap1"].Status)

	signal(t, handle, kernel.SignalApprove, map[string]any{"stepId": "ap1"})

	state = waitForState(t, handle, func(s contracts.EngineState) bool {
		return s.Status == contracts.StatusRunning
	})
	require.Equal(t, contracts.StepDone, state.OpenSteps["ap1"].Status)

	signal(t, handle, kernel.SignalCustom, map[string]any{"eventType": "gateCleared"})

	state = waitForState(t, handle, func(s contracts.EngineState) bool {
		return s.Status == contracts.StatusCompleted
	})
	require.Equal(t, contracts.StatusCompleted, state.Status)
}

// Scenario 4: Artifact auto-index.
func TestArtifactAutoIndexScenario(t *testing.T) {
	specs := registry{"artifact-index": basic.NewTerminal("artifact-index", "X")}
	boot := &contracts.EngineDecision{
		Actions: []contracts.EngineAction{contracts.RequestWork{WorkKind: "X", StepID: "X-1"}},
	}
	handle := startGoal(t, specs, "goal-artifact", "artifact-index", boot)

	signal(t, handle, kernel.SignalAgentCompleted, map[string]any{
		"stepId": "X-1",
		"response": contracts.AgentResponse{
			StepID: "X-1",
			Status: contracts.AgentOK,
			Artifacts: []contracts.ArtifactEntry{
				{Type: "FILE", Ref: "readme", URL: "u"},
			},
		},
	})

	state := waitForState(t, handle, func(s contracts.EngineState) bool {
		_, ok := s.Artifacts["FILE:readme"]
		return ok
	})
	entry, ok := state.Artifacts["FILE:readme"].(contracts.ArtifactEntry)
	require.True(t, ok)
	require.Equal(t, "u", entry.URL)
}

// Scenario 5: Cancellation.
func TestCancellationScenario(t *testing.T) {
	specs := registry{"cancel-test": basic.NewTerminal("cancel-test", "Y")}
	boot := &contracts.EngineDecision{
		Actions: []contracts.EngineAction{contracts.RequestWork{WorkKind: "Y", StepID: "Y-1"}},
	}
	handle := startGoal(t, specs, "goal-cancel", "cancel-test", boot)

	signal(t, handle, kernel.SignalCancel, map[string]any{"reason": "user"})

	state := waitForState(t, handle, func(s contracts.EngineState) bool {
		return s.Status == contracts.StatusCancelled
	})

	signal(t, handle, kernel.SignalAgentCompleted, map[string]any{
		"stepId":   "Y-1",
		"response": contracts.AgentResponse{StepID: "Y-1", Status: contracts.AgentOK},
	})

	// The status is terminal, so a further signal must not flip it back and
	// must not mark the step DONE; only the log grows.
	time.Sleep(20 * time.Millisecond)
	var after contracts.EngineState
	require.NoError(t, handle.Query(context.Background(), kernel.QueryCurrentState, &after))
	require.Equal(t, contracts.StatusCancelled, after.Status)
	require.NotEqual(t, contracts.StepDone, after.OpenSteps["Y-1"].Status)
	require.Greater(t, len(after.Log), len(state.Log))
}

// Scenario 6: Invalid action.
func TestInvalidActionScenario(t *testing.T) {
	specs := registry{"invalid-action-test": basic.NewTerminal("invalid-action-test", "WORK")}
	handle := startGoal(t, specs, "goal-invalid", "invalid-action-test", nil)

	signal(t, handle, kernel.SignalApplyDecision, map[string]any{
		"decision": map[string]any{
			"actions": []map[string]any{
				{"type": "REQUEST_UNSUPPORTED", "action": map[string]any{}},
			},
		},
	})

	state := waitForState(t, handle, func(s contracts.EngineState) bool {
		return s.Status == contracts.StatusFailed
	})
	require.NotEmpty(t, state.Log)
	require.Equal(t, "APPLICATION_ERROR", state.Log[len(state.Log)-1].Event)
}
