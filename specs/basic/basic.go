// Package basic provides a small library of ready-made Spec implementations
// for the common coordination shapes a goal needs: a single terminal step, a
// fixed sequential pipeline of work kinds, and a pipeline gated by a human
// approval step. They are grounded on the same Options-constructor shape the
// teacher's policy engines use (features/policy/basic.Engine): a plain
// struct of knobs, a New that fills in defaults, no hidden global state.
package basic

import (
	"github.com/durableflow/kernel/contracts"
	"github.com/durableflow/kernel/spec"
)

// TerminalSpec finalizes the goal as soon as a single step of WorkKind
// completes OK. If that step reports FAIL it records the response's errors
// under the "failure:{stepId}" artifact and does not finalize, so the goal
// stays RUNNING. It covers the simplest coordination shape: one unit of work, no follow-up.
type TerminalSpec struct {
	spec.NoCustomEvents
	spec.NoPostApply

	name     string
	workKind string
}

// NewTerminal returns a TerminalSpec registered under name that only reacts
// to steps of workKind; agentCompleted for any other step is ignored.
func NewTerminal(name, workKind string) *TerminalSpec {
	return &TerminalSpec{name: name, workKind: workKind}
}

// Name implements spec.Spec.
func (s *TerminalSpec) Name() string { return s.name }

// OnAgentCompleted implements spec.Spec.
func (s *TerminalSpec) OnAgentCompleted(state contracts.EngineState, resp contracts.AgentResponse, _ spec.ExecContext) (contracts.EngineDecision, error) {
	step, ok := state.OpenSteps[resp.StepID]
	if !ok || (s.workKind != "" && step.Kind != s.workKind) {
		return contracts.EngineDecision{}, nil
	}
	switch resp.Status {
	case contracts.AgentOK:
		return contracts.EngineDecision{Finalize: true}, nil
	case contracts.AgentFail:
		return contracts.EngineDecision{
			Actions: []contracts.EngineAction{
				contracts.Annotate{Key: "failure:" + resp.StepID, Value: resp.Errors},
			},
		}, nil
	default:
		return contracts.EngineDecision{}, nil
	}
}

var _ spec.Spec = (*TerminalSpec)(nil)

// PipelineSpec drives a fixed sequence of work kinds: the first kind runs on
// boot (the caller supplies the boot decision), and completing a step of
// stage N with status OK requests a fresh step of stage N+1. Completing the
// final stage OK finalizes the goal. A FAIL at any stage halts the pipeline
// (no further stage is requested) without finalizing, leaving the goal
// RUNNING so an operator can inspect the log and retry by hand via
// applyDecision.
type PipelineSpec struct {
	spec.NoCustomEvents
	spec.NoPostApply

	name   string
	stages []string
}

// NewPipeline returns a PipelineSpec that advances through stages in order.
// stages must have at least one entry; the first stage is expected to be the
// work kind requested by the caller's boot decision.
func NewPipeline(name string, stages []string) *PipelineSpec {
	cp := make([]string, len(stages))
	copy(cp, stages)
	return &PipelineSpec{name: name, stages: cp}
}

// Name implements spec.Spec.
func (s *PipelineSpec) Name() string { return s.name }

// OnAgentCompleted implements spec.Spec.
func (s *PipelineSpec) OnAgentCompleted(state contracts.EngineState, resp contracts.AgentResponse, _ spec.ExecContext) (contracts.EngineDecision, error) {
	if resp.Status != contracts.AgentOK {
		return contracts.EngineDecision{}, nil
	}
	step, ok := state.OpenSteps[resp.StepID]
	if !ok {
		return contracts.EngineDecision{}, nil
	}
	idx := s.stageIndex(step.Kind)
	if idx < 0 {
		return contracts.EngineDecision{}, nil
	}
	if idx == len(s.stages)-1 {
		return contracts.EngineDecision{Finalize: true}, nil
	}
	next := s.stages[idx+1]
	return contracts.EngineDecision{
		Actions: []contracts.EngineAction{contracts.RequestWork{WorkKind: next}},
	}, nil
}

func (s *PipelineSpec) stageIndex(kind string) int {
	for i, k := range s.stages {
		if k == kind {
			return i
		}
	}
	return -1
}

var _ spec.Spec = (*PipelineSpec)(nil)

// ApprovalGateSpec requests human approval after WorkKind's first OK
// completion, then waits for a custom gateClearedEvent before finalizing.
// The approval step uses a caller-supplied fixed StepID so a UI driving the
// approve() signal can reference it without first querying currentState.
type ApprovalGateSpec struct {
	spec.NoPostApply

	name            string
	workKind        string
	approvalStepID  string
	gateClearedEvent string
}

// ApprovalGateOptions configures an ApprovalGateSpec.
type ApprovalGateOptions struct {
	// WorkKind is the stage whose first OK completion opens the approval
	// gate. Empty means any completed step triggers it.
	WorkKind string
	// ApprovalStepID is the fixed step id minted for the REQUEST_APPROVAL
	// action. Defaults to "approval".
	ApprovalStepID string
	// GateClearedEvent is the custom event type, matched both bare and
	// namespaced as "{name}:{event}", that finalizes the goal once the
	// approval step is DONE. Defaults to "gateCleared".
	GateClearedEvent string
}

// NewApprovalGate returns an ApprovalGateSpec registered under name.
func NewApprovalGate(name string, opts ApprovalGateOptions) *ApprovalGateSpec {
	approvalStepID := opts.ApprovalStepID
	if approvalStepID == "" {
		approvalStepID = "approval"
	}
	gateEvent := opts.GateClearedEvent
	if gateEvent == "" {
		gateEvent = "gateCleared"
	}
	return &ApprovalGateSpec{
		name:             name,
		workKind:         opts.WorkKind,
		approvalStepID:   approvalStepID,
		gateClearedEvent: gateEvent,
	}
}

// Name implements spec.Spec.
func (s *ApprovalGateSpec) Name() string { return s.name }

// OnAgentCompleted implements spec.Spec.
func (s *ApprovalGateSpec) OnAgentCompleted(state contracts.EngineState, resp contracts.AgentResponse, _ spec.ExecContext) (contracts.EngineDecision, error) {
	if resp.Status != contracts.AgentOK {
		return contracts.EngineDecision{}, nil
	}
	if s.workKind != "" {
		if step, ok := state.OpenSteps[resp.StepID]; !ok || step.Kind != s.workKind {
			return contracts.EngineDecision{}, nil
		}
	}
	if _, alreadyOpened := state.OpenSteps[s.approvalStepID]; alreadyOpened {
		return contracts.EngineDecision{}, nil
	}
	return contracts.EngineDecision{
		Actions: []contracts.EngineAction{contracts.RequestApproval{StepID: s.approvalStepID}},
	}, nil
}

// OnCustomEvent implements spec.Spec.
func (s *ApprovalGateSpec) OnCustomEvent(state contracts.EngineState, eventType string, _ any, _ spec.ExecContext) (*contracts.EngineDecision, error) {
	if eventType != s.gateClearedEvent && eventType != s.name+":"+s.gateClearedEvent {
		return nil, nil
	}
	if step, ok := state.OpenSteps[s.approvalStepID]; !ok || step.Status != contracts.StepDone {
		return nil, nil
	}
	return &contracts.EngineDecision{Finalize: true}, nil
}

var _ spec.Spec = (*ApprovalGateSpec)(nil)
