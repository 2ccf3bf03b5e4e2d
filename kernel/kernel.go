// Package kernel implements the durable goal-coordination workflow: the
// Engine described by the coordination design. It owns per-goal state, reacts
// to a fixed set of named signals, invokes a pluggable Spec after each
// transition, and applies the resulting decision. The workflow body is
// written once against engine.WorkflowContext so it runs unchanged on the
// Temporal-backed adapter and the in-memory test adapter.
package kernel

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/durableflow/kernel/contracts"
	"github.com/durableflow/kernel/engine"
	"github.com/durableflow/kernel/spec"
)

// Signal names the Engine registers channels for. Dispatchers and
// Coordinators address these exactly; renaming one is a wire-breaking change.
const (
	SignalAgentCompleted = "agentCompleted"
	SignalApplyDecision  = "applyDecision"
	SignalApprove        = "approve"
	SignalCancel         = "cancel"
	SignalCustom         = "custom"

	// QueryCurrentState is the synchronous query name exposing EngineState.
	QueryCurrentState = "currentState"

	// WorkflowName is the logical name the Coordinator registers the goal
	// workflow under with the engine.
	WorkflowName = "durableflow.goalWorkflow"
)

const (
	// parkInterval bounds how long the workflow waits with nothing to do
	// before waking to let the host runtime truncate history.
	parkInterval = 7 * 24 * time.Hour
	// drainInterval is the shorter park window used once the goal has
	// reached a terminal status, so the workflow stays alive just long
	// enough to absorb late at-least-once signal redelivery before the run
	// completes for good.
	drainInterval = 10 * time.Minute
	// logTruncateAt is the log length that triggers continue-as-new. Chosen
	// well under typical per-workflow history size limits of durable
	// runtimes so a goal with a long-running agent fleet never approaches
	// them.
	logTruncateAt = 500
	// logTailKeep is how much of the log survives a continue-as-new, so a
	// freshly restarted run still has some recent context for debugging.
	logTailKeep = 20
)

// GoalInput starts a goal workflow: which Spec drives it, and an optional
// decision applied exactly once before any external signal is processed.
type GoalInput struct {
	GoalID       string                   `json:"goalId"`
	SpecName     string                   `json:"specName"`
	BootDecision *contracts.EngineDecision `json:"bootDecision,omitempty"`

	// Resume carries state forward across a continue-as-new restart. The
	// Coordinator never sets this; only the kernel itself does, when calling
	// wfCtx.ContinueAsNew.
	Resume *contracts.EngineState `json:"resume,omitempty"`
}

// Registry resolves a spec name to the Spec instance driving a goal. The
// Coordinator owns the only Registry implementation used in production; the
// kernel never consults process-global state to look up a Spec (see the
// design note on spec registry determinism).
type Registry interface {
	Resolve(specName string) (spec.Spec, error)
}

// Kernel binds a Registry to the workflow handler the Coordinator registers
// with the engine.
type Kernel struct {
	Specs Registry
}

// New returns a Kernel whose goal workflow resolves specs through specs.
func New(specs Registry) *Kernel {
	return &Kernel{Specs: specs}
}

// Definition returns the engine.WorkflowDefinition the Coordinator registers
// to make goals startable.
func (k *Kernel) Definition(taskQueue string) engine.WorkflowDefinition {
	return engine.WorkflowDefinition{
		Name:      WorkflowName,
		TaskQueue: taskQueue,
		Handler:   k.Workflow,
	}
}

// Workflow is the durable entry point for a single goal. It is deterministic:
// given the same GoalInput and the same sequence of delivered signals, two
// independent executions reach equal final state.
func (k *Kernel) Workflow(wfCtx engine.WorkflowContext, input any) (any, error) {
	in, err := decodeGoalInput(input)
	if err != nil {
		return nil, fmt.Errorf("kernel: decode goal input: %w", err)
	}
	if in.GoalID == "" {
		return nil, errors.New("kernel: goalId is required")
	}

	sp, err := k.Specs.Resolve(in.SpecName)
	if err != nil {
		return nil, fmt.Errorf("kernel: unknown spec %q: %w", in.SpecName, err)
	}

	st := newGoalState(in.GoalID, wfCtx)
	if in.Resume != nil {
		st.EngineState = in.Resume.Clone()
	} else {
		st.appendLog("GOAL_STARTED", map[string]any{"specName": in.SpecName})
	}

	if err := wfCtx.SetQueryHandler(QueryCurrentState, func() (contracts.EngineState, error) {
		return st.EngineState.Clone(), nil
	}); err != nil {
		return nil, fmt.Errorf("kernel: register query handler: %w", err)
	}

	ectx := newExecContext(wfCtx)

	if in.Resume == nil && in.BootDecision != nil {
		st.applyDecision(sp, ectx, *in.BootDecision)
	}

	agentCh := wfCtx.SignalChannel(SignalAgentCompleted)
	applyCh := wfCtx.SignalChannel(SignalApplyDecision)
	approveCh := wfCtx.SignalChannel(SignalApprove)
	cancelCh := wfCtx.SignalChannel(SignalCancel)
	customCh := wfCtx.SignalChannel(SignalCustom)

	for {
		park := parkInterval
		if st.Status.Terminal() {
			park = drainInterval
		}

		fired := false
		sel := wfCtx.NewSelector()
		sel.AddReceive(agentCh, func(ch engine.SignalChannel) {
			var sig agentCompletedSignal
			if ch.ReceiveAsync(&sig) {
				fired = true
				st.handleAgentCompleted(sp, ectx, sig)
			}
		})
		sel.AddReceive(applyCh, func(ch engine.SignalChannel) {
			var sig applyDecisionSignal
			if ch.ReceiveAsync(&sig) {
				fired = true
				st.applyDecision(sp, ectx, sig.Decision)
			}
		})
		sel.AddReceive(approveCh, func(ch engine.SignalChannel) {
			var sig approveSignal
			if ch.ReceiveAsync(&sig) {
				fired = true
				st.handleApprove(sig)
			}
		})
		sel.AddReceive(cancelCh, func(ch engine.SignalChannel) {
			var sig cancelSignal
			if ch.ReceiveAsync(&sig) {
				fired = true
				st.handleCancel(sig)
			}
		})
		sel.AddReceive(customCh, func(ch engine.SignalChannel) {
			var sig customSignal
			if ch.ReceiveAsync(&sig) {
				fired = true
				st.handleCustom(sp, ectx, sig)
			}
		})
		sel.AddTimer(park, func() {})
		sel.Select(wfCtx.Context())

		if !fired && st.Status.Terminal() {
			return st.EngineState.Clone(), nil
		}

		if len(st.Log) >= logTruncateAt {
			tail := st.Log
			if len(tail) > logTailKeep {
				tail = tail[len(tail)-logTailKeep:]
			}
			resume := st.EngineState.Clone()
			resume.Log = append([]contracts.LogEvent(nil), tail...)
			return nil, wfCtx.ContinueAsNew(GoalInput{
				GoalID:   in.GoalID,
				SpecName: in.SpecName,
				Resume:   &resume,
			})
		}
	}
}

type agentCompletedSignal struct {
	StepID   string                  `json:"stepId"`
	Response contracts.AgentResponse `json:"response"`
}

type applyDecisionSignal struct {
	Decision contracts.EngineDecision `json:"decision"`
}

type approveSignal struct {
	StepID string `json:"stepId"`
}

type cancelSignal struct {
	Reason string `json:"reason"`
}

type customSignal struct {
	EventType string `json:"eventType"`
	Payload   any    `json:"payload,omitempty"`
}

// decodeGoalInput accepts a GoalInput passed directly (the in-memory engine
// adapter hands values through untouched) or a generic decoded payload (the
// Temporal adapter's data converter has no static type to target since the
// registered handler takes input any, so structured payloads arrive as
// map[string]any). The JSON round-trip mirrors how goa-ai's own generic
// workflow handler copes with the same ambiguity.
func decodeGoalInput(input any) (GoalInput, error) {
	switch v := input.(type) {
	case GoalInput:
		return v, nil
	case *GoalInput:
		if v == nil {
			return GoalInput{}, errors.New("nil goal input")
		}
		return *v, nil
	default:
		if v == nil {
			return GoalInput{}, errors.New("nil goal input")
		}
		b, err := json.Marshal(v)
		if err != nil {
			return GoalInput{}, fmt.Errorf("re-encode goal input: %w", err)
		}
		var in GoalInput
		if err := json.Unmarshal(b, &in); err != nil {
			return GoalInput{}, fmt.Errorf("decode goal input: %w", err)
		}
		return in, nil
	}
}
