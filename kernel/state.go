package kernel

import (
	"fmt"
	"time"

	"github.com/durableflow/kernel/contracts"
	"github.com/durableflow/kernel/engine"
	"github.com/durableflow/kernel/spec"
)

// goalState wraps the EngineState the workflow owns with the durable clock it
// needs to stamp log events and step timestamps. Every mutation of the
// embedded EngineState is funneled through the methods in this file, which is
// what guarantees the append-only log and terminal-status invariants hold.
type goalState struct {
	contracts.EngineState
	wfCtx engine.WorkflowContext
}

func newGoalState(goalID string, wfCtx engine.WorkflowContext) *goalState {
	return &goalState{
		EngineState: contracts.EngineState{
			GoalID:    goalID,
			Status:    contracts.StatusRunning,
			OpenSteps: make(map[string]contracts.StepState),
			Artifacts: make(map[string]any),
		},
		wfCtx: wfCtx,
	}
}

func (s *goalState) now() time.Time { return s.wfCtx.Now() }

func (s *goalState) appendLog(event string, data any) {
	s.Log = append(s.Log, contracts.LogEvent{At: s.now(), Event: event, Data: data})
}

// handleAgentCompleted applies the agentCompleted signal: update the step,
// index artifacts, then hand the updated state to the Spec and apply what it
// returns. Per the terminal-status invariant, once the goal has reached a
// terminal status this only appends an informational log event.
func (s *goalState) handleAgentCompleted(sp spec.Spec, ectx spec.ExecContext, sig agentCompletedSignal) {
	if s.Status.Terminal() {
		s.appendLog("AGENT_COMPLETED_IGNORED", map[string]any{
			"stepId": sig.StepID,
			"status": string(sig.Response.Status),
		})
		return
	}

	s.appendLog("AGENT_COMPLETED", map[string]any{
		"stepId": sig.StepID,
		"runId":  sig.Response.RunID,
		"status": string(sig.Response.Status),
	})

	step, existed := s.OpenSteps[sig.StepID]
	if !existed {
		// Open question in the design notes: an agentCompleted for a stepId
		// the Engine never opened upserts a placeholder rather than being
		// rejected, keeping the log honest about what was reported.
		step = contracts.StepState{Kind: "unknown", RequestedAt: s.now()}
	}
	switch sig.Response.Status {
	case contracts.AgentOK:
		step.Status = contracts.StepDone
	case contracts.AgentPartial:
		step.Status = contracts.StepInProgress
	case contracts.AgentFail:
		step.Status = contracts.StepFailed
	default:
		step.Status = contracts.StepFailed
	}
	step.UpdatedAt = s.now()
	s.OpenSteps[sig.StepID] = step

	s.indexArtifacts(sig.Response.Artifacts)

	var decision contracts.EngineDecision
	err := callSpecSafely(func() error {
		var err error
		decision, err = sp.OnAgentCompleted(s.EngineState.Clone(), sig.Response, ectx)
		return err
	})
	if err != nil {
		s.failSpecThrew(err)
		return
	}
	s.applyDecision(sp, ectx, decision)
}

func (s *goalState) handleApprove(sig approveSignal) {
	if s.Status.Terminal() {
		s.appendLog("APPROVE_IGNORED", map[string]any{"stepId": sig.StepID})
		return
	}
	s.appendLog("APPROVE", map[string]any{"stepId": sig.StepID})

	step, ok := s.OpenSteps[sig.StepID]
	if !ok {
		return
	}
	step.Status = contracts.StepDone
	step.UpdatedAt = s.now()
	s.OpenSteps[sig.StepID] = step

	if s.Status == contracts.StatusAwaitingApproval && !s.hasWaitingApproval() {
		s.Status = contracts.StatusRunning
	}
}

func (s *goalState) hasWaitingApproval() bool {
	for _, step := range s.OpenSteps {
		if step.Kind == contracts.ApprovalKind && step.Status == contracts.StepWaiting {
			return true
		}
	}
	return false
}

func (s *goalState) handleCancel(sig cancelSignal) {
	if s.Status.Terminal() {
		s.appendLog("CANCEL_IGNORED", map[string]any{"reason": sig.Reason})
		return
	}
	s.Status = contracts.StatusCancelled
	s.appendLog("CANCELLED", map[string]any{"reason": sig.Reason})
}

func (s *goalState) handleCustom(sp spec.Spec, ectx spec.ExecContext, sig customSignal) {
	if s.Status.Terminal() {
		s.appendLog("CUSTOM_IGNORED", map[string]any{"eventType": sig.EventType})
		return
	}
	s.appendLog("CUSTOM", map[string]any{"eventType": sig.EventType})

	var decision *contracts.EngineDecision
	err := callSpecSafely(func() error {
		var err error
		decision, err = sp.OnCustomEvent(s.EngineState.Clone(), sig.EventType, sig.Payload, ectx)
		return err
	})
	if err != nil {
		s.failSpecThrew(err)
		return
	}
	if decision == nil {
		return
	}
	s.applyDecision(sp, ectx, *decision)
}

// applyDecision runs the four-step decision-application algorithm: log the
// decision, apply each action in order, finalize if requested, then invoke
// PostApply. An unknown action aborts the remaining steps (including
// finalize and PostApply) and fails the goal.
func (s *goalState) applyDecision(sp spec.Spec, ectx spec.ExecContext, decision contracts.EngineDecision) {
	if s.Status.Terminal() {
		s.appendLog("APPLY_DECISION_IGNORED", map[string]any{"decisionId": decision.DecisionID})
		return
	}
	s.appendLog("APPLY_DECISION", decision)

	for i, action := range decision.Actions {
		switch a := action.(type) {
		case contracts.RequestWork:
			s.requestWork(a)
		case contracts.RequestApproval:
			s.requestApproval(a)
		case contracts.Annotate:
			s.Artifacts[a.Key] = a.Value
		case contracts.UnknownAction:
			s.appendLog("APPLICATION_ERROR", map[string]any{
				"reason": "invalid-action",
				"tag":    a.Tag,
				"index":  i,
			})
			s.Status = contracts.StatusFailed
			return
		}
	}

	if decision.Finalize {
		s.Status = contracts.StatusCompleted
		s.appendLog("FINALIZED", nil)
	}

	s.runPostApply(sp, ectx)
}

func (s *goalState) requestWork(a contracts.RequestWork) {
	stepID := a.StepID
	if stepID == "" {
		stepID = s.mintStepID(a.WorkKind)
	}
	s.openStep(stepID, a.WorkKind, a.Payload, "REQUEST_WORK_IGNORED")
}

func (s *goalState) requestApproval(a contracts.RequestApproval) {
	stepID := a.StepID
	if stepID == "" {
		stepID = s.mintStepID(contracts.ApprovalKind)
	}
	s.openStep(stepID, contracts.ApprovalKind, a.Payload, "REQUEST_APPROVAL_IGNORED")
	s.Status = contracts.StatusAwaitingApproval
}

// openStep writes or resets the StepState for stepID. A step not currently in
// WAITING or FAILED is left untouched (the request is logged and ignored)
// rather than clobbering in-flight or completed work.
func (s *goalState) openStep(stepID, kind string, payload any, ignoredEvent string) {
	existing, exists := s.OpenSteps[stepID]
	if exists && existing.Status != contracts.StepWaiting && existing.Status != contracts.StepFailed {
		s.appendLog(ignoredEvent, map[string]any{"stepId": stepID, "status": string(existing.Status)})
		return
	}
	now := s.now()
	requestedAt := now
	if exists {
		requestedAt = existing.RequestedAt
	}
	s.OpenSteps[stepID] = contracts.StepState{
		Kind:        kind,
		Status:      contracts.StepWaiting,
		RequestedAt: requestedAt,
		UpdatedAt:   now,
		Payload:     payload,
	}
}

// indexArtifacts auto-indexes an AgentResponse's artifacts under
// "{type}:{ref-or-fresh-id}", last-writer-wins. A fresh id is only minted
// when the entry carries no ref, which is what keeps duplicate redelivery of
// the same response idempotent (see the dispatcher's correlation-id design).
func (s *goalState) indexArtifacts(entries []contracts.ArtifactEntry) {
	for _, e := range entries {
		ref := e.Ref
		if ref == "" {
			ref = s.mintID("artifact")
		}
		s.Artifacts[e.Type+":"+ref] = e
	}
}

func (s *goalState) runPostApply(sp spec.Spec, ectx spec.ExecContext) {
	view := &artifactView{artifacts: s.Artifacts}
	err := callSpecSafely(func() error {
		return sp.PostApply(view, ectx)
	})
	if err != nil {
		s.failSpecThrew(err)
	}
}

func (s *goalState) failSpecThrew(err error) {
	s.appendLog("SPEC_ERROR", map[string]any{"error": err.Error()})
	s.Status = contracts.StatusFailed
}

// callSpecSafely invokes fn and converts any panic into an error, so a
// careless Spec implementation cannot crash the workflow goroutine: all three
// Spec call sites above route through this, turning a panic into the same
// SPEC_ERROR/StatusFailed transition a returned error produces.
func callSpecSafely(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("spec panicked: %v", r)
		}
	}()
	return fn()
}

// artifactView restricts PostApply to the Artifacts map so it cannot touch
// OpenSteps or Status, preserving the invariants the kernel enforces on them.
type artifactView struct {
	artifacts map[string]any
}

func (v *artifactView) Get(key string) (any, bool) {
	val, ok := v.artifacts[key]
	return val, ok
}

func (v *artifactView) Set(key string, value any) { v.artifacts[key] = value }

func (v *artifactView) Delete(key string) { delete(v.artifacts, key) }

func (v *artifactView) Keys() []string {
	keys := make([]string, 0, len(v.artifacts))
	for k := range v.artifacts {
		keys = append(keys, k)
	}
	return keys
}
