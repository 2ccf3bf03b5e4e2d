package contracts

import (
	"encoding/json"
	"fmt"
)

// EngineAction is the closed set of effects a Spec may request. It is
// implemented as a sum type via an unexported marker method: adding a new
// action requires editing this file, which forces every switch over
// EngineAction in the kernel to be revisited (the compiler will not warn
// about a missing case in a type switch, but grep for actionKind() call
// sites does the job in review).
//
// Decisions that cross the wire (the applyDecision signal and the goal's boot
// decision are encoded as Temporal payloads) are decoded through actionFromWire, which
// maps an unrecognized discriminator to UnknownAction rather than failing
// the decode outright. This lets the kernel apply its normal per-action
// validation (see kernel.applyDecision) and produce the documented
// invalid-action failure with the offending tag recorded in the log, instead
// of losing that information in a signal-delivery error.
type EngineAction interface {
	actionKind() string
}

// RequestWork opens a new WAITING step of the given kind. If StepID is
// empty the Engine mints one deterministically (see kernel.mintStepID).
type RequestWork struct {
	WorkKind string `json:"workKind"`
	Payload  any    `json:"payload,omitempty"`
	StepID   string `json:"stepId,omitempty"`
}

func (RequestWork) actionKind() string { return "REQUEST_WORK" }

// RequestApproval opens a WAITING step of kind ApprovalKind and moves the
// goal into AWAITING_APPROVAL.
type RequestApproval struct {
	Payload any    `json:"payload,omitempty"`
	StepID  string `json:"stepId,omitempty"`
}

func (RequestApproval) actionKind() string { return "REQUEST_APPROVAL" }

// Annotate writes Value into state.Artifacts[Key], overwriting any existing
// entry.
type Annotate struct {
	Key   string `json:"key"`
	Value any    `json:"value,omitempty"`
}

func (Annotate) actionKind() string { return "ANNOTATE" }

// UnknownAction represents an action decoded from the wire whose
// discriminator does not match any registered EngineAction. It exists only
// so decode failures can be threaded through the same apply-time validation
// as programmatically-constructed decisions; Specs never construct one
// directly.
type UnknownAction struct {
	Tag string `json:"tag"`
}

func (UnknownAction) actionKind() string { return "__unknown__" }

// EngineDecision is the structured output of a Spec: a sequence of actions
// plus an optional finalize flag. BasedOn is advisory provenance (which step
// and run produced the response that led to this decision); the Engine does
// not interpret it.
type EngineDecision struct {
	DecisionID string        `json:"decisionId,omitempty"`
	BasedOn    *DecisionBasis `json:"basedOn,omitempty"`
	Actions    []EngineAction `json:"actions"`
	Finalize   bool           `json:"finalize,omitempty"`
}

// DecisionBasis records which step/run a decision was computed from.
type DecisionBasis struct {
	StepID string `json:"stepId"`
	RunID  string `json:"runId"`
}

// actionWire is the discriminated-union wire format used to (de)serialize
// EngineAction across signal boundaries.
type actionWire struct {
	Type   string          `json:"type"`
	Action json.RawMessage `json:"action"`
}

// MarshalJSON encodes the decision's actions using the discriminated wire
// format. An UnknownAction is written under its original tag, so it decodes
// back to the same UnknownAction; the body of the original unknown action is
// not kept.
func (d EngineDecision) MarshalJSON() ([]byte, error) {
	type alias struct {
		DecisionID string          `json:"decisionId,omitempty"`
		BasedOn    *DecisionBasis  `json:"basedOn,omitempty"`
		Actions    []actionWire    `json:"actions"`
		Finalize   bool            `json:"finalize,omitempty"`
	}
	wires := make([]actionWire, len(d.Actions))
	for i, a := range d.Actions {
		raw, err := json.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("encode action %d: %w", i, err)
		}
		kind := a.actionKind()
		if u, ok := a.(UnknownAction); ok {
			kind = u.Tag
		}
		wires[i] = actionWire{Type: kind, Action: raw}
	}
	return json.Marshal(alias{
		DecisionID: d.DecisionID,
		BasedOn:    d.BasedOn,
		Actions:    wires,
		Finalize:   d.Finalize,
	})
}

// UnmarshalJSON decodes a wire-format decision. Actions whose discriminator
// is not in the closed set decode to UnknownAction rather than failing, so
// the caller (kernel.applyDecision) can record the invalid-action error
// against the right step of the apply sequence.
func (d *EngineDecision) UnmarshalJSON(data []byte) error {
	type alias struct {
		DecisionID string         `json:"decisionId,omitempty"`
		BasedOn    *DecisionBasis `json:"basedOn,omitempty"`
		Actions    []actionWire   `json:"actions"`
		Finalize   bool           `json:"finalize,omitempty"`
	}
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	actions := make([]EngineAction, len(a.Actions))
	for i, w := range a.Actions {
		act, err := actionFromWire(w)
		if err != nil {
			return err
		}
		actions[i] = act
	}
	d.DecisionID = a.DecisionID
	d.BasedOn = a.BasedOn
	d.Actions = actions
	d.Finalize = a.Finalize
	return nil
}

func actionFromWire(w actionWire) (EngineAction, error) {
	switch w.Type {
	case (RequestWork{}).actionKind():
		var v RequestWork
		if err := json.Unmarshal(w.Action, &v); err != nil {
			return nil, err
		}
		return v, nil
	case (RequestApproval{}).actionKind():
		var v RequestApproval
		if err := json.Unmarshal(w.Action, &v); err != nil {
			return nil, err
		}
		return v, nil
	case (Annotate{}).actionKind():
		var v Annotate
		if err := json.Unmarshal(w.Action, &v); err != nil {
			return nil, err
		}
		return v, nil
	default:
		return UnknownAction{Tag: w.Type}, nil
	}
}
