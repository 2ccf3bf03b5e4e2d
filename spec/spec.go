// Package spec defines the pluggable, deterministic policy contract the
// kernel invokes after each state transition. A Spec is a named, pure
// decision function: given the current EngineState and the event that just
// occurred, it returns the EngineDecision describing what should happen
// next. Specs hold no state of their own between invocations; anything a
// Spec needs to remember must be written into state.Artifacts under a
// Spec-chosen key.
package spec

import (
	"time"

	"github.com/durableflow/kernel/contracts"
)

// ExecContext provides the deterministic primitives a Spec is allowed to
// use in place of wall-clock time or system randomness. The kernel supplies
// an implementation backed by the workflow engine's replay-safe clock, with
// each random draw recorded through the engine's SideEffect primitive so a
// replay returns the recorded value; Specs MUST NOT call time.Now or
// math/rand directly, as doing so breaks replay determinism.
type ExecContext interface {
	// Now returns the current deterministic time.
	Now() time.Time
	// Random returns a float64 in [0,1) drawn from a deterministic source
	// that produces the same sequence on replay.
	Random() float64
}

// Spec is the pluggable policy the kernel invokes after each signal.
// Implementations must be pure: given equal (state, event) inputs across
// independent Engine executions, OnAgentCompleted must return equal
// decisions. The kernel treats a panic or returned error from any Spec
// method as a fatal transition to StatusFailed for the goal.
type Spec interface {
	// Name is the identity used to look up this Spec in a Registry at Engine
	// start.
	Name() string

	// OnAgentCompleted is called exactly once per agentCompleted signal,
	// after the kernel has updated the corresponding step's status and
	// indexed any artifacts. state reflects those updates.
	OnAgentCompleted(state contracts.EngineState, response contracts.AgentResponse, ectx ExecContext) (contracts.EngineDecision, error)

	// OnCustomEvent is called when a custom(eventType, payload) signal
	// arrives. It may return (nil, nil) to ignore the event. Event-type
	// names are namespaced by convention as "{specName}:{event}"; a Spec
	// should ignore event types it does not recognize rather than error.
	OnCustomEvent(state contracts.EngineState, eventType string, payload any, ectx ExecContext) (*contracts.EngineDecision, error)

	// PostApply is called after each decision is applied. It may read and
	// mutate only the ArtifactView passed to it (e.g. for normalization); it
	// must be pure and idempotent. Most Specs can embed NoPostApply to skip
	// this hook.
	PostApply(view ArtifactView, ectx ExecContext) error
}

// ArtifactView is the restricted surface PostApply receives. It exposes only
// artifact operations so PostApply cannot mutate openSteps or status,
// preserving the invariants the kernel enforces on those fields.
type ArtifactView interface {
	Get(key string) (any, bool)
	Set(key string, value any)
	Delete(key string)
	Keys() []string
}

// NoPostApply is embedded by Specs that do not need the PostApply hook.
type NoPostApply struct{}

// PostApply is a no-op.
func (NoPostApply) PostApply(ArtifactView, ExecContext) error { return nil }

// NoCustomEvents is embedded by Specs that do not handle custom events.
type NoCustomEvents struct{}

// OnCustomEvent always ignores the event.
func (NoCustomEvents) OnCustomEvent(contracts.EngineState, string, any, ExecContext) (*contracts.EngineDecision, error) {
	return nil, nil
}
