package kernel

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/durableflow/kernel/engine"
	"github.com/google/uuid"
)

// execContext implements spec.ExecContext on top of a WorkflowContext's
// deterministic clock and SideEffect primitive. Random draws go through
// SideEffect so the value recorded during the first execution is replayed
// verbatim rather than redrawn, which is what keeps a Spec's decisions
// reproducible.
type execContext struct {
	wfCtx engine.WorkflowContext
}

func newExecContext(wfCtx engine.WorkflowContext) *execContext {
	return &execContext{wfCtx: wfCtx}
}

func (e *execContext) Now() time.Time { return e.wfCtx.Now() }

func (e *execContext) Random() float64 {
	v := e.wfCtx.SideEffect(func() any { return rand.Float64() })
	f, _ := v.(float64)
	return f
}

// mintID draws a fresh, replay-stable UUID via SideEffect and prefixes it,
// matching the "{prefix}-{uuid}" pattern the design mandates for both
// auto-minted step IDs and auto-minted artifact refs.
func (s *goalState) mintID(prefix string) string {
	v := s.wfCtx.SideEffect(func() any { return uuid.NewString() })
	id, _ := v.(string)
	if id == "" {
		id = uuid.NewString()
	}
	return fmt.Sprintf("%s-%s", prefix, id)
}

func (s *goalState) mintStepID(workKind string) string {
	return s.mintID(workKind)
}
