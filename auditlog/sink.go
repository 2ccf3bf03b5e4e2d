// Package auditlog provides an external archiver for goal log entries.
//
// The kernel truncates state.Log on continue-as-new, keeping only a bounded
// tail in durable workflow history (see kernel.logTruncateAt); Temporal
// workflow code cannot itself perform the blocking network I/O needed to
// persist the discarded entries elsewhere without an activity, and this
// kernel's engine abstraction deliberately carries no activity-execution
// surface (see package engine's doc comment: all work happens outside the
// workflow, in the Dispatcher). Archiving therefore happens the same way
// dispatching does: from outside the workflow, driven by an external poller
// that reads currentState() and forwards new entries to a Sink.
package auditlog

import (
	"context"
	"fmt"
	"sync"

	"github.com/durableflow/kernel/contracts"
	"github.com/durableflow/kernel/engine"
)

// Sink persists log entries observed for a goal. Append receives only the
// entries not yet seen for goalID (see Archiver), so implementations need
// not deduplicate; they should append, not upsert.
type Sink interface {
	Append(ctx context.Context, goalID string, entries []contracts.LogEvent) error
}

// NoopSink discards entries.
type NoopSink struct{}

// Append discards entries.
func (NoopSink) Append(context.Context, string, []contracts.LogEvent) error { return nil }

var _ Sink = NoopSink{}

// Archiver polls a goal's currentState query and forwards log entries a
// prior poll has not yet seen to a Sink, tracking a per-goal watermark in
// memory. Because continue-as-new truncates the log to a short tail,
// Archive must be called more often than logTruncateAt entries accumulate
// or entries between polls are lost; callers typically invoke it from the
// same loop driving dispatcher.Dispatcher.Tick for a goal.
type Archiver struct {
	sink Sink

	mu         sync.Mutex
	watermarks map[string]int
}

// NewArchiver returns an Archiver writing through to sink. A nil sink is
// replaced with NoopSink.
func NewArchiver(sink Sink) *Archiver {
	if sink == nil {
		sink = NoopSink{}
	}
	return &Archiver{sink: sink, watermarks: make(map[string]int)}
}

// Archive queries handle's currentState and forwards any log entries beyond
// this goal's watermark to the sink, advancing the watermark on success.
// A continue-as-new that truncated the log below the previous watermark
// (observable as len(state.Log) < watermark) resets the watermark to 0 and
// re-archives the surviving tail; entries dropped between the last
// successful Archive call and the continue-as-new are lost, which is the
// tradeoff of driving archival externally rather than from within the
// workflow.
func (a *Archiver) Archive(ctx context.Context, goalID string, handle engine.WorkflowHandle) error {
	var state contracts.EngineState
	if err := handle.Query(ctx, "currentState", &state); err != nil {
		return fmt.Errorf("auditlog: query currentState for goal %q: %w", goalID, err)
	}

	a.mu.Lock()
	watermark := a.watermarks[goalID]
	a.mu.Unlock()

	if watermark > len(state.Log) {
		watermark = 0
	}
	fresh := state.Log[watermark:]
	if len(fresh) == 0 {
		return nil
	}

	entries := make([]contracts.LogEvent, len(fresh))
	copy(entries, fresh)
	if err := a.sink.Append(ctx, goalID, entries); err != nil {
		return fmt.Errorf("auditlog: append entries for goal %q: %w", goalID, err)
	}

	a.mu.Lock()
	a.watermarks[goalID] = len(state.Log)
	a.mu.Unlock()
	return nil
}
