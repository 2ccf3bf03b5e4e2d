package auditlog_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/durableflow/kernel/auditlog"
	"github.com/durableflow/kernel/contracts"
	"github.com/durableflow/kernel/engine"
)

type fakeHandle struct {
	state contracts.EngineState
}

func (h *fakeHandle) Wait(context.Context, any) error          { return nil }
func (h *fakeHandle) Signal(context.Context, string, any) error { return nil }
func (h *fakeHandle) Cancel(context.Context) error              { return nil }

func (h *fakeHandle) Query(_ context.Context, _ string, result any) error {
	dst, ok := result.(*contracts.EngineState)
	if !ok {
		return nil
	}
	*dst = h.state
	return nil
}

var _ engine.WorkflowHandle = (*fakeHandle)(nil)

type spySink struct {
	mu    sync.Mutex
	calls [][]contracts.LogEvent
}

func (s *spySink) Append(_ context.Context, _ string, entries []contracts.LogEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, entries)
	return nil
}

func (s *spySink) appended() [][]contracts.LogEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]contracts.LogEvent, len(s.calls))
	copy(out, s.calls)
	return out
}

func TestArchiveForwardsOnlyUnseenEntries(t *testing.T) {
	sink := &spySink{}
	a := auditlog.NewArchiver(sink)
	handle := &fakeHandle{state: contracts.EngineState{
		Log: []contracts.LogEvent{{Event: "A"}, {Event: "B"}},
	}}

	require.NoError(t, a.Archive(context.Background(), "g1", handle))
	calls := sink.appended()
	require.Len(t, calls, 1)
	require.Len(t, calls[0], 2)

	handle.state.Log = append(handle.state.Log, contracts.LogEvent{Event: "C"})
	require.NoError(t, a.Archive(context.Background(), "g1", handle))
	calls = sink.appended()
	require.Len(t, calls, 2)
	require.Len(t, calls[1], 1)
	require.Equal(t, "C", calls[1][0].Event)
}

func TestArchiveNoNewEntriesDoesNotCallSink(t *testing.T) {
	sink := &spySink{}
	a := auditlog.NewArchiver(sink)
	handle := &fakeHandle{state: contracts.EngineState{
		Log: []contracts.LogEvent{{Event: "A"}},
	}}

	require.NoError(t, a.Archive(context.Background(), "g1", handle))
	require.NoError(t, a.Archive(context.Background(), "g1", handle))
	require.Len(t, sink.appended(), 1)
}

func TestArchiveResetsWatermarkOnTruncation(t *testing.T) {
	sink := &spySink{}
	a := auditlog.NewArchiver(sink)
	handle := &fakeHandle{state: contracts.EngineState{
		Log: []contracts.LogEvent{{Event: "A"}, {Event: "B"}, {Event: "C"}},
	}}
	require.NoError(t, a.Archive(context.Background(), "g1", handle))
	require.Len(t, sink.appended(), 1)

	// continue-as-new truncated the log to a shorter surviving tail.
	handle.state.Log = []contracts.LogEvent{{Event: "TAIL"}}
	require.NoError(t, a.Archive(context.Background(), "g1", handle))
	calls := sink.appended()
	require.Len(t, calls, 2)
	require.Len(t, calls[1], 1)
	require.Equal(t, "TAIL", calls[1][0].Event)
}

func TestArchiveTracksWatermarksPerGoal(t *testing.T) {
	sink := &spySink{}
	a := auditlog.NewArchiver(sink)
	h1 := &fakeHandle{state: contracts.EngineState{Log: []contracts.LogEvent{{Event: "A"}}}}
	h2 := &fakeHandle{state: contracts.EngineState{Log: []contracts.LogEvent{{Event: "X"}, {Event: "Y"}}}}

	require.NoError(t, a.Archive(context.Background(), "g1", h1))
	require.NoError(t, a.Archive(context.Background(), "g2", h2))

	calls := sink.appended()
	require.Len(t, calls, 2)
	require.Len(t, calls[0], 1)
	require.Len(t, calls[1], 2)
}

func TestNoopSinkDiscardsEntries(t *testing.T) {
	require.NoError(t, auditlog.NoopSink{}.Append(context.Background(), "g1", []contracts.LogEvent{{Event: "A"}}))
}
