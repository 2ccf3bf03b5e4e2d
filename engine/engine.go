// Package engine abstracts the durable workflow host the kernel runs on top
// of. The coordination kernel (see package kernel) is written once against
// this interface; the temporal and inmem subpackages adapt it to a real
// Temporal worker/client pair or to an in-process simulation used by tests.
//
// Unlike a general-purpose workflow SDK, this abstraction carries no
// activity-execution surface: the Engine workflow described by the
// specification issues no work itself. All work happens outside the
// workflow, in the Dispatcher, which reports back via signals. What remains
// is the minimal primitive set a goal-coordination workflow actually uses:
// registration, start, signals, one query, a deterministic clock, and a
// deterministic side-effect primitive for step-ID minting.
package engine

import (
	"context"
	"time"

	"github.com/durableflow/kernel/telemetry"
)

type (
	// Engine registers workflow definitions and starts executions against a
	// durable backend (or an in-memory stand-in for tests).
	Engine interface {
		// RegisterWorkflow binds a logical workflow name to a handler. Must be
		// called before any StartWorkflow targeting that name.
		RegisterWorkflow(ctx context.Context, def WorkflowDefinition) error

		// StartWorkflow launches a new execution and returns a handle for
		// signaling, querying, waiting on, or cancelling it. req.ID must be
		// unique among concurrently running executions.
		StartWorkflow(ctx context.Context, req WorkflowStartRequest) (WorkflowHandle, error)
	}

	// WorkflowDefinition binds a handler to the logical name goals are
	// started against (the Coordinator registers one definition per goal
	// engine, typically just one: the kernel's GoalWorkflow).
	WorkflowDefinition struct {
		Name      string
		TaskQueue string
		Handler   WorkflowFunc
	}

	// WorkflowFunc is a durable workflow entry point. It must be
	// deterministic: given the same input and the same sequence of signals,
	// every independent execution must reach equal final state.
	WorkflowFunc func(ctx WorkflowContext, input any) (any, error)

	// WorkflowContext is the deterministic surface a WorkflowFunc is allowed
	// to touch. Implementations must guarantee that every method here is
	// replay-safe: no wall-clock reads, no unrecorded randomness, no blocking
	// I/O outside signal delivery.
	WorkflowContext interface {
		// Context returns a Go context carrying the originating workflow
		// identity, usable for logging/telemetry calls that expect one.
		Context() context.Context

		WorkflowID() string
		RunID() string

		// Now returns the durable clock's current time. Kernel and Spec code
		// must use this instead of time.Now.
		Now() time.Time

		// SideEffect executes f exactly once and durably records its result,
		// replaying the recorded value (never re-invoking f) on subsequent
		// replays of this point in the workflow history. The kernel uses this
		// to mint step IDs and to draw Spec-visible pseudo-randomness.
		SideEffect(f func() any) any

		// SignalChannel returns the channel the named signal is delivered on.
		// Repeated calls with the same name return the same channel.
		SignalChannel(name string) SignalChannel

		// SetQueryHandler registers a synchronous query. handler must be a
		// func() (R, error) for some result type R; implementations decode
		// query arguments/results using the same codec as signals.
		SetQueryHandler(name string, handler any) error

		// NewSelector returns a fresh Selector for waiting on whichever of
		// several signals (or a timeout) becomes ready first.
		NewSelector() Selector

		// ContinueAsNew ends the current execution and immediately starts a
		// fresh one with the same workflow ID and the given input, truncating
		// history.
		// Callers must return the resulting error from the WorkflowFunc.
		ContinueAsNew(input any) error

		Logger() telemetry.Logger
		Metrics() telemetry.Metrics
		Tracer() telemetry.Tracer
	}

	// SignalChannel delivers values sent to a named signal, in delivery
	// order. Delivery is at-least-once from the caller's perspective; the
	// kernel's handlers must tolerate duplicates.
	SignalChannel interface {
		// Receive blocks until a value is delivered and decodes it into dest.
		Receive(ctx context.Context, dest any) error
		// ReceiveAsync decodes a pending value into dest without blocking.
		// Returns false if none is pending.
		ReceiveAsync(dest any) bool
	}

	// Selector waits on the first-ready of several registered cases. Callers
	// build up cases with AddReceive/AddTimer, then call Select once; the one
	// callback whose case became ready runs before Select returns.
	Selector interface {
		// AddReceive registers ch as a case. fn is invoked with ch once a
		// value is available on it; fn is expected to drain it via
		// ch.ReceiveAsync.
		AddReceive(ch SignalChannel, fn func(ch SignalChannel)) Selector
		// AddTimer registers a relative deadline as a case.
		AddTimer(d time.Duration, fn func()) Selector
		// Select blocks until one registered case is ready and runs its
		// callback.
		Select(ctx context.Context)
	}

	// WorkflowStartRequest describes how to launch a new execution.
	WorkflowStartRequest struct {
		ID        string
		Workflow  string
		TaskQueue string
		Input     any
		Memo      map[string]any

		RetryPolicy RetryPolicy
	}

	// WorkflowHandle lets external callers (the Coordinator, the Dispatcher)
	// interact with a running or completed execution.
	WorkflowHandle interface {
		// Wait blocks until the execution completes, decoding its return
		// value into result.
		Wait(ctx context.Context, result any) error
		// Signal delivers payload to the named signal.
		Signal(ctx context.Context, name string, payload any) error
		// Query invokes the named query synchronously and decodes its result.
		Query(ctx context.Context, name string, result any) error
		// Cancel requests cancellation of the execution.
		Cancel(ctx context.Context) error
	}

	// RetryPolicy controls how the host retries a failed workflow start
	// attempt. Zero-valued fields mean "use the backend's default".
	RetryPolicy struct {
		MaxAttempts        int
		InitialInterval    time.Duration
		BackoffCoefficient float64
	}
)
