package temporal

// This file defines the Temporal-backed implementation of
// engine.WorkflowContext: deterministic time, deterministic side effects
// (used by the kernel to mint step IDs and draw Spec randomness), signal
// delivery, query registration, and continue-as-new. All of it is a thin,
// replay-safe wrapper over go.temporal.io/sdk/workflow.

import (
	"context"
	"time"

	"go.temporal.io/sdk/workflow"

	"github.com/durableflow/kernel/engine"
	"github.com/durableflow/kernel/telemetry"
)

type temporalWorkflowContext struct {
	eng        *Engine
	ctx        workflow.Context
	workflowID string
	runID      string
	logger     telemetry.Logger
	metrics    telemetry.Metrics
	tracer     telemetry.Tracer
}

func newTemporalWorkflowContext(e *Engine, ctx workflow.Context) *temporalWorkflowContext {
	info := workflow.GetInfo(ctx)
	return &temporalWorkflowContext{
		eng:        e,
		ctx:        ctx,
		workflowID: info.WorkflowExecution.ID,
		runID:      info.WorkflowExecution.RunID,
		logger:     e.logger,
		metrics:    e.metrics,
		tracer:     e.tracer,
	}
}

func (w *temporalWorkflowContext) Context() context.Context {
	return engine.WithWorkflowContext(context.Background(), w)
}

func (w *temporalWorkflowContext) WorkflowID() string { return w.workflowID }
func (w *temporalWorkflowContext) RunID() string      { return w.runID }
func (w *temporalWorkflowContext) Now() time.Time     { return workflow.Now(w.ctx) }

func (w *temporalWorkflowContext) Logger() telemetry.Logger   { return w.logger }
func (w *temporalWorkflowContext) Metrics() telemetry.Metrics { return w.metrics }
func (w *temporalWorkflowContext) Tracer() telemetry.Tracer   { return w.tracer }

// SideEffect records f's result in workflow history the first time this call
// site executes, and replays the recorded value on every subsequent replay
// without re-invoking f. This is the only place kernel code may call
// anything that looks non-deterministic (uuid generation, a pseudo-random
// draw for Spec.ExecContext.Random).
func (w *temporalWorkflowContext) SideEffect(f func() any) any {
	val := workflow.SideEffect(w.ctx, func(workflow.Context) any { return f() })
	var out any
	val.Get(&out)
	return out
}

func (w *temporalWorkflowContext) ContinueAsNew(input any) error {
	return workflow.NewContinueAsNewError(w.ctx, workflow.GetInfo(w.ctx).WorkflowType.Name, input)
}

func (w *temporalWorkflowContext) SetQueryHandler(name string, handler any) error {
	return workflow.SetQueryHandler(w.ctx, name, handler)
}

func (w *temporalWorkflowContext) SignalChannel(name string) engine.SignalChannel {
	return &temporalSignalChannel{ctx: w.ctx, ch: workflow.GetSignalChannel(w.ctx, name)}
}

type temporalSignalChannel struct {
	ctx workflow.Context
	ch  workflow.ReceiveChannel
}

func (s *temporalSignalChannel) Receive(ctx context.Context, dest any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.ch.Receive(s.ctx, dest)
	return nil
}

func (s *temporalSignalChannel) ReceiveAsync(dest any) bool {
	return s.ch.ReceiveAsync(dest)
}

func (w *temporalWorkflowContext) NewSelector() engine.Selector {
	return &temporalSelector{ctx: w.ctx, sel: workflow.NewSelector(w.ctx)}
}

type temporalSelector struct {
	ctx workflow.Context
	sel workflow.Selector
}

func (s *temporalSelector) AddReceive(ch engine.SignalChannel, fn func(engine.SignalChannel)) engine.Selector {
	tch, ok := ch.(*temporalSignalChannel)
	if !ok {
		panic("temporal engine: selector requires a channel created by this engine")
	}
	s.sel.AddReceive(tch.ch, func(workflow.ReceiveChannel, bool) { fn(ch) })
	return s
}

func (s *temporalSelector) AddTimer(d time.Duration, fn func()) engine.Selector {
	timer := workflow.NewTimer(s.ctx, d)
	s.sel.AddFuture(timer, func(workflow.Future) { fn() })
	return s
}

func (s *temporalSelector) Select(ctx context.Context) {
	s.sel.Select(s.ctx)
}
