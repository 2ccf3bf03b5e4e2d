// Package dispatcher implements the external reactor described in design
// §4.5: it observes a goal's WAITING steps, resolves and runs an Agent for
// each, and reports results back to the Engine via agentCompleted. The
// Dispatcher holds no durable state of its own; everything it needs to
// resume after a restart is recoverable from the Engine's currentState
// query, the same relationship the teacher's tool-execution provider loop
// has with the toolset stream it drains.
package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/durableflow/kernel/agent"
	"github.com/durableflow/kernel/contracts"
	"github.com/durableflow/kernel/dedup"
	"github.com/durableflow/kernel/engine"
	"github.com/durableflow/kernel/kernel"
	"github.com/durableflow/kernel/telemetry"
)

// AgentResolver looks up the Agent registered for a work kind. It is
// satisfied by coordinator.Coordinator in production and by a plain map in
// tests.
type AgentResolver interface {
	AgentForKind(workKind string) (agent.Agent, bool)
}

// AgentResolverFunc adapts a function to AgentResolver.
type AgentResolverFunc func(workKind string) (agent.Agent, bool)

// AgentForKind calls f.
func (f AgentResolverFunc) AgentForKind(workKind string) (agent.Agent, bool) { return f(workKind) }

// Options configures a Dispatcher. All fields are optional.
type Options struct {
	// Dedup backs the correlation-id dispatch dedup window. Defaults to an
	// in-process store that is never shared across Dispatcher instances —
	// production deployments with more than one Dispatcher process should
	// supply a shared store (e.g. dedup/redisstore).
	Dedup dedup.Store
	// DedupTTL bounds how long a correlation id suppresses re-dispatch.
	// Defaults to 10 minutes.
	DedupTTL time.Duration
	// MaxConcurrentPerKind bounds how many in-flight Agent.Execute calls a
	// single Tick may run per work kind at once. Defaults to 4. A Tick that
	// would exceed the bound for a kind leaves the excess steps WAITING for
	// the next Tick rather than queuing them.
	MaxConcurrentPerKind int
	// AnnotateStart, when true, signals applyDecision with an
	// ANNOTATE("started:{stepId}", ...) action before invoking the Agent,
	// for external observability of in-flight dispatches (§4.5).
	AnnotateStart bool

	Logger  telemetry.Logger
	Metrics telemetry.Metrics
}

// Dispatcher drives one or more goals by polling their Engine state and
// running Agents for WAITING steps. A single Dispatcher instance is safe to
// use concurrently across goals; Tick calls for different goalIDs never
// contend on the same semaphore.
type Dispatcher struct {
	resolver AgentResolver
	dedup    dedup.Store
	dedupTTL time.Duration
	maxConc  int
	annotate bool
	logger   telemetry.Logger
	metrics  telemetry.Metrics

	mu    sync.Mutex
	sems  map[string]chan struct{} // keyed by "{goalID}:{kind}"
}

// New returns a Dispatcher resolving agents through resolver.
func New(resolver AgentResolver, opts Options) *Dispatcher {
	store := opts.Dedup
	if store == nil {
		store = dedup.NewInMemoryStore()
	}
	ttl := opts.DedupTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	maxConc := opts.MaxConcurrentPerKind
	if maxConc <= 0 {
		maxConc = 4
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	return &Dispatcher{
		resolver: resolver,
		dedup:    store,
		dedupTTL: ttl,
		maxConc:  maxConc,
		annotate: opts.AnnotateStart,
		logger:   logger,
		metrics:  metrics,
		sems:     make(map[string]chan struct{}),
	}
}

// Tick runs one observe-dispatch-report cycle for goalID against handle: it
// queries currentState, finds WAITING steps, resolves and executes an Agent
// for each (bounded by MaxConcurrentPerKind and deduped by correlation id),
// and signals agentCompleted for each completed execution. It returns after
// every step it decided to dispatch this cycle has reported back; steps
// skipped for lack of a registered agent, or deferred because their kind's
// concurrency slot is full, remain WAITING for the next Tick.
func (d *Dispatcher) Tick(ctx context.Context, goalID, workflowID string, handle engine.WorkflowHandle) error {
	var state contracts.EngineState
	if err := handle.Query(ctx, kernel.QueryCurrentState, &state); err != nil {
		return fmt.Errorf("dispatcher: query currentState for goal %q: %w", goalID, err)
	}

	var (
		wg       sync.WaitGroup
		errMu    sync.Mutex
		firstErr error
	)
	for stepID, step := range state.OpenSteps {
		if step.Status != contracts.StepWaiting {
			continue
		}
		ag, ok := d.resolver.AgentForKind(step.Kind)
		if !ok {
			d.logger.Warn(ctx, "dispatcher: no agent registered for kind", "goalId", goalID, "stepId", stepID, "kind", step.Kind)
			continue
		}

		sem := d.semaphoreFor(goalID, step.Kind)
		select {
		case sem <- struct{}{}:
		default:
			d.logger.Debug(ctx, "dispatcher: kind at concurrency limit, deferring", "goalId", goalID, "stepId", stepID, "kind", step.Kind)
			continue
		}

		wg.Add(1)
		go func(stepID string, step contracts.StepState, ag agent.Agent) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := d.dispatchOne(ctx, goalID, workflowID, stepID, step, ag, handle); err != nil {
				d.logger.Error(ctx, "dispatcher: dispatch failed", "goalId", goalID, "stepId", stepID, "err", err)
				errMu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				errMu.Unlock()
			}
		}(stepID, step, ag)
	}
	wg.Wait()
	return firstErr
}

func (d *Dispatcher) dispatchOne(ctx context.Context, goalID, workflowID, stepID string, step contracts.StepState, ag agent.Agent, handle engine.WorkflowHandle) error {
	runID := deterministicRunID(stepID, step)
	key := dedup.CorrelationKey(stepID, runID)

	proceed, err := d.dedup.MarkIfAbsent(ctx, key, d.dedupTTL)
	if err != nil {
		return fmt.Errorf("dedup check for %q: %w", key, err)
	}
	if !proceed {
		d.logger.Debug(ctx, "dispatcher: suppressing duplicate dispatch", "goalId", goalID, "stepId", stepID, "runId", runID)
		return nil
	}

	if d.annotate {
		decision := contracts.EngineDecision{
			Actions: []contracts.EngineAction{
				contracts.Annotate{Key: "started:" + stepID, Value: map[string]any{"runId": runID}},
			},
		}
		if err := handle.Signal(ctx, kernel.SignalApplyDecision, map[string]any{"decision": decision}); err != nil {
			d.logger.Warn(ctx, "dispatcher: failed to annotate dispatch start", "goalId", goalID, "stepId", stepID, "err", err)
		}
	}

	resp, execErr := d.execute(ctx, goalID, workflowID, stepID, runID, step, ag)
	d.metrics.IncCounter("dispatcher_dispatch_total", 1, "kind", step.Kind)

	payload := map[string]any{"stepId": stepID, "response": resp}
	if err := handle.Signal(ctx, kernel.SignalAgentCompleted, payload); err != nil {
		return fmt.Errorf("signal agentCompleted for step %q: %w", stepID, err)
	}
	return execErr
}

func (d *Dispatcher) execute(ctx context.Context, goalID, workflowID, stepID, runID string, step contracts.StepState, ag agent.Agent) (contracts.AgentResponse, error) {
	execCtx := agent.Context{
		GoalID:     goalID,
		WorkflowID: workflowID,
		StepID:     stepID,
		RunID:      runID,
		AgentRole:  ag.Describe().Name,
	}
	resp, err := ag.Execute(ctx, step.Kind, step.Payload, execCtx)
	if err != nil {
		resp = contracts.AgentResponse{Status: contracts.AgentFail, Errors: []string{err.Error()}}
	}
	resp = agent.Stamp(resp, execCtx)
	return resp, err
}

func (d *Dispatcher) semaphoreFor(goalID, kind string) chan struct{} {
	key := goalID + ":" + kind
	d.mu.Lock()
	defer d.mu.Unlock()
	sem, ok := d.sems[key]
	if !ok {
		sem = make(chan struct{}, d.maxConc)
		d.sems[key] = sem
	}
	return sem
}

// deterministicRunID derives a runId from the step's identity and its
// current generation. openStep preserves RequestedAt across a reset of an
// existing WAITING/FAILED step and only refreshes UpdatedAt, so UpdatedAt is
// what actually changes between attempts; keying on it means repeated Ticks
// over the same still-WAITING attempt produce the same correlation key
// (letting the dedup store suppress the re-dispatch), while a later
// REQUEST_WORK that resets the step mints a fresh runId for the new attempt.
func deterministicRunID(stepID string, step contracts.StepState) string {
	return fmt.Sprintf("%s@%d", stepID, step.UpdatedAt.UnixNano())
}
