// Package coordinator is the composition root described in design §4.6: a
// registry of Spec and Agent factories, wired together with shared
// infrastructure (logger, metrics, tracer) and bound to a concrete
// engine.Engine. It is an ordinary in-process object — unlike the kernel's
// goal workflow, nothing here runs inside durable workflow code — used by
// the application's start-goal entry point and by the Dispatcher/Poller to
// resolve Agents and enumerate goals to drive.
package coordinator

import (
	"context"
	"fmt"
	"sync"

	"github.com/durableflow/kernel/agent"
	"github.com/durableflow/kernel/contracts"
	"github.com/durableflow/kernel/dispatcher"
	"github.com/durableflow/kernel/engine"
	"github.com/durableflow/kernel/kernel"
	"github.com/durableflow/kernel/spec"
	"github.com/durableflow/kernel/telemetry"
)

// Deps is the shared infrastructure the Coordinator injects into every Spec
// and Agent it builds, matching the teacher's pattern of threading a single
// logger/metrics/tracer bundle through every runtime component it
// constructs.
type Deps struct {
	Logger  telemetry.Logger
	Metrics telemetry.Metrics
	Tracer  telemetry.Tracer
}

// SpecFactory builds a Spec instance given shared infrastructure. Factories
// are invoked at most once per spec name; the Coordinator caches the result,
// which is safe because a Spec's contract (package spec) requires it to be a
// pure function of (state, event) with no invocation-to-invocation memory of
// its own.
type SpecFactory func(deps Deps) (spec.Spec, error)

// AgentFactory builds an Agent instance given shared infrastructure. Called
// once per registration; the resulting Agent is indexed under every work
// kind its Describe().SupportedKinds names.
type AgentFactory func(deps Deps) (agent.Agent, error)

// Options configures a Coordinator.
type Options struct {
	// Engine is the durable workflow host goals run on (engine/temporal or
	// engine/inmem).
	Engine engine.Engine
	// TaskQueue is the default Temporal task queue (or equivalent) the goal
	// workflow is registered against.
	TaskQueue string

	Logger  telemetry.Logger
	Metrics telemetry.Metrics
	Tracer  telemetry.Tracer
}

// Coordinator binds spec/agent registries to a concrete Engine and tracks
// started goals so a dispatcher.Poller can enumerate them.
type Coordinator struct {
	eng       engine.Engine
	taskQueue string
	deps      Deps
	kernel    *kernel.Kernel

	mu             sync.Mutex
	specFactories  map[string]SpecFactory
	specCache      map[string]spec.Spec
	agentsByKind   map[string]agent.Agent

	goalsMu sync.Mutex
	goals   map[string]dispatcher.Goal
}

// New constructs a Coordinator and registers the kernel's goal workflow with
// eng. Spec and Agent factories are registered afterward via RegisterSpec /
// RegisterAgent, before any goal referencing them is started.
func New(opts Options) (*Coordinator, error) {
	if opts.Engine == nil {
		return nil, fmt.Errorf("coordinator: engine is required")
	}
	if opts.TaskQueue == "" {
		return nil, fmt.Errorf("coordinator: task queue is required")
	}
	deps := Deps{Logger: opts.Logger, Metrics: opts.Metrics, Tracer: opts.Tracer}
	if deps.Logger == nil {
		deps.Logger = telemetry.NewNoopLogger()
	}
	if deps.Metrics == nil {
		deps.Metrics = telemetry.NewNoopMetrics()
	}
	if deps.Tracer == nil {
		deps.Tracer = telemetry.NewNoopTracer()
	}

	c := &Coordinator{
		eng:           opts.Engine,
		taskQueue:     opts.TaskQueue,
		deps:          deps,
		specFactories: make(map[string]SpecFactory),
		specCache:     make(map[string]spec.Spec),
		agentsByKind:  make(map[string]agent.Agent),
		goals:         make(map[string]dispatcher.Goal),
	}
	c.kernel = kernel.New(c)
	if err := opts.Engine.RegisterWorkflow(context.Background(), c.kernel.Definition(opts.TaskQueue)); err != nil {
		return nil, fmt.Errorf("coordinator: register goal workflow: %w", err)
	}
	return c, nil
}

// RegisterSpec adds factory under name. Registering the same name twice is
// an error: the spec registry must not mutate once goals are running
// against it (§9 design note on spec registry determinism).
func (c *Coordinator) RegisterSpec(name string, factory SpecFactory) error {
	if name == "" || factory == nil {
		return fmt.Errorf("coordinator: spec name and factory are required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.specFactories[name]; exists {
		return fmt.Errorf("coordinator: spec %q already registered", name)
	}
	c.specFactories[name] = factory
	return nil
}

// RegisterAgent builds an Agent via factory and indexes it under every work
// kind its Descriptor names. Registering a kind already claimed by another
// Agent is an error — the Dispatcher needs an unambiguous kind -> Agent
// mapping.
func (c *Coordinator) RegisterAgent(factory AgentFactory) error {
	if factory == nil {
		return fmt.Errorf("coordinator: agent factory is required")
	}
	ag, err := factory(c.deps)
	if err != nil {
		return fmt.Errorf("coordinator: build agent: %w", err)
	}
	desc := ag.Describe()
	if len(desc.SupportedKinds) == 0 {
		return fmt.Errorf("coordinator: agent %q declares no supported kinds", desc.Name)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, kind := range desc.SupportedKinds {
		if _, exists := c.agentsByKind[kind]; exists {
			return fmt.Errorf("coordinator: work kind %q already claimed by another agent", kind)
		}
	}
	for _, kind := range desc.SupportedKinds {
		c.agentsByKind[kind] = ag
	}
	return nil
}

// Resolve implements kernel.Registry: it builds (once) and returns the Spec
// instance for specName.
func (c *Coordinator) Resolve(specName string) (spec.Spec, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sp, ok := c.specCache[specName]; ok {
		return sp, nil
	}
	factory, ok := c.specFactories[specName]
	if !ok {
		return nil, fmt.Errorf("coordinator: unknown spec %q", specName)
	}
	sp, err := factory(c.deps)
	if err != nil {
		return nil, fmt.Errorf("coordinator: build spec %q: %w", specName, err)
	}
	c.specCache[specName] = sp
	return sp, nil
}

// AgentForKind implements dispatcher.AgentResolver.
func (c *Coordinator) AgentForKind(workKind string) (agent.Agent, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ag, ok := c.agentsByKind[workKind]
	return ag, ok
}

// StartGoal starts a new goal's Engine instance: specName must already be
// registered, and bootDecision (if any) is applied exactly once before any
// external signal is processed. The goal's handle and workflow id
// ("goal:{goalID}") are tracked for ActiveGoals until the caller calls
// Forget; only the handle is returned.
func (c *Coordinator) StartGoal(ctx context.Context, goalID, specName string, bootDecision *contracts.EngineDecision) (engine.WorkflowHandle, error) {
	if goalID == "" {
		return nil, fmt.Errorf("coordinator: goal id is required")
	}
	c.mu.Lock()
	_, ok := c.specFactories[specName]
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("coordinator: unknown spec %q", specName)
	}

	workflowID := "goal:" + goalID
	handle, err := c.eng.StartWorkflow(ctx, engine.WorkflowStartRequest{
		ID:        workflowID,
		Workflow:  kernel.WorkflowName,
		TaskQueue: c.taskQueue,
		Input: kernel.GoalInput{
			GoalID:       goalID,
			SpecName:     specName,
			BootDecision: bootDecision,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("coordinator: start goal %q: %w", goalID, err)
	}

	c.goalsMu.Lock()
	c.goals[goalID] = dispatcher.Goal{GoalID: goalID, WorkflowID: workflowID, Handle: handle}
	c.goalsMu.Unlock()

	return handle, nil
}

// Forget stops tracking goalID for ActiveGoals, typically called once the
// caller has observed a terminal status and no longer needs the Dispatcher
// to poll it.
func (c *Coordinator) Forget(goalID string) {
	c.goalsMu.Lock()
	defer c.goalsMu.Unlock()
	delete(c.goals, goalID)
}

// ActiveGoals implements dispatcher.GoalLister.
func (c *Coordinator) ActiveGoals(context.Context) ([]dispatcher.Goal, error) {
	c.goalsMu.Lock()
	defer c.goalsMu.Unlock()
	out := make([]dispatcher.Goal, 0, len(c.goals))
	for _, g := range c.goals {
		out = append(out, g)
	}
	return out, nil
}

var (
	_ kernel.Registry         = (*Coordinator)(nil)
	_ dispatcher.AgentResolver = (*Coordinator)(nil)
	_ dispatcher.GoalLister    = (*Coordinator)(nil)
)
