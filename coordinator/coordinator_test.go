package coordinator_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/durableflow/kernel/agent"
	"github.com/durableflow/kernel/contracts"
	"github.com/durableflow/kernel/coordinator"
	"github.com/durableflow/kernel/engine/inmem"
	"github.com/durableflow/kernel/spec"
	"github.com/durableflow/kernel/specs/basic"
)

type fakeAgent struct{ desc agent.Descriptor }

func (a fakeAgent) Describe() agent.Descriptor { return a.desc }
func (a fakeAgent) Execute(context.Context, string, any, agent.Context) (contracts.AgentResponse, error) {
	return contracts.AgentResponse{Status: contracts.AgentOK}, nil
}

func newTestCoordinator(t *testing.T) *coordinator.Coordinator {
	t.Helper()
	c, err := coordinator.New(coordinator.Options{
		Engine:    inmem.New(),
		TaskQueue: "test-queue",
	})
	require.NoError(t, err)
	return c
}

func TestCoordinatorRegisterAndResolveSpec(t *testing.T) {
	c := newTestCoordinator(t)
	require.NoError(t, c.RegisterSpec("hello", func(coordinator.Deps) (spec.Spec, error) {
		return basic.NewTerminal("hello", "GREET"), nil
	}))

	sp, err := c.Resolve("hello")
	require.NoError(t, err)
	require.Equal(t, "hello", sp.Name())

	// Resolving again returns the cached instance, not a fresh one.
	sp2, err := c.Resolve("hello")
	require.NoError(t, err)
	require.Same(t, sp, sp2)
}

func TestCoordinatorRegisterSpecRejectsDuplicateName(t *testing.T) {
	c := newTestCoordinator(t)
	factory := func(coordinator.Deps) (spec.Spec, error) { return basic.NewTerminal("hello", "GREET"), nil }
	require.NoError(t, c.RegisterSpec("hello", factory))
	require.Error(t, c.RegisterSpec("hello", factory))
}

func TestCoordinatorResolveUnknownSpec(t *testing.T) {
	c := newTestCoordinator(t)
	_, err := c.Resolve("nope")
	require.Error(t, err)
}

func TestCoordinatorRegisterAgentIndexesBySupportedKinds(t *testing.T) {
	c := newTestCoordinator(t)
	require.NoError(t, c.RegisterAgent(func(coordinator.Deps) (agent.Agent, error) {
		return fakeAgent{desc: agent.Descriptor{Name: "multi", SupportedKinds: []string{"A", "B"}}}, nil
	}))

	agentA, ok := c.AgentForKind("A")
	require.True(t, ok)
	require.Equal(t, "multi", agentA.Describe().Name)

	agentB, ok := c.AgentForKind("B")
	require.True(t, ok)
	require.Equal(t, "multi", agentB.Describe().Name)

	_, ok = c.AgentForKind("C")
	require.False(t, ok)
}

func TestCoordinatorRegisterAgentRejectsKindCollision(t *testing.T) {
	c := newTestCoordinator(t)
	first := func(coordinator.Deps) (agent.Agent, error) {
		return fakeAgent{desc: agent.Descriptor{Name: "first", SupportedKinds: []string{"A"}}}, nil
	}
	second := func(coordinator.Deps) (agent.Agent, error) {
		return fakeAgent{desc: agent.Descriptor{Name: "second", SupportedKinds: []string{"A"}}}, nil
	}
	require.NoError(t, c.RegisterAgent(first))
	require.Error(t, c.RegisterAgent(second))
}

func TestCoordinatorStartGoalTracksActiveGoals(t *testing.T) {
	c := newTestCoordinator(t)
	require.NoError(t, c.RegisterSpec("hello", func(coordinator.Deps) (spec.Spec, error) {
		return basic.NewTerminal("hello", "GREET"), nil
	}))

	_, err := c.StartGoal(context.Background(), "goal-1", "hello", &contracts.EngineDecision{
		Actions: []contracts.EngineAction{contracts.RequestWork{WorkKind: "GREET", StepID: "g1"}},
	})
	require.NoError(t, err)

	goals, err := c.ActiveGoals(context.Background())
	require.NoError(t, err)
	require.Len(t, goals, 1)
	require.Equal(t, "goal-1", goals[0].GoalID)

	c.Forget("goal-1")
	goals, err = c.ActiveGoals(context.Background())
	require.NoError(t, err)
	require.Empty(t, goals)
}

func TestCoordinatorStartGoalRejectsUnknownSpec(t *testing.T) {
	c := newTestCoordinator(t)
	_, err := c.StartGoal(context.Background(), "goal-1", "nope", nil)
	require.Error(t, err)
}
