package dispatcher

import (
	"context"

	"github.com/robfig/cron/v3"

	"github.com/durableflow/kernel/engine"
	"github.com/durableflow/kernel/telemetry"
)

// Goal pairs the identifiers and handle a Poller needs to tick one goal.
type Goal struct {
	GoalID     string
	WorkflowID string
	Handle     engine.WorkflowHandle
}

// GoalLister enumerates the goals a Poller should drive. coordinator.Coordinator
// implements this by tracking the goals it has started.
type GoalLister interface {
	ActiveGoals(ctx context.Context) ([]Goal, error)
}

// Poller drives a Dispatcher on a recurring schedule, for deployments that
// choose polling over reacting to a message bus or webhook (§4.5 lists all
// three as valid activation sources). It is a thin wrapper: the schedule
// only decides when to call Tick, all dispatch logic stays in Dispatcher.
type Poller struct {
	dispatcher *Dispatcher
	lister     GoalLister
	logger     telemetry.Logger

	cron *cron.Cron
}

// NewPoller returns a Poller that ticks every goal lister returns on the
// schedule later passed to Start. The schedule is parsed with
// cron.WithSeconds(), so expressions take six fields with seconds first
// (e.g. "*/10 * * * * *"); a standard five-field expression is rejected.
// Descriptors such as "@every 5s" are also accepted.
func NewPoller(d *Dispatcher, lister GoalLister, logger telemetry.Logger) *Poller {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Poller{
		dispatcher: d,
		lister:     lister,
		logger:     logger,
		cron:       cron.New(cron.WithSeconds()),
	}
}

// Start schedules the recurring tick and begins running it in the
// background. schedule is a robfig/cron expression, e.g. "@every 5s".
func (p *Poller) Start(ctx context.Context, schedule string) error {
	_, err := p.cron.AddFunc(schedule, func() { p.tickAll(ctx) })
	if err != nil {
		return err
	}
	p.cron.Start()
	return nil
}

// Stop halts the schedule and waits for any in-flight tick to finish.
func (p *Poller) Stop() {
	<-p.cron.Stop().Done()
}

func (p *Poller) tickAll(ctx context.Context) {
	goals, err := p.lister.ActiveGoals(ctx)
	if err != nil {
		p.logger.Error(ctx, "poller: list active goals failed", "err", err)
		return
	}
	for _, g := range goals {
		if err := p.dispatcher.Tick(ctx, g.GoalID, g.WorkflowID, g.Handle); err != nil {
			p.logger.Error(ctx, "poller: tick failed", "goalId", g.GoalID, "err", err)
		}
	}
}
