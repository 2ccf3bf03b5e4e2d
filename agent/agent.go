// Package agent defines the stateless executor contract the Dispatcher calls
// for each WAITING step. Agents perform the actual work a goal needs done —
// LLM calls, tool invocations, file generation — and hand back a fully
// materialized contracts.AgentResponse; the core never observes retries,
// timeouts, or I/O an Agent performs internally.
package agent

import (
	"context"

	"github.com/durableflow/kernel/contracts"
)

// Descriptor identifies an Agent and the work kinds it can execute.
type Descriptor struct {
	Name           string
	SupportedKinds []string
}

// Context carries the correlation identifiers the Dispatcher supplies for a
// single execution. Implementations must copy StepID and RunID into the
// AgentResponse they return so the Dispatcher can correlate the response back
// to the step that requested it.
type Context struct {
	GoalID     string
	WorkflowID string
	StepID     string
	RunID      string
	AgentRole  string
}

// Agent executes one unit of work for a work kind it declares support for.
type Agent interface {
	Describe() Descriptor
	Execute(ctx context.Context, workKind string, payload any, execCtx Context) (contracts.AgentResponse, error)
}

// Supports reports whether d declares support for kind.
func (d Descriptor) Supports(kind string) bool {
	for _, k := range d.SupportedKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// Stamp returns resp with the correlation fields from execCtx forced onto it.
// The Dispatcher applies this defensively after every Execute call: a buggy
// or third-party Agent that forgets to copy StepID/RunID would otherwise
// silently break the Dispatcher's correlation of agentCompleted signals back
// to the step that requested the work.
func Stamp(resp contracts.AgentResponse, execCtx Context) contracts.AgentResponse {
	resp.GoalID = execCtx.GoalID
	resp.WorkflowID = execCtx.WorkflowID
	resp.StepID = execCtx.StepID
	resp.RunID = execCtx.RunID
	if resp.AgentRole == "" {
		resp.AgentRole = execCtx.AgentRole
	}
	return resp
}
