package engine

import "context"

// wfCtxKey is the private context key used to stash a WorkflowContext inside
// a Go context, so code that only has a context.Context (telemetry calls,
// Spec helpers invoked with wfCtx.Context()) can still recover the
// originating WorkflowContext when needed.
type wfCtxKey struct{}

// WithWorkflowContext returns a child context carrying wf. Engine adapters
// attach this when constructing the context returned by
// WorkflowContext.Context().
func WithWorkflowContext(ctx context.Context, wf WorkflowContext) context.Context {
	return context.WithValue(ctx, wfCtxKey{}, wf)
}

// WorkflowContextFromContext extracts a WorkflowContext from ctx if present,
// or nil otherwise.
func WorkflowContextFromContext(ctx context.Context) WorkflowContext {
	if v := ctx.Value(wfCtxKey{}); v != nil {
		if wf, ok := v.(WorkflowContext); ok {
			return wf
		}
	}
	return nil
}
