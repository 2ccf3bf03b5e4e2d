package telemetry

import (
	"context"

	"goa.design/clue/log"
)

// clueLogger adapts goa.design/clue/log to the Logger interface. Callers opt
// into it by passing NewClueLogger() where a Logger is accepted; the
// Coordinator, Dispatcher and engines default to NewNoopLogger when none is
// supplied. Clue reads formatting and debug settings from the context itself
// (set via log.Context and log.WithFormat/log.WithDebug upstream of this
// package), so the adapter carries no config of its own.
type clueLogger struct{}

// NewClueLogger constructs a Logger that delegates to goa.design/clue/log.
func NewClueLogger() Logger {
	return clueLogger{}
}

func (clueLogger) Debug(ctx context.Context, msg string, keyvals ...any) {
	log.Debug(ctx, fielders(msg, keyvals)...)
}

func (clueLogger) Info(ctx context.Context, msg string, keyvals ...any) {
	log.Info(ctx, fielders(msg, keyvals)...)
}

func (clueLogger) Warn(ctx context.Context, msg string, keyvals ...any) {
	log.Warn(ctx, fielders(msg, keyvals)...)
}

func (clueLogger) Error(ctx context.Context, msg string, keyvals ...any) {
	log.Error(ctx, nil, fielders(msg, keyvals)...)
}

// fielders converts msg plus variadic key-value pairs (k1, v1, k2, v2, ...)
// into Clue's log.Fielder slice. A trailing key with no value is paired with
// nil; non-string keys are dropped.
func fielders(msg string, keyvals []any) []log.Fielder {
	out := make([]log.Fielder, 0, len(keyvals)/2+1)
	out = append(out, log.KV{K: "msg", V: msg})
	for i := 0; i < len(keyvals); i += 2 {
		k, ok := keyvals[i].(string)
		if !ok {
			continue
		}
		var v any
		if i+1 < len(keyvals) {
			v = keyvals[i+1]
		}
		out = append(out, log.KV{K: k, V: v})
	}
	return out
}
