// Package inmem provides an in-process, single-goroutine-per-workflow
// implementation of engine.Engine. It is not replay-safe (SideEffect simply
// invokes its function, ContinueAsNew just loops the handler) and exists for
// unit tests and local development, the same role goa-ai's in-memory engine
// adapter plays for its Temporal-backed runtime.
package inmem

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/durableflow/kernel/engine"
	"github.com/durableflow/kernel/telemetry"
)

type (
	eng struct {
		mu        sync.RWMutex
		workflows map[string]engine.WorkflowDefinition
	}

	handle struct {
		mu     sync.Mutex
		done   chan struct{}
		err    error
		result any
		wfCtx  *wfCtx
	}

	wfCtx struct {
		ctx context.Context
		id  string

		logger  telemetry.Logger
		metrics telemetry.Metrics
		tracer  telemetry.Tracer

		queriesMu sync.Mutex
		queries   map[string]reflect.Value

		sigMu sync.Mutex
		sigs  map[string]*signalChan
	}

	signalChan struct {
		ch chan any
	}

	continueAsNewError struct {
		input any
	}
)

func (continueAsNewError) Error() string { return "inmem: continue-as-new" }

// New returns a new in-memory Engine implementation suitable for local
// development and tests. It is not deterministic or replay-safe and must not
// back production goals.
func New() engine.Engine {
	return &eng{}
}

func (e *eng) RegisterWorkflow(_ context.Context, def engine.WorkflowDefinition) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.workflows == nil {
		e.workflows = make(map[string]engine.WorkflowDefinition)
	}
	if def.Name == "" || def.Handler == nil {
		return errors.New("inmem: invalid workflow definition")
	}
	if _, dup := e.workflows[def.Name]; dup {
		return fmt.Errorf("inmem: workflow %q already registered", def.Name)
	}
	e.workflows[def.Name] = def
	return nil
}

func (e *eng) StartWorkflow(ctx context.Context, req engine.WorkflowStartRequest) (engine.WorkflowHandle, error) {
	e.mu.RLock()
	def, ok := e.workflows[req.Workflow]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("inmem: workflow %q not registered", req.Workflow)
	}
	if req.ID == "" {
		return nil, errors.New("inmem: workflow id is required")
	}

	wctx := newWfCtx(ctx, req.ID)
	h := &handle{done: make(chan struct{}), wfCtx: wctx}

	go func() {
		defer close(h.done)
		input := req.Input
		for {
			res, err := def.Handler(wctx, input)
			var canErr continueAsNewError
			if errors.As(err, &canErr) {
				input = canErr.input
				continue
			}
			h.mu.Lock()
			h.result, h.err = res, err
			h.mu.Unlock()
			return
		}
	}()

	return h, nil
}

func newWfCtx(ctx context.Context, id string) *wfCtx {
	return &wfCtx{
		ctx:     ctx,
		id:      id,
		logger:  telemetry.NoopLogger{},
		metrics: telemetry.NoopMetrics{},
		tracer:  telemetry.NoopTracer{},
		queries: make(map[string]reflect.Value),
		sigs:    make(map[string]*signalChan),
	}
}

func (w *wfCtx) Context() context.Context   { return engine.WithWorkflowContext(w.ctx, w) }
func (w *wfCtx) WorkflowID() string         { return w.id }
func (w *wfCtx) RunID() string              { return w.id }
func (w *wfCtx) Logger() telemetry.Logger   { return w.logger }
func (w *wfCtx) Metrics() telemetry.Metrics { return w.metrics }
func (w *wfCtx) Tracer() telemetry.Tracer   { return w.tracer }
func (w *wfCtx) Now() time.Time             { return time.Now().UTC() }

func (w *wfCtx) SideEffect(f func() any) any { return f() }

func (w *wfCtx) ContinueAsNew(input any) error {
	return continueAsNewError{input: input}
}

func (w *wfCtx) SetQueryHandler(name string, handler any) error {
	v := reflect.ValueOf(handler)
	if v.Kind() != reflect.Func {
		return fmt.Errorf("inmem: query handler for %q must be a function", name)
	}
	w.queriesMu.Lock()
	defer w.queriesMu.Unlock()
	if _, dup := w.queries[name]; dup {
		return fmt.Errorf("inmem: query %q already registered", name)
	}
	w.queries[name] = v
	return nil
}

func (w *wfCtx) query(name string, result any) error {
	w.queriesMu.Lock()
	handler, ok := w.queries[name]
	w.queriesMu.Unlock()
	if !ok {
		return fmt.Errorf("inmem: query %q not registered", name)
	}
	out := handler.Call(nil)
	if len(out) != 2 {
		return fmt.Errorf("inmem: query %q handler must return (value, error)", name)
	}
	if errVal := out[1].Interface(); errVal != nil {
		return errVal.(error)
	}
	assignResult(result, out[0].Interface())
	return nil
}

func (w *wfCtx) SignalChannel(name string) engine.SignalChannel {
	w.sigMu.Lock()
	defer w.sigMu.Unlock()
	ch, ok := w.sigs[name]
	if !ok {
		ch = &signalChan{ch: make(chan any, 64)}
		w.sigs[name] = ch
	}
	return ch
}

func (s *signalChan) Receive(ctx context.Context, dest any) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case v := <-s.ch:
		assignResult(dest, v)
		return nil
	}
}

func (s *signalChan) ReceiveAsync(dest any) bool {
	select {
	case v := <-s.ch:
		assignResult(dest, v)
		return true
	default:
		return false
	}
}

func (w *wfCtx) NewSelector() engine.Selector {
	return &selector{}
}

type (
	selector struct {
		cases []selectorCase
	}
	selectorCase struct {
		ch      *signalChan
		onTimer time.Duration
		fn      func()
		fnRecv  func(engine.SignalChannel)
	}
)

func (s *selector) AddReceive(ch engine.SignalChannel, fn func(engine.SignalChannel)) engine.Selector {
	sc, ok := ch.(*signalChan)
	if !ok {
		panic("inmem: selector requires a channel created by this engine")
	}
	s.cases = append(s.cases, selectorCase{ch: sc, fnRecv: fn})
	return s
}

func (s *selector) AddTimer(d time.Duration, fn func()) engine.Selector {
	s.cases = append(s.cases, selectorCase{onTimer: d, fn: fn})
	return s
}

func (s *selector) Select(ctx context.Context) {
	// reflect.Select lets us wait on an arbitrary number of channels plus a
	// timer channel without hand-rolling a case per signal name.
	recvCases := make([]reflect.SelectCase, 0, len(s.cases)+1)
	index := make([]int, 0, len(s.cases))
	var timer *time.Timer
	for i, c := range s.cases {
		if c.ch != nil {
			recvCases = append(recvCases, reflect.SelectCase{
				Dir:  reflect.SelectRecv,
				Chan: reflect.ValueOf(c.ch.ch),
			})
			index = append(index, i)
		}
	}
	for i, c := range s.cases {
		if c.ch == nil {
			timer = time.NewTimer(c.onTimer)
			recvCases = append(recvCases, reflect.SelectCase{
				Dir:  reflect.SelectRecv,
				Chan: reflect.ValueOf(timer.C),
			})
			index = append(index, i)
			break // only one timer case is meaningful per Select call
		}
	}
	recvCases = append(recvCases, reflect.SelectCase{
		Dir:  reflect.SelectRecv,
		Chan: reflect.ValueOf(ctx.Done()),
	})

	chosen, recv, recvOK := reflect.Select(recvCases)
	if timer != nil {
		timer.Stop()
	}
	if chosen == len(recvCases)-1 {
		return // context cancelled
	}
	c := s.cases[index[chosen]]
	if c.ch != nil {
		if recvOK {
			c.ch.ch <- recv.Interface()
		}
		c.fnRecv(c.ch)
		return
	}
	c.fn()
}

// assignResult copies src into *dst. Same-shaped values assign directly, as
// does a src that implements the interface dst points to; anything else (for
// example a map[string]any a Dispatcher built instead of the kernel's
// unexported signal struct types) falls back to a JSON round trip, the same
// conversion a real data-converter-backed engine performs on every signal.
// This keeps the in-memory adapter usable by callers outside the kernel
// package, which cannot reference those unexported types directly.
func assignResult(dst any, src any) {
	if dst == nil || src == nil {
		return
	}
	dv := reflect.ValueOf(dst)
	if dv.Kind() != reflect.Ptr || dv.IsNil() {
		return
	}
	sv := reflect.ValueOf(src)
	if sv.IsValid() && sv.Type().AssignableTo(dv.Elem().Type()) {
		dv.Elem().Set(sv)
		return
	}
	if dv.Elem().Kind() == reflect.Interface && sv.Type().Implements(dv.Elem().Type()) {
		dv.Elem().Set(sv)
		return
	}
	if b, err := json.Marshal(src); err == nil {
		_ = json.Unmarshal(b, dst)
	}
}

func (h *handle) Wait(ctx context.Context, result any) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		h.mu.Lock()
		defer h.mu.Unlock()
		assignResult(result, h.result)
		return h.err
	}
}

func (h *handle) Signal(ctx context.Context, name string, payload any) error {
	ch := h.wfCtx.SignalChannel(name).(*signalChan)
	select {
	case ch.ch <- payload:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *handle) Query(_ context.Context, name string, result any) error {
	return h.wfCtx.query(name, result)
}

func (h *handle) Cancel(context.Context) error {
	return errors.New("inmem: cancel not supported; send a cancel signal instead")
}
