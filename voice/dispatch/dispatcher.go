// Package dispatch routes tag events to their handlers on per-tag lanes.
//
// 每个回合的每种标记类型拥有一条单 worker 的 FIFO lane：同一 lane 内事件
// 严格按解析顺序处理，不同 lane 之间互不阻塞。
package dispatch

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/BaSui01/voiceflow/internal/metrics"
	"github.com/BaSui01/voiceflow/internal/pool"
	"github.com/BaSui01/voiceflow/types"
	"github.com/BaSui01/voiceflow/voice/events"
	"github.com/BaSui01/voiceflow/voice/handlers"
	"github.com/BaSui01/voiceflow/voice/markup"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const defaultLaneQueueSize = 256

// Config configures a Dispatcher.
type Config struct {
	// LaneQueueSize 每条 lane 的排队上限，满时 Dispatch 阻塞
	LaneQueueSize int
}

type turnKey struct {
	sessionID string
	turnID    string
}

// turnLanes holds the lanes and pending work of one turn.
type turnLanes struct {
	lanes   map[markup.TagType]*pool.GoroutinePool
	pending sync.WaitGroup
}

// Dispatcher owns the handler contexts and lanes of all in-flight turns.
type Dispatcher struct {
	handlers []handlers.Handler
	cfg      Config

	mu       sync.Mutex
	closed   bool
	turns    map[turnKey]*turnLanes
	contexts map[handlers.Key]*handlers.Context

	collector *metrics.Collector
	tracer    trace.Tracer
	logger    *zap.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithCollector records handler metrics.
func WithCollector(c *metrics.Collector) Option {
	return func(d *Dispatcher) { d.collector = c }
}

// WithTracer overrides the tracer used for handler spans.
func WithTracer(t trace.Tracer) Option {
	return func(d *Dispatcher) { d.tracer = t }
}

// New creates a Dispatcher over the given handlers.
func New(hs []handlers.Handler, cfg Config, logger *zap.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.LaneQueueSize <= 0 {
		cfg.LaneQueueSize = defaultLaneQueueSize
	}
	d := &Dispatcher{
		handlers: hs,
		cfg:      cfg,
		turns:    make(map[turnKey]*turnLanes),
		contexts: make(map[handlers.Key]*handlers.Context),
		tracer:   otel.Tracer("voiceflow/dispatch"),
		logger:   logger.With(zap.String("component", "dispatcher")),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Handler returns the handler accepting ev, or nil.
func (d *Dispatcher) Handler(ev markup.TagEvent) handlers.Handler {
	for _, h := range d.handlers {
		if h.CanHandle(ev) {
			return h
		}
	}
	return nil
}

// =============================================================================
// 📤 分发
// =============================================================================

// Dispatch schedules ev on its lane and returns the stream events it produces.
// The channel is closed once the handler invocation finishes.
//
// Dispatch serves callers that consume one tag event at a time. The turn
// orchestrator uses DispatchTo instead so every lane writes into the turn's
// single output stream without a channel per event.
func (d *Dispatcher) Dispatch(ctx context.Context, ev markup.TagEvent, ts *handlers.TurnState) <-chan events.StreamEvent {
	out := make(chan events.StreamEvent, 16)
	var mu sync.Mutex
	closed := false
	emit := func(se events.StreamEvent) {
		mu.Lock()
		defer mu.Unlock()
		if !closed {
			select {
			case out <- se:
			case <-ctx.Done():
			}
		}
	}
	finish := func() {
		mu.Lock()
		if !closed {
			closed = true
			close(out)
		}
		mu.Unlock()
	}

	if err := d.submit(ctx, ev, ts, emit, finish); err != nil {
		finish()
	}
	return out
}

// DispatchTo schedules ev on its lane; produced events go to emit from the
// lane goroutine, preserving per-lane order. It blocks only while the lane
// queue is full.
func (d *Dispatcher) DispatchTo(ctx context.Context, ev markup.TagEvent, ts *handlers.TurnState, emit handlers.Emit) error {
	return d.submit(ctx, ev, ts, emit, nil)
}

func (d *Dispatcher) submit(ctx context.Context, ev markup.TagEvent, ts *handlers.TurnState, emit handlers.Emit, done func()) error {
	h := d.Handler(ev)
	if h == nil {
		d.logger.Warn("no handler for tag event",
			zap.String("session_id", ev.SessionID),
			zap.String("turn_id", ev.TurnID),
			zap.String("tag_type", string(ev.TagType)),
			zap.String("lifecycle", string(ev.Lifecycle)))
		if done != nil {
			done()
		}
		return nil
	}

	turn, lane, err := d.lane(ev)
	if err != nil {
		return err
	}

	turn.pending.Add(1)
	task := func(context.Context) error {
		defer turn.pending.Done()
		if done != nil {
			defer done()
		}
		return d.invoke(ctx, h, ev, ts, emit)
	}
	if err := lane.Submit(ctx, task); err != nil {
		turn.pending.Done()
		d.dropContext(ev)
		return fmt.Errorf("submit %s event to lane: %w", ev.TagType, err)
	}
	if d.collector != nil {
		d.collector.SetLaneQueueDepth(string(ev.TagType), lane.Stats().Queued)
	}
	return nil
}

func (d *Dispatcher) lane(ev markup.TagEvent) (*turnLanes, *pool.GoroutinePool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, nil, types.NewError(types.ErrDispatcherClosed, "dispatcher is closed")
	}

	tk := turnKey{sessionID: ev.SessionID, turnID: ev.TurnID}
	turn, ok := d.turns[tk]
	if !ok {
		turn = &turnLanes{lanes: make(map[markup.TagType]*pool.GoroutinePool)}
		d.turns[tk] = turn
	}
	lane, ok := turn.lanes[ev.TagType]
	if !ok {
		lane = pool.NewGoroutinePool(pool.LaneConfig(string(ev.TagType), d.cfg.LaneQueueSize))
		turn.lanes[ev.TagType] = lane
	}
	return turn, lane, nil
}

// =============================================================================
// ⚙️ 执行
// =============================================================================

func (d *Dispatcher) context(key handlers.Key) *handlers.Context {
	d.mu.Lock()
	defer d.mu.Unlock()
	hc, ok := d.contexts[key]
	if !ok {
		hc = handlers.NewContext(key)
		d.contexts[key] = hc
	}
	return hc
}

func (d *Dispatcher) dropContext(ev markup.TagEvent) {
	if ev.Lifecycle != markup.Closed {
		return
	}
	d.mu.Lock()
	delete(d.contexts, handlers.KeyOf(ev))
	d.mu.Unlock()
}

func (d *Dispatcher) invoke(ctx context.Context, h handlers.Handler, ev markup.TagEvent, ts *handlers.TurnState, emit handlers.Emit) error {
	defer d.dropContext(ev)

	// 回合已取消：排队中的事件不再处理
	if ctx.Err() != nil {
		return ctx.Err()
	}

	ctx, span := d.tracer.Start(ctx, "voice.handler",
		trace.WithAttributes(
			attribute.String("session_id", ev.SessionID),
			attribute.String("turn_id", ev.TurnID),
			attribute.String("tag_type", string(ev.TagType)),
			attribute.String("lifecycle", string(ev.Lifecycle)),
		))
	defer span.End()

	start := time.Now()
	err := d.safeHandle(ctx, h, ev, ts, emit)
	if d.collector != nil {
		d.collector.RecordHandler(string(ev.TagType), string(ev.Lifecycle), err, time.Since(start))
	}
	if err == nil {
		return nil
	}

	ts.MarkError()
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	d.logger.Warn("handler failed",
		zap.String("session_id", ev.SessionID),
		zap.String("turn_id", ev.TurnID),
		zap.String("tag_type", string(ev.TagType)),
		zap.String("lifecycle", string(ev.Lifecycle)),
		zap.Error(err))

	code := types.GetErrorCode(err)
	if code == "" {
		code = types.ErrHandlerFailed
	}
	se := events.New(events.Error, ts.SessionID, ts.TurnID,
		events.ErrorPayload(string(ev.TagType), string(ev.Lifecycle), string(code), err.Error()))
	emit(se)
	return err
}

func (d *Dispatcher) safeHandle(ctx context.Context, h handlers.Handler, ev markup.TagEvent, ts *handlers.TurnState, emit handlers.Emit) (err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("handler panicked",
				zap.String("tag_type", string(ev.TagType)),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			err = types.NewError(types.ErrHandlerFailed, fmt.Sprintf("handler panicked: %v", r))
		}
	}()
	return h.Handle(ctx, ev, d.context(handlers.KeyOf(ev)), ts, emit)
}

// =============================================================================
// 🔚 回合收尾与关闭
// =============================================================================

// Wait blocks until every event dispatched for the turn has been handled.
func (d *Dispatcher) Wait(ctx context.Context, sessionID, turnID string) error {
	d.mu.Lock()
	turn, ok := d.turns[turnKey{sessionID: sessionID, turnID: turnID}]
	d.mu.Unlock()
	if !ok {
		return nil
	}

	done := make(chan struct{})
	go func() {
		turn.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release stops the lanes of a turn and drops its leftover handler contexts,
// such as those of tags never closed.
func (d *Dispatcher) Release(sessionID, turnID string) {
	tk := turnKey{sessionID: sessionID, turnID: turnID}
	d.mu.Lock()
	turn := d.turns[tk]
	delete(d.turns, tk)
	for key := range d.contexts {
		if key.SessionID == sessionID && key.TurnID == turnID {
			delete(d.contexts, key)
		}
	}
	d.mu.Unlock()

	if turn == nil {
		return
	}
	for _, lane := range turn.lanes {
		lane.Close()
	}
}

// ContextCount returns the number of live handler contexts, i.e. tag blocks
// opened but not yet closed. The server logs it when draining on shutdown.
func (d *Dispatcher) ContextCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.contexts)
}

// Close drains and stops all lanes; later dispatches fail.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	turns := d.turns
	d.turns = make(map[turnKey]*turnLanes)
	d.mu.Unlock()

	for _, turn := range turns {
		for _, lane := range turn.lanes {
			lane.Close()
		}
	}
	d.logger.Info("dispatcher closed", zap.Int("turns", len(turns)))
}
