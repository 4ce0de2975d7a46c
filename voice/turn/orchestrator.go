// Package turn drives one conversational turn from the model stream to its
// terminal event.
//
// 状态机：STARTED → STREAMING → COMPLETING → {PERSISTED, DISCARDED}。
// 模型流在收到首个分块前按退避策略重试；之后的流错误直接丢弃回合。
package turn

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/BaSui01/voiceflow/history"
	"github.com/BaSui01/voiceflow/internal/metrics"
	"github.com/BaSui01/voiceflow/llm/retry"
	"github.com/BaSui01/voiceflow/llm/stream"
	"github.com/BaSui01/voiceflow/llm/tokenizer"
	"github.com/BaSui01/voiceflow/session"
	"github.com/BaSui01/voiceflow/types"
	"github.com/BaSui01/voiceflow/voice/dispatch"
	"github.com/BaSui01/voiceflow/voice/events"
	"github.com/BaSui01/voiceflow/voice/handlers"
	"github.com/BaSui01/voiceflow/voice/markup"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// 🎯 配置与依赖
// =============================================================================

// Input is one accepted user utterance.
type Input struct {
	SessionID string
	// TurnID 为空时自动生成
	TurnID      string
	Text        string
	Audio       []byte
	AudioFormat string
}

// Config 编排器配置
type Config struct {
	// EventBuffer 输出事件通道缓冲
	EventBuffer int
	// TurnTimeout 单回合整体超时，0 表示不限
	TurnTimeout time.Duration
	// HistoryLimit 随请求发送给模型的历史条数
	HistoryLimit int
	// SystemPrompt 覆盖模型默认 system prompt
	SystemPrompt string
	// Provider 用于重试指标标签
	Provider string
	// FinishTimeout 收尾写入（报告、摘要）的超时
	FinishTimeout time.Duration
}

// Deps are the collaborators of the orchestrator. Reports, Publisher,
// Collector and Counter are optional.
type Deps struct {
	Sessions   session.Store
	Model      stream.Model
	Dispatcher *dispatch.Dispatcher
	History    history.Store
	Reports    history.ReportStore
	Publisher  events.Publisher
	Collector  *metrics.Collector
	Counter    tokenizer.Counter
	Retry      *retry.RetryPolicy
}

// Orchestrator runs turns.
type Orchestrator struct {
	deps   Deps
	policy retry.RetryPolicy
	cfg    Config
	tracer trace.Tracer
	logger *zap.Logger
	now    func() time.Time

	// active 记录执行中的回合，键为 session\x00turn
	active sync.Map
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithTracer overrides the tracer used for turn spans.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

// New creates an Orchestrator.
func New(deps Deps, cfg Config, logger *zap.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 64
	}
	if cfg.HistoryLimit < 0 {
		cfg.HistoryLimit = 0
	}
	if cfg.FinishTimeout <= 0 {
		cfg.FinishTimeout = 5 * time.Second
	}
	if cfg.Provider == "" {
		cfg.Provider = "model"
	}
	policy := retry.DefaultRetryPolicy()
	if deps.Retry != nil {
		policy = deps.Retry
	}
	if deps.Publisher == nil {
		deps.Publisher = events.NopPublisher{}
	}
	o := &Orchestrator{
		deps:   deps,
		policy: *policy,
		cfg:    cfg,
		tracer: otel.Tracer("voiceflow/turn"),
		logger: logger.With(zap.String("component", "orchestrator")),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// =============================================================================
// ▶️ 启动
// =============================================================================

// Run starts a turn and returns its ordered event stream. TURN_STARTED is
// queued before Run returns and the channel is closed after the terminal
// event. When the session cannot be resolved no turn exists: the channel
// carries a single ERROR event.
func (o *Orchestrator) Run(ctx context.Context, in Input) <-chan events.StreamEvent {
	out, err := o.Start(ctx, in)
	if err == nil {
		return out
	}

	ch := make(chan events.StreamEvent, 1)
	code := types.GetErrorCode(err)
	if code == "" {
		code = types.ErrInternalError
	}
	ch <- events.New(events.Error, in.SessionID, in.TurnID,
		events.ErrorPayload("", "", string(code), err.Error()))
	close(ch)
	return ch
}

// Start resolves the session, emits TURN_STARTED and launches the turn.
// A caller-supplied turn id that is running or already left history is
// rejected with INVALID_REQUEST.
func (o *Orchestrator) Start(ctx context.Context, in Input) (<-chan events.StreamEvent, error) {
	supplied := in.TurnID != ""
	if !supplied {
		in.TurnID = uuid.NewString()
	}
	log := o.logger.With(zap.String("session_id", in.SessionID), zap.String("turn_id", in.TurnID))

	info, err := o.deps.Sessions.Get(ctx, in.SessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, types.NewError(types.ErrSessionNotFound, "session not found").
				WithCause(err).WithHTTPStatus(404)
		}
		return nil, types.NewError(types.ErrServiceUnavailable, "session lookup failed").WithCause(err)
	}
	if supplied && o.turnUsed(ctx, in, log) {
		return nil, errTurnReused(in.TurnID)
	}
	key := in.SessionID + "\x00" + in.TurnID
	if _, running := o.active.LoadOrStore(key, struct{}{}); running {
		return nil, errTurnReused(in.TurnID)
	}
	if err := o.deps.Sessions.Touch(ctx, in.SessionID); err != nil {
		log.Warn("failed to touch session", zap.Error(err))
	}

	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if o.cfg.TurnTimeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, o.cfg.TurnTimeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	runCtx, span := o.tracer.Start(runCtx, "voice.turn",
		trace.WithAttributes(
			attribute.String("session_id", in.SessionID),
			attribute.String("turn_id", in.TurnID),
		))

	rec := NewRecorder(o.now)
	t := &run{
		o:      o,
		parent: ctx,
		ctx:    runCtx,
		cancel: cancel,
		span:   span,
		in:     in,
		ts:     handlers.NewTurnState(in.SessionID, in.TurnID, *info, rec),
		rec:    rec,
		parser: markup.NewParser(in.SessionID, in.TurnID, markup.WithClock(o.now)),
		state:  StateStarted,
		out:    make(chan events.StreamEvent, o.cfg.EventBuffer),
		logger: log,
		key:    key,
	}

	t.emit(events.TurnStarted, map[string]any{
		"characterId": info.CharacterID,
		"language":    info.Language,
	})
	log.Info("turn started")

	go t.execute()
	return t.out, nil
}

// turnUsed asks the history store, or else the report store, whether the
// turn id already left a trace. A lookup failure does not block the turn; the
// unique indexes still reject duplicates.
func (o *Orchestrator) turnUsed(ctx context.Context, in Input, log *zap.Logger) bool {
	lookup, ok := o.deps.History.(history.TurnLookup)
	if !ok {
		lookup, ok = o.deps.Reports.(history.TurnLookup)
	}
	if !ok {
		return false
	}
	used, err := lookup.HasTurn(ctx, in.SessionID, in.TurnID)
	if err != nil {
		log.Warn("turn id lookup failed", zap.Error(err))
		return false
	}
	return used
}

func errTurnReused(turnID string) error {
	return types.NewError(types.ErrInvalidRequest, "turn id "+turnID+" was already used").
		WithHTTPStatus(409)
}

// =============================================================================
// 🔄 单回合执行
// =============================================================================

type run struct {
	o *Orchestrator
	// parent 为客户端连接的 ctx，事件输出只受它约束；ctx 额外带回合超时
	parent context.Context
	ctx    context.Context
	cancel context.CancelFunc
	span   trace.Span
	in     Input
	ts     *handlers.TurnState
	rec    *Recorder
	parser *markup.Parser
	logger *zap.Logger
	key    string

	// state 只在回合 goroutine 中修改
	state   State
	retries int
	final   stream.FinalResponse

	mu         sync.RWMutex
	terminated bool
	out        chan events.StreamEvent
}

// opened is a model stream that produced its first chunk, or finished without any.
type opened struct {
	stream stream.Stream
	first  string
	done   bool
}

func (t *run) execute() {
	defer t.o.active.Delete(t.key)
	defer t.cancel()
	defer t.span.End()
	defer t.o.deps.Dispatcher.Release(t.in.SessionID, t.in.TurnID)

	st, err := t.open()
	if err != nil {
		t.fail(err)
		return
	}

	if !st.done {
		if err := t.step(TriggerChunk); err != nil {
			t.fail(err)
			return
		}
		t.consume(st.first)
		if err := t.pump(st.stream); err != nil {
			t.fail(err)
			return
		}
	} else {
		t.final, _ = st.stream.Final()
	}

	t.rec.Mark(MarkStreamCompleted)
	if err := t.step(TriggerStreamComplete); err != nil {
		t.fail(err)
		return
	}
	t.complete()
}

// step applies a trigger to the state machine.
func (t *run) step(tr Trigger) error {
	next, err := transition(t.state, tr)
	if err != nil {
		t.logger.Error("rejected turn transition", zap.String("state", string(t.state)), zap.String("trigger", string(tr)))
		return err
	}
	if next != t.state {
		t.logger.Debug("turn transition", zap.String("from", string(t.state)), zap.String("to", string(next)))
		t.span.AddEvent(string(next))
	}
	t.state = next
	return nil
}

// open opens the model stream through the retry wrapper. A retry only
// happens while no chunk has been received.
func (t *run) open() (*opened, error) {
	req := t.request()

	policy := t.o.policy
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		t.retries = attempt
		if t.o.deps.Collector != nil {
			t.o.deps.Collector.RecordStreamRetry(t.o.cfg.Provider)
		}
		t.logger.Warn("model stream failed, retrying",
			zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(err))
		payload := events.RetryPayload(attempt, policy.MaxRetries, delay.Milliseconds(), err.Error())
		if attempt == 1 {
			t.emit(events.RetryStarted, payload)
		}
		t.emit(events.RetryProgress, payload)
	}
	r := retry.NewBackoffRetryer(&policy, t.logger)

	return retry.DoWithResultTyped[*opened](r, t.ctx, func() (*opened, error) {
		st, err := t.o.deps.Model.Stream(t.ctx, req)
		if err != nil {
			return nil, err
		}
		select {
		case chunk, ok := <-st.Chunks():
			if ok {
				return &opened{stream: st, first: chunk}, nil
			}
			if _, err := st.Final(); err != nil {
				return nil, err
			}
			return &opened{stream: st, done: true}, nil
		case <-t.ctx.Done():
			return nil, t.ctx.Err()
		}
	})
}

func (t *run) request() stream.Request {
	info := t.ts.Session
	req := stream.Request{
		SessionID:    t.in.SessionID,
		TurnID:       t.in.TurnID,
		CharacterID:  info.CharacterID,
		UserID:       info.UserID,
		Language:     info.Language,
		Input:        t.in.Text,
		Audio:        t.in.Audio,
		AudioFormat:  t.in.AudioFormat,
		SystemPrompt: t.o.cfg.SystemPrompt,
	}
	if t.o.cfg.HistoryLimit == 0 || t.o.deps.History == nil {
		return req
	}

	entries, err := t.o.deps.History.List(t.ctx, t.in.SessionID, t.o.cfg.HistoryLimit)
	if err != nil {
		t.logger.Warn("failed to load history, continuing without it", zap.Error(err))
		return req
	}
	for _, e := range entries {
		role := stream.RoleUser
		if e.Role == history.RoleAssistant {
			role = stream.RoleAssistant
		}
		req.History = append(req.History, stream.Message{Role: role, Content: e.Content})
	}
	return req
}

// pump feeds the remaining chunks to the parser until the stream ends.
func (t *run) pump(st stream.Stream) error {
	chunks := st.Chunks()
	for {
		select {
		case <-t.ctx.Done():
			return t.ctx.Err()
		case chunk, ok := <-chunks:
			if !ok {
				final, err := st.Final()
				if err != nil {
					return err
				}
				t.final = final
				t.dispatch(t.parser.Flush())
				return nil
			}
			if err := t.step(TriggerChunk); err != nil {
				return err
			}
			t.consume(chunk)
		}
	}
}

func (t *run) consume(chunk string) {
	t.rec.Mark(MarkFirstChunk)
	t.rec.AddChunk()
	t.dispatch(t.parser.Feed(chunk))
}

func (t *run) dispatch(evs []markup.TagEvent) {
	if len(evs) == 0 {
		return
	}
	t.rec.Mark(MarkFirstTag)
	t.rec.AddTagEvents(len(evs))
	for _, ev := range evs {
		if err := t.o.deps.Dispatcher.DispatchTo(t.ctx, ev, t.ts, t.emitEvent); err != nil {
			t.ts.MarkError()
			t.logger.Warn("failed to dispatch tag event",
				zap.String("tag_type", string(ev.TagType)), zap.Error(err))
		}
	}
}

// =============================================================================
// 🏁 收尾
// =============================================================================

// complete runs COMPLETING: drain lanes, resolve the final text, write the
// assistant line when allowed and emit TURN_COMPLETED.
func (t *run) complete() {
	if err := t.o.deps.Dispatcher.Wait(t.ctx, t.in.SessionID, t.in.TurnID); err != nil {
		t.fail(err)
		return
	}

	finalText := t.finalText()
	persisted := false
	if t.ts.ShouldPersist() && finalText != "" && t.o.deps.History != nil {
		err := t.writeAssistant(finalText)
		if t.o.deps.Collector != nil {
			t.o.deps.Collector.RecordHistoryWrite(string(history.RoleAssistant), err)
		}
		if err != nil {
			t.ts.SuppressPersist()
			t.ts.MarkError()
			t.logger.Error("failed to persist assistant message", zap.Error(err))
			if stepErr := t.step(TriggerPersistFailed); stepErr != nil {
				t.logger.Error("unexpected state after persist failure", zap.Error(stepErr))
			}
			t.discard(types.NewError(types.ErrHistoryWrite, "failed to persist assistant message").WithCause(err))
			return
		}
		persisted = true
	}

	if err := t.step(TriggerFinalized); err != nil {
		t.fail(err)
		return
	}

	report := t.rec.Report(finalText, t.o.deps.Counter)
	t.emitTerminal(events.TurnCompleted, map[string]any{
		"finalText":     finalText,
		"transcription": t.ts.Transcription(),
		"persisted":     persisted,
		"hasErrors":     t.ts.HasErrors(),
		"metrics":       report.Map(),
	})
	t.finish(report, finalText, persisted, "")
}

// finalText prefers the subtitle text, then the spoken blocks of the
// aggregate response. A response without either (no markup, or only
// [ASR]/[DO] blocks) falls back to the whole aggregate text.
func (t *run) finalText() string {
	if s := strings.TrimSpace(t.ts.SubtitleText()); s != "" {
		return s
	}
	if spoken, tagged := markup.BlockText(t.final.Text, markup.TagSpeech); tagged {
		if s := strings.TrimSpace(spoken); s != "" {
			return s
		}
	}
	return strings.TrimSpace(t.final.Text)
}

func (t *run) writeAssistant(text string) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(t.ctx), t.o.cfg.FinishTimeout)
	defer cancel()
	return t.o.deps.History.Append(ctx, history.Entry{
		SessionID:   t.in.SessionID,
		TurnID:      t.in.TurnID,
		UserID:      t.ts.Session.UserID,
		CharacterID: t.ts.Session.CharacterID,
		Role:        history.RoleAssistant,
		Content:     text,
		CreatedAt:   t.o.now(),
	})
}

// fail handles a stream-level failure from STARTED or STREAMING.
func (t *run) fail(err error) {
	if !t.state.IsTerminal() {
		// COMPLETING 不接受 stream_error，直接落到 DISCARDED
		if t.step(TriggerStreamError) != nil {
			t.state = StateDiscarded
		}
	}
	t.discard(err)
}

// discard emits RETRY_FAILED + TURN_DISCARDED; no history is written.
func (t *run) discard(cause error) {
	t.ts.SuppressPersist()
	t.span.RecordError(cause)
	t.span.SetStatus(codes.Error, cause.Error())

	cancelled := t.parent.Err() != nil
	if !cancelled {
		// 等待已分发的 handler 结束，保证终止事件最后发出
		if err := t.o.deps.Dispatcher.Wait(t.parent, t.in.SessionID, t.in.TurnID); err != nil {
			cancelled = true
		}
	}

	reason := cause.Error()
	if cancelled {
		reason = "cancelled"
		t.logger.Info("turn cancelled", zap.Error(cause))
	} else {
		t.logger.Warn("turn discarded", zap.Int("retries", t.retries), zap.Error(cause))
	}

	code := types.GetErrorCode(cause)
	switch {
	case code != "":
	case errors.Is(cause, context.DeadlineExceeded):
		code = types.ErrTimeout
	default:
		code = types.ErrStreamFailed
	}
	report := t.rec.Report("", nil)
	if !cancelled {
		t.emit(events.RetryFailed, map[string]any{
			"attempts":   t.retries + 1,
			"maxRetries": t.o.policy.MaxRetries,
			"code":       string(code),
			"reason":     reason,
		})
	}
	t.emitTerminal(events.TurnDiscarded, map[string]any{
		"reason":    reason,
		"code":      string(code),
		"hasErrors": true,
		"metrics":   report.Map(),
	})
	t.finish(report, "", false, reason)
}

// finish records metrics, saves the report and publishes the summary.
func (t *run) finish(report Report, finalText string, persisted bool, reason string) {
	outcome := string(t.state)
	fields := append([]zap.Field{
		zap.String("outcome", outcome),
		zap.Bool("persisted", persisted),
		zap.Bool("has_errors", t.ts.HasErrors()),
	}, report.Fields()...)
	t.logger.Info("turn finished", fields...)

	if c := t.o.deps.Collector; c != nil {
		c.RecordTurn(metrics.TurnObservation{
			Outcome:    outcome,
			HasErrors:  t.ts.HasErrors(),
			Total:      time.Duration(report.TotalMs) * time.Millisecond,
			FirstChunk: time.Duration(report.FirstChunkMs) * time.Millisecond,
			FirstAudio: time.Duration(report.FirstAudioMs) * time.Millisecond,
			Tokens:     report.TokenEstimate,
		})
	}
	t.span.SetAttributes(attribute.String("outcome", outcome), attribute.Bool("persisted", persisted))

	ctx, cancel := context.WithTimeout(context.WithoutCancel(t.ctx), t.o.cfg.FinishTimeout)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	if t.o.deps.Reports != nil {
		g.Go(func() error {
			err := t.o.deps.Reports.SaveReport(gctx, history.TurnReport{
				SessionID:     t.in.SessionID,
				TurnID:        t.in.TurnID,
				Outcome:       outcome,
				HasErrors:     t.ts.HasErrors(),
				FirstChunkMs:  report.FirstChunkMs,
				FirstAudioMs:  report.FirstAudioMs,
				TotalMs:       report.TotalMs,
				ChunkCount:    report.ChunkCount,
				TagEventCount: report.TagEventCount,
				TokenEstimate: report.TokenEstimate,
				CreatedAt:     t.o.now(),
			})
			if err != nil {
				return fmt.Errorf("save turn report: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		return t.o.deps.Publisher.PublishTurn(gctx, events.TurnSummary{
			SessionID:     t.in.SessionID,
			TurnID:        t.in.TurnID,
			UserID:        t.ts.Session.UserID,
			CharacterID:   t.ts.Session.CharacterID,
			Outcome:       outcome,
			Persisted:     persisted,
			HasErrors:     t.ts.HasErrors(),
			Reason:        reason,
			FinalText:     finalText,
			Transcription: t.ts.Transcription(),
			Metrics:       report.Map(),
			Timestamp:     t.o.now(),
		})
	})
	if err := g.Wait(); err != nil {
		t.logger.Warn("turn bookkeeping failed", zap.Error(err))
	}
}

// =============================================================================
// 📤 事件输出
// =============================================================================

// emitEvent forwards a handler event; events after the terminal one are dropped.
func (t *run) emitEvent(ev events.StreamEvent) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.terminated {
		return
	}
	t.send(ev)
}

func (t *run) emit(typ events.Type, payload map[string]any) {
	ev := events.New(typ, t.in.SessionID, t.in.TurnID, payload)
	ev.Timestamp = t.o.now()
	t.emitEvent(ev)
}

// emitTerminal sends the last event of the turn and closes the stream.
func (t *run) emitTerminal(typ events.Type, payload map[string]any) {
	ev := events.New(typ, t.in.SessionID, t.in.TurnID, payload)
	ev.Timestamp = t.o.now()

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.terminated {
		return
	}
	t.send(ev)
	t.terminated = true
	close(t.out)
}

func (t *run) send(ev events.StreamEvent) {
	select {
	case t.out <- ev:
		if t.o.deps.Collector != nil {
			t.o.deps.Collector.RecordStreamEvent(string(ev.Type))
		}
	case <-t.parent.Done():
		// 客户端已离开
	}
}
