// Package handlers turns the tag events of one tag type into stream events.
//
// 每种标记一个 Handler：Speech 合成音频，Subtitle 推送字幕，Transcription
// 写入用户历史，Action 解析并执行动作。Handler 在 Dispatcher 的 lane 上
// 串行执行，单个 Context 不会被并发访问。
package handlers

import (
	"context"
	"strings"
	"time"

	"github.com/BaSui01/voiceflow/internal/metrics"
	"github.com/BaSui01/voiceflow/voice/events"
	"github.com/BaSui01/voiceflow/voice/markup"
	"go.uber.org/zap"
)

// Key identifies the handler context of one tag type within one turn.
type Key struct {
	SessionID string
	TurnID    string
	TagType   markup.TagType
}

// KeyOf returns the context key of a tag event.
func KeyOf(ev markup.TagEvent) Key {
	return Key{SessionID: ev.SessionID, TurnID: ev.TurnID, TagType: ev.TagType}
}

// Context is the per-tag buffer owned by the Dispatcher.
type Context struct {
	Key      Key
	Language string
	// Segment 下一个字幕分段序号
	Segment int
	// Order 语音段在回合内的顺序
	Order int

	buf strings.Builder
}

// NewContext creates an empty handler context.
func NewContext(key Key) *Context {
	return &Context{Key: key}
}

// Append adds content to the buffer.
func (c *Context) Append(s string) { c.buf.WriteString(s) }

// Text returns the buffered content.
func (c *Context) Text() string { return c.buf.String() }

// Reset clears the buffer and counters for a new tag occurrence.
func (c *Context) Reset(language string) {
	c.buf.Reset()
	c.Language = language
	c.Segment = 0
	c.Order = 0
}

// Emit delivers a stream event produced by a handler.
type Emit func(events.StreamEvent)

// Handler processes the tag events of a single tag type.
type Handler interface {
	TagType() markup.TagType
	CanHandle(ev markup.TagEvent) bool
	Handle(ctx context.Context, ev markup.TagEvent, hc *Context, ts *TurnState, emit Emit) error
}

// =============================================================================
// 🔧 公共选项
// =============================================================================

const defaultCallTimeout = 30 * time.Second

type base struct {
	tagType   markup.TagType
	logger    *zap.Logger
	collector *metrics.Collector
	timeout   time.Duration
	now       func() time.Time
}

// Option configures a handler.
type Option func(*base)

// WithLogger sets the handler logger.
func WithLogger(logger *zap.Logger) Option {
	return func(b *base) { b.logger = logger }
}

// WithCollector records synthesis and history metrics.
func WithCollector(c *metrics.Collector) Option {
	return func(b *base) { b.collector = c }
}

// WithTimeout bounds a single backend call made while handling CLOSED.
func WithTimeout(d time.Duration) Option {
	return func(b *base) { b.timeout = d }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(b *base) { b.now = now }
}

func newBase(tag markup.TagType, opts []Option) base {
	b := base{
		tagType: tag,
		timeout: defaultCallTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(&b)
	}
	if b.logger == nil {
		b.logger = zap.NewNop()
	}
	if b.timeout <= 0 {
		b.timeout = defaultCallTimeout
	}
	b.logger = b.logger.With(zap.String("component", "handler"), zap.String("tag_type", string(tag)))
	return b
}

func (b *base) TagType() markup.TagType { return b.tagType }

func (b *base) CanHandle(ev markup.TagEvent) bool { return ev.TagType == b.tagType }

// detached keeps values of ctx but survives its cancellation, so an in-flight
// backend call completes even after the client has gone.
func (b *base) detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), b.timeout)
}

func (b *base) event(ts *TurnState, t events.Type, payload map[string]any) events.StreamEvent {
	ev := events.New(t, ts.SessionID, ts.TurnID, payload)
	ev.Timestamp = b.now()
	return ev
}

func turnFields(ts *TurnState) []zap.Field {
	return []zap.Field{zap.String("session_id", ts.SessionID), zap.String("turn_id", ts.TurnID)}
}
