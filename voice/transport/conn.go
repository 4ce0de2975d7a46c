package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/BaSui01/voiceflow/internal/metrics"
	"github.com/BaSui01/voiceflow/types"
	"github.com/BaSui01/voiceflow/voice/events"
	"github.com/BaSui01/voiceflow/voice/turn"
	"github.com/coder/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Runner starts turns; *turn.Orchestrator implements it.
type Runner interface {
	Run(ctx context.Context, in turn.Input) <-chan events.StreamEvent
}

// Config tunes a connection. Zero values use defaults.
type Config struct {
	// WriteTimeout 单帧写超时
	WriteTimeout time.Duration
	// PingInterval 心跳间隔，<0 关闭心跳
	PingInterval time.Duration
	// ReadLimit 单帧最大字节数（音频输入以 base64 传输）
	ReadLimit int64
}

func (c Config) withDefaults() Config {
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.PingInterval == 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = 8 << 20
	}
	return c
}

// =============================================================================
// 🔌 WebSocket 连接
// =============================================================================

// Conn serves one session over a websocket. Writes are serialized.
type Conn struct {
	ws        *websocket.Conn
	sessionID string
	runner    Runner
	cfg       Config
	collector *metrics.Collector
	logger    *zap.Logger

	writeMu sync.Mutex

	mu         sync.Mutex
	cancelTurn context.CancelFunc
	turnDone   chan struct{}
	closed     bool
	// turnIDs 本连接上客户端用过的 turnId
	turnIDs map[string]struct{}
}

var (
	errTurnActive = errors.New("a turn is already in progress")
	errTurnReused = errors.New("turn id was already used on this connection")
)

// NewConn wraps an accepted websocket.
func NewConn(ws *websocket.Conn, sessionID string, runner Runner, cfg Config, collector *metrics.Collector, logger *zap.Logger) *Conn {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	ws.SetReadLimit(cfg.ReadLimit)
	return &Conn{
		ws:        ws,
		sessionID: sessionID,
		runner:    runner,
		cfg:       cfg,
		collector: collector,
		turnIDs:   make(map[string]struct{}),
		logger: logger.With(
			zap.String("component", "ws_conn"),
			zap.String("session_id", sessionID)),
	}
}

// SessionID returns the session served by the connection.
func (c *Conn) SessionID() string { return c.sessionID }

// Serve reads client frames until the connection or ctx ends. The active turn
// is cancelled and awaited before Serve returns.
func (c *Conn) Serve(ctx context.Context) error {
	if c.collector != nil {
		c.collector.WebSocketOpened()
		defer c.collector.WebSocketClosed()
	}
	c.logger.Info("websocket connected")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.readLoop(gctx) })
	if c.cfg.PingInterval > 0 {
		g.Go(func() error { return c.pingLoop(gctx) })
	}
	err := g.Wait()

	c.stopTurn()
	c.Close(websocket.StatusNormalClosure, "bye")

	if isNormalClose(err) {
		c.logger.Info("websocket disconnected")
		return nil
	}
	c.logger.Warn("websocket closed with error", zap.Error(err))
	return err
}

func (c *Conn) readLoop(ctx context.Context) error {
	for {
		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			return fmt.Errorf("websocket read: %w", err)
		}
		if typ != websocket.MessageText {
			c.writeError(ctx, "", types.ErrInvalidRequest, "binary frames are not supported")
			continue
		}
		msg, err := DecodeClientMessage(data)
		if err != nil {
			c.writeError(ctx, "", types.ErrInvalidRequest, err.Error())
			continue
		}

		switch msg.Type {
		case MessageTurn:
			if err := c.startTurn(ctx, msg); err != nil {
				c.writeError(ctx, msg.TurnID, types.ErrInvalidRequest, err.Error())
			}
		case MessageCancel:
			c.logger.Info("turn cancel requested")
			c.stopTurn()
		}
	}
}

func (c *Conn) pingLoop(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, c.cfg.WriteTimeout)
			err := c.ws.Ping(pctx)
			cancel()
			if err != nil {
				return fmt.Errorf("websocket ping: %w", err)
			}
		}
	}
}

// =============================================================================
// 🎙️ 回合
// =============================================================================

// startTurn launches a turn unless one is active or the client reuses a
// turn id. Turns without an id get one from the orchestrator.
func (c *Conn) startTurn(ctx context.Context, msg ClientMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.turnDone != nil {
		return errTurnActive
	}
	if msg.TurnID != "" {
		if _, dup := c.turnIDs[msg.TurnID]; dup {
			return errTurnReused
		}
		c.turnIDs[msg.TurnID] = struct{}{}
	}

	turnCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.cancelTurn = cancel
	c.turnDone = done

	out := c.runner.Run(turnCtx, msg.Input(c.sessionID))
	go func() {
		defer close(done)
		defer c.clearTurn(done)
		c.forward(turnCtx, out)
	}()
	return nil
}

// forward writes every event of a turn. After a write failure the rest of the
// stream is drained so the orchestrator can finish.
func (c *Conn) forward(ctx context.Context, out <-chan events.StreamEvent) {
	failed := false
	for ev := range out {
		if failed {
			continue
		}
		if err := c.WriteEvent(ctx, ev); err != nil {
			failed = true
			c.logger.Warn("failed to write event, dropping the rest of the turn",
				zap.String("turn_id", ev.TurnID), zap.String("type", string(ev.Type)), zap.Error(err))
		}
	}
}

func (c *Conn) clearTurn(done chan struct{}) {
	c.mu.Lock()
	if c.turnDone == done {
		c.cancelTurn()
		c.cancelTurn = nil
		c.turnDone = nil
	}
	c.mu.Unlock()
}

// stopTurn cancels the active turn and waits until its stream is closed.
func (c *Conn) stopTurn() {
	c.mu.Lock()
	cancel, done := c.cancelTurn, c.turnDone
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// =============================================================================
// ✉️ 写出
// =============================================================================

// WriteEvent writes one stream event as a JSON text frame.
func (c *Conn) WriteEvent(ctx context.Context, ev events.StreamEvent) error {
	data, err := ev.Marshal()
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.WriteTimeout)
	defer cancel()
	if err := c.ws.Write(wctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("websocket write: %w", err)
	}
	return nil
}

func (c *Conn) writeError(ctx context.Context, turnID string, code types.ErrorCode, msg string) {
	ev := events.New(events.Error, c.sessionID, turnID, events.ErrorPayload("", "", string(code), msg))
	if err := c.WriteEvent(ctx, ev); err != nil {
		c.logger.Debug("failed to write error event", zap.Error(err))
	}
}

// Close closes the websocket once.
func (c *Conn) Close(code websocket.StatusCode, reason string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	if err := c.ws.Close(code, reason); err != nil && !isNormalClose(err) {
		c.logger.Debug("websocket close", zap.Error(err))
	}
}

func isNormalClose(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return true
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	}
	return false
}
