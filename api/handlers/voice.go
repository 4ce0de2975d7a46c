package handlers

import (
	"errors"
	"net/http"

	"github.com/BaSui01/voiceflow/internal/metrics"
	"github.com/BaSui01/voiceflow/session"
	"github.com/BaSui01/voiceflow/types"
	"github.com/BaSui01/voiceflow/voice/transport"
	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// =============================================================================
// 🎙️ 语音 WebSocket Handler
// =============================================================================

// VoiceHandler upgrades /v1/voice/ws to a websocket serving one session.
type VoiceHandler struct {
	sessions       session.Store
	runner         transport.Runner
	hub            *transport.Hub
	cfg            transport.Config
	allowedOrigins []string
	collector      *metrics.Collector
	logger         *zap.Logger
}

// NewVoiceHandler creates a VoiceHandler. allowedOrigins are host patterns
// accepted for cross-origin browsers; empty means same origin only.
func NewVoiceHandler(sessions session.Store, runner transport.Runner, hub *transport.Hub, cfg transport.Config, allowedOrigins []string, collector *metrics.Collector, logger *zap.Logger) *VoiceHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VoiceHandler{
		sessions:       sessions,
		runner:         runner,
		hub:            hub,
		cfg:            cfg,
		allowedOrigins: allowedOrigins,
		collector:      collector,
		logger:         logger.With(zap.String("component", "voice_handler")),
	}
}

// HandleWebSocket handles GET /v1/voice/ws?session_id=... The session is
// checked before the upgrade so an unknown session gets a plain 404.
func (h *VoiceHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		WriteErrorMessage(w, r, http.StatusBadRequest, types.ErrInvalidRequest, "session_id is required", h.logger)
		return
	}
	info, err := h.sessions.Get(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			WriteErrorMessage(w, r, http.StatusNotFound, types.ErrSessionNotFound, "session not found", h.logger)
		} else {
			WriteError(w, r, types.NewError(types.ErrServiceUnavailable, "session lookup failed").WithCause(err), h.logger)
		}
		return
	}
	if !ownsSession(r, info) {
		WriteErrorMessage(w, r, http.StatusForbidden, types.ErrForbidden, "session belongs to another user", h.logger)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.allowedOrigins,
	})
	if err != nil {
		// Accept 已写出错误响应
		h.logger.Warn("websocket upgrade failed", zap.String("session_id", sessionID), zap.Error(err))
		return
	}

	conn := transport.NewConn(ws, sessionID, h.runner, h.cfg, h.collector, h.logger)
	if h.hub != nil {
		h.hub.Add(conn)
		defer h.hub.Remove(conn)
	}
	if err := conn.Serve(r.Context()); err != nil {
		h.logger.Debug("websocket session ended", zap.String("session_id", sessionID), zap.Error(err))
	}
}
