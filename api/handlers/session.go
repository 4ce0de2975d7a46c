package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/BaSui01/voiceflow/history"
	"github.com/BaSui01/voiceflow/internal/ctxkeys"
	"github.com/BaSui01/voiceflow/session"
	"github.com/BaSui01/voiceflow/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// =============================================================================
// 🗂️ 会话 Handler
// =============================================================================

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// SessionHandler creates sessions and reads their history.
type SessionHandler struct {
	sessions session.Store
	history  history.Store
	now      func() time.Time
	logger   *zap.Logger
}

// NewSessionHandler creates a SessionHandler. hist may be nil.
func NewSessionHandler(sessions session.Store, hist history.Store, logger *zap.Logger) *SessionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionHandler{
		sessions: sessions,
		history:  hist,
		now:      time.Now,
		logger:   logger.With(zap.String("component", "session_handler")),
	}
}

// CreateSessionRequest 创建会话请求
type CreateSessionRequest struct {
	CharacterID string            `json:"character_id"`
	VoiceID     string            `json:"voice_id,omitempty"`
	Language    string            `json:"language,omitempty"`
	UserID      string            `json:"user_id,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// HandleCreate handles POST /v1/sessions. An authenticated user id overrides
// the one in the body.
func (h *SessionHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if strings.TrimSpace(req.CharacterID) == "" {
		WriteErrorMessage(w, r, http.StatusBadRequest, types.ErrInvalidRequest, "character_id is required", h.logger)
		return
	}

	userID := req.UserID
	if id, ok := ctxkeys.UserID(r.Context()); ok {
		userID = id
	}
	info := &session.Info{
		SessionID:   uuid.NewString(),
		CharacterID: req.CharacterID,
		VoiceID:     req.VoiceID,
		UserID:      userID,
		Language:    req.Language,
		Metadata:    req.Metadata,
		CreatedAt:   h.now(),
	}
	if err := h.sessions.Put(r.Context(), info); err != nil {
		WriteError(w, r, types.NewError(types.ErrServiceUnavailable, "failed to store session").WithCause(err), h.logger)
		return
	}

	h.logger.Info("session created",
		zap.String("session_id", info.SessionID),
		zap.String("character_id", info.CharacterID),
		zap.String("user_id", info.UserID))
	WriteSuccessStatus(w, r, http.StatusCreated, info)
}

// HandleGet handles GET /v1/sessions/{id}.
func (h *SessionHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	info, ok := h.lookup(w, r)
	if !ok {
		return
	}
	WriteSuccess(w, r, info)
}

// HandleHistory handles GET /v1/sessions/{id}/history?limit=N.
func (h *SessionHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		WriteErrorMessage(w, r, http.StatusNotImplemented, types.ErrUnsupportedBackend, "history is not configured", h.logger)
		return
	}
	info, ok := h.lookup(w, r)
	if !ok {
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			WriteErrorMessage(w, r, http.StatusBadRequest, types.ErrInvalidRequest, "limit must be a positive integer", h.logger)
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	entries, err := h.history.List(r.Context(), info.SessionID, limit)
	if err != nil {
		WriteError(w, r, types.NewError(types.ErrServiceUnavailable, "failed to load history").WithCause(err), h.logger)
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	WriteSuccess(w, r, entries)
}

// lookup resolves {id} and enforces ownership when the caller is authenticated.
func (h *SessionHandler) lookup(w http.ResponseWriter, r *http.Request) (*session.Info, bool) {
	id := r.PathValue("id")
	info, err := h.sessions.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			WriteErrorMessage(w, r, http.StatusNotFound, types.ErrSessionNotFound, "session not found", h.logger)
		} else {
			WriteError(w, r, types.NewError(types.ErrServiceUnavailable, "session lookup failed").WithCause(err), h.logger)
		}
		return nil, false
	}
	if !ownsSession(r, info) {
		WriteErrorMessage(w, r, http.StatusForbidden, types.ErrForbidden, "session belongs to another user", h.logger)
		return nil, false
	}
	return info, true
}

// ownsSession is true for anonymous callers (auth disabled) or the owner.
func ownsSession(r *http.Request, info *session.Info) bool {
	uid, ok := ctxkeys.UserID(r.Context())
	return !ok || info.UserID == "" || info.UserID == uid
}
