package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BaSui01/voiceflow/history"
	"github.com/BaSui01/voiceflow/internal/ctxkeys"
	"github.com/BaSui01/voiceflow/session"
	"github.com/BaSui01/voiceflow/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func sessionMux(h *SessionHandler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/sessions", h.HandleCreate)
	mux.HandleFunc("GET /v1/sessions/{id}", h.HandleGet)
	mux.HandleFunc("GET /v1/sessions/{id}/history", h.HandleHistory)
	return mux
}

func withUser(r *http.Request, uid string) *http.Request {
	return r.WithContext(ctxkeys.WithUserID(r.Context(), uid))
}

func TestSessionHandler_CreateAndGet(t *testing.T) {
	store := session.NewMemoryStore(time.Hour)
	mux := sessionMux(NewSessionHandler(store, nil, zap.NewNop()))

	body := `{"character_id":"luna","voice_id":"v1","language":"en","user_id":"ignored"}`
	r := withUser(httptest.NewRequest(http.MethodPost, "/v1/sessions", bytes.NewBufferString(body)), "u1")
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, r)
	require.Equal(t, http.StatusCreated, w.Code)

	var created struct {
		Data session.Info `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&created))
	assert.NotEmpty(t, created.Data.SessionID)
	assert.Equal(t, "u1", created.Data.UserID)

	stored, err := store.Get(context.Background(), created.Data.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "luna", stored.CharacterID)

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, withUser(httptest.NewRequest(http.MethodGet, "/v1/sessions/"+created.Data.SessionID, nil), "u1"))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, withUser(httptest.NewRequest(http.MethodGet, "/v1/sessions/"+created.Data.SessionID, nil), "intruder"))
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestSessionHandler_CreateValidation(t *testing.T) {
	mux := sessionMux(NewSessionHandler(session.NewMemoryStore(time.Hour), nil, nil))

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/sessions", bytes.NewBufferString(`{"voice_id":"v"}`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSessionHandler_NotFound(t *testing.T) {
	mux := sessionMux(NewSessionHandler(session.NewMemoryStore(time.Hour), history.NewMemoryStore(), nil))

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/sessions/missing/history", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, string(types.ErrSessionNotFound), resp.Error.Code)
}

func TestSessionHandler_History(t *testing.T) {
	ctx := context.Background()
	store := session.NewMemoryStore(time.Hour)
	require.NoError(t, store.Put(ctx, &session.Info{SessionID: "s1", CharacterID: "c"}))
	hist := history.NewMemoryStore()
	require.NoError(t, hist.Append(ctx, history.Entry{SessionID: "s1", TurnID: "t1", Role: history.RoleUser, Content: "hi"}))
	require.NoError(t, hist.Append(ctx, history.Entry{SessionID: "s1", TurnID: "t1", Role: history.RoleAssistant, Content: "hello"}))
	mux := sessionMux(NewSessionHandler(store, hist, nil))

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/sessions/s1/history?limit=10", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Data []history.Entry `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Len(t, resp.Data, 2)
	assert.Equal(t, "hello", resp.Data[1].Content)

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/sessions/s1/history?limit=-1", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSessionHandler_HistoryDisabled(t *testing.T) {
	mux := sessionMux(NewSessionHandler(session.NewMemoryStore(time.Hour), nil, nil))

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/sessions/s1/history", nil))
	assert.Equal(t, http.StatusNotImplemented, w.Code)
}
