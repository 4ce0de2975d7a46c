package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeConn struct {
	mu       sync.Mutex
	subjects []string
	payloads [][]byte
	err      error
	drained  bool
}

func (f *fakeConn) Publish(subject string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.subjects = append(f.subjects, subject)
	f.payloads = append(f.payloads, data)
	return nil
}

func (f *fakeConn) Drain() error {
	f.drained = true
	return nil
}

func TestNATSPublisher_PublishTurn(t *testing.T) {
	conn := &fakeConn{}
	p := NewNATSPublisherWithConn(conn, "voice.turns", zap.NewNop())

	err := p.PublishTurn(context.Background(), TurnSummary{
		SessionID: "s1",
		TurnID:    "t1",
		Outcome:   "PERSISTED",
		Persisted: true,
		FinalText: "hi",
		Timestamp: time.Unix(0, 0).UTC(),
	})
	require.NoError(t, err)

	require.Len(t, conn.subjects, 1)
	assert.Equal(t, "voice.turns.persisted", conn.subjects[0])

	var decoded TurnSummary
	require.NoError(t, json.Unmarshal(conn.payloads[0], &decoded))
	assert.Equal(t, "t1", decoded.TurnID)
	assert.True(t, decoded.Persisted)

	require.NoError(t, p.Close())
	assert.True(t, conn.drained)
}

func TestNATSPublisher_Errors(t *testing.T) {
	conn := &fakeConn{err: errors.New("nats: connection closed")}
	p := NewNATSPublisherWithConn(conn, "", nil)

	err := p.PublishTurn(context.Background(), TurnSummary{Outcome: "DISCARDED"})
	assert.ErrorContains(t, err, "voiceflow.turns.discarded")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, p.PublishTurn(ctx, TurnSummary{}), context.Canceled)
}

func TestNopPublisher(t *testing.T) {
	var p Publisher = NopPublisher{}
	assert.NoError(t, p.PublishTurn(context.Background(), TurnSummary{}))
	assert.NoError(t, p.Close())
}

type failingPublisher struct{ calls int }

func (f *failingPublisher) PublishTurn(context.Context, TurnSummary) error {
	f.calls++
	return errors.New("broker down")
}

func (f *failingPublisher) Close() error { return errors.New("close failed") }

func TestMultiPublisher_AttemptsAll(t *testing.T) {
	a, b := &failingPublisher{}, &failingPublisher{}
	m := MultiPublisher{a, NopPublisher{}, b}

	err := m.PublishTurn(context.Background(), TurnSummary{Outcome: "PERSISTED"})
	require.Error(t, err)
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 1, b.calls)
	assert.Error(t, m.Close())

	assert.NoError(t, MultiPublisher{NopPublisher{}}.PublishTurn(context.Background(), TurnSummary{}))
}
