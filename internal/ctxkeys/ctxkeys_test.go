package ctxkeys

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeys_RoundTrip(t *testing.T) {
	ctx := context.Background()
	ctx = WithRequestID(ctx, "req-1")
	ctx = WithSessionID(ctx, "s1")
	ctx = WithTurnID(ctx, "t1")
	ctx = WithUserID(ctx, "u1")

	v, ok := RequestID(ctx)
	assert.True(t, ok)
	assert.Equal(t, "req-1", v)
	v, _ = SessionID(ctx)
	assert.Equal(t, "s1", v)
	v, _ = TurnID(ctx)
	assert.Equal(t, "t1", v)
	v, _ = UserID(ctx)
	assert.Equal(t, "u1", v)
}

func TestKeys_MissingOrEmpty(t *testing.T) {
	_, ok := TraceID(context.Background())
	assert.False(t, ok)

	_, ok = SessionID(WithSessionID(context.Background(), ""))
	assert.False(t, ok)
}
