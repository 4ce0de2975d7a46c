package session

import (
	"context"
	"testing"
	"time"

	"github.com/BaSui01/voiceflow/internal/cache"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newRedisStore(t *testing.T, ttl time.Duration) (*miniredis.Miniredis, *RedisStore) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	m, err := cache.NewManager(cache.Config{Addr: mr.Addr(), KeyPrefix: "vf:", DefaultTTL: time.Minute}, zap.NewNop())
	require.NoError(t, err)

	t.Cleanup(func() {
		m.Close()
		mr.Close()
	})
	return mr, NewRedisStore(m, ttl, zap.NewNop())
}

func TestRedisStore_PutGetTouch(t *testing.T) {
	mr, store := newRedisStore(t, 10*time.Minute)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, &Info{SessionID: "s1", CharacterID: "c1", VoiceID: "alloy", UserID: "u1"}))

	info, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "c1", info.CharacterID)
	assert.Equal(t, "alloy", info.VoiceID)
	assert.Equal(t, "u1", info.UserID)
	assert.False(t, info.CreatedAt.IsZero())

	mr.FastForward(9 * time.Minute)
	require.NoError(t, store.Touch(ctx, "s1"))
	assert.Equal(t, 10*time.Minute, mr.TTL("vf:session:s1"))
}

func TestRedisStore_Missing(t *testing.T) {
	mr, store := newRedisStore(t, time.Minute)
	ctx := context.Background()

	_, err := store.Get(ctx, "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, store.Touch(ctx, "ghost"), ErrNotFound)

	require.NoError(t, store.Put(ctx, &Info{SessionID: "s2"}))
	mr.FastForward(2 * time.Minute)
	_, err = store.Get(ctx, "s2")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_PutValidation(t *testing.T) {
	_, store := newRedisStore(t, time.Minute)
	assert.Error(t, store.Put(context.Background(), &Info{}))
	assert.Error(t, store.Put(context.Background(), nil))
}

func TestMemoryStore_Lifecycle(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, &Info{SessionID: "s1", VoiceID: "v"}))

	now = now.Add(50 * time.Second)
	require.NoError(t, store.Touch(ctx, "s1"))

	now = now.Add(50 * time.Second)
	info, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "v", info.VoiceID)

	// 返回副本
	info.VoiceID = "changed"
	again, _ := store.Get(ctx, "s1")
	assert.Equal(t, "v", again.VoiceID)

	now = now.Add(2 * time.Minute)
	_, err = store.Get(ctx, "s1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, store.Touch(ctx, "s1"), ErrNotFound)
}
