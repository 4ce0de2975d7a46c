package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// =============================================================================
// 🧪 Manager 测试
// =============================================================================

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *Manager) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	config := Config{
		Addr:       mr.Addr(),
		KeyPrefix:  "test:",
		DefaultTTL: 1 * time.Minute,
	}

	manager, err := NewManager(config, zap.NewNop())
	require.NoError(t, err)

	t.Cleanup(func() {
		manager.Close()
		mr.Close()
	})
	return mr, manager
}

func TestNewManager_ConnectFailure(t *testing.T) {
	_, err := NewManager(Config{Addr: "127.0.0.1:1"}, zap.NewNop())
	assert.Error(t, err)
}

func TestManager_Key(t *testing.T) {
	_, manager := setupTestRedis(t)
	assert.Equal(t, "test:session:abc", manager.Key("session", "abc"))
}

func TestManager_SetAndGet(t *testing.T) {
	mr, manager := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, manager.Set(ctx, "k", "v", 0))
	value, err := manager.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", value)

	// 默认 TTL 生效
	assert.Equal(t, time.Minute, mr.TTL("k"))
}

func TestManager_GetMiss(t *testing.T) {
	_, manager := setupTestRedis(t)

	_, err := manager.Get(context.Background(), "missing")
	assert.True(t, IsCacheMiss(err))
}

func TestManager_Bytes(t *testing.T) {
	_, manager := setupTestRedis(t)
	ctx := context.Background()

	audio := []byte{0x00, 0xff, 0x10, 0x00}
	require.NoError(t, manager.SetBytes(ctx, "audio", audio, time.Minute))

	got, err := manager.GetBytes(ctx, "audio")
	require.NoError(t, err)
	assert.Equal(t, audio, got)
}

func TestManager_JSON(t *testing.T) {
	_, manager := setupTestRedis(t)
	ctx := context.Background()

	type payload struct {
		Voice string `json:"voice"`
	}
	require.NoError(t, manager.SetJSON(ctx, "j", payload{Voice: "alloy"}, 0))

	var out payload
	require.NoError(t, manager.GetJSON(ctx, "j", &out))
	assert.Equal(t, "alloy", out.Voice)
}

func TestManager_ExpireAndTTL(t *testing.T) {
	mr, manager := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, manager.Set(ctx, "k", "v", time.Second))
	require.NoError(t, manager.Expire(ctx, "k", 10*time.Minute))
	assert.Equal(t, 10*time.Minute, mr.TTL("k"))

	d, err := manager.TTL(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, d)

	assert.ErrorIs(t, manager.Expire(ctx, "nope", time.Minute), ErrCacheMiss)
	_, err = manager.TTL(ctx, "nope")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestManager_DeleteExists(t *testing.T) {
	_, manager := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, manager.Set(ctx, "a", "1", 0))
	n, err := manager.Exists(ctx, "a", "b")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, manager.Delete(ctx, "a"))
	n, err = manager.Exists(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestManager_Closed(t *testing.T) {
	_, manager := setupTestRedis(t)
	require.NoError(t, manager.Close())
	require.NoError(t, manager.Close())

	_, err := manager.Get(context.Background(), "k")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, manager.Ping(context.Background()), ErrClosed)
}
