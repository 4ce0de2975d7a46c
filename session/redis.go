package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BaSui01/voiceflow/internal/cache"
	"go.uber.org/zap"
)

// RedisStore keeps sessions as JSON documents under "<prefix>session:<id>".
type RedisStore struct {
	cache  *cache.Manager
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisStore creates a store on top of a cache manager. A zero ttl uses the
// manager's default expiry.
func NewRedisStore(m *cache.Manager, ttl time.Duration, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{
		cache:  m,
		ttl:    ttl,
		logger: logger.With(zap.String("component", "session_store")),
	}
}

func (s *RedisStore) key(id string) string {
	return s.cache.Key("session", id)
}

// Get returns the session or ErrNotFound.
func (s *RedisStore) Get(ctx context.Context, sessionID string) (*Info, error) {
	var info Info
	if err := s.cache.GetJSON(ctx, s.key(sessionID), &info); err != nil {
		if cache.IsCacheMiss(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get session %s: %w", sessionID, err)
	}
	return &info, nil
}

// Touch slides the session expiry forward.
func (s *RedisStore) Touch(ctx context.Context, sessionID string) error {
	if err := s.cache.Expire(ctx, s.key(sessionID), s.ttl); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return ErrNotFound
		}
		return fmt.Errorf("touch session %s: %w", sessionID, err)
	}
	s.logger.Debug("session touched", zap.String("session_id", sessionID))
	return nil
}

// Put stores or replaces a session.
func (s *RedisStore) Put(ctx context.Context, info *Info) error {
	if info == nil || info.SessionID == "" {
		return fmt.Errorf("session id is required")
	}
	if info.CreatedAt.IsZero() {
		info.CreatedAt = time.Now()
	}
	if err := s.cache.SetJSON(ctx, s.key(info.SessionID), info, s.ttl); err != nil {
		return fmt.Errorf("put session %s: %w", info.SessionID, err)
	}
	return nil
}
