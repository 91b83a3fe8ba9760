// Package cache wraps the KV store with freshness-tracked envelopes.
// A stale entry is still served; staleness only decides whether a
// background revalidation is due.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rentwing/rentwing/internal/kv"
	"github.com/rentwing/rentwing/internal/model"
	"go.uber.org/zap"
)

// Default freshness windows.
const (
	ReadTTL     = 5 * time.Minute
	ResponseTTL = 2 * time.Minute
)

// Envelope is a cached value plus the epoch-millisecond timestamp it was
// cached at.
type Envelope struct {
	Value     json.RawMessage `json:"value"`
	UpdatedAt int64           `json:"updatedAt"`
}

// Store persists envelopes under a dedicated key prefix in the KV store.
// Corrupt or unreadable entries are treated as absent, never as errors.
type Store struct {
	kv     *kv.Store
	logger *zap.Logger
	now    func() time.Time
}

// NewStore creates an envelope store over the given KV store.
func NewStore(kvStore *kv.Store, logger *zap.Logger) *Store {
	return &Store{kv: kvStore, logger: logger, now: time.Now}
}

// WithClock overrides the time source, for tests.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Get returns the envelope stored under key, or nil on miss or corrupt
// entry (fail-open).
func (s *Store) Get(ctx context.Context, key string) *Envelope {
	raw, found, err := s.kv.Get(ctx, model.KeyCachePrefix+key)
	if err != nil {
		s.logger.Warn("Cache read failed, treating as miss",
			zap.String("key", key), zap.Error(err))
		return nil
	}
	if !found {
		return nil
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		s.logger.Warn("Corrupt cache entry, treating as miss",
			zap.String("key", key), zap.Error(err))
		return nil
	}
	return &env
}

// Set stores value in a fresh envelope under key. Storage failures are
// logged and swallowed; caching is best-effort.
func (s *Store) Set(ctx context.Context, key string, value any) {
	raw, err := json.Marshal(value)
	if err != nil {
		s.logger.Warn("Cache value not serializable", zap.String("key", key), zap.Error(err))
		return
	}
	env := Envelope{Value: raw, UpdatedAt: s.now().UnixMilli()}
	data, err := json.Marshal(env)
	if err != nil {
		s.logger.Warn("Cache envelope not serializable", zap.String("key", key), zap.Error(err))
		return
	}
	if err := s.kv.Set(ctx, model.KeyCachePrefix+key, data); err != nil {
		s.logger.Warn("Cache write failed", zap.String("key", key), zap.Error(err))
	}
}

// Delete removes the envelope under key.
func (s *Store) Delete(ctx context.Context, key string) {
	if err := s.kv.Delete(ctx, model.KeyCachePrefix+key); err != nil {
		s.logger.Warn("Cache delete failed", zap.String("key", key), zap.Error(err))
	}
}

// DeletePrefix removes every envelope whose key starts with prefix.
func (s *Store) DeletePrefix(ctx context.Context, prefix string) {
	if err := s.kv.DeletePrefix(ctx, model.KeyCachePrefix+prefix); err != nil {
		s.logger.Warn("Cache prefix delete failed", zap.String("prefix", prefix), zap.Error(err))
	}
}

// Clear removes every envelope.
func (s *Store) Clear(ctx context.Context) {
	if err := s.kv.DeletePrefix(ctx, model.KeyCachePrefix); err != nil {
		s.logger.Warn("Cache clear failed", zap.Error(err))
	}
}

// IsFresh reports whether env was written within ttl. A nil envelope and a
// zero UpdatedAt are both stale.
func (s *Store) IsFresh(env *Envelope, ttl time.Duration) bool {
	if env == nil || env.UpdatedAt == 0 {
		return false
	}
	age := s.now().UnixMilli() - env.UpdatedAt
	return age >= 0 && time.Duration(age)*time.Millisecond < ttl
}
