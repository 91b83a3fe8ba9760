// Package ledger is the optimistic mutation engine. Every write operation
// mutates the normalized local entity collections synchronously, before and
// independent of any remote call. Collections are persisted under fixed KV
// keys; all mutation goes through read-merge-write helpers that re-read the
// latest persisted value before merging.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rentwing/rentwing/internal/kv"
	"github.com/rentwing/rentwing/internal/model"
	"go.uber.org/zap"
)

// Ledger owns the normalized entity collections.
type Ledger struct {
	kv     *kv.Store
	logger *zap.Logger

	// Serializes read-modify-write cycles so interleaved writers cannot
	// overwrite each other's merges.
	mu sync.Mutex

	newID func(prefix string) string
}

// New creates a ledger over the given store.
func New(kvStore *kv.Store, logger *zap.Logger) *Ledger {
	return &Ledger{
		kv:     kvStore,
		logger: logger,
		newID:  MintID,
	}
}

// WithIDFunc overrides id minting, for deterministic tests.
func (l *Ledger) WithIDFunc(fn func(prefix string) string) *Ledger {
	l.newID = fn
	return l
}

// MintID returns a locally generated unique id prefixed by entity kind, so
// the UI can proceed before any remote id is known.
func MintID(prefix string) string {
	return prefix + "-" + uuid.NewString()
}

// Touched describes the scope a write affected, so derived views rebuild
// only what changed.
type Touched struct {
	Kind      string
	MonthKey  string
	TenancyID string
	Wing      string
}

// Collection loads the records stored under key. Errors and corrupt data are
// fail-open: the caller sees an empty collection.
func (l *Ledger) Collection(ctx context.Context, key string) []model.Record {
	raw, found, err := l.kv.Get(ctx, key)
	if err != nil {
		l.logger.Warn("Collection read failed", zap.String("key", key), zap.Error(err))
		return nil
	}
	if !found {
		return nil
	}
	var recs []model.Record
	if err := json.Unmarshal(raw, &recs); err != nil {
		l.logger.Warn("Corrupt collection, treating as empty",
			zap.String("key", key), zap.Error(err))
		return nil
	}
	for _, r := range recs {
		r.Canonicalize()
	}
	return recs
}

func (l *Ledger) putCollection(ctx context.Context, key string, recs []model.Record) error {
	if recs == nil {
		recs = []model.Record{}
	}
	raw, err := json.Marshal(recs)
	if err != nil {
		return fmt.Errorf("encode collection %q: %w", key, err)
	}
	return l.kv.Set(ctx, key, raw)
}

// ReplaceCollection stores recs wholesale under key. Used by full sync and
// the derived-view materializer.
func (l *Ledger) ReplaceCollection(ctx context.Context, key string, recs []model.Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.putCollection(ctx, key, recs)
}

// upsert merges rec into the collection under key, matching by the value of
// idKey. Replace-on-match via field merge, append otherwise. Returns the
// record id, minting one with idPrefix when missing.
func (l *Ledger) upsert(ctx context.Context, key, idKey, idPrefix string, rec model.Record) (string, error) {
	rec = rec.Clone().Canonicalize()
	id := rec.Str(idKey)
	if id == "" {
		id = l.newID(idPrefix)
		rec[idKey] = id
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	recs := l.Collection(ctx, key)
	replaced := false
	for i, existing := range recs {
		if existing.Str(idKey) == id {
			recs[i] = model.Merge(existing, rec)
			replaced = true
			break
		}
	}
	if !replaced {
		recs = append(recs, rec)
	}
	return id, l.putCollection(ctx, key, recs)
}

// upsertWhere merges rec into the collection under key, matching by a
// composite predicate instead of a single id field.
func (l *Ledger) upsertWhere(ctx context.Context, key string, match func(model.Record) bool, rec model.Record) error {
	rec = rec.Clone().Canonicalize()

	l.mu.Lock()
	defer l.mu.Unlock()

	recs := l.Collection(ctx, key)
	for i, existing := range recs {
		if match(existing) {
			recs[i] = model.Merge(existing, rec)
			return l.putCollection(ctx, key, recs)
		}
	}
	recs = append(recs, rec)
	return l.putCollection(ctx, key, recs)
}

// removeWhere drops every record matching the predicate.
func (l *Ledger) removeWhere(ctx context.Context, key string, match func(model.Record) bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	recs := l.Collection(ctx, key)
	kept := recs[:0]
	for _, r := range recs {
		if !match(r) {
			kept = append(kept, r)
		}
	}
	return l.putCollection(ctx, key, kept)
}

// ReplaceWings stores the wing name set wholesale. Used by full sync.
func (l *Ledger) ReplaceWings(ctx context.Context, wings []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.putWings(ctx, wings)
}

// Clear wipes every entity collection and rent revision. Used by full sync
// before a fresh bootstrap.
func (l *Ledger) Clear(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.kv.DeletePrefix(ctx, "entities/"); err != nil {
		return err
	}
	return l.kv.DeletePrefix(ctx, model.KeyRevisionsPrefix)
}
