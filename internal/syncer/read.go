package syncer

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Source tags where a read result came from.
type Source string

const (
	SourceFresh  Source = "fresh"
	SourceStale  Source = "stale"
	SourceLocal  Source = "local"
	SourceRemote Source = "remote"
	SourceEmpty  Source = "empty"
)

// ReadResult is what every read returns. Reads never fail: the worst case
// is an explicit empty value tagged SourceEmpty.
type ReadResult struct {
	Value  any    `json:"value"`
	Source Source `json:"source"`
}

// entityReadActions are the list reads backed by local collections; their
// envelopes stay fresh for the longer read TTL. Any other cached backend
// response expires on the short response TTL.
var entityReadActions = map[string]bool{
	"getWings":           true,
	"getUnitConfigs":     true,
	"getLandlords":       true,
	"getTenantDirectory": true,
	"getClauses":         true,
	"getPayments":        true,
	"getRentRevisions":   true,
	"getGeneratedBills":  true,
	"getBillingRecord":   true,
}

func (e *Engine) ttlFor(action string) time.Duration {
	if entityReadActions[action] {
		return e.readTTL
	}
	return e.responseTTL
}

// Read serves a read request with stale-while-revalidate semantics:
// fresh cache wins; a stale envelope is served immediately and refreshed in
// the background when online; with no envelope the derived view is
// reconstructed locally; a synchronous fetch is the last resort, and its
// failure degrades to the best available fallback.
func (e *Engine) Read(ctx context.Context, action string, params map[string]string) ReadResult {
	key := cacheKey(action, params)

	if env := e.cache.Get(ctx, key); env != nil {
		var value any
		if err := json.Unmarshal(env.Value, &value); err == nil {
			if e.cache.IsFresh(env, e.ttlFor(action)) {
				if e.metrics != nil {
					e.metrics.CacheHitsTotal.Inc()
				}
				return ReadResult{Value: value, Source: SourceFresh}
			}
			if e.metrics != nil {
				e.metrics.CacheStaleHitsTotal.Inc()
			}
			if e.Online() {
				e.revalidate(action, params, key)
			}
			return ReadResult{Value: value, Source: SourceStale}
		}
		// Corrupt envelope value: fall through as a miss.
	}

	if e.metrics != nil {
		e.metrics.CacheMissesTotal.Inc()
	}

	if value, ok := e.reconstruct(ctx, action, params); ok {
		if e.metrics != nil {
			e.metrics.LocalRebuildsTotal.Inc()
		}
		e.cache.Set(ctx, key, value)
		return ReadResult{Value: value, Source: SourceLocal}
	}

	if e.Online() {
		result, err := e.client.Invoke(ctx, action, http.MethodGet, params, nil)
		if err == nil {
			value := normalizeRemote(action, result)
			e.cache.Set(ctx, key, value)
			return ReadResult{Value: value, Source: SourceRemote}
		}
		e.logger.Warn("Read fetch failed, degrading",
			zap.String("action", action), zap.Error(err))
		if e.metrics != nil {
			e.metrics.ReadFallbacksTotal.Inc()
		}
	}

	if value, ok := e.reconstructEmpty(action); ok {
		return ReadResult{Value: value, Source: SourceEmpty}
	}
	return ReadResult{Value: map[string]any{}, Source: SourceEmpty}
}

// revalidate refreshes a stale envelope in the background. At most one
// revalidation per key is in flight; the caller of the original read is
// never awaited on it.
func (e *Engine) revalidate(action string, params map[string]string, key string) {
	e.mu.Lock()
	if e.reval[key] {
		e.mu.Unlock()
		return
	}
	e.reval[key] = true
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.RevalidationsTotal.Inc()
	}

	e.background.Add(1)
	go func() {
		defer e.background.Done()
		defer func() {
			e.mu.Lock()
			delete(e.reval, key)
			e.mu.Unlock()
		}()

		ctx, cancel := context.WithTimeout(context.Background(), e.taskTimeout)
		defer cancel()

		result, err := e.client.Invoke(ctx, action, http.MethodGet, params, nil)
		if err != nil {
			e.logger.Debug("Background revalidation failed",
				zap.String("action", action), zap.Error(err))
			return
		}
		value := normalizeRemote(action, result)
		e.cache.Set(ctx, key, value)
		e.notify(action, value)
	}()
}

// reconstruct rebuilds a read result from normalized local entities when
// possible. It reports false when no local data exists for the action, so
// a genuinely cold read can still reach the network.
func (e *Engine) reconstruct(ctx context.Context, action string, params map[string]string) (any, bool) {
	switch action {
	case "getWings":
		if wings := e.ledger.Wings(ctx); len(wings) > 0 {
			return wings, true
		}
	case "getUnitConfigs":
		if units := e.ledger.Units(ctx); len(units) > 0 {
			return units, true
		}
	case "getLandlords":
		if landlords := e.ledger.Landlords(ctx); len(landlords) > 0 {
			return landlords, true
		}
	case "getTenantDirectory":
		if tenants := e.ledger.Tenants(ctx); len(tenants) > 0 {
			return tenants, true
		}
	case "getClauses":
		if clauses := e.ledger.Clauses(ctx); len(clauses) > 0 {
			return clauses, true
		}
	case "getPayments":
		if payments := e.ledger.Payments(ctx); len(payments) > 0 {
			return payments, true
		}
	case "getRentRevisions":
		if id := params["tenancyId"]; id != "" {
			if revs := e.ledger.RentRevisions(ctx, id); len(revs) > 0 {
				return revs, true
			}
			return nil, false
		}
		if revs := e.ledger.AllRentRevisions(ctx); len(revs) > 0 {
			return revs, true
		}
	case "getGeneratedBills":
		month := params["monthKey"]
		if month == "" {
			return nil, false
		}
		generated, err := e.bills.GenerateBills(ctx, month)
		if err != nil {
			e.logger.Warn("Bill reconstruction failed",
				zap.String("monthKey", month), zap.Error(err))
			return nil, false
		}
		if len(generated) > 0 {
			return generated, true
		}
	case "getBillingRecord":
		month, wing := params["monthKey"], params["wing"]
		if month == "" || wing == "" {
			return nil, false
		}
		view, err := e.bills.BillingRecord(ctx, month, wing)
		if err != nil {
			return nil, false
		}
		if view.HasConfig || view.HasReadings || len(view.Rows) > 0 {
			return view, true
		}
	}
	return nil, false
}

// normalizeRemote reshapes a fetched read response into the same value a
// local reconstruction would produce, so callers see one shape per action
// regardless of source. Unknown actions and unrecognized shapes pass
// through unchanged.
func normalizeRemote(action string, result map[string]any) any {
	switch action {
	case "getWings":
		if wings := stringsFrom(result, "wings", "items"); wings != nil {
			return wings
		}
	case "getUnitConfigs", "getLandlords", "getTenantDirectory",
		"getClauses", "getPayments", "getRentRevisions", "getGeneratedBills":
		if recs := recordsFrom(result, "items", "rows", "data"); recs != nil {
			return recs
		}
	}
	return result
}

// reconstructEmpty supplies the explicit empty value for an action whose
// shape the caller depends on.
func (e *Engine) reconstructEmpty(action string) (any, bool) {
	switch action {
	case "getWings", "getUnitConfigs", "getLandlords", "getTenantDirectory",
		"getClauses", "getPayments", "getRentRevisions", "getGeneratedBills":
		return []any{}, true
	case "getBillingRecord":
		return map[string]any{"hasConfig": false, "hasReadings": false, "rows": []any{}}, true
	}
	return nil, false
}
