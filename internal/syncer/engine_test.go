package syncer_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rentwing/rentwing/internal/bills"
	"github.com/rentwing/rentwing/internal/cache"
	"github.com/rentwing/rentwing/internal/errors"
	"github.com/rentwing/rentwing/internal/kv"
	"github.com/rentwing/rentwing/internal/ledger"
	"github.com/rentwing/rentwing/internal/model"
	"github.com/rentwing/rentwing/internal/queue"
	"github.com/rentwing/rentwing/internal/syncer"
	"github.com/rentwing/rentwing/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// clock is an adjustable time source for cache freshness tests.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	engine *syncer.Engine
	cache  *cache.Store
	queue  *queue.Queue
	ledger *ledger.Ledger
	clock  *clock
}

// newFixture wires a complete engine against the given endpoint. An empty
// endpoint models the unconfigured, offline deployment.
func newFixture(t *testing.T, endpoint string, taskTimeout time.Duration) *fixture {
	t.Helper()
	store, err := kv.Open(filepath.Join(t.TempDir(), "engine.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	logger := zap.NewNop()
	ck := &clock{t: time.Now()}
	cacheStore := cache.NewStore(store, logger).WithClock(ck.Now)
	q := queue.New(store)
	led := ledger.New(store, logger)

	engine := syncer.NewEngine(syncer.Options{
		Cache:       cacheStore,
		Queue:       q,
		Ledger:      led,
		Bills:       bills.NewMaterializer(led, logger),
		Client:      transport.NewClient(endpoint, 2*time.Second, nil, logger),
		Logger:      logger,
		ReadTTL:     5 * time.Minute,
		TaskTimeout: taskTimeout,
	})
	t.Cleanup(engine.WaitBackground)

	return &fixture{engine: engine, cache: cacheStore, queue: q, ledger: led, clock: ck}
}

// jsonServer answers every request from the handler and counts hits.
func jsonServer(t *testing.T, handler func(action string, r *http.Request) (int, string)) (*httptest.Server, func() []string) {
	t.Helper()
	var mu sync.Mutex
	var actions []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		action := r.URL.Query().Get("action")
		if r.Method == http.MethodPost {
			body, _ := io.ReadAll(r.Body)
			var env struct {
				Action string `json:"action"`
			}
			json.Unmarshal(body, &env)
			action = env.Action
		}
		mu.Lock()
		actions = append(actions, action)
		mu.Unlock()

		status, body := handler(action, r)
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, func() []string {
		mu.Lock()
		defer mu.Unlock()
		out := make([]string, len(actions))
		copy(out, actions)
		return out
	}
}

func TestRead_FreshCacheSkipsNetwork(t *testing.T) {
	srv, seen := jsonServer(t, func(string, *http.Request) (int, string) {
		return http.StatusOK, `{"ok":true}`
	})
	f := newFixture(t, srv.URL, 0)
	ctx := context.Background()

	f.cache.Set(ctx, "getWings", []string{"A Wing"})

	result := f.engine.Read(ctx, "getWings", nil)
	assert.Equal(t, syncer.SourceFresh, result.Source)
	assert.Equal(t, []any{"A Wing"}, result.Value)
	assert.Empty(t, seen())
}

func TestRead_StaleServedThenRevalidatedOnce(t *testing.T) {
	srv, seen := jsonServer(t, func(string, *http.Request) (int, string) {
		return http.StatusOK, `{"wings":["A Wing","B Wing"]}`
	})
	f := newFixture(t, srv.URL, 0)
	ctx := context.Background()

	f.cache.Set(ctx, "getWings", map[string]any{"wings": []string{"A Wing"}})
	f.clock.Advance(10 * time.Minute)

	// The stale value is served immediately; the refresh happens behind it.
	result := f.engine.Read(ctx, "getWings", nil)
	assert.Equal(t, syncer.SourceStale, result.Source)

	f.engine.WaitBackground()
	assert.Equal(t, []string{"getWings"}, seen())

	// The refreshed envelope is fresh again and carries the new value in
	// the same shape a local rebuild would produce.
	result = f.engine.Read(ctx, "getWings", nil)
	assert.Equal(t, syncer.SourceFresh, result.Source)
	assert.Equal(t, []any{"A Wing", "B Wing"}, result.Value)
	assert.Len(t, seen(), 1)
}

func TestRead_OfflineMissReconstructsFromEntities(t *testing.T) {
	f := newFixture(t, "", 0)
	ctx := context.Background()

	_, _, err := f.ledger.SaveUnit(ctx, model.Record{"unitId": "u1", "wing": "A Wing", "unitNumber": "101"})
	require.NoError(t, err)

	result := f.engine.Read(ctx, "getUnitConfigs", nil)
	assert.Equal(t, syncer.SourceLocal, result.Source)

	// The reconstruction is cached; the next read is a fresh hit.
	result = f.engine.Read(ctx, "getUnitConfigs", nil)
	assert.Equal(t, syncer.SourceFresh, result.Source)
}

func TestRead_RevisionsWithoutTenancySpanAllTenancies(t *testing.T) {
	f := newFixture(t, "", 0)
	ctx := context.Background()

	for _, rev := range []model.Record{
		{"tenancyId": "t1", "effectiveMonth": "2024-03", "newRent": 4000.0},
		{"tenancyId": "t2", "effectiveMonth": "2024-04", "newRent": 6000.0},
	} {
		_, _, err := f.ledger.SaveRentRevision(ctx, rev)
		require.NoError(t, err)
	}

	result := f.engine.Read(ctx, "getRentRevisions", nil)
	assert.Equal(t, syncer.SourceLocal, result.Source)
	records, ok := result.Value.([]model.Record)
	require.True(t, ok)
	assert.Len(t, records, 2)

	// An unknown tenancy filter never borrows another tenancy's revisions.
	miss := f.engine.Read(ctx, "getRentRevisions", map[string]string{"tenancyId": "t3"})
	assert.Equal(t, syncer.SourceEmpty, miss.Source)
}

func TestRead_OfflineColdReadIsExplicitEmpty(t *testing.T) {
	f := newFixture(t, "", 0)

	result := f.engine.Read(context.Background(), "getWings", nil)
	assert.Equal(t, syncer.SourceEmpty, result.Source)
	assert.Equal(t, []any{}, result.Value)

	record := f.engine.Read(context.Background(), "getBillingRecord",
		map[string]string{"monthKey": "2024-03", "wing": "A Wing"})
	assert.Equal(t, syncer.SourceEmpty, record.Source)
}

func TestRead_ColdOnlineReadFetchesRemote(t *testing.T) {
	srv, seen := jsonServer(t, func(string, *http.Request) (int, string) {
		return http.StatusOK, `{"items":[{"unit_id":"u1","wing":"A Wing"}]}`
	})
	f := newFixture(t, srv.URL, 0)
	ctx := context.Background()

	// The remote list shape is unwrapped and canonicalized, so callers see
	// the same record slice a local rebuild would return.
	result := f.engine.Read(ctx, "getUnitConfigs", nil)
	assert.Equal(t, syncer.SourceRemote, result.Source)
	records, ok := result.Value.([]model.Record)
	require.True(t, ok)
	require.Len(t, records, 1)
	assert.Equal(t, "u1", records[0].Str("unitId"))
	require.Len(t, seen(), 1)

	result = f.engine.Read(ctx, "getUnitConfigs", nil)
	assert.Equal(t, syncer.SourceFresh, result.Source)
	assert.Len(t, seen(), 1)
}

func TestRead_GenericResponseExpiresBeforeEntityReads(t *testing.T) {
	f := newFixture(t, "", 0)
	ctx := context.Background()

	f.cache.Set(ctx, "getBackendVersion", map[string]any{"version": "7"})
	f.cache.Set(ctx, "getWings", []string{"A Wing"})

	// Inside both windows, both envelopes are fresh.
	f.clock.Advance(time.Minute)
	assert.Equal(t, syncer.SourceFresh, f.engine.Read(ctx, "getBackendVersion", nil).Source)
	assert.Equal(t, syncer.SourceFresh, f.engine.Read(ctx, "getWings", nil).Source)

	// Past the response window but inside the entity window, only the
	// generic response has gone stale.
	f.clock.Advance(2 * time.Minute)
	assert.Equal(t, syncer.SourceStale, f.engine.Read(ctx, "getBackendVersion", nil).Source)
	assert.Equal(t, syncer.SourceFresh, f.engine.Read(ctx, "getWings", nil).Source)

	f.clock.Advance(3 * time.Minute)
	assert.Equal(t, syncer.SourceStale, f.engine.Read(ctx, "getWings", nil).Source)
}

func TestWrite_ValidationFailureIsSynchronous(t *testing.T) {
	f := newFixture(t, "", 0)
	ctx := context.Background()

	result := f.engine.SaveUnitConfig(ctx, model.Record{"unitNumber": "101"})
	assert.False(t, result.OK)
	assert.NotEmpty(t, result.Error)

	n, err := f.queue.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, f.ledger.Units(ctx))
}

func TestWrite_OfflineWriteThenReadIsConsistent(t *testing.T) {
	f := newFixture(t, "", 0)
	ctx := context.Background()

	// An earlier read left a cached response that predates the write.
	f.cache.Set(ctx, "getUnitConfigs", []any{})

	result := f.engine.SaveUnitConfig(ctx, model.Record{"wing": "A Wing", "unitNumber": "101"})
	assert.True(t, result.OK)
	assert.True(t, result.Queued)
	assert.NotEmpty(t, result.ID)
	assert.Equal(t, syncer.StatusPending, f.engine.Status())

	read := f.engine.Read(ctx, "getUnitConfigs", nil)
	assert.Equal(t, syncer.SourceLocal, read.Source)
	units, ok := read.Value.([]model.Record)
	require.True(t, ok)
	require.Len(t, units, 1)
	assert.Equal(t, result.ID, units[0].Str("unitId"))

	n, err := f.queue.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestWrite_PaymentMarksBillPaid(t *testing.T) {
	f := newFixture(t, "", 0)
	ctx := context.Background()

	_, _, err := f.ledger.SaveUnit(ctx, model.Record{"unitId": "u1", "wing": "A Wing", "unitNumber": "101"})
	require.NoError(t, err)
	_, _, err = f.ledger.SaveTenant(ctx, model.Record{
		"tenancyId": "t1", "tenantFullName": "Asha", "unitId": "u1", "rentAmount": 1000.0,
	})
	require.NoError(t, err)

	result := f.engine.SaveBillingRecord(ctx, model.Record{
		"monthKey": "2024-03",
		"wing":     "A Wing",
		"readings": []any{map[string]any{"tenancyId": "t1"}},
	})
	require.True(t, result.OK)

	result = f.engine.SavePayment(ctx, model.Record{
		"tenancyId":  "t1",
		"billLineId": bills.BillLineID("2024-03", "t1"),
		"amount":     1000.0,
	})
	require.True(t, result.OK)

	lines := f.ledger.BillLines(ctx)
	require.Len(t, lines, 1)
	assert.True(t, lines[0].Bool("isPaid"))
	assert.Equal(t, 1000.0, lines[0].Num("amountPaid"))
}

func TestWrite_NotifiesObservers(t *testing.T) {
	f := newFixture(t, "", 0)

	var mu sync.Mutex
	var kinds []string
	f.engine.OnEntityChanged(func(kind string, payload any) {
		mu.Lock()
		kinds = append(kinds, kind)
		mu.Unlock()
	})

	f.engine.SaveLandlord(context.Background(), model.Record{"name": "R. Mehta"})

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, kinds, "landlord")
}

func TestFlush_FIFOStopsAtFirstFailure(t *testing.T) {
	var mu sync.Mutex
	failing := true
	srv, seen := jsonServer(t, func(action string, _ *http.Request) (int, string) {
		mu.Lock()
		shouldFail := failing && action == "saveLandlord"
		mu.Unlock()
		if shouldFail {
			return http.StatusInternalServerError, `{"ok":false}`
		}
		return http.StatusOK, `{"ok":true}`
	})
	f := newFixture(t, srv.URL, 0)
	ctx := context.Background()

	for _, action := range []string{"saveUnitConfig", "saveLandlord", "savePayment"} {
		_, err := f.queue.Enqueue(ctx, model.QueueJob{
			Action: action, Method: http.MethodPost, Payload: model.Record{"k": "v"},
		})
		require.NoError(t, err)
	}

	outcome := f.engine.Flush(ctx)
	assert.Equal(t, syncer.StatusPending, outcome.Status)
	assert.Equal(t, 1, outcome.Delivered)
	assert.Equal(t, 2, outcome.Remaining)
	require.Error(t, outcome.Err)

	// The failed job blocks everything behind it.
	assert.Equal(t, []string{"saveUnitConfig", "saveLandlord"}, seen())

	jobs, err := f.queue.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "saveLandlord", jobs[0].Action)
	assert.Equal(t, "savePayment", jobs[1].Action)

	// Once the backend recovers, the next flush drains in order.
	mu.Lock()
	failing = false
	mu.Unlock()

	outcome = f.engine.Flush(ctx)
	assert.Equal(t, syncer.StatusSynced, outcome.Status)
	assert.Equal(t, 2, outcome.Delivered)
	assert.Zero(t, outcome.Remaining)
	assert.NoError(t, outcome.Err)
	assert.Equal(t, syncer.StatusSynced, f.engine.Status())
}

func TestFlush_MissingEndpointStaysPending(t *testing.T) {
	f := newFixture(t, "", 0)
	ctx := context.Background()

	_, err := f.queue.Enqueue(ctx, model.QueueJob{Action: "addWing", Method: http.MethodPost})
	require.NoError(t, err)

	outcome := f.engine.Flush(ctx)
	assert.Equal(t, syncer.StatusPending, outcome.Status)
	assert.Equal(t, 1, outcome.Remaining)
	assert.Equal(t, errors.ErrCodeMissingBackend, errors.CodeOf(outcome.Err))
}

func TestFlush_SingleFlight(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	srv, _ := jsonServer(t, func(string, *http.Request) (int, string) {
		close(entered)
		<-release
		return http.StatusOK, `{"ok":true}`
	})
	f := newFixture(t, srv.URL, 0)
	ctx := context.Background()

	_, err := f.queue.Enqueue(ctx, model.QueueJob{Action: "addWing", Method: http.MethodPost})
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		f.engine.Flush(ctx)
	}()

	<-entered
	outcome := f.engine.Flush(ctx)
	assert.Equal(t, errors.ErrCodeAlreadyRunning, errors.CodeOf(outcome.Err))

	close(release)
	wg.Wait()
}

func TestFullSync_BulkExportShortCircuits(t *testing.T) {
	srv, seen := jsonServer(t, func(action string, _ *http.Request) (int, string) {
		assert.Equal(t, "exportAll", action)
		return http.StatusOK, `{
			"wings": ["A Wing"],
			"units": [{"unit_id":"u1","wing":"A Wing"}],
			"tenants": [{"tenancy_id":"t1","tenant_full_name":"Asha"}],
			"rentRevisions": [{"tenancyId":"t1","effectiveMonth":"2024-01","rentAmount":4000}]
		}`
	})
	f := newFixture(t, srv.URL, 0)
	ctx := context.Background()

	var labels []string
	report := f.engine.FullSync(ctx, func(completed, total int, label string) {
		labels = append(labels, label)
	})

	assert.True(t, report.OK)
	assert.Equal(t, report.Total, report.Completed)
	assert.False(t, report.Incomplete)
	assert.Equal(t, syncer.StatusSynced, report.Status)

	// The per-entity fallback tasks never hit the network.
	assert.Equal(t, []string{"exportAll"}, seen())

	assert.Equal(t, []string{"A Wing"}, f.ledger.Wings(ctx))
	units := f.ledger.Units(ctx)
	require.Len(t, units, 1)
	assert.Equal(t, "u1", units[0].Str("unitId"))
	require.Len(t, f.ledger.RentRevisions(ctx, "t1"), 1)
	assert.NotEmpty(t, labels)
}

func TestFullSync_FallsBackToPerEntityFetches(t *testing.T) {
	srv, seen := jsonServer(t, func(action string, _ *http.Request) (int, string) {
		switch action {
		case "exportAll":
			return http.StatusInternalServerError, `{"ok":false}`
		case "getWings":
			return http.StatusOK, `{"wings":["A Wing","B Wing"]}`
		default:
			return http.StatusOK, `{"items":[{"id":"x1"}]}`
		}
	})
	f := newFixture(t, srv.URL, 0)
	ctx := context.Background()

	report := f.engine.FullSync(ctx, nil)

	assert.False(t, report.OK)
	assert.True(t, report.Incomplete)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, report.Total-1, report.Completed)
	assert.Equal(t, syncer.StatusPending, report.Status)

	actions := seen()
	assert.Equal(t, "exportAll", actions[0])
	assert.Contains(t, actions, "getWings")
	assert.Contains(t, actions, "getUnitConfigs")
	assert.Equal(t, []string{"A Wing", "B Wing"}, f.ledger.Wings(ctx))
}

func TestFullSync_DiscardsPendingWritesAndCache(t *testing.T) {
	f := newFixture(t, "", 0)
	ctx := context.Background()

	_, err := f.queue.Enqueue(ctx, model.QueueJob{Action: "addWing", Method: http.MethodPost})
	require.NoError(t, err)
	f.cache.Set(ctx, "getWings", []string{"stale"})

	report := f.engine.SyncWithTasks(ctx, nil, nil)
	assert.True(t, report.OK)

	n, err := f.queue.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Nil(t, f.cache.Get(ctx, "getWings"))
}

func TestSyncWithTasks_TaskTimeoutIsIsolated(t *testing.T) {
	f := newFixture(t, "", 50*time.Millisecond)
	ctx := context.Background()

	var ran []string
	var mu sync.Mutex
	mark := func(label string) {
		mu.Lock()
		ran = append(ran, label)
		mu.Unlock()
	}

	tasks := []syncer.Task{
		{Label: "first", Run: func(ctx context.Context) error { mark("first"); return nil }},
		{Label: "slow", Run: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}},
		{Label: "third", Run: func(ctx context.Context) error { mark("third"); return nil }},
	}

	report := f.engine.SyncWithTasks(ctx, tasks, nil)

	assert.False(t, report.OK)
	assert.True(t, report.Incomplete)
	assert.Equal(t, 2, report.Completed)
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0], "slow")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"first", "third"}, ran)
}

func TestSyncWithTasks_SingleFlight(t *testing.T) {
	f := newFixture(t, "", 0)
	ctx := context.Background()

	entered := make(chan struct{})
	release := make(chan struct{})
	tasks := []syncer.Task{{Label: "blocking", Run: func(ctx context.Context) error {
		close(entered)
		<-release
		return nil
	}}}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		f.engine.SyncWithTasks(ctx, tasks, nil)
	}()

	<-entered
	report := f.engine.SyncWithTasks(ctx, nil, nil)
	assert.False(t, report.OK)
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0], "already running")

	close(release)
	wg.Wait()
	assert.Equal(t, syncer.StatusSynced, f.engine.Status())
}

func TestCacheKey_ParamsAreOrderIndependent(t *testing.T) {
	f := newFixture(t, "", 0)
	ctx := context.Background()

	f.cache.Set(ctx, "getBillingRecord?monthKey=2024-03&wing=A+Wing", map[string]any{"hasConfig": true})

	result := f.engine.Read(ctx, "getBillingRecord",
		map[string]string{"wing": "A Wing", "monthKey": "2024-03"})
	assert.Equal(t, syncer.SourceFresh, result.Source)
}
