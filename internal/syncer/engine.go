// Package syncer drives the three reconciliation protocols of the engine:
// stale-while-revalidate reads, ordered queue flush, and full bootstrap
// sync. All cross-operation state (running flags, in-flight revalidations,
// observers) lives on the Engine instance; there are no package globals.
package syncer

import (
	"context"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/rentwing/rentwing/internal/bills"
	"github.com/rentwing/rentwing/internal/cache"
	"github.com/rentwing/rentwing/internal/health"
	"github.com/rentwing/rentwing/internal/ledger"
	"github.com/rentwing/rentwing/internal/metrics"
	"github.com/rentwing/rentwing/internal/queue"
	"github.com/rentwing/rentwing/internal/transport"
	"github.com/rentwing/rentwing/internal/validation"
	"go.uber.org/zap"
)

// Status is the sync state machine value.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusSyncing Status = "syncing"
	StatusSynced  Status = "synced"
	StatusPending Status = "pending"
)

// ObserverFunc is notified after an entity kind changed locally or was
// refreshed from the backend.
type ObserverFunc func(kind string, payload any)

// Options wires an Engine.
type Options struct {
	Cache        *cache.Store
	Queue        *queue.Queue
	Ledger       *ledger.Ledger
	Bills        *bills.Materializer
	Client       *transport.Client
	Prober       *health.Prober
	Metrics      *metrics.Metrics
	Logger       *zap.Logger
	ReadTTL      time.Duration
	ResponseTTL  time.Duration
	TaskTimeout  time.Duration
	FlushOnWrite bool
}

// Engine owns the sync state for one process.
type Engine struct {
	cache     *cache.Store
	queue     *queue.Queue
	ledger    *ledger.Ledger
	bills     *bills.Materializer
	client    *transport.Client
	prober    *health.Prober
	metrics   *metrics.Metrics
	logger    *zap.Logger
	validator *validation.Validator

	readTTL      time.Duration
	responseTTL  time.Duration
	taskTimeout  time.Duration
	flushOnWrite bool

	mu        sync.Mutex
	status    Status
	flushing  bool
	syncing   bool
	reval     map[string]bool
	observers []ObserverFunc

	// Tracks background revalidations so tests can wait for them.
	background sync.WaitGroup
}

// NewEngine creates a sync engine.
func NewEngine(opts Options) *Engine {
	readTTL := opts.ReadTTL
	if readTTL == 0 {
		readTTL = cache.ReadTTL
	}
	responseTTL := opts.ResponseTTL
	if responseTTL == 0 {
		responseTTL = cache.ResponseTTL
	}
	taskTimeout := opts.TaskTimeout
	if taskTimeout == 0 {
		taskTimeout = 30 * time.Second
	}
	return &Engine{
		cache:        opts.Cache,
		queue:        opts.Queue,
		ledger:       opts.Ledger,
		bills:        opts.Bills,
		client:       opts.Client,
		prober:       opts.Prober,
		metrics:      opts.Metrics,
		logger:       opts.Logger,
		validator:    validation.NewValidator(),
		readTTL:      readTTL,
		responseTTL:  responseTTL,
		taskTimeout:  taskTimeout,
		flushOnWrite: opts.FlushOnWrite,
		status:       StatusIdle,
		reval:        make(map[string]bool),
	}
}

// Status returns the current sync status.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

func (e *Engine) setStatus(s Status) {
	e.mu.Lock()
	e.status = s
	e.mu.Unlock()
}

// Online reports backend reachability; with no prober the engine assumes
// online whenever an endpoint is configured.
func (e *Engine) Online() bool {
	if e.prober != nil {
		return e.prober.Online()
	}
	return e.client != nil && e.client.Endpoint() != ""
}

// OnEntityChanged registers an observer for entity change notifications.
func (e *Engine) OnEntityChanged(fn ObserverFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observers = append(e.observers, fn)
}

func (e *Engine) notify(kind string, payload any) {
	e.mu.Lock()
	observers := make([]ObserverFunc, len(e.observers))
	copy(observers, e.observers)
	e.mu.Unlock()
	for _, fn := range observers {
		fn(kind, payload)
	}
}

// PendingJobs returns the number of queued writes.
func (e *Engine) PendingJobs(ctx context.Context) (int, error) {
	return e.queue.Count(ctx)
}

// WaitBackground blocks until in-flight background revalidations finish.
// Used by tests and by graceful shutdown.
func (e *Engine) WaitBackground() {
	e.background.Wait()
}

// cacheKey builds the envelope key for an action and its params.
func cacheKey(action string, params map[string]string) string {
	if len(params) == 0 {
		return action
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	q := url.Values{}
	for _, k := range keys {
		q.Set(k, params[k])
	}
	return action + "?" + q.Encode()
}

func (e *Engine) updateQueueDepth(n int) {
	if e.metrics != nil {
		e.metrics.QueueDepth.Set(float64(n))
	}
}
