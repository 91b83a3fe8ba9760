package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Prober tracks whether the backend is reachable. The sync orchestrator
// consults Online() before kicking off revalidations or flushes; offline
// the engine serves local data only.
type Prober struct {
	endpoint string
	interval time.Duration
	timeout  time.Duration
	client   *http.Client
	logger   *zap.Logger

	mu        sync.RWMutex
	online    bool
	forced    bool
	lastCheck time.Time
}

// ProberConfig holds configuration for the reachability probe
type ProberConfig struct {
	Endpoint string
	Interval time.Duration
	Timeout  time.Duration
}

// NewProber creates a backend reachability prober. With no endpoint the
// prober reports offline until SetOnline is called.
func NewProber(cfg *ProberConfig, logger *zap.Logger) *Prober {
	return &Prober{
		endpoint: cfg.Endpoint,
		interval: cfg.Interval,
		timeout:  cfg.Timeout,
		client:   &http.Client{Timeout: cfg.Timeout},
		logger:   logger,
	}
}

// Online reports the last known reachability.
func (p *Prober) Online() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.online
}

// SetOnline forces the reachability flag, overriding probe results until
// the next call. Used by tests and by callers that already know the
// connectivity state (e.g. an OS network-change signal).
func (p *Prober) SetOnline(online bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.online = online
	p.forced = true
}

// Probe performs one reachability check and updates the flag.
func (p *Prober) Probe(ctx context.Context) bool {
	if p.endpoint == "" {
		p.record(false)
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint+"?action=ping", nil)
	if err != nil {
		p.record(false)
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Debug("Backend unreachable", zap.Error(err))
		p.record(false)
		return false
	}
	resp.Body.Close()

	ok := resp.StatusCode >= 200 && resp.StatusCode < 400
	p.record(ok)
	return ok
}

func (p *Prober) record(online bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.forced {
		return
	}
	if p.online != online {
		p.logger.Info("Connectivity changed", zap.Bool("online", online))
	}
	p.online = online
	p.lastCheck = time.Now()
}

// Start probes periodically until ctx is cancelled.
func (p *Prober) Start(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.Probe(ctx)

	for {
		select {
		case <-ticker.C:
			p.Probe(ctx)
		case <-ctx.Done():
			p.logger.Info("Connectivity prober stopped")
			return
		}
	}
}
