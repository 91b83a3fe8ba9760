// Package transport speaks the backend's request contract: GET for
// idempotent reads, POST for writes with the body encoded as
// `{action, payload}` in a single text/plain request (plain text avoids a
// CORS preflight against the spreadsheet backend).
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rentwing/rentwing/internal/errors"
	"github.com/rentwing/rentwing/internal/metrics"
	"go.uber.org/zap"
)

// Client performs request/response calls against the backend endpoint.
// Concurrent GETs for the same action+params share one round trip.
type Client struct {
	endpoint string
	httpc    *http.Client
	logger   *zap.Logger
	metrics  *metrics.Metrics

	mu       sync.Mutex
	inflight map[string]*inflightCall
}

type inflightCall struct {
	done   chan struct{}
	result map[string]any
	err    error
}

// NewClient creates a transport client. An empty endpoint is allowed; every
// call then fails with a missing-backend error, which the orchestrator maps
// to the pending status.
func NewClient(endpoint string, timeout time.Duration, m *metrics.Metrics, logger *zap.Logger) *Client {
	return &Client{
		endpoint: endpoint,
		httpc:    &http.Client{Timeout: timeout},
		logger:   logger,
		metrics:  m,
		inflight: make(map[string]*inflightCall),
	}
}

// Endpoint returns the configured backend URL, empty when unset.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Invoke performs one backend call and decodes the JSON object response.
// A non-2xx status or malformed JSON is a transport error.
func (c *Client) Invoke(ctx context.Context, action, method string, params map[string]string, payload any) (map[string]any, error) {
	if c.endpoint == "" {
		return nil, errors.MissingBackend()
	}

	if method == http.MethodGet {
		return c.getDeduped(ctx, action, params)
	}
	return c.post(ctx, action, payload)
}

// getDeduped coalesces concurrent GETs for the same action+params onto a
// single in-flight request.
func (c *Client) getDeduped(ctx context.Context, action string, params map[string]string) (map[string]any, error) {
	key := dedupKey(c.endpoint, action, params)

	c.mu.Lock()
	if call, ok := c.inflight[key]; ok {
		c.mu.Unlock()
		if c.metrics != nil {
			c.metrics.InflightDedupTotal.Inc()
		}
		select {
		case <-call.done:
			return call.result, call.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	call := &inflightCall{done: make(chan struct{})}
	c.inflight[key] = call
	c.mu.Unlock()

	call.result, call.err = c.get(ctx, action, params)

	c.mu.Lock()
	delete(c.inflight, key)
	c.mu.Unlock()
	close(call.done)

	return call.result, call.err
}

func dedupKey(endpoint, action string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(endpoint)
	b.WriteByte('|')
	b.WriteString(action)
	for _, k := range keys {
		b.WriteByte('|')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params[k])
	}
	return b.String()
}

func (c *Client) get(ctx context.Context, action string, params map[string]string) (map[string]any, error) {
	q := url.Values{"action": {action}}
	for k, v := range params {
		q.Set(k, v)
	}
	reqURL := c.endpoint + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, errors.Transport(action, err)
	}
	return c.roundTrip(req, action, http.MethodGet)
}

func (c *Client) post(ctx context.Context, action string, payload any) (map[string]any, error) {
	body, err := json.Marshal(map[string]any{
		"action":  action,
		"payload": payload,
	})
	if err != nil {
		return nil, errors.Transport(action, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Transport(action, err)
	}
	req.Header.Set("Content-Type", "text/plain")
	return c.roundTrip(req, action, http.MethodPost)
}

func (c *Client) roundTrip(req *http.Request, action, method string) (map[string]any, error) {
	start := time.Now()
	resp, err := c.httpc.Do(req)
	if c.metrics != nil {
		c.metrics.RequestDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		c.note(method, "error")
		return nil, errors.Transport(action, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.note(method, "http_error")
		return nil, errors.Transport(action, fmt.Errorf("status %d", resp.StatusCode))
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		c.note(method, "error")
		return nil, errors.Transport(action, err)
	}

	var result map[string]any
	if err := json.Unmarshal(raw, &result); err != nil {
		c.note(method, "bad_json")
		return nil, errors.Transport(action, err)
	}

	c.note(method, "ok")
	c.logger.Debug("Backend call completed",
		zap.String("action", action),
		zap.String("method", method),
		zap.Duration("elapsed", time.Since(start)))
	return result, nil
}

func (c *Client) note(method, outcome string) {
	if c.metrics != nil {
		c.metrics.RequestsTotal.WithLabelValues(method, outcome).Inc()
	}
}
