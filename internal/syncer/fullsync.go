package syncer

import (
	"context"
	"net/http"
	"time"

	"github.com/rentwing/rentwing/internal/errors"
	"github.com/rentwing/rentwing/internal/model"
	"go.uber.org/zap"
)

// Task is one unit of the full-sync plan, with an independent timeout and
// independent failure handling.
type Task struct {
	Label string
	Run   func(ctx context.Context) error
}

// Progress reports completed/total tasks with a human label.
type Progress func(completed, total int, label string)

// SyncReport is the result of a full sync.
type SyncReport struct {
	OK         bool     `json:"ok"`
	Completed  int      `json:"completed"`
	Total      int      `json:"total"`
	Errors     []string `json:"errors"`
	Status     Status   `json:"status"`
	Incomplete bool     `json:"incomplete"`
}

// FullSync bootstraps the local store from the backend. The cache and the
// write queue are cleared first: a freshly configured backend URL is the
// new authoritative source, so pending unsynced writes are discarded by
// design of the product, not merged.
func (e *Engine) FullSync(ctx context.Context, progress Progress) SyncReport {
	return e.SyncWithTasks(ctx, e.bootstrapTasks(), progress)
}

// SyncWithTasks runs an explicit task plan with full-sync semantics.
// Single-flight with respect to other full syncs.
func (e *Engine) SyncWithTasks(ctx context.Context, tasks []Task, progress Progress) SyncReport {
	e.mu.Lock()
	if e.syncing {
		e.mu.Unlock()
		return SyncReport{OK: false, Errors: []string{errors.AlreadyRunning("sync").Error()}, Status: StatusSyncing}
	}
	e.syncing = true
	e.status = StatusSyncing
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.syncing = false
		e.mu.Unlock()
	}()

	start := time.Now()

	if discarded, err := e.queue.Count(ctx); err == nil && discarded > 0 {
		e.logger.Warn("Discarding pending queued writes for fresh bootstrap",
			zap.Int("discarded", discarded))
	}
	if err := e.queue.Clear(ctx); err != nil {
		e.logger.Error("Queue clear failed", zap.Error(err))
	}
	e.updateQueueDepth(0)
	e.cache.Clear(ctx)

	report := SyncReport{Total: len(tasks)}
	for i, task := range tasks {
		if progress != nil {
			progress(i, len(tasks), task.Label)
		}
		if e.metrics != nil {
			e.metrics.SyncTasksTotal.Inc()
		}
		if err := e.runTask(ctx, task); err != nil {
			report.Errors = append(report.Errors, task.Label+": "+err.Error())
			if e.metrics != nil {
				e.metrics.SyncTaskErrorsTotal.Inc()
			}
			e.logger.Warn("Sync task failed",
				zap.String("task", task.Label), zap.Error(err))
			continue
		}
		report.Completed++
		// The bulk export covers everything; per-entity tasks exist only
		// as its fallback path.
		if i == 0 && task.Label == taskLabelExportAll {
			report.Completed = len(tasks)
			break
		}
	}
	if progress != nil {
		progress(report.Completed, len(tasks), "")
	}

	if e.metrics != nil {
		e.metrics.SyncDuration.Observe(time.Since(start).Seconds())
	}

	report.OK = len(report.Errors) == 0
	if report.OK {
		report.Status = StatusSynced
	} else {
		report.Status = StatusPending
		report.Incomplete = true
	}
	e.setStatus(report.Status)
	e.notify("sync", report)
	return report
}

// runTask races the task against its timeout budget. The underlying
// request is not cancelled beyond the context deadline; the task is simply
// recorded as timed out.
func (e *Engine) runTask(ctx context.Context, task Task) error {
	tctx, cancel := context.WithTimeout(ctx, e.taskTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- task.Run(tctx) }()

	select {
	case err := <-done:
		return err
	case <-tctx.Done():
		return errors.Timeout(task.Label)
	}
}

const taskLabelExportAll = "Export everything"

// bootstrapTasks is the default full-sync plan: one bulk export, then
// per-entity fetches used only if the bulk call fails.
func (e *Engine) bootstrapTasks() []Task {
	fetchInto := func(action, key string) Task {
		label := "Fetch " + action
		return Task{Label: label, Run: func(ctx context.Context) error {
			resp, err := e.client.Invoke(ctx, action, http.MethodGet, nil, nil)
			if err != nil {
				return err
			}
			recs := recordsFrom(resp, "items", "rows", "data")
			if err := e.ledger.ReplaceCollection(ctx, key, recs); err != nil {
				return err
			}
			e.notify(action, recs)
			return nil
		}}
	}

	fetchWings := Task{Label: "Fetch getWings", Run: func(ctx context.Context) error {
		resp, err := e.client.Invoke(ctx, "getWings", http.MethodGet, nil, nil)
		if err != nil {
			return err
		}
		wings := stringsFrom(resp, "wings", "items")
		if err := e.ledger.ReplaceWings(ctx, wings); err != nil {
			return err
		}
		e.notify("getWings", wings)
		return nil
	}}

	return []Task{
		{Label: taskLabelExportAll, Run: e.applyExportAll},
		fetchWings,
		fetchInto("getUnitConfigs", model.KeyUnits),
		fetchInto("getLandlords", model.KeyLandlords),
		fetchInto("getTenantDirectory", model.KeyTenants),
		fetchInto("getClauses", model.KeyClauses),
	}
}

// applyExportAll performs the bulk export call and replaces every local
// collection from its response.
func (e *Engine) applyExportAll(ctx context.Context) error {
	resp, err := e.client.Invoke(ctx, "exportAll", http.MethodGet, nil, nil)
	if err != nil {
		return err
	}

	collections := map[string][]string{
		model.KeyUnits:       {"units"},
		model.KeyLandlords:   {"landlords"},
		model.KeyTenants:     {"tenants", "tenantDirectory"},
		model.KeyTenancies:   {"tenancies"},
		model.KeyFamily:      {"family", "familyMembers"},
		model.KeyWingConfigs: {"wingConfigs"},
		model.KeyReadings:    {"readings", "tenantReadings"},
		model.KeyBillLines:   {"billLines", "bills"},
		model.KeyPayments:    {"payments"},
		model.KeyAttachments: {"attachments"},
		model.KeyClauses:     {"clauses"},
	}
	for key, aliases := range collections {
		recs := recordsFrom(resp, aliases...)
		if recs == nil {
			continue
		}
		if err := e.ledger.ReplaceCollection(ctx, key, recs); err != nil {
			return err
		}
	}

	// Wings arrive as a plain string list.
	if wings := stringsFrom(resp, "wings"); wings != nil {
		if err := e.ledger.ReplaceWings(ctx, wings); err != nil {
			return err
		}
	}

	// Rent revisions arrive flat; regroup them per tenancy.
	if revs := recordsFrom(resp, "rentRevisions", "revisions"); revs != nil {
		grouped := map[string][]model.Record{}
		for _, r := range revs {
			grouped[r.Str("tenancyId")] = append(grouped[r.Str("tenancyId")], r)
		}
		for tenancyID, list := range grouped {
			if tenancyID == "" {
				continue
			}
			if err := e.ledger.ReplaceCollection(ctx, model.RevisionsKey(tenancyID), list); err != nil {
				return err
			}
		}
	}

	e.notify("export", resp)
	return nil
}

// recordsFrom extracts a record list from a response under the first alias
// present, tolerating both field spellings.
func recordsFrom(resp map[string]any, aliases ...string) []model.Record {
	rec := model.Record(resp)
	for _, alias := range aliases {
		v, ok := rec[alias]
		if !ok {
			v, ok = rec[snakeAlias(alias)]
		}
		if !ok {
			continue
		}
		items, ok := v.([]any)
		if !ok {
			continue
		}
		out := make([]model.Record, 0, len(items))
		for _, item := range items {
			if m, ok := item.(map[string]any); ok {
				out = append(out, model.Record(m).Canonicalize())
			}
		}
		return out
	}
	return nil
}

// stringsFrom extracts a string list under the first alias present.
func stringsFrom(resp map[string]any, aliases ...string) []string {
	for _, alias := range aliases {
		v, ok := resp[alias]
		if !ok {
			v, ok = resp[snakeAlias(alias)]
		}
		if !ok {
			continue
		}
		items, ok := v.([]any)
		if !ok {
			continue
		}
		out := make([]string, 0, len(items))
		for _, item := range items {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func snakeAlias(camel string) string {
	out := make([]rune, 0, len(camel)+4)
	for i, r := range camel {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				out = append(out, '_')
			}
			out = append(out, r+('a'-'A'))
		} else {
			out = append(out, r)
		}
	}
	return string(out)
}
