package syncer

import (
	"context"

	"github.com/rentwing/rentwing/internal/errors"
	"go.uber.org/zap"
)

// FlushOutcome reports one flush attempt.
type FlushOutcome struct {
	Status    Status `json:"status"`
	Delivered int    `json:"delivered"`
	Remaining int    `json:"remaining"`
	Err       error  `json:"-"`
}

// Flush replays the write queue to the backend in strict FIFO order.
// Single-flight: a second caller while one runs gets an already-running
// outcome. A failed job stops the flush immediately; later jobs are never
// attempted ahead of it, preserving causal order.
func (e *Engine) Flush(ctx context.Context) FlushOutcome {
	e.mu.Lock()
	if e.flushing {
		e.mu.Unlock()
		return FlushOutcome{Status: StatusSyncing, Err: errors.AlreadyRunning("flush")}
	}
	e.flushing = true
	prev := e.status
	e.status = StatusSyncing
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.flushing = false
		e.mu.Unlock()
	}()

	if e.metrics != nil {
		e.metrics.FlushRunsTotal.Inc()
	}

	if e.client == nil || e.client.Endpoint() == "" {
		e.setStatus(StatusPending)
		n, _ := e.queue.Count(ctx)
		return FlushOutcome{Status: StatusPending, Remaining: n, Err: errors.MissingBackend()}
	}

	jobs, err := e.queue.List(ctx, 0)
	if err != nil {
		e.logger.Error("Queue load failed", zap.Error(err))
		e.setStatus(prev)
		return FlushOutcome{Status: prev, Err: err}
	}

	delivered := 0
	var stopErr error
	for _, job := range jobs {
		if _, err := e.client.Invoke(ctx, job.Action, job.Method, job.Params, job.Payload); err != nil {
			// Remaining jobs stay queued in order; retried next flush.
			e.logger.Warn("Job delivery failed, pausing flush",
				zap.Int64("jobId", job.ID),
				zap.String("action", job.Action),
				zap.Error(err))
			if e.metrics != nil {
				e.metrics.FlushJobsFailedTotal.Inc()
			}
			stopErr = err
			break
		}

		e.invalidateFor(ctx, job.Action)
		if err := e.queue.Delete(ctx, job.ID); err != nil {
			// The job was delivered; on restart it will be replayed, which
			// the summation-based derived totals tolerate.
			e.logger.Error("Delivered job not deleted",
				zap.Int64("jobId", job.ID), zap.Error(err))
		}
		delivered++
		if e.metrics != nil {
			e.metrics.FlushJobsOKTotal.Inc()
		}
		e.notify("flush", job.Action)
	}

	remaining, _ := e.queue.Count(ctx)
	e.updateQueueDepth(remaining)

	status := StatusSynced
	if remaining > 0 {
		status = StatusPending
	}
	e.setStatus(status)

	return FlushOutcome{Status: status, Delivered: delivered, Remaining: remaining, Err: stopErr}
}
