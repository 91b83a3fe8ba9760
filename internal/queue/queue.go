// Package queue implements the durable FIFO write queue. Jobs are replayed
// to the backend strictly in enqueue order; a job is deleted only after its
// remote call succeeds. There is no dedup and no merging.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rentwing/rentwing/internal/kv"
	"github.com/rentwing/rentwing/internal/model"
)

// Queue stores pending remote writes in the shared SQLite database.
// The AUTOINCREMENT id is the delivery order, monotonic across restarts.
type Queue struct {
	kv *kv.Store
}

// New creates a queue over the shared store.
func New(kvStore *kv.Store) *Queue {
	return &Queue{kv: kvStore}
}

// Enqueue appends a job and returns its assigned id.
func (q *Queue) Enqueue(ctx context.Context, job model.QueueJob) (int64, error) {
	params, err := json.Marshal(job.Params)
	if err != nil {
		return 0, fmt.Errorf("enqueue %q: %w", job.Action, err)
	}
	payload, err := json.Marshal(job.Payload)
	if err != nil {
		return 0, fmt.Errorf("enqueue %q: %w", job.Action, err)
	}
	enqueuedAt := job.EnqueuedAt
	if enqueuedAt.IsZero() {
		enqueuedAt = time.Now().UTC()
	}
	res, err := q.kv.DB().ExecContext(ctx, `
		INSERT INTO queue_jobs (action, method, params, payload, enqueued_at)
		VALUES (?, ?, ?, ?, ?)
	`, job.Action, job.Method, string(params), string(payload), enqueuedAt.Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("enqueue %q: %w", job.Action, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("enqueue %q: %w", job.Action, err)
	}
	return id, nil
}

// List returns up to limit jobs in insertion order; limit <= 0 means all.
func (q *Queue) List(ctx context.Context, limit int) ([]model.QueueJob, error) {
	query := `SELECT id, action, method, params, payload, enqueued_at FROM queue_jobs ORDER BY id ASC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := q.kv.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list queue: %w", err)
	}
	defer rows.Close()

	var jobs []model.QueueJob
	for rows.Next() {
		var (
			job        model.QueueJob
			params     string
			payload    string
			enqueuedAt string
		)
		if err := rows.Scan(&job.ID, &job.Action, &job.Method, &params, &payload, &enqueuedAt); err != nil {
			return nil, fmt.Errorf("list queue: %w", err)
		}
		if err := json.Unmarshal([]byte(params), &job.Params); err != nil {
			job.Params = nil
		}
		if err := json.Unmarshal([]byte(payload), &job.Payload); err != nil {
			job.Payload = nil
		}
		if t, err := time.Parse(time.RFC3339Nano, enqueuedAt); err == nil {
			job.EnqueuedAt = t
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// Delete removes the job with the given id.
func (q *Queue) Delete(ctx context.Context, id int64) error {
	if _, err := q.kv.DB().ExecContext(ctx, `DELETE FROM queue_jobs WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete queue job %d: %w", id, err)
	}
	return nil
}

// Clear removes every pending job.
func (q *Queue) Clear(ctx context.Context) error {
	if _, err := q.kv.DB().ExecContext(ctx, `DELETE FROM queue_jobs`); err != nil {
		return fmt.Errorf("clear queue: %w", err)
	}
	return nil
}

// Count returns the number of pending jobs.
func (q *Queue) Count(ctx context.Context) (int, error) {
	var n int
	if err := q.kv.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM queue_jobs`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count queue: %w", err)
	}
	return n, nil
}
