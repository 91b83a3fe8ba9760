package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync/atomic"

	"github.com/rentwing/rentwing/internal/errors"
)

// progress events are emitted at most once per this many bytes.
const progressGranularity = 64 * 1024

// ProgressFunc receives upload progress. done is true exactly once, when
// the final byte has been handed to the transport.
type ProgressFunc func(loaded, total int64, done bool)

// Upload is a handle to an in-flight attachment upload supporting
// cooperative cancellation.
type Upload struct {
	cancelled atomic.Bool
}

// Cancel requests cancellation. The body reader observes the flag at the
// next chunk boundary; the request then fails with ErrCodeCancelled.
func (u *Upload) Cancel() {
	u.cancelled.Store(true)
}

// progressReader reports bytes consumed from the underlying reader and
// aborts when the upload is cancelled.
type progressReader struct {
	inner    io.Reader
	total    int64
	sent     int64
	lastEmit int64
	doneSent bool
	progress ProgressFunc
	upload   *Upload
}

func (r *progressReader) Read(p []byte) (int, error) {
	if r.upload != nil && r.upload.cancelled.Load() {
		return 0, errors.New(errors.ErrCodeCancelled, "upload cancelled", nil)
	}
	n, err := r.inner.Read(p)
	if n == 0 && err == io.EOF {
		r.emit(true)
		return 0, err
	}
	r.sent += int64(n)
	if r.sent-r.lastEmit >= progressGranularity || r.sent >= r.total {
		r.emit(r.sent >= r.total)
	}
	return n, err
}

func (r *progressReader) emit(done bool) {
	if r.progress == nil {
		return
	}
	if done {
		if r.doneSent {
			return
		}
		r.doneSent = true
	}
	r.progress(r.sent, r.total, done)
	r.lastEmit = r.sent
}

// UploadAttachment posts a payment attachment payload, streaming the body
// through a progress reporter. Returns the backend response and the handle
// used to cancel mid-flight.
func (c *Client) UploadAttachment(ctx context.Context, payload any, progress ProgressFunc) (map[string]any, *Upload, error) {
	upload := &Upload{}
	result, err := c.uploadWith(ctx, payload, progress, upload)
	return result, upload, err
}

// NewUpload returns a cancellation handle usable before the request starts,
// for callers that wire a cancel button first.
func NewUpload() *Upload {
	return &Upload{}
}

// UploadAttachmentWith is UploadAttachment with a caller-provided handle.
func (c *Client) UploadAttachmentWith(ctx context.Context, payload any, progress ProgressFunc, upload *Upload) (map[string]any, error) {
	return c.uploadWith(ctx, payload, progress, upload)
}

func (c *Client) uploadWith(ctx context.Context, payload any, progress ProgressFunc, upload *Upload) (map[string]any, error) {
	const action = "uploadPaymentAttachment"
	if c.endpoint == "" {
		return nil, errors.MissingBackend()
	}

	body, err := json.Marshal(map[string]any{
		"action":  action,
		"payload": payload,
	})
	if err != nil {
		return nil, errors.Transport(action, err)
	}

	reader := &progressReader{
		inner:    bytes.NewReader(body),
		total:    int64(len(body)),
		progress: progress,
		upload:   upload,
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, reader)
	if err != nil {
		return nil, errors.Transport(action, err)
	}
	req.Header.Set("Content-Type", "text/plain")
	req.ContentLength = int64(len(body))

	return c.roundTrip(req, action, http.MethodPost)
}
