package syncer

import (
	"context"
	"net/http"

	"github.com/rentwing/rentwing/internal/ledger"
	"github.com/rentwing/rentwing/internal/model"
	"github.com/rentwing/rentwing/internal/validation"
	"go.uber.org/zap"
)

// WriteResult mirrors the shape the backend returns for a write, so UI
// callers can branch on it without knowing whether the remote call has
// happened yet.
type WriteResult struct {
	OK     bool   `json:"ok"`
	Queued bool   `json:"queued"`
	ID     string `json:"id,omitempty"`
	Error  string `json:"error,omitempty"`
}

// writeOp is the single write pipeline every entity operation goes
// through: validate, optimistic local mutation, derived rebuild, enqueue,
// opportunistic flush.
type writeOp struct {
	action   string
	params   map[string]string
	payload  model.Record
	validate func(v *validation.Validator) error
	apply    func(ctx context.Context) (string, ledger.Touched, error)
}

func (e *Engine) runWrite(ctx context.Context, op writeOp) WriteResult {
	if op.validate != nil {
		if err := op.validate(e.validator); err != nil {
			return WriteResult{OK: false, Error: err.Error()}
		}
	}

	// Local mutation is best-effort: a storage failure is logged, never
	// propagated. The remote job is still enqueued so the write is not
	// silently lost.
	var touched ledger.Touched
	var id string
	if op.apply != nil {
		var err error
		id, touched, err = op.apply(ctx)
		if err != nil {
			e.logger.Error("Optimistic local mutation failed",
				zap.String("action", op.action), zap.Error(err))
		}
	}

	if touched.MonthKey != "" && e.bills != nil {
		var err error
		if touched.TenancyID != "" && touched.Kind == "payment" {
			err = e.bills.RebuildTenancyMonth(ctx, touched.MonthKey, touched.TenancyID)
		} else {
			err = e.bills.RebuildMonth(ctx, touched.MonthKey)
		}
		if err != nil {
			e.logger.Warn("Derived view rebuild failed",
				zap.String("action", op.action),
				zap.String("monthKey", touched.MonthKey),
				zap.Error(err))
		}
	}

	// Locally cached reads for the affected actions are now behind the
	// ledger; drop them so read-your-writes holds before any flush.
	e.invalidateFor(ctx, op.action)

	queued := false
	if _, err := e.queue.Enqueue(ctx, model.QueueJob{
		Action:  op.action,
		Method:  http.MethodPost,
		Params:  op.params,
		Payload: op.payload,
	}); err != nil {
		e.logger.Error("Enqueue failed, write is local-only",
			zap.String("action", op.action), zap.Error(err))
	} else {
		queued = true
		if e.metrics != nil {
			e.metrics.QueueEnqueuesTotal.Inc()
		}
		if n, err := e.queue.Count(ctx); err == nil {
			e.updateQueueDepth(n)
		}
		e.setStatus(StatusPending)
	}

	if touched.Kind != "" {
		e.notify(touched.Kind, op.payload)
	}

	if e.flushOnWrite && queued && e.Online() {
		e.background.Add(1)
		go func() {
			defer e.background.Done()
			ctx, cancel := context.WithTimeout(context.Background(), e.taskTimeout)
			defer cancel()
			e.Flush(ctx)
		}()
	}

	return WriteResult{OK: true, Queued: queued, ID: id}
}

// AddWing adds a wing.
func (e *Engine) AddWing(ctx context.Context, name string) WriteResult {
	return e.runWrite(ctx, writeOp{
		action:  "addWing",
		payload: model.Record{"wing": name},
		validate: func(v *validation.Validator) error {
			return v.ValidateWing(name)
		},
		apply: func(ctx context.Context) (string, ledger.Touched, error) {
			touched, err := e.ledger.AddWing(ctx, name)
			return "", touched, err
		},
	})
}

// RemoveWing removes a wing.
func (e *Engine) RemoveWing(ctx context.Context, name string) WriteResult {
	return e.runWrite(ctx, writeOp{
		action:  "removeWing",
		payload: model.Record{"wing": name},
		validate: func(v *validation.Validator) error {
			return v.ValidateWing(name)
		},
		apply: func(ctx context.Context) (string, ledger.Touched, error) {
			touched, err := e.ledger.RemoveWing(ctx, name)
			return "", touched, err
		},
	})
}

// SaveUnitConfig saves a unit.
func (e *Engine) SaveUnitConfig(ctx context.Context, rec model.Record) WriteResult {
	return e.runWrite(ctx, writeOp{
		action:  "saveUnitConfig",
		payload: rec,
		validate: func(v *validation.Validator) error {
			return v.ValidateUnit(rec)
		},
		apply: func(ctx context.Context) (string, ledger.Touched, error) {
			return e.ledger.SaveUnit(ctx, rec)
		},
	})
}

// DeleteUnitConfig deletes a unit.
func (e *Engine) DeleteUnitConfig(ctx context.Context, unitID string) WriteResult {
	return e.runWrite(ctx, writeOp{
		action:  "deleteUnitConfig",
		payload: model.Record{"unitId": unitID},
		validate: func(v *validation.Validator) error {
			return v.Required("unitId", unitID)
		},
		apply: func(ctx context.Context) (string, ledger.Touched, error) {
			touched, err := e.ledger.DeleteUnit(ctx, unitID)
			return unitID, touched, err
		},
	})
}

// SaveLandlord saves a landlord.
func (e *Engine) SaveLandlord(ctx context.Context, rec model.Record) WriteResult {
	return e.runWrite(ctx, writeOp{
		action:  "saveLandlord",
		payload: rec,
		validate: func(v *validation.Validator) error {
			return v.ValidateLandlord(rec)
		},
		apply: func(ctx context.Context) (string, ledger.Touched, error) {
			return e.ledger.SaveLandlord(ctx, rec)
		},
	})
}

// DeleteLandlord deletes a landlord.
func (e *Engine) DeleteLandlord(ctx context.Context, landlordID string) WriteResult {
	return e.runWrite(ctx, writeOp{
		action:  "deleteLandlord",
		payload: model.Record{"landlordId": landlordID},
		validate: func(v *validation.Validator) error {
			return v.Required("landlordId", landlordID)
		},
		apply: func(ctx context.Context) (string, ledger.Touched, error) {
			touched, err := e.ledger.DeleteLandlord(ctx, landlordID)
			return landlordID, touched, err
		},
	})
}

// SaveTenant saves a combined tenant+tenancy+family payload.
func (e *Engine) SaveTenant(ctx context.Context, rec model.Record) WriteResult {
	return e.runWrite(ctx, writeOp{
		action:  "saveTenant",
		payload: rec,
		validate: func(v *validation.Validator) error {
			return v.ValidateTenant(rec)
		},
		apply: func(ctx context.Context) (string, ledger.Touched, error) {
			return e.ledger.SaveTenant(ctx, rec)
		},
	})
}

// EndTenancy marks a tenancy ended.
func (e *Engine) EndTenancy(ctx context.Context, tenancyID, endDate string) WriteResult {
	return e.runWrite(ctx, writeOp{
		action:  "endTenancy",
		payload: model.Record{"tenancyId": tenancyID, "endDate": endDate},
		validate: func(v *validation.Validator) error {
			return v.Required("tenancyId", tenancyID)
		},
		apply: func(ctx context.Context) (string, ledger.Touched, error) {
			touched, err := e.ledger.EndTenancy(ctx, tenancyID, endDate)
			return tenancyID, touched, err
		},
	})
}

// SaveRentRevision saves a rent revision.
func (e *Engine) SaveRentRevision(ctx context.Context, rec model.Record) WriteResult {
	return e.runWrite(ctx, writeOp{
		action:  "saveRentRevision",
		payload: rec,
		validate: func(v *validation.Validator) error {
			return v.ValidateRentRevision(rec)
		},
		apply: func(ctx context.Context) (string, ledger.Touched, error) {
			return e.ledger.SaveRentRevision(ctx, rec)
		},
	})
}

// SaveBillingRecord saves a month+wing billing record.
func (e *Engine) SaveBillingRecord(ctx context.Context, rec model.Record) WriteResult {
	return e.runWrite(ctx, writeOp{
		action:  "saveBillingRecord",
		payload: rec,
		validate: func(v *validation.Validator) error {
			return v.ValidateBillingRecord(rec)
		},
		apply: func(ctx context.Context) (string, ledger.Touched, error) {
			touched, err := e.ledger.SaveBillingRecord(ctx, rec)
			return "", touched, err
		},
	})
}

// SavePayment saves a payment.
func (e *Engine) SavePayment(ctx context.Context, rec model.Record) WriteResult {
	return e.runWrite(ctx, writeOp{
		action:  "savePayment",
		payload: rec,
		validate: func(v *validation.Validator) error {
			return v.ValidatePayment(rec)
		},
		apply: func(ctx context.Context) (string, ledger.Touched, error) {
			return e.ledger.SavePayment(ctx, rec)
		},
	})
}

// DeleteAttachment deletes a payment attachment.
func (e *Engine) DeleteAttachment(ctx context.Context, attachmentID string) WriteResult {
	return e.runWrite(ctx, writeOp{
		action:  "deleteAttachment",
		payload: model.Record{"attachmentId": attachmentID},
		validate: func(v *validation.Validator) error {
			return v.Required("attachmentId", attachmentID)
		},
		apply: func(ctx context.Context) (string, ledger.Touched, error) {
			touched, err := e.ledger.DeleteAttachment(ctx, attachmentID)
			return attachmentID, touched, err
		},
	})
}

// SaveClause saves an agreement clause.
func (e *Engine) SaveClause(ctx context.Context, rec model.Record) WriteResult {
	return e.runWrite(ctx, writeOp{
		action:  "saveClause",
		payload: rec,
		validate: func(v *validation.Validator) error {
			return v.ValidateClause(rec)
		},
		apply: func(ctx context.Context) (string, ledger.Touched, error) {
			return e.ledger.SaveClause(ctx, rec)
		},
	})
}

// DeleteClause deletes an agreement clause.
func (e *Engine) DeleteClause(ctx context.Context, clauseID string) WriteResult {
	return e.runWrite(ctx, writeOp{
		action:  "deleteClause",
		payload: model.Record{"clauseId": clauseID},
		validate: func(v *validation.Validator) error {
			return v.Required("clauseId", clauseID)
		},
		apply: func(ctx context.Context) (string, ledger.Touched, error) {
			touched, err := e.ledger.DeleteClause(ctx, clauseID)
			return clauseID, touched, err
		},
	})
}
