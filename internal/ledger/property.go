package ledger

import (
	"context"
	"encoding/json"

	"github.com/rentwing/rentwing/internal/model"
	"go.uber.org/zap"
)

// Wings returns the wing name set in insertion order.
func (l *Ledger) Wings(ctx context.Context) []string {
	raw, found, err := l.kv.Get(ctx, model.KeyWings)
	if err != nil || !found {
		return nil
	}
	var wings []string
	if err := json.Unmarshal(raw, &wings); err != nil {
		l.logger.Warn("Corrupt wing set, treating as empty", zap.Error(err))
		return nil
	}
	return wings
}

func (l *Ledger) putWings(ctx context.Context, wings []string) error {
	if wings == nil {
		wings = []string{}
	}
	raw, err := json.Marshal(wings)
	if err != nil {
		return err
	}
	return l.kv.Set(ctx, model.KeyWings, raw)
}

// AddWing adds a wing name unless an equivalent one already exists under
// case/whitespace normalization.
func (l *Ledger) AddWing(ctx context.Context, name string) (Touched, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	wings := l.Wings(ctx)
	for _, w := range wings {
		if model.SameWing(w, name) {
			return Touched{Kind: "wing", Wing: w}, nil
		}
	}
	wings = append(wings, name)
	return Touched{Kind: "wing", Wing: name}, l.putWings(ctx, wings)
}

// RemoveWing drops a wing name under normalized comparison.
func (l *Ledger) RemoveWing(ctx context.Context, name string) (Touched, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	wings := l.Wings(ctx)
	kept := wings[:0]
	for _, w := range wings {
		if !model.SameWing(w, name) {
			kept = append(kept, w)
		}
	}
	return Touched{Kind: "wing", Wing: name}, l.putWings(ctx, kept)
}

// Units returns the unit collection.
func (l *Ledger) Units(ctx context.Context) []model.Record {
	return l.Collection(ctx, model.KeyUnits)
}

// SaveUnit upserts a unit by unitId, minting an id when absent.
func (l *Ledger) SaveUnit(ctx context.Context, rec model.Record) (string, Touched, error) {
	id, err := l.upsert(ctx, model.KeyUnits, "unitId", "unit", rec)
	return id, Touched{Kind: "unit", Wing: rec.Str("wing")}, err
}

// DeleteUnit removes a unit by id.
func (l *Ledger) DeleteUnit(ctx context.Context, unitID string) (Touched, error) {
	err := l.removeWhere(ctx, model.KeyUnits, func(r model.Record) bool {
		return r.Str("unitId") == unitID
	})
	return Touched{Kind: "unit"}, err
}

// Landlords returns the landlord collection.
func (l *Ledger) Landlords(ctx context.Context) []model.Record {
	return l.Collection(ctx, model.KeyLandlords)
}

// SaveLandlord upserts a landlord by landlordId.
func (l *Ledger) SaveLandlord(ctx context.Context, rec model.Record) (string, Touched, error) {
	id, err := l.upsert(ctx, model.KeyLandlords, "landlordId", "landlord", rec)
	return id, Touched{Kind: "landlord"}, err
}

// DeleteLandlord removes a landlord by id.
func (l *Ledger) DeleteLandlord(ctx context.Context, landlordID string) (Touched, error) {
	err := l.removeWhere(ctx, model.KeyLandlords, func(r model.Record) bool {
		return r.Str("landlordId") == landlordID
	})
	return Touched{Kind: "landlord"}, err
}

// Clauses returns the agreement clause collection.
func (l *Ledger) Clauses(ctx context.Context) []model.Record {
	return l.Collection(ctx, model.KeyClauses)
}

// SaveClause upserts an agreement clause by clauseId.
func (l *Ledger) SaveClause(ctx context.Context, rec model.Record) (string, Touched, error) {
	id, err := l.upsert(ctx, model.KeyClauses, "clauseId", "clause", rec)
	return id, Touched{Kind: "clause"}, err
}

// DeleteClause removes a clause by id.
func (l *Ledger) DeleteClause(ctx context.Context, clauseID string) (Touched, error) {
	err := l.removeWhere(ctx, model.KeyClauses, func(r model.Record) bool {
		return r.Str("clauseId") == clauseID
	})
	return Touched{Kind: "clause"}, err
}

// Attachments returns the attachment collection.
func (l *Ledger) Attachments(ctx context.Context) []model.Record {
	return l.Collection(ctx, model.KeyAttachments)
}

// SaveAttachment upserts an attachment by attachmentId.
func (l *Ledger) SaveAttachment(ctx context.Context, rec model.Record) (string, Touched, error) {
	id, err := l.upsert(ctx, model.KeyAttachments, "attachmentId", "attachment", rec)
	return id, Touched{Kind: "attachment"}, err
}

// DeleteAttachment removes an attachment by id and unlinks it from any
// payment that referenced it.
func (l *Ledger) DeleteAttachment(ctx context.Context, attachmentID string) (Touched, error) {
	if err := l.removeWhere(ctx, model.KeyAttachments, func(r model.Record) bool {
		return r.Str("attachmentId") == attachmentID
	}); err != nil {
		return Touched{Kind: "attachment"}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	payments := l.Collection(ctx, model.KeyPayments)
	changed := false
	for _, p := range payments {
		if p.Str("attachmentId") == attachmentID {
			p["attachmentId"] = ""
			changed = true
		}
	}
	if !changed {
		return Touched{Kind: "attachment"}, nil
	}
	return Touched{Kind: "attachment"}, l.putCollection(ctx, model.KeyPayments, payments)
}
