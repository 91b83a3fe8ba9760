package ledger

import (
	"context"
	"time"

	"github.com/rentwing/rentwing/internal/model"
	"go.uber.org/zap"
)

// RentRevisions returns the revisions for one tenancy.
func (l *Ledger) RentRevisions(ctx context.Context, tenancyID string) []model.Record {
	return l.Collection(ctx, model.RevisionsKey(tenancyID))
}

// AllRentRevisions returns every stored revision across tenancies.
func (l *Ledger) AllRentRevisions(ctx context.Context) []model.Record {
	keys, err := l.kv.Keys(ctx, model.KeyRevisionsPrefix)
	if err != nil {
		l.logger.Warn("Revision scan failed", zap.Error(err))
		return nil
	}
	var all []model.Record
	for _, k := range keys {
		all = append(all, l.Collection(ctx, k)...)
	}
	return all
}

// SaveRentRevision upserts a revision keyed by (tenancyId, effectiveMonth).
// A second revision for the same month replaces the first; the later
// createdAt then wins any tie when current rent is derived.
func (l *Ledger) SaveRentRevision(ctx context.Context, rec model.Record) (string, Touched, error) {
	rec = rec.Clone().Canonicalize()
	tenancyID := rec.Str("tenancyId")
	month := rec.Str("effectiveMonth")

	if rec.Str("revisionId") == "" {
		rec["revisionId"] = l.newID("revision")
	}
	if rec.Str("createdAt") == "" {
		rec["createdAt"] = time.Now().UTC().Format(time.RFC3339Nano)
	}

	err := l.upsertWhere(ctx, model.RevisionsKey(tenancyID), func(r model.Record) bool {
		return r.Str("effectiveMonth") == month
	}, rec)
	return rec.Str("revisionId"), Touched{Kind: "rentRevision", MonthKey: month, TenancyID: tenancyID}, err
}

// WingConfigs returns the wing monthly config collection.
func (l *Ledger) WingConfigs(ctx context.Context) []model.Record {
	return l.Collection(ctx, model.KeyWingConfigs)
}

// Readings returns the tenant monthly reading collection.
func (l *Ledger) Readings(ctx context.Context) []model.Record {
	return l.Collection(ctx, model.KeyReadings)
}

// SaveBillingRecord applies a month+wing billing write: the wing config is
// upserted by (monthKey, wing) and every reading in the payload by
// (monthKey, tenancyId). Readings for other months and wings are untouched.
func (l *Ledger) SaveBillingRecord(ctx context.Context, rec model.Record) (Touched, error) {
	rec = rec.Clone().Canonicalize()
	month := rec.Str("monthKey")
	wing := rec.Str("wing")
	touched := Touched{Kind: "billingRecord", MonthKey: month, Wing: wing}

	cfg := model.Record{
		"monthKey": month,
		"wing":     wing,
	}
	for _, field := range []string{"electricityRate", "sweepingPerFlat", "motorPrev", "motorNew", "motorUnits"} {
		if rec.Has(field) {
			cfg[field] = rec.Num(field)
		}
	}
	if err := l.upsertWhere(ctx, model.KeyWingConfigs, func(r model.Record) bool {
		return r.Str("monthKey") == month && model.SameWing(r.Str("wing"), wing)
	}, cfg); err != nil {
		return touched, err
	}

	readings, _ := rec["readings"].([]any)
	for _, item := range readings {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		reading := model.Record(m).Clone().Canonicalize()
		reading["monthKey"] = month
		tenancyID := reading.Str("tenancyId")
		if tenancyID == "" {
			continue
		}
		if err := l.upsertWhere(ctx, model.KeyReadings, func(r model.Record) bool {
			return r.Str("monthKey") == month && r.Str("tenancyId") == tenancyID
		}, reading); err != nil {
			l.logger.Warn("Reading upsert failed",
				zap.String("tenancyId", tenancyID),
				zap.String("monthKey", month),
				zap.Error(err))
		}
	}

	return touched, nil
}

// BillLines returns the derived bill line collection.
func (l *Ledger) BillLines(ctx context.Context) []model.Record {
	return l.Collection(ctx, model.KeyBillLines)
}

// ReplaceBillLinesForMonth swaps the bill lines of one month, leaving every
// other month's lines untouched. Passing a non-empty tenancyID narrows the
// replacement to that single (month, tenancy) line.
func (l *Ledger) ReplaceBillLinesForMonth(ctx context.Context, monthKey, tenancyID string, lines []model.Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	existing := l.Collection(ctx, model.KeyBillLines)
	kept := existing[:0]
	for _, r := range existing {
		if r.Str("monthKey") != monthKey {
			kept = append(kept, r)
			continue
		}
		if tenancyID != "" && r.Str("tenancyId") != tenancyID {
			kept = append(kept, r)
		}
	}
	kept = append(kept, lines...)
	return l.putCollection(ctx, model.KeyBillLines, kept)
}

// Payments returns the payment collection.
func (l *Ledger) Payments(ctx context.Context) []model.Record {
	return l.Collection(ctx, model.KeyPayments)
}

// SavePayment upserts a payment by id. The touched scope is resolved from
// the linked bill line so only that line's month is rebuilt.
func (l *Ledger) SavePayment(ctx context.Context, rec model.Record) (string, Touched, error) {
	rec = rec.Clone().Canonicalize()
	if rec.Str("createdAt") == "" {
		rec["createdAt"] = time.Now().UTC().Format(time.RFC3339Nano)
	}
	id, err := l.upsert(ctx, model.KeyPayments, "id", "payment", rec)
	touched := Touched{Kind: "payment", TenancyID: rec.Str("tenancyId")}

	if billLineID := rec.Str("billLineId"); billLineID != "" {
		for _, line := range l.BillLines(ctx) {
			if line.Str("billLineId") == billLineID {
				touched.MonthKey = line.Str("monthKey")
				if touched.TenancyID == "" {
					touched.TenancyID = line.Str("tenancyId")
				}
				break
			}
		}
	}
	return id, touched, err
}
