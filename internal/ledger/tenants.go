package ledger

import (
	"context"
	"time"

	"github.com/rentwing/rentwing/internal/model"
	"go.uber.org/zap"
)

// Tenants returns the denormalized tenant directory, one row per tenancy.
func (l *Ledger) Tenants(ctx context.Context) []model.Record {
	return l.Collection(ctx, model.KeyTenants)
}

// Tenancies returns the tenancy collection.
func (l *Ledger) Tenancies(ctx context.Context) []model.Record {
	return l.Collection(ctx, model.KeyTenancies)
}

// FamilyMembers returns the family member collection.
func (l *Ledger) FamilyMembers(ctx context.Context) []model.Record {
	return l.Collection(ctx, model.KeyFamily)
}

// SaveTenant applies a combined tenant+tenancy+family write. Missing ids
// are minted so the caller can render immediately; the directory projection
// row and the occupying unit are updated in the same mutation.
func (l *Ledger) SaveTenant(ctx context.Context, rec model.Record) (string, Touched, error) {
	rec = rec.Clone().Canonicalize()

	tenantID := rec.Str("tenantId")
	if tenantID == "" {
		tenantID = l.newID("tenant")
		rec["tenantId"] = tenantID
	}
	tenancyID := rec.Str("tenancyId")
	if tenancyID == "" {
		tenancyID = l.newID("tenancy")
		rec["tenancyId"] = tenancyID
	}

	tenancy := model.Record{
		"tenancyId":  tenancyID,
		"tenantId":   tenantID,
		"unitId":     rec.Str("unitId"),
		"landlordId": rec.Str("landlordId"),
	}
	if rec.Has("status") {
		tenancy["status"] = rec.Str("status")
	} else {
		tenancy["status"] = string(model.TenancyActive)
	}
	for _, field := range []string{"commencementDate", "endDate", "payableDate"} {
		if rec.Has(field) {
			tenancy[field] = rec.Str(field)
		}
	}
	for _, field := range []string{"rentAmount", "rentIncreaseAmount"} {
		if rec.Has(field) {
			tenancy[field] = rec.Num(field)
		}
	}
	if err := l.upsertWhere(ctx, model.KeyTenancies, func(r model.Record) bool {
		return r.Str("tenancyId") == tenancyID
	}, tenancy); err != nil {
		return tenancyID, Touched{Kind: "tenant", TenancyID: tenancyID}, err
	}

	// Family members ride along on the tenant payload.
	if members, ok := rec["family"].([]any); ok {
		for _, m := range members {
			member, ok := m.(map[string]any)
			if !ok {
				continue
			}
			memberRec := model.Record(member).Clone().Canonicalize()
			memberRec["tenantId"] = tenantID
			memberID := memberRec.Str("memberId")
			if memberID == "" {
				memberID = l.newID("member")
				memberRec["memberId"] = memberID
			}
			if err := l.upsertWhere(ctx, model.KeyFamily, func(r model.Record) bool {
				return r.Str("memberId") == memberID
			}, memberRec); err != nil {
				l.logger.Warn("Family member upsert failed",
					zap.String("memberId", memberID), zap.Error(err))
			}
		}
	}

	// Directory projection: one row per tenancy.
	if _, err := l.upsert(ctx, model.KeyTenants, "tenancyId", "tenancy", rec); err != nil {
		return tenancyID, Touched{Kind: "tenant", TenancyID: tenancyID}, err
	}

	// The occupying unit tracks its current tenancy.
	if unitID := rec.Str("unitId"); unitID != "" && model.TenancyStatus(tenancy.Str("status")) == model.TenancyActive {
		if err := l.upsertWhere(ctx, model.KeyUnits, func(r model.Record) bool {
			return r.Str("unitId") == unitID
		}, model.Record{
			"unitId":           unitID,
			"isOccupied":       true,
			"currentTenancyId": tenancyID,
		}); err != nil {
			l.logger.Warn("Unit occupancy update failed",
				zap.String("unitId", unitID), zap.Error(err))
		}
	}

	return tenancyID, Touched{Kind: "tenant", TenancyID: tenancyID, Wing: rec.Str("wing")}, nil
}

// EndTenancy marks a tenancy ended and frees its unit.
func (l *Ledger) EndTenancy(ctx context.Context, tenancyID, endDate string) (Touched, error) {
	if endDate == "" {
		endDate = time.Now().Format("2006-01-02")
	}
	if err := l.upsertWhere(ctx, model.KeyTenancies, func(r model.Record) bool {
		return r.Str("tenancyId") == tenancyID
	}, model.Record{
		"tenancyId": tenancyID,
		"status":    string(model.TenancyEnded),
		"endDate":   endDate,
	}); err != nil {
		return Touched{Kind: "tenant", TenancyID: tenancyID}, err
	}

	if err := l.upsertWhere(ctx, model.KeyTenants, func(r model.Record) bool {
		return r.Str("tenancyId") == tenancyID
	}, model.Record{
		"tenancyId":    tenancyID,
		"activeTenant": false,
	}); err != nil {
		l.logger.Warn("Directory row update failed",
			zap.String("tenancyId", tenancyID), zap.Error(err))
	}

	for _, u := range l.Units(ctx) {
		if u.Str("currentTenancyId") != tenancyID {
			continue
		}
		if err := l.upsertWhere(ctx, model.KeyUnits, func(r model.Record) bool {
			return r.Str("unitId") == u.Str("unitId")
		}, model.Record{
			"unitId":           u.Str("unitId"),
			"isOccupied":       false,
			"currentTenancyId": "",
		}); err != nil {
			l.logger.Warn("Unit vacancy update failed",
				zap.String("unitId", u.Str("unitId")), zap.Error(err))
		}
	}

	return Touched{Kind: "tenant", TenancyID: tenancyID}, nil
}
