package bills

import (
	"context"

	"github.com/rentwing/rentwing/internal/model"
)

// GeneratedBill is the read view of one tenancy's bill for a month,
// enriched with directory fields for display.
type GeneratedBill struct {
	model.BillLine
	TenantFullName string `json:"tenantFullName"`
	Wing           string `json:"wing"`
	UnitNumber     string `json:"unitNumber"`
}

// BillingRecordRow is one unit's row in the month+wing editing view.
type BillingRecordRow struct {
	TenancyID      string  `json:"tenancyId"`
	UnitID         string  `json:"unitId"`
	UnitNumber     string  `json:"unitNumber"`
	TenantFullName string  `json:"tenantFullName"`
	PrevReading    float64 `json:"prevReading"`
	NewReading     float64 `json:"newReading"`
	Included       bool    `json:"included"`
	OverrideRent   float64 `json:"overrideRent"`
}

// BillingRecordView is the month+wing editing view. HasConfig and
// HasReadings let callers distinguish "no data yet" from "present but
// empty".
type BillingRecordView struct {
	MonthKey    string                  `json:"monthKey"`
	Wing        string                  `json:"wing"`
	HasConfig   bool                    `json:"hasConfig"`
	HasReadings bool                    `json:"hasReadings"`
	Config      model.WingMonthlyConfig `json:"config"`
	Rows        []BillingRecordRow      `json:"rows"`
}

// GenerateBills returns the bills of a month, joined with tenant and unit
// fields. When no bill lines exist yet for the month they are bootstrapped
// from readings, wing config and rent revisions, so a cold offline read
// still produces bills.
func (m *Materializer) GenerateBills(ctx context.Context, monthKey string) ([]GeneratedBill, error) {
	hasLines := false
	for _, r := range m.ledger.BillLines(ctx) {
		if r.Str("monthKey") == monthKey {
			hasLines = true
			break
		}
	}
	if !hasLines {
		if err := m.RebuildMonth(ctx, monthKey); err != nil {
			return nil, err
		}
	}

	tenants := map[string]model.Record{}
	for _, r := range m.ledger.Tenants(ctx) {
		tenants[r.Str("tenancyId")] = r
	}
	tenancies := map[string]model.Tenancy{}
	for _, r := range m.ledger.Tenancies(ctx) {
		t := model.TenancyFromRecord(r)
		tenancies[t.TenancyID] = t
	}
	units := map[string]model.Unit{}
	for _, r := range m.ledger.Units(ctx) {
		u := model.UnitFromRecord(r)
		units[u.UnitID] = u
	}

	var out []GeneratedBill
	for _, r := range m.ledger.BillLines(ctx) {
		line := model.BillLineFromRecord(r)
		if line.MonthKey != monthKey {
			continue
		}
		bill := GeneratedBill{BillLine: line}
		if dir, ok := tenants[line.TenancyID]; ok {
			bill.TenantFullName = dir.Str("tenantFullName")
			bill.Wing = dir.Str("wing")
			bill.UnitNumber = dir.Str("unitNumber")
		}
		if bill.Wing == "" || bill.UnitNumber == "" {
			if tenancy, ok := tenancies[line.TenancyID]; ok {
				if unit, ok := units[tenancy.UnitID]; ok {
					if bill.Wing == "" {
						bill.Wing = unit.Wing
					}
					if bill.UnitNumber == "" {
						bill.UnitNumber = unit.UnitNumber
					}
				}
			}
		}
		out = append(out, bill)
	}
	return out, nil
}

// BillingRecord returns the month+wing editing view: the wing config plus
// one row per unit of the wing with an active tenancy, merged with any
// stored readings.
func (m *Materializer) BillingRecord(ctx context.Context, monthKey, wing string) (BillingRecordView, error) {
	view := BillingRecordView{MonthKey: monthKey, Wing: wing, Rows: []BillingRecordRow{}}

	for _, r := range m.ledger.WingConfigs(ctx) {
		cfg := model.WingConfigFromRecord(r)
		if cfg.MonthKey == monthKey && model.SameWing(cfg.Wing, wing) {
			view.HasConfig = true
			view.Config = cfg
			break
		}
	}

	readings := map[string]model.TenantMonthlyReading{}
	for _, r := range m.ledger.Readings(ctx) {
		reading := model.ReadingFromRecord(r)
		if reading.MonthKey == monthKey {
			readings[reading.TenancyID] = reading
		}
	}

	tenants := map[string]model.Record{}
	for _, r := range m.ledger.Tenants(ctx) {
		tenants[r.Str("tenancyId")] = r
	}
	tenancies := map[string]model.Tenancy{}
	for _, r := range m.ledger.Tenancies(ctx) {
		t := model.TenancyFromRecord(r)
		tenancies[t.TenancyID] = t
	}

	for _, r := range m.ledger.Units(ctx) {
		unit := model.UnitFromRecord(r)
		if !model.SameWing(unit.Wing, wing) || unit.CurrentTenancyID == "" {
			continue
		}
		tenancy, ok := tenancies[unit.CurrentTenancyID]
		if !ok || tenancy.Status != model.TenancyActive {
			continue
		}
		row := BillingRecordRow{
			TenancyID:  tenancy.TenancyID,
			UnitID:     unit.UnitID,
			UnitNumber: unit.UnitNumber,
			Included:   true,
		}
		if dir, ok := tenants[tenancy.TenancyID]; ok {
			row.TenantFullName = dir.Str("tenantFullName")
		}
		if reading, ok := readings[tenancy.TenancyID]; ok {
			view.HasReadings = true
			row.PrevReading = reading.PrevReading
			row.NewReading = reading.NewReading
			row.Included = reading.Included
			row.OverrideRent = reading.OverrideRent
		}
		view.Rows = append(view.Rows, row)
	}

	return view, nil
}
