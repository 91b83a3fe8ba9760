// Package bills recomputes the read-optimized billing projections from the
// normalized local entities. Everything here is a pure local computation;
// no network is involved, which is what lets cold reads succeed offline.
package bills

import (
	"context"
	"sort"

	"github.com/rentwing/rentwing/internal/ledger"
	"github.com/rentwing/rentwing/internal/model"
	"go.uber.org/zap"
)

// Epsilon absorbs float rounding when deciding whether a bill is settled.
const Epsilon = 0.005

// PaidState derives the paid flag and remaining amount from a bill total
// and the summed payments against it.
func PaidState(total, paid float64) (isPaid bool, remaining float64) {
	isPaid = total <= 0 || paid+Epsilon >= total
	remaining = total - paid
	if remaining < 0 {
		remaining = 0
	}
	return isPaid, remaining
}

// Materializer rebuilds derived views over a ledger.
type Materializer struct {
	ledger *ledger.Ledger
	logger *zap.Logger
}

// NewMaterializer creates a materializer.
func NewMaterializer(l *ledger.Ledger, logger *zap.Logger) *Materializer {
	return &Materializer{ledger: l, logger: logger}
}

// BillLineID is the deterministic id of the (monthKey, tenancyId) line.
// Determinism is what makes recomputation idempotent: replaying a rebuild
// can never mint a second line for the same pair.
func BillLineID(monthKey, tenancyID string) string {
	return "bill-" + monthKey + "-" + tenancyID
}

// EffectiveRent resolves the rent for a tenancy in a month: the rent
// revision with the greatest effectiveMonth not after the bill month wins,
// ties broken by later createdAt. Without any applicable revision the
// tenancy's base rent applies.
func EffectiveRent(revisions []model.Record, tenancy model.Tenancy, monthKey string) float64 {
	var best *model.RentRevision
	for _, r := range revisions {
		rev := model.RevisionFromRecord(r)
		if rev.TenancyID != tenancy.TenancyID || rev.EffectiveMonth == "" || rev.EffectiveMonth > monthKey {
			continue
		}
		if best == nil ||
			rev.EffectiveMonth > best.EffectiveMonth ||
			(rev.EffectiveMonth == best.EffectiveMonth && rev.CreatedAt > best.CreatedAt) {
			b := rev
			best = &b
		}
	}
	if best != nil {
		return best.RentAmount
	}
	return tenancy.RentAmount
}

type joinRow struct {
	reading model.TenantMonthlyReading
	tenancy model.Tenancy
	unit    model.Unit
	config  model.WingMonthlyConfig
	hasCfg  bool
}

// joinMonth gathers the billable rows of a month: included readings joined
// with their tenancy, unit and wing config.
func (m *Materializer) joinMonth(ctx context.Context, monthKey, onlyTenancy string) []joinRow {
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
	configs := map[string]model.WingMonthlyConfig{}
	for _, r := range m.ledger.WingConfigs(ctx) {
		c := model.WingConfigFromRecord(r)
		if c.MonthKey == monthKey {
			configs[model.NormalizeWing(c.Wing)] = c
		}
	}

	var rows []joinRow
	for _, r := range m.ledger.Readings(ctx) {
		reading := model.ReadingFromRecord(r)
		if reading.MonthKey != monthKey || !reading.Included {
			continue
		}
		if onlyTenancy != "" && reading.TenancyID != onlyTenancy {
			continue
		}
		tenancy, ok := tenancies[reading.TenancyID]
		if !ok {
			continue
		}
		unit := units[tenancy.UnitID]
		cfg, hasCfg := configs[model.NormalizeWing(unit.Wing)]
		rows = append(rows, joinRow{reading: reading, tenancy: tenancy, unit: unit, config: cfg, hasCfg: hasCfg})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].reading.TenancyID < rows[j].reading.TenancyID })
	return rows
}

// wingShareCounts counts the included tenancies per wing for a month, the
// divisor of the motor pump share.
func wingShareCounts(rows []joinRow) map[string]int {
	counts := map[string]int{}
	for _, row := range rows {
		counts[model.NormalizeWing(row.unit.Wing)]++
	}
	return counts
}

// computeLine derives one bill line from a joined row.
func (m *Materializer) computeLine(ctx context.Context, row joinRow, shareCount int, paidByLine map[string]float64) model.Record {
	monthKey := row.reading.MonthKey
	tenancyID := row.reading.TenancyID

	rent := row.reading.OverrideRent
	if !row.reading.HasOverride || rent == 0 {
		rent = EffectiveRent(m.ledger.RentRevisions(ctx, tenancyID), row.tenancy, monthKey)
	}

	var electricity, motorShare, sweep float64
	if row.hasCfg {
		units := row.reading.NewReading - row.reading.PrevReading
		if units < 0 {
			units = 0
		}
		electricity = units * row.config.ElectricityRate

		motorUnits := row.config.MotorUnits
		if motorUnits == 0 {
			motorUnits = row.config.MotorNew - row.config.MotorPrev
		}
		if motorUnits > 0 && shareCount > 0 {
			motorShare = motorUnits * row.config.ElectricityRate / float64(shareCount)
		}
		sweep = row.config.SweepingPerFlat
	}

	total := rent + electricity + motorShare + sweep
	lineID := BillLineID(monthKey, tenancyID)
	paid := paidByLine[lineID]
	isPaid, remaining := PaidState(total, paid)

	return model.Record{
		"billLineId":        lineID,
		"monthKey":          monthKey,
		"tenancyId":         tenancyID,
		"rentAmount":        rent,
		"electricityAmount": electricity,
		"motorShareAmount":  motorShare,
		"sweepAmount":       sweep,
		"totalAmount":       total,
		"amountPaid":        paid,
		"isPaid":            isPaid,
		"remainingAmount":   remaining,
	}
}

// paymentsByLine sums payment amounts per bill line id. Totals are always
// recomputed by summation, never incremented, so replaying a write leaves
// them correct.
func (m *Materializer) paymentsByLine(ctx context.Context) map[string]float64 {
	sums := map[string]float64{}
	for _, r := range m.ledger.Payments(ctx) {
		p := model.PaymentFromRecord(r)
		if p.BillLineID != "" {
			sums[p.BillLineID] += p.Amount
		}
	}
	return sums
}

// RebuildMonth recomputes every bill line of one month and swaps them in,
// leaving all other months untouched.
func (m *Materializer) RebuildMonth(ctx context.Context, monthKey string) error {
	return m.rebuildScope(ctx, monthKey, "")
}

// RebuildTenancyMonth recomputes the single (monthKey, tenancyId) line.
func (m *Materializer) RebuildTenancyMonth(ctx context.Context, monthKey, tenancyID string) error {
	return m.rebuildScope(ctx, monthKey, tenancyID)
}

func (m *Materializer) rebuildScope(ctx context.Context, monthKey, tenancyID string) error {
	all := m.joinMonth(ctx, monthKey, "")
	counts := wingShareCounts(all)
	paid := m.paymentsByLine(ctx)

	var lines []model.Record
	for _, row := range all {
		if tenancyID != "" && row.reading.TenancyID != tenancyID {
			continue
		}
		lines = append(lines, m.computeLine(ctx, row, counts[model.NormalizeWing(row.unit.Wing)], paid))
	}
	return m.ledger.ReplaceBillLinesForMonth(ctx, monthKey, tenancyID, lines)
}
