package bills_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rentwing/rentwing/internal/bills"
	"github.com/rentwing/rentwing/internal/kv"
	"github.com/rentwing/rentwing/internal/ledger"
	"github.com/rentwing/rentwing/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixture struct {
	ledger *ledger.Ledger
	bills  *bills.Materializer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := kv.Open(filepath.Join(t.TempDir(), "bills.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	l := ledger.New(store, zap.NewNop())
	return &fixture{ledger: l, bills: bills.NewMaterializer(l, zap.NewNop())}
}

// seedTenancy wires unit u<n> in wing to an active tenancy t<n> with base rent.
func (f *fixture) seedTenancy(t *testing.T, n, wing string, rent float64) {
	t.Helper()
	ctx := context.Background()
	_, _, err := f.ledger.SaveUnit(ctx, model.Record{"unitId": "u" + n, "wing": wing, "unitNumber": n})
	require.NoError(t, err)
	_, _, err = f.ledger.SaveTenant(ctx, model.Record{
		"tenancyId":      "t" + n,
		"tenantId":       "tenant" + n,
		"tenantFullName": "Tenant " + n,
		"unitId":         "u" + n,
		"rentAmount":     rent,
	})
	require.NoError(t, err)
}

func TestPaidState_Epsilon(t *testing.T) {
	isPaid, remaining := bills.PaidState(1000, 999.995)
	assert.True(t, isPaid)
	assert.InDelta(t, 0.005, remaining, 1e-9)

	isPaid, remaining = bills.PaidState(1000, 999)
	assert.False(t, isPaid)
	assert.Equal(t, 1.0, remaining)

	// Overpayment never goes negative.
	isPaid, remaining = bills.PaidState(1000, 1200)
	assert.True(t, isPaid)
	assert.Equal(t, 0.0, remaining)

	// Zero-total lines count as settled.
	isPaid, _ = bills.PaidState(0, 0)
	assert.True(t, isPaid)
}

func TestRebuildMonth_ComputesComponents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.seedTenancy(t, "1", "A Wing", 4000)
	f.seedTenancy(t, "2", "A Wing", 3500)

	_, err := f.ledger.SaveBillingRecord(ctx, model.Record{
		"monthKey":        "2024-03",
		"wing":            "A Wing",
		"electricityRate": 10.0,
		"sweepingPerFlat": 50.0,
		"motorPrev":       100.0,
		"motorNew":        120.0,
		"readings": []any{
			map[string]any{"tenancyId": "t1", "prevReading": 500.0, "newReading": 530.0},
			map[string]any{"tenancyId": "t2", "prevReading": 200.0, "newReading": 210.0},
		},
	})
	require.NoError(t, err)

	require.NoError(t, f.bills.RebuildMonth(ctx, "2024-03"))

	lines := f.ledger.BillLines(ctx)
	require.Len(t, lines, 2)

	byID := map[string]model.Record{}
	for _, line := range lines {
		byID[line.Str("billLineId")] = line
	}

	// t1: 4000 rent + 30 units * 10 + (20 motor units * 10 / 2 tenancies) + 50 sweep.
	l1 := byID[bills.BillLineID("2024-03", "t1")]
	require.NotNil(t, l1)
	assert.Equal(t, 4000.0, l1.Num("rentAmount"))
	assert.Equal(t, 300.0, l1.Num("electricityAmount"))
	assert.Equal(t, 100.0, l1.Num("motorShareAmount"))
	assert.Equal(t, 50.0, l1.Num("sweepAmount"))
	assert.Equal(t, 4450.0, l1.Num("totalAmount"))
	assert.False(t, l1.Bool("isPaid"))

	l2 := byID[bills.BillLineID("2024-03", "t2")]
	require.NotNil(t, l2)
	assert.Equal(t, 3500.0+100.0+100.0+50.0, l2.Num("totalAmount"))
}

func TestRebuildMonth_EffectiveRentAndOverride(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.seedTenancy(t, "1", "A Wing", 4000)
	f.seedTenancy(t, "2", "A Wing", 3000)

	// Revision effective before the bill month applies; a later one does not.
	_, _, err := f.ledger.SaveRentRevision(ctx, model.Record{
		"tenancyId": "t1", "effectiveMonth": "2024-02", "rentAmount": 4200.0,
	})
	require.NoError(t, err)
	_, _, err = f.ledger.SaveRentRevision(ctx, model.Record{
		"tenancyId": "t1", "effectiveMonth": "2024-06", "rentAmount": 5000.0,
	})
	require.NoError(t, err)

	_, err = f.ledger.SaveBillingRecord(ctx, model.Record{
		"monthKey": "2024-03",
		"wing":     "A Wing",
		"readings": []any{
			map[string]any{"tenancyId": "t1", "prevReading": 0.0, "newReading": 0.0},
			map[string]any{"tenancyId": "t2", "prevReading": 0.0, "newReading": 0.0, "overrideRent": 2500.0},
		},
	})
	require.NoError(t, err)

	require.NoError(t, f.bills.RebuildMonth(ctx, "2024-03"))

	byID := map[string]model.Record{}
	for _, line := range f.ledger.BillLines(ctx) {
		byID[line.Str("billLineId")] = line
	}
	assert.Equal(t, 4200.0, byID[bills.BillLineID("2024-03", "t1")].Num("rentAmount"))
	assert.Equal(t, 2500.0, byID[bills.BillLineID("2024-03", "t2")].Num("rentAmount"))
}

func TestRebuildMonth_NegativeConsumptionClampedToZero(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.seedTenancy(t, "1", "A Wing", 1000)

	_, err := f.ledger.SaveBillingRecord(ctx, model.Record{
		"monthKey":        "2024-03",
		"wing":            "A Wing",
		"electricityRate": 10.0,
		"readings": []any{
			// Meter replacement: new reading below the previous one.
			map[string]any{"tenancyId": "t1", "prevReading": 900.0, "newReading": 15.0},
		},
	})
	require.NoError(t, err)

	require.NoError(t, f.bills.RebuildMonth(ctx, "2024-03"))

	lines := f.ledger.BillLines(ctx)
	require.Len(t, lines, 1)
	assert.Equal(t, 0.0, lines[0].Num("electricityAmount"))
}

func TestRebuildMonth_ExcludedReadingProducesNoLine(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.seedTenancy(t, "1", "A Wing", 1000)
	f.seedTenancy(t, "2", "A Wing", 1000)

	_, err := f.ledger.SaveBillingRecord(ctx, model.Record{
		"monthKey": "2024-03",
		"wing":     "A Wing",
		"readings": []any{
			map[string]any{"tenancyId": "t1", "included": true},
			map[string]any{"tenancyId": "t2", "included": false},
		},
	})
	require.NoError(t, err)

	require.NoError(t, f.bills.RebuildMonth(ctx, "2024-03"))

	lines := f.ledger.BillLines(ctx)
	require.Len(t, lines, 1)
	assert.Equal(t, "t1", lines[0].Str("tenancyId"))
}

func TestRebuildMonth_ScopedToOneMonth(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.seedTenancy(t, "1", "A Wing", 1000)

	for _, month := range []string{"2024-02", "2024-03"} {
		_, err := f.ledger.SaveBillingRecord(ctx, model.Record{
			"monthKey": month,
			"wing":     "A Wing",
			"readings": []any{map[string]any{"tenancyId": "t1"}},
		})
		require.NoError(t, err)
		require.NoError(t, f.bills.RebuildMonth(ctx, month))
	}
	require.Len(t, f.ledger.BillLines(ctx), 2)

	// Rebuilding March again must not touch February, nor duplicate lines.
	require.NoError(t, f.bills.RebuildMonth(ctx, "2024-03"))
	require.NoError(t, f.bills.RebuildMonth(ctx, "2024-03"))

	lines := f.ledger.BillLines(ctx)
	require.Len(t, lines, 2)
	months := map[string]int{}
	for _, line := range lines {
		months[line.Str("monthKey")]++
	}
	assert.Equal(t, map[string]int{"2024-02": 1, "2024-03": 1}, months)
}

func TestRebuildTenancyMonth_LeavesSiblingsAlone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.seedTenancy(t, "1", "A Wing", 1000)
	f.seedTenancy(t, "2", "A Wing", 2000)

	_, err := f.ledger.SaveBillingRecord(ctx, model.Record{
		"monthKey": "2024-03",
		"wing":     "A Wing",
		"readings": []any{
			map[string]any{"tenancyId": "t1"},
			map[string]any{"tenancyId": "t2"},
		},
	})
	require.NoError(t, err)
	require.NoError(t, f.bills.RebuildMonth(ctx, "2024-03"))

	_, _, err = f.ledger.SavePayment(ctx, model.Record{
		"billLineId": bills.BillLineID("2024-03", "t1"),
		"amount":     1000.0,
	})
	require.NoError(t, err)

	require.NoError(t, f.bills.RebuildTenancyMonth(ctx, "2024-03", "t1"))

	byID := map[string]model.Record{}
	for _, line := range f.ledger.BillLines(ctx) {
		byID[line.Str("billLineId")] = line
	}
	require.Len(t, byID, 2)
	assert.True(t, byID[bills.BillLineID("2024-03", "t1")].Bool("isPaid"))
	assert.False(t, byID[bills.BillLineID("2024-03", "t2")].Bool("isPaid"))
}

func TestRebuild_PaymentsSummedNotIncremented(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.seedTenancy(t, "1", "A Wing", 1000)
	_, err := f.ledger.SaveBillingRecord(ctx, model.Record{
		"monthKey": "2024-03",
		"wing":     "A Wing",
		"readings": []any{map[string]any{"tenancyId": "t1"}},
	})
	require.NoError(t, err)

	lineID := bills.BillLineID("2024-03", "t1")
	_, _, err = f.ledger.SavePayment(ctx, model.Record{"id": "p1", "billLineId": lineID, "amount": 400.0})
	require.NoError(t, err)
	_, _, err = f.ledger.SavePayment(ctx, model.Record{"id": "p2", "billLineId": lineID, "amount": 600.0})
	require.NoError(t, err)

	// Replayed rebuilds converge on the same summed amount.
	for i := 0; i < 3; i++ {
		require.NoError(t, f.bills.RebuildMonth(ctx, "2024-03"))
	}

	lines := f.ledger.BillLines(ctx)
	require.Len(t, lines, 1)
	assert.Equal(t, 1000.0, lines[0].Num("amountPaid"))
	assert.True(t, lines[0].Bool("isPaid"))
	assert.Equal(t, 0.0, lines[0].Num("remainingAmount"))
}
