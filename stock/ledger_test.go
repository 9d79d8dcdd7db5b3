package stock_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safebar/stockledger/stock"
	"github.com/safebar/stockledger/stock/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var manager = stock.Actor{Name: "Grace", Role: stock.RoleManager}

func newTestLedger(t *testing.T, opts ...stock.LedgerOption) (*stock.Ledger, *store.Memory) {
	backend := store.NewMemory()
	t.Cleanup(func() { backend.Close() })
	return stock.NewLedger(backend, opts...), backend
}

func addItem(t *testing.T, backend *store.Memory, name, category string, price stock.Money) stock.Item {
	item, err := stock.NewRegistry(backend).Add(context.Background(), manager, stock.NewItem{
		Name: name, Category: category, UnitPrice: price,
	})
	require.NoError(t, err)
	return item
}

func ptr(v int64) *int64 { return &v }

// =============================================================================
// SOLD RECOMPUTATION
// =============================================================================

func TestRecordEntry_SoldIsRecomputed(t *testing.T) {
	// GIVEN: A client that sends sold = 999
	// WHEN: Recording opening 10, received 5, damaged 2, closing 3
	// THEN: The stored sold is 10 + 5 - 2 - 3 = 10

	ledger, backend := newTestLedger(t)
	ctx := context.Background()
	beer := addItem(t, backend, "Nile Special", "Beers", 10000)
	day := stock.MustParseBusinessDay("2025-08-01")

	entry, err := ledger.RecordEntry(ctx, stock.EntryInput{
		Day: day, ItemID: beer.ID, Opening: ptr(10), Received: 5, Damaged: 2, Closing: 3, Sold: ptr(999),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(10), entry.Sold)

	stored, err := backend.GetEntry(ctx, day, beer.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, int64(10), stored.Sold)
}

func TestRecordEntry_NegativeSoldIsStored(t *testing.T) {
	// GIVEN: Counts that do not reconcile (closing above what was available)
	// WHEN: Recording them
	// THEN: The negative sold is kept so the variance shows up in reports

	ledger, backend := newTestLedger(t)
	beer := addItem(t, backend, "Club", "Beers", 10000)

	entry, err := ledger.RecordEntry(context.Background(), stock.EntryInput{
		Day: stock.MustParseBusinessDay("2025-08-01"), ItemID: beer.ID, Opening: ptr(2), Closing: 5,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(-3), entry.Sold)
}

// =============================================================================
// UNIQUENESS AND OVERWRITE
// =============================================================================

func TestRecordEntry_Idempotent(t *testing.T) {
	ledger, backend := newTestLedger(t)
	ctx := context.Background()
	beer := addItem(t, backend, "Guinness", "Beers", 10000)
	day := stock.MustParseBusinessDay("2025-08-01")
	in := stock.EntryInput{Day: day, ItemID: beer.ID, Opening: ptr(20), Received: 4, Closing: 6}

	_, err := ledger.RecordEntry(ctx, in)
	require.NoError(t, err)
	_, err = ledger.RecordEntry(ctx, in)
	require.NoError(t, err)

	views, err := ledger.EntriesForDay(ctx, day)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, int64(18), views[0].Sold)
}

func TestRecordEntry_OverwriteReplacesEveryField(t *testing.T) {
	// GIVEN: An entry for (day, item)
	// WHEN: The same key is recorded with different counts
	// THEN: One row remains, holding only the second submission

	ledger, backend := newTestLedger(t)
	ctx := context.Background()
	beer := addItem(t, backend, "Tusker Lite", "Beers", 10000)
	day := stock.MustParseBusinessDay("2025-08-01")

	_, err := ledger.RecordEntry(ctx, stock.EntryInput{Day: day, ItemID: beer.ID, Opening: ptr(10), Received: 5, Damaged: 1, Closing: 4})
	require.NoError(t, err)
	_, err = ledger.RecordEntry(ctx, stock.EntryInput{Day: day, ItemID: beer.ID, Opening: ptr(8), Received: 0, Damaged: 0, Closing: 8})
	require.NoError(t, err)

	views, err := ledger.EntriesForDay(ctx, day)
	require.NoError(t, err)
	require.Len(t, views, 1)
	got := views[0]
	assert.Equal(t, int64(8), got.Opening)
	assert.Equal(t, int64(0), got.Received)
	assert.Equal(t, int64(0), got.Damaged)
	assert.Equal(t, int64(8), got.Closing)
	assert.Equal(t, int64(0), got.Sold)
}

func TestRecordEntry_ConcurrentSameKey_SingleRow(t *testing.T) {
	ledger, backend := newTestLedger(t)
	ctx := context.Background()
	beer := addItem(t, backend, "Bell", "Beers", 10000)
	day := stock.MustParseBusinessDay("2025-08-01")

	var wg sync.WaitGroup
	for i := int64(0); i < 20; i++ {
		wg.Add(1)
		go func(closing int64) {
			defer wg.Done()
			_, err := ledger.RecordEntry(ctx, stock.EntryInput{Day: day, ItemID: beer.ID, Opening: ptr(50), Closing: closing})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	views, err := ledger.EntriesForDay(ctx, day)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, int64(50)-views[0].Closing, views[0].Sold, "row must hold one caller's full set of values")
}

// =============================================================================
// VALIDATION
// =============================================================================

func TestRecordEntry_Validation(t *testing.T) {
	ledger, backend := newTestLedger(t)
	ctx := context.Background()
	beer := addItem(t, backend, "Castle Lite", "Beers", 10000)
	day := stock.MustParseBusinessDay("2025-08-01")

	tests := []struct {
		name  string
		in    stock.EntryInput
		field string
	}{
		{"missing day", stock.EntryInput{ItemID: beer.ID}, "day"},
		{"missing item", stock.EntryInput{Day: day}, "item_id"},
		{"unknown item", stock.EntryInput{Day: day, ItemID: 404}, "item_id"},
		{"negative received", stock.EntryInput{Day: day, ItemID: beer.ID, Received: -1}, "received"},
		{"negative damaged", stock.EntryInput{Day: day, ItemID: beer.ID, Damaged: -1}, "damaged"},
		{"negative closing", stock.EntryInput{Day: day, ItemID: beer.ID, Closing: -1}, "closing"},
		{"negative opening", stock.EntryInput{Day: day, ItemID: beer.ID, Opening: ptr(-1)}, "opening"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ledger.RecordEntry(ctx, tt.in)
			require.Error(t, err)
			assert.True(t, errors.Is(err, stock.ErrValidation))
			var verr *stock.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}

	views, err := ledger.EntriesForDay(ctx, day)
	require.NoError(t, err)
	assert.Empty(t, views, "rejected input must not be stored")
}

func TestRecordEntry_InactiveItemAllowed(t *testing.T) {
	ledger, backend := newTestLedger(t)
	ctx := context.Background()
	beer := addItem(t, backend, "Smirnoff Ice Red", "Sodas", 6000)
	require.NoError(t, stock.NewRegistry(backend).Remove(ctx, manager, beer.ID))

	_, err := ledger.RecordEntry(ctx, stock.EntryInput{
		Day: stock.MustParseBusinessDay("2025-08-01"), ItemID: beer.ID, Opening: ptr(3), Closing: 1,
	})
	assert.NoError(t, err)
}

// =============================================================================
// ROLLOVER
// =============================================================================

func TestRecordEntry_OmittedOpeningIsCarriedOver(t *testing.T) {
	// GIVEN: Closing 12 on Aug 1
	// WHEN: Recording Aug 2 without an opening
	// THEN: Opening is 12

	ledger, backend := newTestLedger(t)
	ctx := context.Background()
	soda := addItem(t, backend, "Coke", "Sodas", 4000)

	_, err := ledger.RecordEntry(ctx, stock.EntryInput{Day: stock.MustParseBusinessDay("2025-08-01"), ItemID: soda.ID, Opening: ptr(20), Closing: 12})
	require.NoError(t, err)

	entry, err := ledger.RecordEntry(ctx, stock.EntryInput{Day: stock.MustParseBusinessDay("2025-08-02"), ItemID: soda.ID, Received: 6, Closing: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(12), entry.Opening)
	assert.Equal(t, int64(8), entry.Sold)
}

func TestRecordEntry_ResubmitDoesNotRollOwnClosing(t *testing.T) {
	// GIVEN: Aug 2 already recorded with closing 4
	// WHEN: Aug 2 is re-submitted without an opening
	// THEN: Opening still comes from Aug 1, not from Aug 2's own closing

	ledger, backend := newTestLedger(t)
	ctx := context.Background()
	soda := addItem(t, backend, "Fanta", "Sodas", 4000)
	aug1 := stock.MustParseBusinessDay("2025-08-01")
	aug2 := aug1.AddDays(1)

	_, err := ledger.RecordEntry(ctx, stock.EntryInput{Day: aug1, ItemID: soda.ID, Opening: ptr(10), Closing: 7})
	require.NoError(t, err)
	_, err = ledger.RecordEntry(ctx, stock.EntryInput{Day: aug2, ItemID: soda.ID, Closing: 4})
	require.NoError(t, err)

	entry, err := ledger.RecordEntry(ctx, stock.EntryInput{Day: aug2, ItemID: soda.ID, Closing: 5})
	require.NoError(t, err)
	assert.Equal(t, int64(7), entry.Opening)
}

func TestRecordEntry_LenientAcceptsDivergentOpening(t *testing.T) {
	ledger, backend := newTestLedger(t)
	ctx := context.Background()
	soda := addItem(t, backend, "Sprite", "Sodas", 4000)
	aug1 := stock.MustParseBusinessDay("2025-08-01")

	_, err := ledger.RecordEntry(ctx, stock.EntryInput{Day: aug1, ItemID: soda.ID, Opening: ptr(10), Closing: 7})
	require.NoError(t, err)

	entry, err := ledger.RecordEntry(ctx, stock.EntryInput{Day: aug1.AddDays(1), ItemID: soda.ID, Opening: ptr(9), Closing: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(9), entry.Opening)
}

func TestRecordEntry_StrictRejectsDivergentOpening(t *testing.T) {
	// GIVEN: Strict rollover and closing 7 on Aug 1
	// WHEN: Aug 2 is submitted with opening 9
	// THEN: ValidationError on "opening"; the correction path still works

	ledger, backend := newTestLedger(t, stock.WithRolloverMode(stock.RolloverStrict))
	ctx := context.Background()
	soda := addItem(t, backend, "Stoney", "Sodas", 4000)
	aug1 := stock.MustParseBusinessDay("2025-08-01")
	aug2 := aug1.AddDays(1)

	_, err := ledger.RecordEntry(ctx, stock.EntryInput{Day: aug1, ItemID: soda.ID, Opening: ptr(0), Received: 10, Closing: 7})
	require.NoError(t, err)

	_, err = ledger.RecordEntry(ctx, stock.EntryInput{Day: aug2, ItemID: soda.ID, Opening: ptr(9), Closing: 2})
	var verr *stock.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "opening", verr.Field)

	entry, err := ledger.RecordEntry(ctx, stock.EntryInput{Day: aug2, ItemID: soda.ID, Opening: ptr(7), Closing: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(5), entry.Sold)

	entry, corr, err := ledger.CorrectEntry(ctx, manager, stock.EntryInput{Day: aug2, ItemID: soda.ID, Opening: ptr(9), Closing: 2}, "recount found 2 extra")
	require.NoError(t, err)
	assert.Equal(t, int64(9), entry.Opening)
	assert.Equal(t, int64(7), corr.PreviousOpening)
}

func TestLastClosing(t *testing.T) {
	ledger, backend := newTestLedger(t)
	ctx := context.Background()
	spirit := addItem(t, backend, "Uganda Waragi", "Spirits", 8000)

	closing, err := ledger.LastClosing(ctx, spirit.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), closing, "never recorded")

	// Out of order: the latest day wins, not the latest write
	_, err = ledger.RecordEntry(ctx, stock.EntryInput{Day: stock.MustParseBusinessDay("2025-08-05"), ItemID: spirit.ID, Opening: ptr(9), Closing: 6})
	require.NoError(t, err)
	_, err = ledger.RecordEntry(ctx, stock.EntryInput{Day: stock.MustParseBusinessDay("2025-08-03"), ItemID: spirit.ID, Opening: ptr(9), Closing: 1})
	require.NoError(t, err)

	closing, err = ledger.LastClosing(ctx, spirit.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(6), closing)

	closing, err = ledger.ClosingBefore(ctx, spirit.ID, stock.MustParseBusinessDay("2025-08-05"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), closing)
}

func TestLatestDay(t *testing.T) {
	ledger, backend := newTestLedger(t)
	ctx := context.Background()
	spirit := addItem(t, backend, "Uganda Waragi", "Spirits", 8000)

	day, err := ledger.LatestDay(ctx, spirit.ID)
	require.NoError(t, err)
	assert.Equal(t, stock.BusinessDay{}, day, "never recorded")

	for _, d := range []string{"2025-08-05", "2025-08-03"} {
		_, err = ledger.RecordEntry(ctx, stock.EntryInput{Day: stock.MustParseBusinessDay(d), ItemID: spirit.ID, Opening: ptr(9), Closing: 6})
		require.NoError(t, err)
	}

	day, err = ledger.LatestDay(ctx, spirit.ID)
	require.NoError(t, err)
	assert.Equal(t, "2025-08-05", day.String())
}

// =============================================================================
// CORRECTIONS
// =============================================================================

func TestCorrectEntry_Gating(t *testing.T) {
	ledger, backend := newTestLedger(t)
	ctx := context.Background()
	spirit := addItem(t, backend, "Baileys", "Spirits", 10000)
	day := stock.MustParseBusinessDay("2025-08-01")
	in := stock.EntryInput{Day: day, ItemID: spirit.ID, Opening: ptr(4), Closing: 1}

	_, _, err := ledger.CorrectEntry(ctx, stock.Actor{Name: "Tom", Role: stock.RoleBarstaff}, in, "recount")
	assert.ErrorIs(t, err, stock.ErrUnauthorized)

	_, _, err = ledger.CorrectEntry(ctx, manager, in, "   ")
	var verr *stock.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "note", verr.Field)

	_, _, err = ledger.CorrectEntry(ctx, manager, stock.EntryInput{Day: day, ItemID: spirit.ID, Closing: 1}, "recount")
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "opening", verr.Field)

	supervisor := stock.Actor{Name: "Ann", Role: stock.RoleSupervisor}
	_, corr, err := ledger.CorrectEntry(ctx, supervisor, in, "recount")
	require.NoError(t, err)
	assert.NotEmpty(t, corr.ID)
	assert.Equal(t, "Ann", corr.Actor)

	list, err := ledger.Corrections(ctx, day)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "recount", list[0].Note)
}

// =============================================================================
// OPENING CACHE
// =============================================================================

type mapCache map[stock.ItemID]int64

func (c mapCache) Opening(id stock.ItemID) (int64, bool) {
	v, ok := c[id]
	return v, ok
}

func (c mapCache) Remember(id stock.ItemID, v int64) { c[id] = v }

func (c mapCache) Invalidate(id stock.ItemID) { delete(c, id) }

func TestResolver_CacheIsReadThroughAndInvalidated(t *testing.T) {
	cache := mapCache{}
	ledger, backend := newTestLedger(t, stock.WithOpeningCache(cache))
	ctx := context.Background()
	spirit := addItem(t, backend, "Amarula", "Spirits", 8000)

	_, err := ledger.RecordEntry(ctx, stock.EntryInput{Day: stock.MustParseBusinessDay("2025-08-01"), ItemID: spirit.ID, Opening: ptr(5), Closing: 3})
	require.NoError(t, err)
	_, cached := cache[spirit.ID]
	assert.False(t, cached, "recording invalidates the item")

	opening, err := ledger.Resolver().ExpectedOpening(ctx, spirit.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), opening)
	assert.Equal(t, int64(3), cache[spirit.ID])

	_, err = ledger.RecordEntry(ctx, stock.EntryInput{Day: stock.MustParseBusinessDay("2025-08-02"), ItemID: spirit.ID, Closing: 1})
	require.NoError(t, err)

	opening, err = ledger.Resolver().ExpectedOpening(ctx, spirit.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), opening, "stale cache must not survive a new entry")
}

func TestParseRolloverMode(t *testing.T) {
	m, err := stock.ParseRolloverMode("")
	require.NoError(t, err)
	assert.Equal(t, stock.RolloverLenient, m)

	m, err = stock.ParseRolloverMode("strict")
	require.NoError(t, err)
	assert.Equal(t, stock.RolloverStrict, m)

	_, err = stock.ParseRolloverMode("loose")
	assert.Error(t, err)
}
