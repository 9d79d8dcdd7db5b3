package report_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/safebar/stockledger/report"
	"github.com/safebar/stockledger/snapshot"
	"github.com/safebar/stockledger/stock"
	"github.com/safebar/stockledger/stock/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var manager = stock.Actor{Name: "Grace", Role: stock.RoleManager}

type fixture struct {
	backend  *store.Memory
	registry *stock.Registry
	ledger   *stock.Ledger
	cache    *snapshot.FileCache
	dir      string
}

func newFixture(t *testing.T) *fixture {
	backend := store.NewMemory()
	t.Cleanup(func() { backend.Close() })

	dir := t.TempDir()
	cache, err := snapshot.Open(filepath.Join(dir, "stock_data.json"), filepath.Join(dir, "stock_backups"))
	require.NoError(t, err)

	return &fixture{
		backend:  backend,
		registry: stock.NewRegistry(backend),
		ledger:   stock.NewLedger(backend, stock.WithOpeningCache(cache)),
		cache:    cache,
		dir:      dir,
	}
}

func (f *fixture) service(d report.Dispatcher, opts ...report.AggregatorOption) *report.Service {
	agg := report.NewAggregator(f.backend, opts...)
	sink := report.NewSink(report.ExcelRenderer{Title: "Yellow Haven"}, d, f.cache, filepath.Join(f.dir, "daily_report"))
	return report.NewService(f.ledger, agg, sink)
}

func (f *fixture) add(t *testing.T, name, category string, price stock.Money) stock.Item {
	item, err := f.registry.Add(context.Background(), manager, stock.NewItem{Name: name, Category: category, UnitPrice: price})
	require.NoError(t, err)
	return item
}

func (f *fixture) record(t *testing.T, day stock.BusinessDay, id stock.ItemID, opening, received, damaged, closing int64) {
	_, err := f.ledger.RecordEntry(context.Background(), stock.EntryInput{
		Day: day, ItemID: id, Opening: &opening, Received: received, Damaged: damaged, Closing: closing,
	})
	require.NoError(t, err)
}

// recordingDispatcher keeps what it was asked to send, or fails with err.
type recordingDispatcher struct {
	sent []report.Artifact
	err  error
}

func (d *recordingDispatcher) Send(_ context.Context, art report.Artifact, _ report.DailyReport) error {
	if d.err != nil {
		return d.err
	}
	d.sent = append(d.sent, art)
	return nil
}

func view(day stock.BusinessDay, id stock.ItemID, name string, sold int64, price stock.Money) stock.EntryView {
	return stock.EntryView{
		Entry:     stock.Entry{Day: day, ItemID: id, Sold: sold},
		Name:      name,
		Category:  "Beers",
		UnitPrice: price,
	}
}

var aug3 = stock.MustParseBusinessDay("2025-08-03")

// =============================================================================
// BUILD
// =============================================================================

func TestBuild_TotalSales(t *testing.T) {
	agg := report.NewAggregator(store.NewMemory())

	rep, err := agg.Build(aug3, "TestUser", []stock.EntryView{
		view(aug3, 1, "Test Beer", 10, 10000),
		view(aug3, 2, "Test Soda", 24, 4000),
	}, "", nil)
	require.NoError(t, err)

	assert.Equal(t, stock.Money(196000), rep.TotalSales)
	assert.Equal(t, stock.Money(196000), rep.Payload.GrossSales)
	require.Len(t, rep.Payload.Lines, 2)
	assert.Equal(t, stock.Money(100000), rep.Payload.Lines[0].LineTotal)
	assert.Equal(t, report.DrinksSeparate, rep.Payload.DrinksPolicy)
}

func TestBuild_DrinksPolicies(t *testing.T) {
	entries := []stock.EntryView{
		view(aug3, 1, "Test Beer", 10, 10000),
		view(aug3, 2, "Test Soda", 24, 4000),
	}
	drinks := []report.ManagerDrink{{Item: "Glenlivet Shots", Quantity: 1, Type: "Director", Amount: 15000}}

	tests := []struct {
		policy report.DrinksPolicy
		total  stock.Money
	}{
		{report.DrinksSeparate, 196000},
		{report.DrinksDeduct, 181000},
	}
	for _, tt := range tests {
		t.Run(string(tt.policy), func(t *testing.T) {
			agg := report.NewAggregator(store.NewMemory(), report.WithDrinksPolicy(tt.policy))
			rep, err := agg.Build(aug3, "TestUser", entries, "", drinks)
			require.NoError(t, err)
			assert.Equal(t, tt.total, rep.TotalSales)
			assert.Equal(t, stock.Money(196000), rep.Payload.GrossSales)
			assert.Equal(t, stock.Money(15000), rep.Payload.DrinksValue)
		})
	}
}

func TestBuild_Validation(t *testing.T) {
	agg := report.NewAggregator(store.NewMemory())
	entries := []stock.EntryView{view(aug3, 1, "Test Beer", 10, 10000)}

	tests := []struct {
		name   string
		day    stock.BusinessDay
		staff  string
		drinks []report.ManagerDrink
		field  string
	}{
		{"missing day", stock.BusinessDay{}, "TestUser", nil, "day"},
		{"blank staff", aug3, "   ", nil, "staff_name"},
		{"drink without item", aug3, "TestUser", []report.ManagerDrink{{Quantity: 1}}, "manager_drinks[0].item"},
		{"negative drink quantity", aug3, "TestUser", []report.ManagerDrink{{Item: "Club", Quantity: -1}}, "manager_drinks[0].quantity"},
		{"negative drink amount", aug3, "TestUser", []report.ManagerDrink{{Item: "Club", Amount: -5}}, "manager_drinks[0].amount"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := agg.Build(tt.day, tt.staff, entries, "", tt.drinks)
			var verr *stock.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestBuild_RejectsEntriesFromAnotherDay(t *testing.T) {
	agg := report.NewAggregator(store.NewMemory())
	_, err := agg.Build(aug3, "TestUser", []stock.EntryView{view(aug3.AddDays(-1), 1, "Club", 1, 1)}, "", nil)
	assert.ErrorIs(t, err, stock.ErrValidation)
}

func TestParseDrinksPolicy(t *testing.T) {
	p, err := report.ParseDrinksPolicy("")
	require.NoError(t, err)
	assert.Equal(t, report.DrinksSeparate, p)

	p, err = report.ParseDrinksPolicy("Deduct")
	require.NoError(t, err)
	assert.Equal(t, report.DrinksDeduct, p)

	_, err = report.ParseDrinksPolicy("ignore")
	assert.Error(t, err)
}

// =============================================================================
// PERSISTENCE
// =============================================================================

func TestPersist_PriceCapturedByValue(t *testing.T) {
	// GIVEN: A persisted report that captured Test Beer at 10000
	// WHEN: The item's price is changed to 12000
	// THEN: Re-reading the report still shows 10000 and the same total

	f := newFixture(t)
	ctx := context.Background()
	beer := f.add(t, "Test Beer", "Beers", 10000)
	f.record(t, aug3, beer.ID, 10, 5, 2, 3)

	agg := report.NewAggregator(f.backend)
	entries, err := f.ledger.EntriesForDay(ctx, aug3)
	require.NoError(t, err)
	rep, err := agg.Build(aug3, "TestUser", entries, "", nil)
	require.NoError(t, err)
	id, err := agg.Persist(ctx, rep)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	_, err = f.registry.Update(ctx, manager, beer.ID, stock.NewItem{Name: "Test Beer", Category: "Beers", UnitPrice: 12000})
	require.NoError(t, err)

	reread, err := agg.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, stock.Money(100000), reread.TotalSales)
	assert.Equal(t, stock.Money(10000), reread.Payload.Lines[0].UnitPriceAtCapture)
}

func TestPersist_AppendOnlyPerDay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	agg := report.NewAggregator(f.backend)

	for _, staff := range []string{"Sarah", "Tom"} {
		rep, err := agg.Build(aug3, staff, nil, "", nil)
		require.NoError(t, err)
		_, err = agg.Persist(ctx, rep)
		require.NoError(t, err)
	}

	reports, err := agg.ForDay(ctx, aug3)
	require.NoError(t, err)
	require.Len(t, reports, 2)
	assert.NotEqual(t, reports[0].ID, reports[1].ID)
}

func TestGet_Unknown(t *testing.T) {
	agg := report.NewAggregator(store.NewMemory())
	_, err := agg.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, stock.ErrReportNotFound)
}

// =============================================================================
// SHIFT CLOSE
// =============================================================================

func TestCloseShift_EndToEnd(t *testing.T) {
	// GIVEN: Test Beer 10/5/2/3 and Test Soda 20/10/1/5 on 2025-08-03
	// WHEN: TestUser closes the shift
	// THEN: Sold is 10 and 24, total is 196000, the workbook is saved and
	//       mailed, and tomorrow's snapshot openings are the closings

	f := newFixture(t)
	ctx := context.Background()
	beer := f.add(t, "Test Beer", "Beers", 10000)
	soda := f.add(t, "Test Soda", "Soft Drinks", 4000)
	f.record(t, aug3, beer.ID, 10, 5, 2, 3)
	f.record(t, aug3, soda.ID, 20, 10, 1, 5)

	dispatcher := &recordingDispatcher{}
	out, err := f.service(dispatcher).CloseShift(ctx, report.CloseShiftInput{
		Day: aug3, StaffName: "TestUser", Notes: "All good",
	})
	require.NoError(t, err)

	rep := out.Report
	require.NotEmpty(t, rep.ID)
	assert.Equal(t, stock.Money(196000), rep.TotalSales)
	require.Len(t, rep.Payload.Lines, 2)
	assert.Equal(t, int64(10), rep.Payload.Lines[0].Sold)
	assert.Equal(t, int64(24), rep.Payload.Lines[1].Sold)

	assert.True(t, out.Delivered)
	assert.True(t, out.SnapshotRolled)
	require.Len(t, dispatcher.sent, 1)
	assert.Equal(t, "Stock_Report_2025-08-03.xlsx", dispatcher.sent[0].Name)

	assert.Equal(t, "Stock_Report_2025-08-03.xlsx", filepath.Base(out.ArtifactPath))
	_, err = os.Stat(out.ArtifactPath)
	require.NoError(t, err)

	opening, ok := f.cache.Opening(soda.ID)
	require.True(t, ok)
	assert.Equal(t, int64(5), opening)

	expected, err := f.ledger.Resolver().ExpectedOpening(ctx, beer.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), expected)
}

func TestCloseShift_ReclosingOldDayKeepsLaterOpenings(t *testing.T) {
	// GIVEN: 2025-08-03 closed, then Test Beer counted again on 2025-08-04
	// WHEN: 2025-08-03 is closed a second time
	// THEN: Test Beer's expected opening is still its 2025-08-04 closing,
	//       while Test Soda (no later count) rolls as before

	f := newFixture(t)
	ctx := context.Background()
	beer := f.add(t, "Test Beer", "Beers", 10000)
	soda := f.add(t, "Test Soda", "Soft Drinks", 4000)
	f.record(t, aug3, beer.ID, 10, 5, 2, 3)
	f.record(t, aug3, soda.ID, 20, 10, 1, 5)

	svc := f.service(&recordingDispatcher{})
	_, err := svc.CloseShift(ctx, report.CloseShiftInput{Day: aug3, StaffName: "TestUser"})
	require.NoError(t, err)

	f.record(t, aug3.AddDays(1), beer.ID, 3, 10, 0, 9)

	out, err := svc.CloseShift(ctx, report.CloseShiftInput{Day: aug3, StaffName: "TestUser"})
	require.NoError(t, err)
	assert.True(t, out.SnapshotRolled)
	assert.Len(t, out.Report.Payload.Lines, 2)

	last, err := f.ledger.LastClosing(ctx, beer.ID)
	require.NoError(t, err)
	expected, err := f.ledger.Resolver().ExpectedOpening(ctx, beer.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(9), last)
	assert.Equal(t, last, expected)

	opening, ok := f.cache.Opening(soda.ID)
	require.True(t, ok)
	assert.Equal(t, int64(5), opening)
}

func TestCloseShift_DeliveryFailureKeepsReport(t *testing.T) {
	// GIVEN: A mail transport that is down
	// WHEN: Closing the shift
	// THEN: A DeliveryError is returned, but the report is persisted and
	//       the artifact saved, and a later redelivery succeeds

	f := newFixture(t)
	ctx := context.Background()
	beer := f.add(t, "Test Beer", "Beers", 10000)
	f.record(t, aug3, beer.ID, 10, 5, 2, 3)

	dispatcher := &recordingDispatcher{err: errors.New("smtp: connection refused")}
	svc := f.service(dispatcher)

	out, err := svc.CloseShift(ctx, report.CloseShiftInput{Day: aug3, StaffName: "TestUser"})
	require.Error(t, err)
	assert.ErrorIs(t, err, stock.ErrDelivery)
	assert.Equal(t, stock.KindDelivery, stock.KindOf(err))

	var derr *stock.DeliveryError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, report.StageDispatch, derr.Stage)
	assert.Equal(t, out.Report.ID, derr.ReportID)
	assert.False(t, out.Delivered)

	_, statErr := os.Stat(out.ArtifactPath)
	require.NoError(t, statErr)

	stored, err := svc.Aggregator().Get(ctx, out.Report.ID)
	require.NoError(t, err)
	assert.Equal(t, stock.Money(100000), stored.TotalSales)

	dispatcher.err = nil
	again, err := svc.Redeliver(ctx, out.Report.ID)
	require.NoError(t, err)
	assert.True(t, again.Delivered)
	assert.Len(t, dispatcher.sent, 1)
}

func TestCloseShift_NoDispatcher(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	out, err := f.service(nil).CloseShift(ctx, report.CloseShiftInput{Day: aug3, StaffName: "TestUser"})
	require.NoError(t, err)
	assert.False(t, out.Delivered)

	_, err = f.service(nil).Redeliver(ctx, out.Report.ID)
	assert.ErrorIs(t, err, stock.ErrDelivery)
}

func TestCloseShift_ValidationBeforePersist(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service(nil).CloseShift(ctx, report.CloseShiftInput{Day: aug3})
	assert.ErrorIs(t, err, stock.ErrValidation)

	reports, err := report.NewAggregator(f.backend).ForDay(ctx, aug3)
	require.NoError(t, err)
	assert.Empty(t, reports)
}

// =============================================================================
// SPREADSHEET
// =============================================================================

func TestExcelRenderer_Layout(t *testing.T) {
	rep := report.DailyReport{
		ID:         "r1",
		Day:        aug3,
		StaffName:  "TestUser",
		TotalSales: 196000,
		Payload: report.Payload{
			Lines: []report.Line{
				{Item: "Test Beer", Opening: 10, Received: 5, Damaged: 2, Closing: 3, Sold: 10, UnitPriceAtCapture: 10000, LineTotal: 100000},
				{Item: "Test Soda", Opening: 20, Received: 10, Damaged: 1, Closing: 5, Sold: 24, UnitPriceAtCapture: 4000, LineTotal: 96000},
			},
			ManagerDrinks: []report.ManagerDrink{{Item: "Glenlivet Shots", Quantity: 2, Type: "Director", Amount: 30000}},
			DrinksPolicy:  report.DrinksSeparate,
		},
	}

	art, err := report.ExcelRenderer{Title: "Yellow Haven"}.Render(rep)
	require.NoError(t, err)
	assert.Equal(t, "Stock_Report_2025-08-03.xlsx", art.Name)

	f, err := excelize.OpenReader(bytes.NewReader(art.Data))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(report.SheetName)
	require.NoError(t, err)

	cell := func(ref string) string {
		v, err := f.GetCellValue(report.SheetName, ref)
		require.NoError(t, err)
		return v
	}
	assert.Equal(t, "Yellow Haven", cell("A1"))
	assert.Equal(t, "Item", cell("A4"))
	assert.Equal(t, "Price", cell("G4"))
	assert.Equal(t, "Test Beer", cell("A5"))
	assert.Equal(t, "10", cell("F5"))
	assert.Equal(t, "Test Soda", cell("A6"))
	assert.Equal(t, "Date", cell("A8"))
	assert.Equal(t, "2025-08-03", cell("B8"))
	assert.Equal(t, "Barstaff", cell("A9"))
	assert.Equal(t, "Total Sales", cell("A10"))
	assert.Equal(t, "196000", cell("B10"))
	assert.Equal(t, "Drinks Taken by Manager/Director", cell("A12"))
	assert.Equal(t, "No Taken", cell("B13"))
	assert.Equal(t, "Glenlivet Shots", cell("A14"))
	assert.Equal(t, "Notes", cell("A16"))
	assert.Equal(t, "No notes provided.", cell("A17"))
	assert.Len(t, rows, 17)

	styleID, err := f.GetCellStyle(report.SheetName, "A4")
	require.NoError(t, err)
	style, err := f.GetStyle(styleID)
	require.NoError(t, err)
	require.NotNil(t, style.Font)
	assert.True(t, style.Font.Bold)
}

// =============================================================================
// OBSERVER
// =============================================================================

type countingObserver struct {
	closed int
	failed []string
}

func (o *countingObserver) ReportClosed(report.DailyReport, bool) { o.closed++ }

func (o *countingObserver) DeliveryFailed(stage string) { o.failed = append(o.failed, stage) }

func TestService_NotifiesObserver(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	obs := &countingObserver{}

	sink := report.NewSink(report.ExcelRenderer{}, &recordingDispatcher{err: errors.New("down")}, nil, "")
	svc := report.NewService(f.ledger, report.NewAggregator(f.backend, report.WithAggregatorClock(func() time.Time {
		return time.Date(2025, 8, 3, 23, 0, 0, 0, time.UTC)
	})), sink, report.WithObserver(obs))

	out, err := svc.CloseShift(ctx, report.CloseShiftInput{Day: aug3, StaffName: "TestUser"})
	require.Error(t, err)
	assert.Equal(t, time.Date(2025, 8, 3, 23, 0, 0, 0, time.UTC), out.Report.CreatedAt)
	assert.Equal(t, 0, obs.closed)
	assert.Equal(t, []string{report.StageDispatch}, obs.failed)
}
