package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/safebar/stockledger/stock"
)

func TestParseDay(t *testing.T) {
	assert.Equal(t, "2025-08-03", parseDay("2025-08-03").String())
	assert.Equal(t, "2025-08-03", parseDay("2025-08-03T00:00:00Z").String())
	assert.Equal(t, "2025-08-03", parseDay("2025-08-03 00:00:00 +0000 UTC").String())
	assert.True(t, parseDay("garbage").IsZero())
}

func TestEntryMapping(t *testing.T) {
	e := stock.Entry{
		Day: stock.MustParseBusinessDay("2025-08-02"), ItemID: 7,
		Opening: 10, Received: 5, Damaged: 2, Closing: 3, Sold: 10,
		UpdatedAt: time.Date(2025, 8, 2, 23, 0, 0, 0, time.UTC),
	}
	assert.Equal(t, e, toEntryModel(e).toEntry())
}

// newIntegrationStore connects to POSTGRES_TEST_DSN, or skips.
func newIntegrationStore(t *testing.T) *Store {
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set")
	}
	s, err := Open(dsn, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() {
		s.db.Exec("TRUNCATE entry_corrections, stock_entries, daily_reports, inventory RESTART IDENTITY CASCADE")
		s.Close()
	})
	return s
}

func TestIntegration_UpsertAndRollover(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()

	item, err := s.CreateItem(ctx, stock.Item{Name: "Nile Special", Category: "Beers", UnitPrice: 10000, Active: true})
	require.NoError(t, err)

	_, err = s.CreateItem(ctx, stock.Item{Name: "Nile Special", Category: "Beers", Active: true})
	assert.ErrorIs(t, err, stock.ErrConflict)

	ledger := stock.NewLedger(s)
	aug1 := stock.MustParseBusinessDay("2025-08-01")
	opening := int64(10)
	_, err = ledger.RecordEntry(ctx, stock.EntryInput{Day: aug1, ItemID: item.ID, Opening: &opening, Closing: 4})
	require.NoError(t, err)
	_, err = ledger.RecordEntry(ctx, stock.EntryInput{Day: aug1, ItemID: item.ID, Opening: &opening, Closing: 3})
	require.NoError(t, err)

	views, err := s.EntriesForDay(ctx, aug1)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, int64(7), views[0].Sold)
	assert.Equal(t, "Nile Special", views[0].Name)

	entry, err := ledger.RecordEntry(ctx, stock.EntryInput{Day: aug1.AddDays(1), ItemID: item.ID, Closing: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(3), entry.Opening)
}
