package catalog_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safebar/stockledger/catalog"
	"github.com/safebar/stockledger/stock"
	"github.com/safebar/stockledger/stock/store"
)

func TestDefault(t *testing.T) {
	cat := catalog.Default()
	assert.Equal(t, "UGX", cat.Currency)
	require.Len(t, cat.Items, 28)
	assert.Equal(t, stock.NewItem{Name: "Nile Special", Category: "Beers", UnitPrice: 10000}, cat.Items[0])
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		json    string
		wantErr bool
	}{
		{"valid", `{"items":[{"name":"Club","category":"Beers","price":10000}]}`, false},
		{"default category", `{"items":[{"name":"Club","price":10000}]}`, false},
		{"malformed", `{"items":[`, true},
		{"missing name", `{"items":[{"name":" ","price":1}]}`, true},
		{"negative price", `{"items":[{"name":"Club","price":-1}]}`, true},
		{"duplicate", `{"items":[{"name":"Club"},{"name":"club"}]}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := catalog.Parse([]byte(tt.json))
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	cat, err := catalog.Parse([]byte(`{"items":[{"name":"Club","price":10000}]}`))
	require.NoError(t, err)
	assert.Equal(t, stock.DefaultCategory, cat.Items[0].Category)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"items":[{"name":"Club","category":"Beers","price":10000}]}`), 0o644))

	cat, err := catalog.Load(path)
	require.NoError(t, err)
	require.Len(t, cat.Items, 1)

	_, err = catalog.Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestSeed_OnlyWhenEmpty(t *testing.T) {
	// GIVEN: An empty store
	// WHEN: Seeding twice
	// THEN: The first call creates every item, the second does nothing

	ctx := context.Background()
	backend := store.NewMemory()

	n, err := catalog.Seed(ctx, backend, catalog.Default())
	require.NoError(t, err)
	assert.Equal(t, 28, n)

	n, err = catalog.Seed(ctx, backend, catalog.Default())
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	items, err := backend.ListItems(ctx, true)
	require.NoError(t, err)
	assert.Len(t, items, 28)
}

func TestSeed_SkipsStoreWithOnlyInactiveItems(t *testing.T) {
	ctx := context.Background()
	backend := store.NewMemory()
	item, err := backend.CreateItem(ctx, stock.Item{Name: "Club", Category: "Beers", Active: true})
	require.NoError(t, err)
	require.NoError(t, backend.SetItemActive(ctx, item.ID, false))

	n, err := catalog.Seed(ctx, backend, catalog.Default())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
