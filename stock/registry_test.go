package stock_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safebar/stockledger/stock"
	"github.com/safebar/stockledger/stock/store"
)

func newTestRegistry(t *testing.T) *stock.Registry {
	backend := store.NewMemory()
	t.Cleanup(func() { backend.Close() })
	return stock.NewRegistry(backend)
}

func TestRegistry_Add_DefaultsCategory(t *testing.T) {
	reg := newTestRegistry(t)

	item, err := reg.Add(context.Background(), manager, stock.NewItem{Name: "  Rock Boom ", UnitPrice: 3000})
	require.NoError(t, err)
	assert.Equal(t, "Rock Boom", item.Name)
	assert.Equal(t, stock.DefaultCategory, item.Category)
	assert.True(t, item.Active)
	assert.NotZero(t, item.ID)
}

func TestRegistry_Add_ActiveDuplicateConflicts(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	first, err := reg.Add(ctx, manager, stock.NewItem{Name: "Black Label", Category: "Spirits", UnitPrice: 10000})
	require.NoError(t, err)

	_, err = reg.Add(ctx, manager, stock.NewItem{Name: "Black Label", Category: "Spirits", UnitPrice: 12000})
	var conflict *stock.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, first.ID, conflict.ItemID)
	assert.Equal(t, stock.KindConflict, stock.KindOf(err))
}

func TestRegistry_Add_ReactivatesInactive(t *testing.T) {
	// GIVEN: "Red Label" was removed
	// WHEN: A manager adds "Red Label" again with a new price
	// THEN: The same item comes back active with the new price

	reg := newTestRegistry(t)
	ctx := context.Background()

	original, err := reg.Add(ctx, manager, stock.NewItem{Name: "Red Label", Category: "Spirits", UnitPrice: 8000})
	require.NoError(t, err)
	require.NoError(t, reg.Remove(ctx, manager, original.ID))

	active, err := reg.List(ctx, false)
	require.NoError(t, err)
	assert.Empty(t, active)

	back, err := reg.Add(ctx, manager, stock.NewItem{Name: "Red Label", Category: "Spirits", UnitPrice: 9000})
	require.NoError(t, err)
	assert.Equal(t, original.ID, back.ID)
	assert.Equal(t, stock.Money(9000), back.UnitPrice)
	assert.True(t, back.Active)

	all, err := reg.List(ctx, true)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestRegistry_MutationsRequireManager(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()
	supervisor := stock.Actor{Name: "Ann", Role: stock.RoleSupervisor}

	_, err := reg.Add(ctx, supervisor, stock.NewItem{Name: "Tequila Shot", UnitPrice: 8000})
	assert.ErrorIs(t, err, stock.ErrUnauthorized)

	item, err := reg.Add(ctx, manager, stock.NewItem{Name: "Tequila Shot", UnitPrice: 8000})
	require.NoError(t, err)

	_, err = reg.Update(ctx, supervisor, item.ID, stock.NewItem{Name: "Tequila Shot", UnitPrice: 9000})
	assert.ErrorIs(t, err, stock.ErrUnauthorized)
	assert.ErrorIs(t, reg.Remove(ctx, supervisor, item.ID), stock.ErrUnauthorized)
}

func TestRegistry_Update(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	a, err := reg.Add(ctx, manager, stock.NewItem{Name: "Pilsner", Category: "Beers", UnitPrice: 10000})
	require.NoError(t, err)
	_, err = reg.Add(ctx, manager, stock.NewItem{Name: "Heineken", Category: "Beers", UnitPrice: 10000})
	require.NoError(t, err)

	updated, err := reg.Update(ctx, manager, a.ID, stock.NewItem{Name: "Pilsner", Category: "Beers", UnitPrice: 11000})
	require.NoError(t, err)
	assert.Equal(t, stock.Money(11000), updated.UnitPrice)

	_, err = reg.Update(ctx, manager, a.ID, stock.NewItem{Name: "Heineken", Category: "Beers", UnitPrice: 11000})
	assert.ErrorIs(t, err, stock.ErrConflict)

	_, err = reg.Update(ctx, manager, 999, stock.NewItem{Name: "Ghost", UnitPrice: 1})
	assert.ErrorIs(t, err, stock.ErrItemNotFound)
}

func TestRegistry_Add_Validation(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	_, err := reg.Add(ctx, manager, stock.NewItem{Name: " "})
	assert.ErrorIs(t, err, stock.ErrValidation)

	_, err = reg.Add(ctx, manager, stock.NewItem{Name: "Refund", UnitPrice: -1})
	assert.ErrorIs(t, err, stock.ErrValidation)
}

func TestRegistry_ByCategory(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	for _, n := range []stock.NewItem{
		{Name: "Smirnoff Vodka", Category: "Spirits", UnitPrice: 8000},
		{Name: "Club", Category: "Beers", UnitPrice: 10000},
		{Name: "Baileys", Category: "Spirits", UnitPrice: 10000},
		{Name: "Bell", Category: "Beers", UnitPrice: 10000},
	} {
		_, err := reg.Add(ctx, manager, n)
		require.NoError(t, err)
	}

	groups, err := reg.ByCategory(ctx)
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Equal(t, "Beers", groups[0].Category)
	assert.Equal(t, "Bell", groups[0].Items[0].Name)
	assert.Equal(t, "Spirits", groups[1].Category)
	assert.Equal(t, "Baileys", groups[1].Items[0].Name)
}
