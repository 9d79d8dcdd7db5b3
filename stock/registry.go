/*
registry.go - Inventory items

PURPOSE:
  Items are the reference data every entry points at. The Registry gates
  mutations by role and keeps names unique among items.

RULES:
  - Only a Manager adds, edits or removes items.
  - Adding a name held by an active item is a ConflictError.
  - Adding a name held by an inactive item reactivates it with the new
    category and price instead of creating a second row.
  - Remove is a soft delete. Old entries and reports still resolve the item.
*/
package stock

import (
	"context"
	"sort"
	"strings"
)

// NewItem is the input for Registry.Add and Registry.Update.
type NewItem struct {
	Name      string
	Category  string
	UnitPrice Money
}

func (n NewItem) normalized() (NewItem, error) {
	n.Name = strings.TrimSpace(n.Name)
	n.Category = strings.TrimSpace(n.Category)
	if n.Name == "" {
		return n, Invalid("name", "is required")
	}
	if n.UnitPrice.IsNegative() {
		return n, Invalid("unit_price", "must not be negative (got %d)", n.UnitPrice)
	}
	if n.Category == "" {
		n.Category = DefaultCategory
	}
	return n, nil
}

type Registry struct {
	items ItemStore
}

func NewRegistry(items ItemStore) *Registry {
	return &Registry{items: items}
}

// =============================================================================
// MUTATIONS - Manager only
// =============================================================================

// Add creates an item, or reactivates an inactive item of the same name.
func (r *Registry) Add(ctx context.Context, actor Actor, in NewItem) (Item, error) {
	if !actor.IsManager() {
		return Item{}, &AuthorizationError{Actor: actor.Name, Role: actor.Role, Action: "add items"}
	}
	in, err := in.normalized()
	if err != nil {
		return Item{}, err
	}

	existing, err := r.items.FindItemByName(ctx, in.Name)
	if err != nil {
		return Item{}, Persistence("find item", err)
	}
	if existing != nil {
		if existing.Active {
			return Item{}, &ConflictError{Name: in.Name, ItemID: existing.ID}
		}
		existing.Category = in.Category
		existing.UnitPrice = in.UnitPrice
		existing.Active = true
		item, err := r.items.UpdateItem(ctx, *existing)
		if err != nil {
			return Item{}, Persistence("reactivate item", err)
		}
		return item, nil
	}

	item, err := r.items.CreateItem(ctx, Item{
		Name:      in.Name,
		Category:  in.Category,
		UnitPrice: in.UnitPrice,
		Active:    true,
	})
	if err != nil {
		return Item{}, Persistence("create item", err)
	}
	return item, nil
}

// Update edits name, category and price. Renaming onto another item's
// name is a conflict whether that item is active or not.
func (r *Registry) Update(ctx context.Context, actor Actor, id ItemID, in NewItem) (Item, error) {
	if !actor.IsManager() {
		return Item{}, &AuthorizationError{Actor: actor.Name, Role: actor.Role, Action: "edit items"}
	}
	in, err := in.normalized()
	if err != nil {
		return Item{}, err
	}

	current, err := r.items.GetItem(ctx, id)
	if err != nil {
		return Item{}, Persistence("load item", err)
	}
	other, err := r.items.FindItemByName(ctx, in.Name)
	if err != nil {
		return Item{}, Persistence("find item", err)
	}
	if other != nil && other.ID != id {
		return Item{}, &ConflictError{Name: in.Name, ItemID: other.ID}
	}

	current.Name = in.Name
	current.Category = in.Category
	current.UnitPrice = in.UnitPrice
	item, err := r.items.UpdateItem(ctx, current)
	if err != nil {
		return Item{}, Persistence("update item", err)
	}
	return item, nil
}

// Remove soft-deletes the item.
func (r *Registry) Remove(ctx context.Context, actor Actor, id ItemID) error {
	if !actor.IsManager() {
		return &AuthorizationError{Actor: actor.Name, Role: actor.Role, Action: "remove items"}
	}
	if _, err := r.items.GetItem(ctx, id); err != nil {
		return Persistence("load item", err)
	}
	if err := r.items.SetItemActive(ctx, id, false); err != nil {
		return Persistence("deactivate item", err)
	}
	return nil
}

// =============================================================================
// QUERIES
// =============================================================================

// Resolve returns the item by id, active or not.
func (r *Registry) Resolve(ctx context.Context, id ItemID) (Item, error) {
	item, err := r.items.GetItem(ctx, id)
	if err != nil {
		return Item{}, Persistence("load item", err)
	}
	return item, nil
}

func (r *Registry) List(ctx context.Context, includeInactive bool) ([]Item, error) {
	items, err := r.items.ListItems(ctx, !includeInactive)
	if err != nil {
		return nil, Persistence("list items", err)
	}
	return items, nil
}

// CategoryGroup is one category with its active items.
type CategoryGroup struct {
	Category string
	Items    []Item
}

// ByCategory groups active items by category, both sorted by name.
func (r *Registry) ByCategory(ctx context.Context) ([]CategoryGroup, error) {
	items, err := r.List(ctx, false)
	if err != nil {
		return nil, err
	}
	index := make(map[string]int)
	var groups []CategoryGroup
	for _, it := range items {
		i, ok := index[it.Category]
		if !ok {
			i = len(groups)
			index[it.Category] = i
			groups = append(groups, CategoryGroup{Category: it.Category})
		}
		groups[i].Items = append(groups[i].Items, it)
	}
	sort.Slice(groups, func(i, j int) bool {
		return CatalogLess(groups[i].Category, "", groups[j].Category, "")
	})
	for _, g := range groups {
		sort.Slice(g.Items, func(i, j int) bool {
			return CatalogLess(g.Category, g.Items[i].Name, g.Category, g.Items[j].Name)
		})
	}
	return groups, nil
}
