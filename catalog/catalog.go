/*
Package catalog loads inventory definitions from JSON and seeds an empty
store with them.

PURPOSE:
  A fresh install needs a bar's usual stock list before anyone can record
  counts. The catalog is plain JSON so the list can be edited without code
  changes; the built-in default is embedded in the binary.

JSON SCHEMA:
  {
    "currency": "UGX",
    "items": [
      {"name": "Nile Special", "category": "Beers", "price": 10000}
    ]
  }

  price is in the smallest currency unit. category defaults to
  "Uncategorized".

USAGE:
  cat, err := catalog.Load(path)     // "" means the embedded default
  n, err := catalog.Seed(ctx, backend, cat)
*/
package catalog

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/safebar/stockledger/stock"
)

//go:embed default.json
var defaultJSON []byte

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

type ItemJSON struct {
	Name     string `json:"name"`
	Category string `json:"category,omitempty"`
	Price    int64  `json:"price"`
}

type CatalogJSON struct {
	Currency string     `json:"currency,omitempty"`
	Items    []ItemJSON `json:"items"`
}

// Catalog is a validated item list.
type Catalog struct {
	Currency string
	Items    []stock.NewItem
}

// =============================================================================
// PARSING
// =============================================================================

// Parse validates a JSON catalog. Duplicate names (case-insensitive) are
// rejected.
func Parse(raw []byte) (Catalog, error) {
	var cj CatalogJSON
	if err := json.Unmarshal(raw, &cj); err != nil {
		return Catalog{}, fmt.Errorf("failed to parse catalog JSON: %w", err)
	}

	cat := Catalog{Currency: cj.Currency}
	seen := make(map[string]bool, len(cj.Items))
	for i, ij := range cj.Items {
		name := strings.TrimSpace(ij.Name)
		if name == "" {
			return Catalog{}, fmt.Errorf("catalog item %d: name is required", i)
		}
		if ij.Price < 0 {
			return Catalog{}, fmt.Errorf("catalog item %q: price must not be negative", name)
		}
		key := strings.ToLower(name)
		if seen[key] {
			return Catalog{}, fmt.Errorf("catalog item %q is listed twice", name)
		}
		seen[key] = true

		category := strings.TrimSpace(ij.Category)
		if category == "" {
			category = stock.DefaultCategory
		}
		cat.Items = append(cat.Items, stock.NewItem{Name: name, Category: category, UnitPrice: stock.Money(ij.Price)})
	}
	return cat, nil
}

// Default returns the embedded catalog.
func Default() Catalog {
	cat, err := Parse(defaultJSON)
	if err != nil {
		panic(fmt.Sprintf("embedded catalog is invalid: %v", err))
	}
	return cat
}

// Load reads a catalog file, or returns Default when path is empty.
func Load(path string) (Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("failed to read catalog: %w", err)
	}
	return Parse(raw)
}

// =============================================================================
// SEEDING
// =============================================================================

// Seed creates every catalog item when the store holds no items at all,
// active or not. It returns how many items were created.
func Seed(ctx context.Context, items stock.ItemStore, cat Catalog) (int, error) {
	existing, err := items.ListItems(ctx, false)
	if err != nil {
		return 0, fmt.Errorf("failed to list items: %w", err)
	}
	if len(existing) > 0 {
		return 0, nil
	}

	for i, it := range cat.Items {
		if _, err := items.CreateItem(ctx, stock.Item{
			Name:      it.Name,
			Category:  it.Category,
			UnitPrice: it.UnitPrice,
			Active:    true,
		}); err != nil {
			return i, fmt.Errorf("failed to seed %q: %w", it.Name, err)
		}
	}
	return len(cat.Items), nil
}
