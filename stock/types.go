/*
Package stock provides the bar's stock ledger engine.

PURPOSE:
  This package owns the per-day, per-item stock counts that every shift
  records, and the rules that keep them consistent. Reports, exports and
  the HTTP API are built on top of it; none of them write counts directly.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: an amount in the smallest currency unit (UGX shillings, cents)
  - Item: an inventory item, soft-deleted via Active=false
  - Entry: the ledger row for one (business day, item)
  - EntryView: an Entry joined with the item's name, category and price
  - Correction: audit row written when a manager overrides an opening count

LEDGER IDENTITY:
  sold = opening + received - damaged - closing

  Sold is never taken from a caller. It is recomputed every time an entry
  is stored, so the identity cannot drift.

UNIQUENESS:
  (Day, ItemID) identifies an entry. Recording the same key twice replaces
  the first row; it never creates a second one.

SEE ALSO:
  - day.go: BusinessDay parsing and comparison
  - ledger.go: RecordEntry / CorrectEntry
  - rollover.go: expected opening resolution
  - store.go: backend interfaces
*/
package stock

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Integer amount in the smallest currency unit
// =============================================================================

// Money is an amount in the smallest currency unit.
// A price of 10000 with exponent 0 is "10000" (UGX); 1050 with exponent 2 is "10.50".
type Money int64

func (m Money) Times(qty int64) Money { return Money(int64(m) * qty) }

func (m Money) Add(o Money) Money { return m + o }

func (m Money) Sub(o Money) Money { return m - o }

func (m Money) IsNegative() bool { return m < 0 }

// Decimal converts to a decimal in major units for display.
func (m Money) Decimal(exponent int32) decimal.Decimal {
	return decimal.New(int64(m), -exponent)
}

// Format renders the amount in major units with exactly exponent decimals.
func (m Money) Format(exponent int32) string {
	return m.Decimal(exponent).StringFixed(exponent)
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ItemID int64

// DefaultCategory is used when an item is created without one.
const DefaultCategory = "Uncategorized"

// =============================================================================
// ITEM - Inventory registry record
// =============================================================================

// Item is an inventory item. Items are never hard-deleted so historical
// entries keep resolving; "delete" flips Active to false.
type Item struct {
	ID        ItemID
	Name      string
	Category  string
	UnitPrice Money
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CatalogLess orders by category, then name, ignoring ASCII case. Every
// backend lists items and day entries in this order.
func CatalogLess(catA, nameA, catB, nameB string) bool {
	if c := strings.Compare(strings.ToLower(catA), strings.ToLower(catB)); c != 0 {
		return c < 0
	}
	if c := strings.Compare(strings.ToLower(nameA), strings.ToLower(nameB)); c != 0 {
		return c < 0
	}
	if catA != catB {
		return catA < catB
	}
	return nameA < nameB
}

// =============================================================================
// ENTRY - One ledger row per (day, item)
// =============================================================================

type Entry struct {
	Day       BusinessDay
	ItemID    ItemID
	Opening   int64
	Received  int64
	Damaged   int64
	Closing   int64
	Sold      int64
	UpdatedAt time.Time
}

// EntryView is an Entry joined with the item fields a report needs.
type EntryView struct {
	Entry
	Name      string
	Category  string
	UnitPrice Money
}

// EntryInput is what a caller submits for RecordEntry and CorrectEntry.
//
// Opening is optional: when nil the ledger derives it from the most recent
// earlier closing. Sold is accepted only so clients can send whatever they
// displayed; it is discarded.
type EntryInput struct {
	Day      BusinessDay
	ItemID   ItemID
	Opening  *int64
	Received int64
	Damaged  int64
	Closing  int64
	Sold     *int64
}

// =============================================================================
// CORRECTION - Audit trail for manual recounts
// =============================================================================

type Correction struct {
	ID              string
	Day             BusinessDay
	ItemID          ItemID
	PreviousOpening int64
	Opening         int64
	Note            string
	Actor           string
	At              time.Time
}

// =============================================================================
// ACTOR - Who is acting on this request
// =============================================================================

type Role string

const (
	RoleManager    Role = "Manager"
	RoleSupervisor Role = "Supervisor"
	RoleBarstaff   Role = "Barstaff"
)

// Actor is the acting staff member, passed explicitly down the call chain.
type Actor struct {
	Name string
	Role Role
}

func (a Actor) IsManager() bool { return a.Role == RoleManager }

func (a Actor) IsManagerOrSupervisor() bool {
	return a.Role == RoleManager || a.Role == RoleSupervisor
}
