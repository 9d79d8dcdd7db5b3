/*
store.go - Persistence interfaces for the stock ledger

PURPOSE:
  Defines the boundary between ledger rules and whatever holds the rows.
  Every backend (memory, SQLite, Postgres, PostgREST) implements Backend,
  and the application picks one at startup. Nothing above this interface
  knows which backend is active.

CAPABILITIES:
  upsert: UpsertEntry, CreateItem/UpdateItem, ApplyCorrection
  query:  EntriesForDay, LatestEntry, ListItems, ListReports, ListCorrections
  get:    GetEntry, GetItem, FindItemByName, GetReport

ATOMIC UPSERT CONTRACT:
  UpsertEntry must be a single native insert-or-replace keyed on
  (report_date, item_id): ON CONFLICT DO UPDATE in SQL, merge-duplicates in
  PostgREST, a locked map write in memory. Two concurrent calls for the same
  key leave exactly one row holding one caller's full set of values.

APPEND-ONLY REPORTS:
  ReportStore has no update or delete. A report is a snapshot; corrections
  to the ledger after the fact do not touch it.

IMPLEMENTATIONS:
  - stock/store/memory.go: in-memory, for tests and demos
  - store/sqlite: embedded deployment
  - store/postgres: gorm + Postgres
  - store/rest: PostgREST / Supabase REST tables

SEE ALSO:
  - ledger.go: rules layered on EntryStore
  - registry.go: rules layered on ItemStore
*/
package stock

import (
	"context"
	"io"
	"time"
)

// =============================================================================
// ENTRY STORE
// =============================================================================

type EntryStore interface {
	// UpsertEntry inserts or fully replaces the entry for (Day, ItemID).
	UpsertEntry(ctx context.Context, e Entry) (Entry, error)

	// GetEntry returns nil, nil when no entry exists.
	GetEntry(ctx context.Context, day BusinessDay, itemID ItemID) (*Entry, error)

	// EntriesForDay joins item fields and orders by category, then name.
	EntriesForDay(ctx context.Context, day BusinessDay) ([]EntryView, error)

	// LatestEntry returns the entry with the greatest day for itemID,
	// restricted to days strictly before *before when before is non-nil.
	// Returns nil, nil when there is none.
	LatestEntry(ctx context.Context, itemID ItemID, before *BusinessDay) (*Entry, error)
}

// =============================================================================
// ITEM STORE
// =============================================================================

type ItemStore interface {
	// CreateItem assigns the ID. A taken name yields *ConflictError.
	CreateItem(ctx context.Context, item Item) (Item, error)

	// UpdateItem replaces name, category, price and active flag.
	UpdateItem(ctx context.Context, item Item) (Item, error)

	SetItemActive(ctx context.Context, id ItemID, active bool) error

	// GetItem returns ErrItemNotFound when id is unknown.
	GetItem(ctx context.Context, id ItemID) (Item, error)

	// FindItemByName returns nil, nil when no item (active or not) has name.
	FindItemByName(ctx context.Context, name string) (*Item, error)

	// ListItems orders by category, then name.
	ListItems(ctx context.Context, activeOnly bool) ([]Item, error)
}

// =============================================================================
// REPORT STORE - Append-only
// =============================================================================

// ReportRecord is a persisted daily report. Payload is opaque JSON owned
// by the report package.
type ReportRecord struct {
	ID         string
	Day        BusinessDay
	StaffName  string
	TotalSales Money
	Payload    []byte
	CreatedAt  time.Time
}

type ReportStore interface {
	AppendReport(ctx context.Context, r ReportRecord) error

	// GetReport returns ErrReportNotFound when id is unknown.
	GetReport(ctx context.Context, id string) (ReportRecord, error)

	// ListReports returns the day's reports, oldest first.
	ListReports(ctx context.Context, day BusinessDay) ([]ReportRecord, error)
}

// =============================================================================
// CORRECTION STORE - Audit log for overridden openings
// =============================================================================

type CorrectionStore interface {
	// ApplyCorrection writes the audit row and upserts the entry atomically.
	ApplyCorrection(ctx context.Context, c Correction, e Entry) (Entry, error)

	ListCorrections(ctx context.Context, day BusinessDay) ([]Correction, error)
}

// =============================================================================
// BACKEND - Everything a deployment needs
// =============================================================================

type Backend interface {
	EntryStore
	ItemStore
	ReportStore
	CorrectionStore
	io.Closer
}
