/*
Package sqlite provides a SQLite-backed implementation of stock.Backend.

PURPOSE:
  The embedded deployment: one file on the bar's machine holding the
  inventory, the stock ledger, corrections and daily reports.

INTERFACES IMPLEMENTED:
  stock.EntryStore:      per-(day, item) stock counts
  stock.ItemStore:       inventory registry
  stock.ReportStore:     append-only daily reports
  stock.CorrectionStore: opening overrides with audit rows

KEY TABLES:
  inventory:         items, soft-deleted via is_active
  stock_entries:     UNIQUE(report_date, item_id), upserted in place
  daily_reports:     immutable report snapshots, payload as JSON text
  entry_corrections: audit log written with the corrected entry

UPSERT:
  UpsertEntry is a single INSERT ... ON CONFLICT(report_date, item_id)
  DO UPDATE. No read-modify-write, so concurrent submissions for the same
  key cannot produce a second row.

DATES:
  report_date is stored as "YYYY-MM-DD" text. Lexicographic order is
  calendar order, so ORDER BY and < comparisons work directly.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/stock.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  ledger := stock.NewLedger(store)

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - stock/store.go: Interface definitions
  - stock/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/safebar/stockledger/stock"
)

// Store implements stock.Backend using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ stock.Backend = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Every connection to ":memory:" is a separate database.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Inventory (never hard-deleted)
	CREATE TABLE IF NOT EXISTS inventory (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE COLLATE NOCASE,
		category TEXT NOT NULL DEFAULT 'Uncategorized',
		price INTEGER NOT NULL DEFAULT 0,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_inventory_category_name
		ON inventory(category, name);

	-- Stock entries: one row per business day and item
	CREATE TABLE IF NOT EXISTS stock_entries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		report_date TEXT NOT NULL,
		item_id INTEGER NOT NULL REFERENCES inventory(id),
		opening_stock INTEGER NOT NULL DEFAULT 0,
		received_stock INTEGER NOT NULL DEFAULT 0,
		damaged_stock INTEGER NOT NULL DEFAULT 0,
		closing_stock INTEGER NOT NULL DEFAULT 0,
		sold_stock INTEGER NOT NULL DEFAULT 0,
		updated_at TEXT NOT NULL,
		UNIQUE(report_date, item_id)
	);

	-- Latest closing lookup (rollover hot path)
	CREATE INDEX IF NOT EXISTS idx_stock_entries_item_date
		ON stock_entries(item_id, report_date DESC);

	-- Daily reports (append-only)
	CREATE TABLE IF NOT EXISTS daily_reports (
		id TEXT PRIMARY KEY,
		report_date TEXT NOT NULL,
		staff_name TEXT NOT NULL,
		total_sales INTEGER NOT NULL,
		payload_json TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_daily_reports_date
		ON daily_reports(report_date);

	-- Opening corrections (audit)
	CREATE TABLE IF NOT EXISTS entry_corrections (
		id TEXT PRIMARY KEY,
		report_date TEXT NOT NULL,
		item_id INTEGER NOT NULL REFERENCES inventory(id),
		previous_opening INTEGER NOT NULL,
		opening INTEGER NOT NULL,
		note TEXT NOT NULL,
		actor TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_entry_corrections_date
		ON entry_corrections(report_date);
	`

	_, err := s.db.Exec(schema)
	return err
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// =============================================================================
// ENTRY STORE (stock.EntryStore interface)
// =============================================================================

// UpsertEntry inserts or replaces the entry for (Day, ItemID).
func (s *Store) UpsertEntry(ctx context.Context, e stock.Entry) (stock.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.upsertEntry(ctx, s.db, e)
}

func (s *Store) upsertEntry(ctx context.Context, db execer, e stock.Entry) (stock.Entry, error) {
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO stock_entries
		(report_date, item_id, opening_stock, received_stock, damaged_stock, closing_stock, sold_stock, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(report_date, item_id) DO UPDATE SET
			opening_stock = excluded.opening_stock,
			received_stock = excluded.received_stock,
			damaged_stock = excluded.damaged_stock,
			closing_stock = excluded.closing_stock,
			sold_stock = excluded.sold_stock,
			updated_at = excluded.updated_at
	`

	_, err := db.ExecContext(ctx, query,
		e.Day.String(), int64(e.ItemID),
		e.Opening, e.Received, e.Damaged, e.Closing, e.Sold,
		e.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return stock.Entry{}, fmt.Errorf("failed to upsert stock entry: %w", err)
	}
	return e, nil
}

const entryColumns = `report_date, item_id, opening_stock, received_stock, damaged_stock, closing_stock, sold_stock, updated_at`

// GetEntry returns nil, nil when no entry exists.
func (s *Store) GetEntry(ctx context.Context, day stock.BusinessDay, itemID stock.ItemID) (*stock.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT "+entryColumns+" FROM stock_entries WHERE report_date = ? AND item_id = ?",
		day.String(), int64(itemID),
	)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get stock entry: %w", err)
	}
	return &e, nil
}

// EntriesForDay returns the day's entries joined with their items.
func (s *Store) EntriesForDay(ctx context.Context, day stock.BusinessDay) ([]stock.EntryView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT se.report_date, se.item_id, se.opening_stock, se.received_stock, se.damaged_stock,
		       se.closing_stock, se.sold_stock, se.updated_at,
		       i.name, i.category, i.price
		FROM stock_entries se
		JOIN inventory i ON i.id = se.item_id
		WHERE se.report_date = ?
		ORDER BY i.category COLLATE NOCASE, i.name COLLATE NOCASE, i.category, i.name
	`

	rows, err := s.db.QueryContext(ctx, query, day.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query stock entries: %w", err)
	}
	defer rows.Close()

	var views []stock.EntryView
	for rows.Next() {
		var v stock.EntryView
		var date, updatedAt string
		var itemID, price int64
		if err := rows.Scan(&date, &itemID, &v.Opening, &v.Received, &v.Damaged,
			&v.Closing, &v.Sold, &updatedAt, &v.Name, &v.Category, &price); err != nil {
			return nil, fmt.Errorf("failed to scan stock entry: %w", err)
		}
		v.Day = stock.MustParseBusinessDay(date)
		v.ItemID = stock.ItemID(itemID)
		v.UnitPrice = stock.Money(price)
		v.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		views = append(views, v)
	}
	return views, rows.Err()
}

// LatestEntry returns the item's entry with the greatest day, optionally
// restricted to days strictly before *before.
func (s *Store) LatestEntry(ctx context.Context, itemID stock.ItemID, before *stock.BusinessDay) (*stock.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT " + entryColumns + " FROM stock_entries WHERE item_id = ?"
	args := []any{int64(itemID)}
	if before != nil {
		query += " AND report_date < ?"
		args = append(args, before.String())
	}
	query += " ORDER BY report_date DESC LIMIT 1"

	e, err := scanEntry(s.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load latest stock entry: %w", err)
	}
	return &e, nil
}

func scanEntry(row *sql.Row) (stock.Entry, error) {
	var e stock.Entry
	var date, updatedAt string
	var itemID int64
	if err := row.Scan(&date, &itemID, &e.Opening, &e.Received, &e.Damaged, &e.Closing, &e.Sold, &updatedAt); err != nil {
		return stock.Entry{}, err
	}
	day, err := stock.ParseBusinessDay(date)
	if err != nil {
		return stock.Entry{}, err
	}
	e.Day = day
	e.ItemID = stock.ItemID(itemID)
	e.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return e, nil
}

// =============================================================================
// ITEM STORE (stock.ItemStore interface)
// =============================================================================

const itemColumns = `id, name, category, price, is_active, created_at, updated_at`

func (s *Store) CreateItem(ctx context.Context, item stock.Item) (stock.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO inventory (name, category, price, is_active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		item.Name, item.Category, int64(item.UnitPrice), item.Active,
		now.Format(time.RFC3339), now.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return stock.Item{}, &stock.ConflictError{Name: item.Name}
		}
		return stock.Item{}, fmt.Errorf("failed to create item: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return stock.Item{}, fmt.Errorf("failed to read item id: %w", err)
	}

	item.ID = stock.ItemID(id)
	item.CreatedAt = now.Truncate(time.Second)
	item.UpdatedAt = item.CreatedAt
	return item, nil
}

func (s *Store) UpdateItem(ctx context.Context, item stock.Item) (stock.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE inventory SET name = ?, category = ?, price = ?, is_active = ?, updated_at = ?
		 WHERE id = ?`,
		item.Name, item.Category, int64(item.UnitPrice), item.Active,
		now.Format(time.RFC3339), int64(item.ID),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return stock.Item{}, &stock.ConflictError{Name: item.Name}
		}
		return stock.Item{}, fmt.Errorf("failed to update item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return stock.Item{}, stock.ErrItemNotFound
	}
	item.UpdatedAt = now.Truncate(time.Second)
	return item, nil
}

func (s *Store) SetItemActive(ctx context.Context, id stock.ItemID, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE inventory SET is_active = ?, updated_at = ? WHERE id = ?",
		active, time.Now().UTC().Format(time.RFC3339), int64(id),
	)
	if err != nil {
		return fmt.Errorf("failed to set item active: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return stock.ErrItemNotFound
	}
	return nil
}

func (s *Store) GetItem(ctx context.Context, id stock.ItemID) (stock.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, err := scanItem(s.db.QueryRowContext(ctx,
		"SELECT "+itemColumns+" FROM inventory WHERE id = ?", int64(id)))
	if err == sql.ErrNoRows {
		return stock.Item{}, stock.ErrItemNotFound
	}
	if err != nil {
		return stock.Item{}, fmt.Errorf("failed to get item: %w", err)
	}
	return item, nil
}

// FindItemByName matches case-insensitively (NOCASE column).
func (s *Store) FindItemByName(ctx context.Context, name string) (*stock.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, err := scanItem(s.db.QueryRowContext(ctx,
		"SELECT "+itemColumns+" FROM inventory WHERE name = ?", name))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find item: %w", err)
	}
	return &item, nil
}

func (s *Store) ListItems(ctx context.Context, activeOnly bool) ([]stock.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT " + itemColumns + " FROM inventory"
	if activeOnly {
		query += " WHERE is_active = TRUE"
	}
	query += " ORDER BY category COLLATE NOCASE, name COLLATE NOCASE, category, name"

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	defer rows.Close()

	var items []stock.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(row scanner) (stock.Item, error) {
	var item stock.Item
	var id, price int64
	var createdAt, updatedAt string
	if err := row.Scan(&id, &item.Name, &item.Category, &price, &item.Active, &createdAt, &updatedAt); err != nil {
		return stock.Item{}, err
	}
	item.ID = stock.ItemID(id)
	item.UnitPrice = stock.Money(price)
	item.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	item.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return item, nil
}

// =============================================================================
// REPORT STORE (stock.ReportStore interface) - Append-only
// =============================================================================

func (s *Store) AppendReport(ctx context.Context, r stock.ReportRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO daily_reports (id, report_date, staff_name, total_sales, payload_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.Day.String(), r.StaffName, int64(r.TotalSales), string(r.Payload),
		r.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to append report: %w", err)
	}
	return nil
}

const reportColumns = `id, report_date, staff_name, total_sales, payload_json, created_at`

func (s *Store) GetReport(ctx context.Context, id string) (stock.ReportRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, err := scanReport(s.db.QueryRowContext(ctx,
		"SELECT "+reportColumns+" FROM daily_reports WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return stock.ReportRecord{}, stock.ErrReportNotFound
	}
	if err != nil {
		return stock.ReportRecord{}, fmt.Errorf("failed to get report: %w", err)
	}
	return r, nil
}

func (s *Store) ListReports(ctx context.Context, day stock.BusinessDay) ([]stock.ReportRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+reportColumns+" FROM daily_reports WHERE report_date = ? ORDER BY created_at, rowid",
		day.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}
	defer rows.Close()

	var reports []stock.ReportRecord
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan report: %w", err)
		}
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

func scanReport(row scanner) (stock.ReportRecord, error) {
	var r stock.ReportRecord
	var date, payload, createdAt string
	var total int64
	if err := row.Scan(&r.ID, &date, &r.StaffName, &total, &payload, &createdAt); err != nil {
		return stock.ReportRecord{}, err
	}
	day, err := stock.ParseBusinessDay(date)
	if err != nil {
		return stock.ReportRecord{}, err
	}
	r.Day = day
	r.TotalSales = stock.Money(total)
	r.Payload = []byte(payload)
	r.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return r, nil
}

// =============================================================================
// CORRECTION STORE (stock.CorrectionStore interface)
// =============================================================================

// ApplyCorrection writes the audit row and the entry in one transaction.
func (s *Store) ApplyCorrection(ctx context.Context, c stock.Correction, e stock.Entry) (stock.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return stock.Entry{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	_, err = sqlTx.ExecContext(ctx,
		`INSERT INTO entry_corrections
		 (id, report_date, item_id, previous_opening, opening, note, actor, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Day.String(), int64(c.ItemID), c.PreviousOpening, c.Opening, c.Note, c.Actor,
		c.At.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return stock.Entry{}, fmt.Errorf("failed to record correction: %w", err)
	}

	stored, err := s.upsertEntry(ctx, sqlTx, e)
	if err != nil {
		return stock.Entry{}, err
	}
	if err := sqlTx.Commit(); err != nil {
		return stock.Entry{}, fmt.Errorf("failed to commit correction: %w", err)
	}
	return stored, nil
}

func (s *Store) ListCorrections(ctx context.Context, day stock.BusinessDay) ([]stock.Correction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, report_date, item_id, previous_opening, opening, note, actor, created_at
		 FROM entry_corrections WHERE report_date = ? ORDER BY created_at, rowid`,
		day.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list corrections: %w", err)
	}
	defer rows.Close()

	var corrections []stock.Correction
	for rows.Next() {
		var c stock.Correction
		var date, at string
		var itemID int64
		if err := rows.Scan(&c.ID, &date, &itemID, &c.PreviousOpening, &c.Opening, &c.Note, &c.Actor, &at); err != nil {
			return nil, fmt.Errorf("failed to scan correction: %w", err)
		}
		c.Day = stock.MustParseBusinessDay(date)
		c.ItemID = stock.ItemID(itemID)
		c.At, _ = time.Parse(time.RFC3339Nano, at)
		corrections = append(corrections, c)
	}
	return corrections, rows.Err()
}

// Helper functions

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
