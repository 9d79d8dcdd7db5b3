/*
Package postgres provides a PostgreSQL-backed stock.Backend using gorm.

PURPOSE:
  The hosted deployment. Same tables and the same upsert contract as the
  SQLite store, expressed through gorm models and clause.OnConflict.

KEY TABLES:
  inventory, stock_entries (unique report_date+item_id), daily_reports,
  entry_corrections. Created by AutoMigrate on Open.

UPSERT:
  UpsertEntry issues INSERT ... ON CONFLICT (report_date, item_id)
  DO UPDATE SET <every count column>. Postgres serialises concurrent
  upserts on the unique index, so no application lock is held.

ERRORS:
  Opened with TranslateError so unique violations surface as
  gorm.ErrDuplicatedKey and become *stock.ConflictError.
*/
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/safebar/stockledger/stock"
)

// =============================================================================
// MODELS
// =============================================================================

type itemModel struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	Name      string `gorm:"not null;uniqueIndex:idx_inventory_name"`
	Category  string `gorm:"not null;default:Uncategorized;index"`
	Price     int64  `gorm:"not null;default:0"`
	IsActive  bool   `gorm:"not null;default:true"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (itemModel) TableName() string { return "inventory" }

type entryModel struct {
	ID            int64  `gorm:"primaryKey;autoIncrement"`
	ReportDate    string `gorm:"type:date;not null;uniqueIndex:idx_stock_entries_day_item,priority:1"`
	ItemID        int64  `gorm:"not null;uniqueIndex:idx_stock_entries_day_item,priority:2;index:idx_stock_entries_item"`
	OpeningStock  int64  `gorm:"not null;default:0"`
	ReceivedStock int64  `gorm:"not null;default:0"`
	DamagedStock  int64  `gorm:"not null;default:0"`
	ClosingStock  int64  `gorm:"not null;default:0"`
	SoldStock     int64  `gorm:"not null;default:0"`
	UpdatedAt     time.Time
	Item          itemModel `gorm:"foreignKey:ItemID"`
}

func (entryModel) TableName() string { return "stock_entries" }

type reportModel struct {
	ID          string `gorm:"primaryKey"`
	ReportDate  string `gorm:"type:date;not null;index"`
	StaffName   string `gorm:"not null"`
	TotalSales  int64  `gorm:"not null"`
	PayloadJSON string `gorm:"type:jsonb;not null"`
	CreatedAt   time.Time
}

func (reportModel) TableName() string { return "daily_reports" }

type correctionModel struct {
	ID              string `gorm:"primaryKey"`
	ReportDate      string `gorm:"type:date;not null;index"`
	ItemID          int64  `gorm:"not null"`
	PreviousOpening int64  `gorm:"not null"`
	Opening         int64  `gorm:"not null"`
	Note            string `gorm:"not null"`
	Actor           string `gorm:"not null"`
	CreatedAt       time.Time
}

func (correctionModel) TableName() string { return "entry_corrections" }

// =============================================================================
// STORE
// =============================================================================

// Store implements stock.Backend on gorm.
type Store struct {
	db *gorm.DB
}

var _ stock.Backend = (*Store)(nil)

// Open connects to dsn and migrates the schema.
func Open(dsn string, log *zap.Logger) (*Store, error) {
	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN:                  dsn,
		PreferSimpleProtocol: true,
	}), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(20)

	s := New(db)
	if err := s.Migrate(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	if log != nil {
		log.Info("connected to PostgreSQL")
	}
	return s, nil
}

// New wraps an existing gorm connection without migrating.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Migrate() error {
	if err := s.db.AutoMigrate(&itemModel{}, &entryModel{}, &reportModel{}, &correctionModel{}); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// =============================================================================
// ENTRY STORE
// =============================================================================

// entryConflict is the native upsert on the (report_date, item_id) index.
var entryConflict = clause.OnConflict{
	Columns: []clause.Column{{Name: "report_date"}, {Name: "item_id"}},
	DoUpdates: clause.AssignmentColumns([]string{
		"opening_stock", "received_stock", "damaged_stock", "closing_stock", "sold_stock", "updated_at",
	}),
}

func (s *Store) UpsertEntry(ctx context.Context, e stock.Entry) (stock.Entry, error) {
	return upsertEntry(s.db.WithContext(ctx), e)
}

func upsertEntry(db *gorm.DB, e stock.Entry) (stock.Entry, error) {
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = time.Now().UTC()
	}
	m := toEntryModel(e)
	if err := db.Omit("Item").Clauses(entryConflict).Create(&m).Error; err != nil {
		return stock.Entry{}, fmt.Errorf("failed to upsert stock entry: %w", err)
	}
	return e, nil
}

func (s *Store) GetEntry(ctx context.Context, day stock.BusinessDay, itemID stock.ItemID) (*stock.Entry, error) {
	var m entryModel
	err := s.db.WithContext(ctx).
		First(&m, "report_date = ? AND item_id = ?", day.String(), int64(itemID)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get stock entry: %w", err)
	}
	e := m.toEntry()
	return &e, nil
}

func (s *Store) EntriesForDay(ctx context.Context, day stock.BusinessDay) ([]stock.EntryView, error) {
	var models []entryModel
	err := s.db.WithContext(ctx).
		Joins("Item").
		Where("stock_entries.report_date = ?", day.String()).
		Order(`lower("Item".category), lower("Item".name), "Item".category, "Item".name`).
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query stock entries: %w", err)
	}

	views := make([]stock.EntryView, 0, len(models))
	for _, m := range models {
		views = append(views, stock.EntryView{
			Entry:     m.toEntry(),
			Name:      m.Item.Name,
			Category:  m.Item.Category,
			UnitPrice: stock.Money(m.Item.Price),
		})
	}
	return views, nil
}

func (s *Store) LatestEntry(ctx context.Context, itemID stock.ItemID, before *stock.BusinessDay) (*stock.Entry, error) {
	q := s.db.WithContext(ctx).Where("item_id = ?", int64(itemID))
	if before != nil {
		q = q.Where("report_date < ?", before.String())
	}

	var m entryModel
	err := q.Order("report_date DESC").First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load latest stock entry: %w", err)
	}
	e := m.toEntry()
	return &e, nil
}

// =============================================================================
// ITEM STORE
// =============================================================================

func (s *Store) CreateItem(ctx context.Context, item stock.Item) (stock.Item, error) {
	m := toItemModel(item)
	m.ID = 0
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return stock.Item{}, &stock.ConflictError{Name: item.Name}
		}
		return stock.Item{}, fmt.Errorf("failed to create item: %w", err)
	}
	return m.toItem(), nil
}

func (s *Store) UpdateItem(ctx context.Context, item stock.Item) (stock.Item, error) {
	res := s.db.WithContext(ctx).Model(&itemModel{}).
		Where("id = ?", int64(item.ID)).
		Updates(map[string]any{
			"name":       item.Name,
			"category":   item.Category,
			"price":      int64(item.UnitPrice),
			"is_active":  item.Active,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return stock.Item{}, &stock.ConflictError{Name: item.Name}
		}
		return stock.Item{}, fmt.Errorf("failed to update item: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return stock.Item{}, stock.ErrItemNotFound
	}
	return s.GetItem(ctx, item.ID)
}

func (s *Store) SetItemActive(ctx context.Context, id stock.ItemID, active bool) error {
	res := s.db.WithContext(ctx).Model(&itemModel{}).
		Where("id = ?", int64(id)).
		Updates(map[string]any{"is_active": active, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return fmt.Errorf("failed to set item active: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return stock.ErrItemNotFound
	}
	return nil
}

func (s *Store) GetItem(ctx context.Context, id stock.ItemID) (stock.Item, error) {
	var m itemModel
	err := s.db.WithContext(ctx).First(&m, "id = ?", int64(id)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return stock.Item{}, stock.ErrItemNotFound
	}
	if err != nil {
		return stock.Item{}, fmt.Errorf("failed to get item: %w", err)
	}
	return m.toItem(), nil
}

func (s *Store) FindItemByName(ctx context.Context, name string) (*stock.Item, error) {
	var m itemModel
	err := s.db.WithContext(ctx).First(&m, "LOWER(name) = LOWER(?)", name).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find item: %w", err)
	}
	item := m.toItem()
	return &item, nil
}

func (s *Store) ListItems(ctx context.Context, activeOnly bool) ([]stock.Item, error) {
	q := s.db.WithContext(ctx).Model(&itemModel{})
	if activeOnly {
		q = q.Where("is_active = ?", true)
	}
	var models []itemModel
	if err := q.Order("lower(category), lower(name), category, name").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	items := make([]stock.Item, 0, len(models))
	for _, m := range models {
		items = append(items, m.toItem())
	}
	return items, nil
}

// =============================================================================
// REPORT STORE - Append-only
// =============================================================================

func (s *Store) AppendReport(ctx context.Context, r stock.ReportRecord) error {
	m := reportModel{
		ID:          r.ID,
		ReportDate:  r.Day.String(),
		StaffName:   r.StaffName,
		TotalSales:  int64(r.TotalSales),
		PayloadJSON: string(r.Payload),
		CreatedAt:   r.CreatedAt,
	}
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return fmt.Errorf("failed to append report: %w", err)
	}
	return nil
}

func (s *Store) GetReport(ctx context.Context, id string) (stock.ReportRecord, error) {
	var m reportModel
	err := s.db.WithContext(ctx).First(&m, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return stock.ReportRecord{}, stock.ErrReportNotFound
	}
	if err != nil {
		return stock.ReportRecord{}, fmt.Errorf("failed to get report: %w", err)
	}
	return m.toRecord(), nil
}

func (s *Store) ListReports(ctx context.Context, day stock.BusinessDay) ([]stock.ReportRecord, error) {
	var models []reportModel
	err := s.db.WithContext(ctx).
		Where("report_date = ?", day.String()).
		Order("created_at").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}
	records := make([]stock.ReportRecord, 0, len(models))
	for _, m := range models {
		records = append(records, m.toRecord())
	}
	return records, nil
}

// =============================================================================
// CORRECTION STORE
// =============================================================================

func (s *Store) ApplyCorrection(ctx context.Context, c stock.Correction, e stock.Entry) (stock.Entry, error) {
	var stored stock.Entry
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m := correctionModel{
			ID:              c.ID,
			ReportDate:      c.Day.String(),
			ItemID:          int64(c.ItemID),
			PreviousOpening: c.PreviousOpening,
			Opening:         c.Opening,
			Note:            c.Note,
			Actor:           c.Actor,
			CreatedAt:       c.At,
		}
		if err := tx.Create(&m).Error; err != nil {
			return fmt.Errorf("failed to record correction: %w", err)
		}
		var err error
		stored, err = upsertEntry(tx, e)
		return err
	})
	if err != nil {
		return stock.Entry{}, err
	}
	return stored, nil
}

func (s *Store) ListCorrections(ctx context.Context, day stock.BusinessDay) ([]stock.Correction, error) {
	var models []correctionModel
	err := s.db.WithContext(ctx).
		Where("report_date = ?", day.String()).
		Order("created_at").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list corrections: %w", err)
	}
	out := make([]stock.Correction, 0, len(models))
	for _, m := range models {
		out = append(out, stock.Correction{
			ID:              m.ID,
			Day:             parseDay(m.ReportDate),
			ItemID:          stock.ItemID(m.ItemID),
			PreviousOpening: m.PreviousOpening,
			Opening:         m.Opening,
			Note:            m.Note,
			Actor:           m.Actor,
			At:              m.CreatedAt,
		})
	}
	return out, nil
}

// =============================================================================
// MAPPING
// =============================================================================

func toItemModel(i stock.Item) itemModel {
	return itemModel{
		ID:        int64(i.ID),
		Name:      i.Name,
		Category:  i.Category,
		Price:     int64(i.UnitPrice),
		IsActive:  i.Active,
		CreatedAt: i.CreatedAt,
		UpdatedAt: i.UpdatedAt,
	}
}

func (m itemModel) toItem() stock.Item {
	return stock.Item{
		ID:        stock.ItemID(m.ID),
		Name:      m.Name,
		Category:  m.Category,
		UnitPrice: stock.Money(m.Price),
		Active:    m.IsActive,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func toEntryModel(e stock.Entry) entryModel {
	return entryModel{
		ReportDate:    e.Day.String(),
		ItemID:        int64(e.ItemID),
		OpeningStock:  e.Opening,
		ReceivedStock: e.Received,
		DamagedStock:  e.Damaged,
		ClosingStock:  e.Closing,
		SoldStock:     e.Sold,
		UpdatedAt:     e.UpdatedAt,
	}
}

func (m entryModel) toEntry() stock.Entry {
	return stock.Entry{
		Day:       parseDay(m.ReportDate),
		ItemID:    stock.ItemID(m.ItemID),
		Opening:   m.OpeningStock,
		Received:  m.ReceivedStock,
		Damaged:   m.DamagedStock,
		Closing:   m.ClosingStock,
		Sold:      m.SoldStock,
		UpdatedAt: m.UpdatedAt,
	}
}

func (m reportModel) toRecord() stock.ReportRecord {
	return stock.ReportRecord{
		ID:         m.ID,
		Day:        parseDay(m.ReportDate),
		StaffName:  m.StaffName,
		TotalSales: stock.Money(m.TotalSales),
		Payload:    []byte(m.PayloadJSON),
		CreatedAt:  m.CreatedAt,
	}
}

// parseDay accepts both "2006-01-02" and the RFC 3339 form pgx returns
// when a date column is scanned into a string.
func parseDay(s string) stock.BusinessDay {
	if len(s) >= len(stock.DayLayout) {
		s = s[:len(stock.DayLayout)]
	}
	d, _ := stock.ParseBusinessDay(s)
	return d
}
