// Package store provides the in-memory stock.Backend.
package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/safebar/stockledger/stock"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu          sync.RWMutex
	entries     map[stock.ItemID][]stock.Entry // per item, ordered by day
	items       map[stock.ItemID]stock.Item
	nextItemID  stock.ItemID
	reports     []stock.ReportRecord
	corrections []stock.Correction
	now         func() time.Time
}

var _ stock.Backend = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		entries:    make(map[stock.ItemID][]stock.Entry),
		items:      make(map[stock.ItemID]stock.Item),
		nextItemID: 1,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (m *Memory) Close() error { return nil }

// =============================================================================
// ENTRIES
// =============================================================================

// UpsertEntry replaces the entry for (Day, ItemID) under the write lock.
func (m *Memory) UpsertEntry(_ context.Context, e stock.Entry) (stock.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.upsertLocked(e), nil
}

func (m *Memory) upsertLocked(e stock.Entry) stock.Entry {
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = m.now()
	}
	es := m.entries[e.ItemID]

	// Binary search for the day's slot
	i := sort.Search(len(es), func(i int) bool {
		return !es[i].Day.Before(e.Day)
	})
	if i < len(es) && es[i].Day.Equal(e.Day) {
		es[i] = e
		return e
	}

	es = append(es, stock.Entry{})
	copy(es[i+1:], es[i:])
	es[i] = e
	m.entries[e.ItemID] = es
	return e
}

func (m *Memory) GetEntry(_ context.Context, day stock.BusinessDay, itemID stock.ItemID) (*stock.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, e := range m.entries[itemID] {
		if e.Day.Equal(day) {
			found := e
			return &found, nil
		}
	}
	return nil, nil
}

func (m *Memory) EntriesForDay(_ context.Context, day stock.BusinessDay) ([]stock.EntryView, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []stock.EntryView
	for itemID, es := range m.entries {
		for _, e := range es {
			if !e.Day.Equal(day) {
				continue
			}
			item := m.items[itemID]
			result = append(result, stock.EntryView{
				Entry:     e,
				Name:      item.Name,
				Category:  item.Category,
				UnitPrice: item.UnitPrice,
			})
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return stock.CatalogLess(result[i].Category, result[i].Name, result[j].Category, result[j].Name)
	})
	return result, nil
}

func (m *Memory) LatestEntry(_ context.Context, itemID stock.ItemID, before *stock.BusinessDay) (*stock.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	es := m.entries[itemID]
	for i := len(es) - 1; i >= 0; i-- {
		if before != nil && !es[i].Day.Before(*before) {
			continue
		}
		found := es[i]
		return &found, nil
	}
	return nil, nil
}

// =============================================================================
// ITEMS
// =============================================================================

func (m *Memory) CreateItem(_ context.Context, item stock.Item) (stock.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if other := m.findByNameLocked(item.Name); other != nil {
		return stock.Item{}, &stock.ConflictError{Name: item.Name, ItemID: other.ID}
	}
	now := m.now()
	item.ID = m.nextItemID
	m.nextItemID++
	item.CreatedAt = now
	item.UpdatedAt = now
	m.items[item.ID] = item
	return item, nil
}

func (m *Memory) UpdateItem(_ context.Context, item stock.Item) (stock.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.items[item.ID]
	if !ok {
		return stock.Item{}, stock.ErrItemNotFound
	}
	if other := m.findByNameLocked(item.Name); other != nil && other.ID != item.ID {
		return stock.Item{}, &stock.ConflictError{Name: item.Name, ItemID: other.ID}
	}
	item.CreatedAt = current.CreatedAt
	item.UpdatedAt = m.now()
	m.items[item.ID] = item
	return item, nil
}

func (m *Memory) SetItemActive(_ context.Context, id stock.ItemID, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.items[id]
	if !ok {
		return stock.ErrItemNotFound
	}
	item.Active = active
	item.UpdatedAt = m.now()
	m.items[id] = item
	return nil
}

func (m *Memory) GetItem(_ context.Context, id stock.ItemID) (stock.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	item, ok := m.items[id]
	if !ok {
		return stock.Item{}, stock.ErrItemNotFound
	}
	return item, nil
}

func (m *Memory) FindItemByName(_ context.Context, name string) (*stock.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.findByNameLocked(name), nil
}

// Names compare case-insensitively, like SQLite's NOCASE collation.
func (m *Memory) findByNameLocked(name string) *stock.Item {
	for _, item := range m.items {
		if strings.EqualFold(item.Name, name) {
			found := item
			return &found
		}
	}
	return nil
}

func (m *Memory) ListItems(_ context.Context, activeOnly bool) ([]stock.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]stock.Item, 0, len(m.items))
	for _, item := range m.items {
		if activeOnly && !item.Active {
			continue
		}
		result = append(result, item)
	}
	sort.Slice(result, func(i, j int) bool {
		return stock.CatalogLess(result[i].Category, result[i].Name, result[j].Category, result[j].Name)
	})
	return result, nil
}

// =============================================================================
// REPORTS - Append-only
// =============================================================================

func (m *Memory) AppendReport(_ context.Context, r stock.ReportRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r.CreatedAt.IsZero() {
		r.CreatedAt = m.now()
	}
	r.Payload = append([]byte(nil), r.Payload...)
	m.reports = append(m.reports, r)
	return nil
}

func (m *Memory) GetReport(_ context.Context, id string) (stock.ReportRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, r := range m.reports {
		if r.ID == id {
			r.Payload = append([]byte(nil), r.Payload...)
			return r, nil
		}
	}
	return stock.ReportRecord{}, stock.ErrReportNotFound
}

func (m *Memory) ListReports(_ context.Context, day stock.BusinessDay) ([]stock.ReportRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []stock.ReportRecord
	for _, r := range m.reports {
		if r.Day.Equal(day) {
			r.Payload = append([]byte(nil), r.Payload...)
			result = append(result, r)
		}
	}
	return result, nil
}

// =============================================================================
// CORRECTIONS
// =============================================================================

// ApplyCorrection writes the audit row and the entry under one lock.
func (m *Memory) ApplyCorrection(_ context.Context, c stock.Correction, e stock.Entry) (stock.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.corrections = append(m.corrections, c)
	return m.upsertLocked(e), nil
}

func (m *Memory) ListCorrections(_ context.Context, day stock.BusinessDay) ([]stock.Correction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []stock.Correction
	for _, c := range m.corrections {
		if c.Day.Equal(day) {
			result = append(result, c)
		}
	}
	return result, nil
}
