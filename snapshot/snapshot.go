/*
Package snapshot keeps the "current stock" file: tomorrow's expected
opening per item, as of the last closed shift.

PURPOSE:
  Staff tooling (and the opening pre-fill) reads this file instead of
  querying the ledger. It implements stock.OpeningCache, so the ledger can
  put it in front of rollover lookups and invalidate it per item on every
  write. The ledger stays the source of truth.

FILE FORMAT:
  {
    "day": "2025-08-03",
    "rolled_at": "2025-08-03T22:14:05Z",
    "items": [{"item_id": 1, "item": "Nile Special", "opening": 10, "unit_price": 10000}]
  }

ROLL:
  At shift close the previous file is copied to
  <backup dir>/stock_<timestamp>.json, then replaced with the closed day's
  closings as openings. A roll for a day earlier than the file's day is
  skipped, so re-closing an old day never rewinds the snapshot.

WRITES:
  Every write goes to a temp file in the same directory and is renamed
  over the target.
*/
package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/safebar/stockledger/stock"
)

// =============================================================================
// FILE SHAPE
// =============================================================================

type Item struct {
	ItemID    stock.ItemID `json:"item_id"`
	Item      string       `json:"item"`
	Opening   int64        `json:"opening"`
	UnitPrice stock.Money  `json:"unit_price"`
}

type File struct {
	Day      stock.BusinessDay `json:"day"`
	RolledAt time.Time         `json:"rolled_at"`
	Items    []Item            `json:"items"`
}

// Line is one closed entry fed to Roll.
type Line struct {
	ItemID    stock.ItemID
	Item      string
	Closing   int64
	UnitPrice stock.Money
}

// =============================================================================
// FILE CACHE
// =============================================================================

// FileCache is a stock.OpeningCache persisted as a JSON file.
type FileCache struct {
	path      string
	backupDir string
	log       *zap.Logger
	now       func() time.Time

	mu     sync.RWMutex
	day    stock.BusinessDay
	rolled time.Time
	items  map[stock.ItemID]Item
}

var _ stock.OpeningCache = (*FileCache)(nil)

type Option func(*FileCache)

func WithLogger(l *zap.Logger) Option { return func(c *FileCache) { c.log = l } }

func WithClock(now func() time.Time) Option { return func(c *FileCache) { c.now = now } }

// Open loads path if it exists. A missing file is an empty cache.
func Open(path, backupDir string, opts ...Option) (*FileCache, error) {
	c := &FileCache{
		path:      path,
		backupDir: backupDir,
		log:       zap.NewNop(),
		now:       func() time.Time { return time.Now().UTC() },
		items:     make(map[stock.ItemID]Item),
	}
	for _, opt := range opts {
		opt(c)
	}

	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return c, nil
	}

	var f File
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot %s: %w", path, err)
	}
	c.day = f.Day
	c.rolled = f.RolledAt
	for _, it := range f.Items {
		c.items[it.ItemID] = it
	}
	return c, nil
}

// Opening returns the cached opening for itemID.
func (c *FileCache) Opening(itemID stock.ItemID) (int64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	it, ok := c.items[itemID]
	return it.Opening, ok
}

// Remember fills the in-memory cache after a ledger read. It is not
// written to disk; only Roll and Invalidate persist.
func (c *FileCache) Remember(itemID stock.ItemID, opening int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	it := c.items[itemID]
	it.ItemID = itemID
	it.Opening = opening
	c.items[itemID] = it
}

// Invalidate drops itemID and rewrites the file if it was present.
func (c *FileCache) Invalidate(itemID stock.ItemID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.items[itemID]; !ok {
		return
	}
	delete(c.items, itemID)
	if err := c.writeLocked(); err != nil {
		c.log.Warn("failed to persist snapshot invalidation",
			zap.Int64("item_id", int64(itemID)), zap.Error(err))
	}
}

// Current returns a copy of the snapshot, items ordered by name.
func (c *FileCache) Current() File {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fileLocked()
}

// Roll backs up the current file and replaces it with lines' closings as
// the next openings. It reports false when day is older than the
// snapshot's day and nothing was written.
func (c *FileCache) Roll(day stock.BusinessDay, lines []Line) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.day.IsZero() && day.Before(c.day) {
		c.log.Info("snapshot roll skipped: day is older than current snapshot",
			zap.String("day", day.String()), zap.String("snapshot_day", c.day.String()))
		return false, nil
	}

	if _, err := c.backupLocked(); err != nil {
		return false, err
	}

	items := make(map[stock.ItemID]Item, len(lines))
	for _, l := range lines {
		items[l.ItemID] = Item{ItemID: l.ItemID, Item: l.Item, Opening: l.Closing, UnitPrice: l.UnitPrice}
	}
	prevDay, prevRolled, prevItems := c.day, c.rolled, c.items
	c.day, c.rolled, c.items = day, c.now(), items
	if err := c.writeLocked(); err != nil {
		c.day, c.rolled, c.items = prevDay, prevRolled, prevItems
		return false, err
	}
	c.log.Info("snapshot rolled", zap.String("day", day.String()), zap.Int("items", len(items)))
	return true, nil
}

// =============================================================================
// FILE IO
// =============================================================================

func (c *FileCache) fileLocked() File {
	f := File{Day: c.day, RolledAt: c.rolled, Items: make([]Item, 0, len(c.items))}
	for _, it := range c.items {
		f.Items = append(f.Items, it)
	}
	sort.Slice(f.Items, func(i, j int) bool {
		if f.Items[i].Item != f.Items[j].Item {
			return f.Items[i].Item < f.Items[j].Item
		}
		return f.Items[i].ItemID < f.Items[j].ItemID
	})
	return f
}

// backupLocked copies the current file into the backup dir. Returns the
// backup path, or "" when there was no file yet.
func (c *FileCache) backupLocked() (string, error) {
	raw, err := os.ReadFile(c.path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read snapshot for backup: %w", err)
	}
	if err := os.MkdirAll(c.backupDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create backup dir: %w", err)
	}
	stamp := strings.NewReplacer(":", "-", ".", "-").Replace(c.now().UTC().Format("2006-01-02T15:04:05.000Z"))
	dst := filepath.Join(c.backupDir, "stock_"+stamp+".json")
	if err := os.WriteFile(dst, raw, 0o644); err != nil {
		return "", fmt.Errorf("failed to write snapshot backup: %w", err)
	}
	return dst, nil
}

func (c *FileCache) writeLocked() error {
	buf, err := json.MarshalIndent(c.fileLocked(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create snapshot dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".stock-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp snapshot: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(buf); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), c.path); err != nil {
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}
	return nil
}
