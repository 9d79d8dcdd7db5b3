/*
ledger.go - Authoritative per-day, per-item stock counts

PURPOSE:
  The Ledger is the only writer of stock entries. It validates input,
  resolves the opening count, recomputes sold and hands the row to the
  backend's atomic upsert.

CRITICAL INVARIANTS:
  1. UNIQUE: one entry per (day, item). Re-submission overwrites every field.
  2. DERIVED SOLD: sold = opening + received - damaged - closing, always
     recomputed here. A caller-supplied sold is ignored.
  3. ROLLOVER: in strict mode opening must equal the latest earlier closing.
  4. NON-NEGATIVE COUNTS: opening, received, damaged, closing >= 0.

WHAT IS NOT AN INVARIANT:
  Sold may come out negative when the counts do not reconcile (more on the
  shelf than can be explained). It is stored as-is and logged so the
  variance is visible in the report instead of being hidden by a clamp.

CORRECTIONS:
  CorrectEntry is the explicit override for recounts. It accepts any
  opening, requires a note, and writes a Correction audit row in the same
  backend transaction as the entry.

EXAMPLE:
  ledger := stock.NewLedger(backend, stock.WithRolloverMode(stock.RolloverStrict))
  entry, err := ledger.RecordEntry(ctx, stock.EntryInput{
      Day: day, ItemID: 7, Received: 5, Damaged: 2, Closing: 3,
  })
*/
package stock

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LedgerStore is the subset of Backend the ledger needs.
type LedgerStore interface {
	EntryStore
	CorrectionStore
	GetItem(ctx context.Context, id ItemID) (Item, error)
}

type Ledger struct {
	store    LedgerStore
	resolver *Resolver
	mode     RolloverMode
	log      *zap.Logger
	now      func() time.Time
}

type LedgerOption func(*Ledger)

func WithRolloverMode(m RolloverMode) LedgerOption {
	return func(l *Ledger) { l.mode = m }
}

func WithOpeningCache(c OpeningCache) LedgerOption {
	return func(l *Ledger) { l.resolver.cache = c }
}

func WithLogger(log *zap.Logger) LedgerOption {
	return func(l *Ledger) { l.log = log }
}

func WithClock(now func() time.Time) LedgerOption {
	return func(l *Ledger) { l.now = now }
}

func NewLedger(store LedgerStore, opts ...LedgerOption) *Ledger {
	l := &Ledger{
		store:    store,
		resolver: NewResolver(store, nil),
		mode:     RolloverLenient,
		log:      zap.NewNop(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) Resolver() *Resolver { return l.resolver }

func (l *Ledger) Mode() RolloverMode { return l.mode }

// =============================================================================
// WRITES
// =============================================================================

// RecordEntry stores the counts for (in.Day, in.ItemID), replacing any
// existing entry for that key.
func (l *Ledger) RecordEntry(ctx context.Context, in EntryInput) (Entry, error) {
	if err := l.validate(ctx, in); err != nil {
		return Entry{}, err
	}

	expected, err := l.resolver.ExpectedOpeningOn(ctx, in.ItemID, in.Day)
	if err != nil {
		return Entry{}, err
	}

	opening := expected
	if in.Opening != nil {
		if l.mode == RolloverStrict && *in.Opening != expected {
			return Entry{}, Invalid("opening",
				"expected %d carried over from the previous closing, got %d; record a correction to override",
				expected, *in.Opening)
		}
		opening = *in.Opening
	}

	entry := l.build(in, opening)
	stored, err := l.store.UpsertEntry(ctx, entry)
	if err != nil {
		return Entry{}, Persistence("record entry", err)
	}
	l.resolver.invalidate(in.ItemID)
	return stored, nil
}

// CorrectEntry overrides an entry's counts, opening included, and leaves
// an audit row naming the actor and reason.
func (l *Ledger) CorrectEntry(ctx context.Context, actor Actor, in EntryInput, note string) (Entry, Correction, error) {
	if !actor.IsManagerOrSupervisor() {
		return Entry{}, Correction{}, &AuthorizationError{Actor: actor.Name, Role: actor.Role, Action: "correct stock entries"}
	}
	note = strings.TrimSpace(note)
	if note == "" {
		return Entry{}, Correction{}, Invalid("note", "a correction needs a reason")
	}
	if in.Opening == nil {
		return Entry{}, Correction{}, Invalid("opening", "a correction must state the counted opening")
	}
	if err := l.validate(ctx, in); err != nil {
		return Entry{}, Correction{}, err
	}

	previous, err := l.store.GetEntry(ctx, in.Day, in.ItemID)
	if err != nil {
		return Entry{}, Correction{}, Persistence("load entry", err)
	}
	var prevOpening int64
	if previous != nil {
		prevOpening = previous.Opening
	} else if prevOpening, err = l.resolver.ExpectedOpeningOn(ctx, in.ItemID, in.Day); err != nil {
		return Entry{}, Correction{}, err
	}

	correction := Correction{
		ID:              uuid.NewString(),
		Day:             in.Day,
		ItemID:          in.ItemID,
		PreviousOpening: prevOpening,
		Opening:         *in.Opening,
		Note:            note,
		Actor:           actor.Name,
		At:              l.now(),
	}

	stored, err := l.store.ApplyCorrection(ctx, correction, l.build(in, *in.Opening))
	if err != nil {
		return Entry{}, Correction{}, Persistence("apply correction", err)
	}
	l.resolver.invalidate(in.ItemID)
	l.log.Info("stock entry corrected",
		zap.String("day", in.Day.String()),
		zap.Int64("item_id", int64(in.ItemID)),
		zap.Int64("previous_opening", prevOpening),
		zap.Int64("opening", *in.Opening),
		zap.String("actor", actor.Name))
	return stored, correction, nil
}

func (l *Ledger) build(in EntryInput, opening int64) Entry {
	e := Entry{
		Day:       in.Day,
		ItemID:    in.ItemID,
		Opening:   opening,
		Received:  in.Received,
		Damaged:   in.Damaged,
		Closing:   in.Closing,
		Sold:      Sold(opening, in.Received, in.Damaged, in.Closing),
		UpdatedAt: l.now(),
	}
	if in.Sold != nil && *in.Sold != e.Sold {
		l.log.Debug("discarding submitted sold value",
			zap.Int64("item_id", int64(in.ItemID)),
			zap.Int64("submitted", *in.Sold),
			zap.Int64("computed", e.Sold))
	}
	if e.Sold < 0 {
		l.log.Warn("stock does not reconcile: negative sold",
			zap.String("day", in.Day.String()),
			zap.Int64("item_id", int64(in.ItemID)),
			zap.Int64("sold", e.Sold))
	}
	return e
}

func (l *Ledger) validate(ctx context.Context, in EntryInput) error {
	if in.Day.IsZero() {
		return Invalid("day", "is required")
	}
	if in.ItemID <= 0 {
		return Invalid("item_id", "is required")
	}
	counts := []struct {
		field string
		value int64
	}{
		{"received", in.Received},
		{"damaged", in.Damaged},
		{"closing", in.Closing},
	}
	if in.Opening != nil {
		counts = append(counts, struct {
			field string
			value int64
		}{"opening", *in.Opening})
	}
	for _, c := range counts {
		if c.value < 0 {
			return Invalid(c.field, "must not be negative (got %d)", c.value)
		}
	}

	// Inactive items are fine; only unknown ids are rejected.
	if _, err := l.store.GetItem(ctx, in.ItemID); err != nil {
		if KindOf(err) == KindNotFound {
			return Invalid("item_id", "no item with id %d", in.ItemID)
		}
		return Persistence("resolve item", err)
	}
	return nil
}

// =============================================================================
// READS
// =============================================================================

// EntriesForDay returns the day's entries ordered by category, then name.
func (l *Ledger) EntriesForDay(ctx context.Context, day BusinessDay) ([]EntryView, error) {
	if day.IsZero() {
		return nil, Invalid("day", "is required")
	}
	views, err := l.store.EntriesForDay(ctx, day)
	if err != nil {
		return nil, Persistence("load entries", err)
	}
	return views, nil
}

// LastClosing returns the closing of the item's most recent entry, or 0.
// It always reads the ledger, bypassing any opening cache.
func (l *Ledger) LastClosing(ctx context.Context, itemID ItemID) (int64, error) {
	return l.resolver.closing(ctx, itemID, nil)
}

// LatestDay returns the day of the item's most recent entry, or the zero
// day when it has none.
func (l *Ledger) LatestDay(ctx context.Context, itemID ItemID) (BusinessDay, error) {
	e, err := l.store.LatestEntry(ctx, itemID, nil)
	if err != nil {
		return BusinessDay{}, Persistence("load latest entry", err)
	}
	if e == nil {
		return BusinessDay{}, nil
	}
	return e.Day, nil
}

// ClosingBefore returns the closing of the latest entry strictly before day, or 0.
func (l *Ledger) ClosingBefore(ctx context.Context, itemID ItemID, day BusinessDay) (int64, error) {
	return l.resolver.ExpectedOpeningOn(ctx, itemID, day)
}

func (l *Ledger) Corrections(ctx context.Context, day BusinessDay) ([]Correction, error) {
	cs, err := l.store.ListCorrections(ctx, day)
	if err != nil {
		return nil, Persistence("load corrections", err)
	}
	return cs, nil
}
