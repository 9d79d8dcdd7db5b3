/*
rollover.go - Expected opening counts

PURPOSE:
  Tomorrow's opening for an item is today's closing. The Resolver answers
  "what should the opening be?" so the UI can pre-fill it and, in strict
  mode, so the ledger can reject a submission that breaks the chain.

TWO QUESTIONS:
  ExpectedOpening(item)       closing of the item's latest entry, any day.
                              This is what the next shift should start from.
  ExpectedOpeningOn(item,day) closing of the latest entry strictly before
                              day. Re-submitting today's counts must not
                              roll today's own closing into today's opening.

CACHE:
  An OpeningCache (the snapshot file in the file-backed deployment) may sit
  in front of ExpectedOpening. It is read-through only: a miss falls back
  to the ledger and fills the cache, and every recorded entry invalidates
  its item. The ledger remains the single source of truth.

MODES:
  lenient  opening accepted as submitted (manual recounts allowed)
  strict   a submitted opening must equal ExpectedOpeningOn; overrides go
           through Ledger.CorrectEntry with an audit note
*/
package stock

import (
	"context"
	"fmt"
)

// =============================================================================
// ROLLOVER MODE
// =============================================================================

type RolloverMode string

const (
	RolloverLenient RolloverMode = "lenient"
	RolloverStrict  RolloverMode = "strict"
)

// ParseRolloverMode accepts "" as lenient.
func ParseRolloverMode(s string) (RolloverMode, error) {
	switch RolloverMode(s) {
	case "", RolloverLenient:
		return RolloverLenient, nil
	case RolloverStrict:
		return RolloverStrict, nil
	default:
		return "", fmt.Errorf("unknown rollover mode %q (want lenient or strict)", s)
	}
}

// =============================================================================
// OPENING CACHE
// =============================================================================

// OpeningCache caches ExpectedOpening per item.
type OpeningCache interface {
	Opening(itemID ItemID) (int64, bool)
	Remember(itemID ItemID, opening int64)
	Invalidate(itemID ItemID)
}

// =============================================================================
// RESOLVER
// =============================================================================

type Resolver struct {
	entries EntryStore
	cache   OpeningCache
}

func NewResolver(entries EntryStore, cache OpeningCache) *Resolver {
	return &Resolver{entries: entries, cache: cache}
}

// ExpectedOpening returns the item's last closing, or 0 if never recorded.
func (r *Resolver) ExpectedOpening(ctx context.Context, itemID ItemID) (int64, error) {
	if r.cache != nil {
		if v, ok := r.cache.Opening(itemID); ok {
			return v, nil
		}
	}
	v, err := r.closing(ctx, itemID, nil)
	if err != nil {
		return 0, err
	}
	if r.cache != nil {
		r.cache.Remember(itemID, v)
	}
	return v, nil
}

// ExpectedOpeningOn returns the closing of the latest entry before day.
func (r *Resolver) ExpectedOpeningOn(ctx context.Context, itemID ItemID, day BusinessDay) (int64, error) {
	return r.closing(ctx, itemID, &day)
}

func (r *Resolver) invalidate(itemID ItemID) {
	if r.cache != nil {
		r.cache.Invalidate(itemID)
	}
}

func (r *Resolver) closing(ctx context.Context, itemID ItemID, before *BusinessDay) (int64, error) {
	e, err := r.entries.LatestEntry(ctx, itemID, before)
	if err != nil {
		return 0, Persistence("load last closing", err)
	}
	if e == nil {
		return 0, nil
	}
	return e.Closing, nil
}
