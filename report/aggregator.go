package report

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/safebar/stockledger/stock"
)

// =============================================================================
// AGGREGATOR
// =============================================================================

// Aggregator builds reports from ledger rows and keeps their history.
type Aggregator struct {
	reports stock.ReportStore
	policy  DrinksPolicy
	log     *zap.Logger
	now     func() time.Time
}

type AggregatorOption func(*Aggregator)

func WithDrinksPolicy(p DrinksPolicy) AggregatorOption {
	return func(a *Aggregator) { a.policy = p }
}

func WithAggregatorLogger(l *zap.Logger) AggregatorOption {
	return func(a *Aggregator) { a.log = l }
}

func WithAggregatorClock(now func() time.Time) AggregatorOption {
	return func(a *Aggregator) { a.now = now }
}

func NewAggregator(reports stock.ReportStore, opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{
		reports: reports,
		policy:  DrinksSeparate,
		log:     zap.NewNop(),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Aggregator) Policy() DrinksPolicy { return a.policy }

// Build assembles an unsaved report. Prices are copied out of entries, so
// the result does not change if the items are edited afterwards.
func (a *Aggregator) Build(day stock.BusinessDay, staffName string, entries []stock.EntryView, notes string, drinks []ManagerDrink) (DailyReport, error) {
	if day.IsZero() {
		return DailyReport{}, stock.Invalid("day", "is required")
	}
	staffName = strings.TrimSpace(staffName)
	if staffName == "" {
		return DailyReport{}, stock.Invalid("staff_name", "is required")
	}

	lines := make([]Line, 0, len(entries))
	var gross stock.Money
	for _, e := range entries {
		if !e.Day.Equal(day) {
			return DailyReport{}, stock.Invalid("entries", "entry for item %d is dated %s, not %s", e.ItemID, e.Day, day)
		}
		total := e.UnitPrice.Times(e.Sold)
		lines = append(lines, Line{
			ItemID:             e.ItemID,
			Item:               e.Name,
			Category:           e.Category,
			Opening:            e.Opening,
			Received:           e.Received,
			Damaged:            e.Damaged,
			Closing:            e.Closing,
			Sold:               e.Sold,
			UnitPriceAtCapture: e.UnitPrice,
			LineTotal:          total,
		})
		gross = gross.Add(total)
	}

	cleaned := make([]ManagerDrink, 0, len(drinks))
	var drinksValue stock.Money
	for i, d := range drinks {
		d.Item = strings.TrimSpace(d.Item)
		d.Type = strings.TrimSpace(d.Type)
		switch {
		case d.Item == "":
			return DailyReport{}, stock.Invalid(fmt.Sprintf("manager_drinks[%d].item", i), "is required")
		case d.Quantity < 0:
			return DailyReport{}, stock.Invalid(fmt.Sprintf("manager_drinks[%d].quantity", i), "must not be negative (got %d)", d.Quantity)
		case d.Amount.IsNegative():
			return DailyReport{}, stock.Invalid(fmt.Sprintf("manager_drinks[%d].amount", i), "must not be negative (got %d)", d.Amount)
		}
		cleaned = append(cleaned, d)
		drinksValue = drinksValue.Add(d.Amount)
	}

	total := gross
	if a.policy == DrinksDeduct {
		total = gross.Sub(drinksValue)
	}

	return DailyReport{
		Day:        day,
		StaffName:  staffName,
		TotalSales: total,
		Payload: Payload{
			Lines:         lines,
			Notes:         strings.TrimSpace(notes),
			ManagerDrinks: cleaned,
			GrossSales:    gross,
			DrinksValue:   drinksValue,
			DrinksPolicy:  a.policy,
		},
	}, nil
}

// Persist appends r to the report history and returns its id.
func (a *Aggregator) Persist(ctx context.Context, r DailyReport) (string, error) {
	saved, err := a.persist(ctx, r)
	if err != nil {
		return "", err
	}
	return saved.ID, nil
}

func (a *Aggregator) persist(ctx context.Context, r DailyReport) (DailyReport, error) {
	if r.Day.IsZero() {
		return DailyReport{}, stock.Invalid("day", "is required")
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	r.CreatedAt = a.now()

	rec, err := encode(r)
	if err != nil {
		return DailyReport{}, err
	}
	if err := a.reports.AppendReport(ctx, rec); err != nil {
		return DailyReport{}, stock.Persistence("persist report", err)
	}
	a.log.Info("report persisted",
		zap.String("report_id", r.ID),
		zap.String("day", r.Day.String()),
		zap.String("staff", r.StaffName),
		zap.Int64("total_sales", int64(r.TotalSales)))
	return r, nil
}

// Get returns a persisted report, or stock.ErrReportNotFound.
func (a *Aggregator) Get(ctx context.Context, id string) (DailyReport, error) {
	rec, err := a.reports.GetReport(ctx, id)
	if err != nil {
		return DailyReport{}, stock.Persistence("load report", err)
	}
	return decode(rec)
}

// ForDay returns every report persisted for day, oldest first.
func (a *Aggregator) ForDay(ctx context.Context, day stock.BusinessDay) ([]DailyReport, error) {
	if day.IsZero() {
		return nil, stock.Invalid("day", "is required")
	}
	recs, err := a.reports.ListReports(ctx, day)
	if err != nil {
		return nil, stock.Persistence("list reports", err)
	}
	out := make([]DailyReport, 0, len(recs))
	for _, rec := range recs {
		r, err := decode(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// =============================================================================
// STORED PAYLOAD
// =============================================================================

// storedPayload is the JSON written to the report store. Day, staff and
// total are repeated inside so the payload reads on its own.
type storedPayload struct {
	Day        stock.BusinessDay `json:"day"`
	StaffName  string            `json:"staff_name"`
	TotalSales stock.Money       `json:"total_sales"`
	Payload
}

func encode(r DailyReport) (stock.ReportRecord, error) {
	raw, err := json.Marshal(storedPayload{
		Day:        r.Day,
		StaffName:  r.StaffName,
		TotalSales: r.TotalSales,
		Payload:    r.Payload,
	})
	if err != nil {
		return stock.ReportRecord{}, fmt.Errorf("failed to encode report payload: %w", err)
	}
	return stock.ReportRecord{
		ID:         r.ID,
		Day:        r.Day,
		StaffName:  r.StaffName,
		TotalSales: r.TotalSales,
		Payload:    raw,
		CreatedAt:  r.CreatedAt,
	}, nil
}

func decode(rec stock.ReportRecord) (DailyReport, error) {
	var p storedPayload
	if len(rec.Payload) > 0 {
		if err := json.Unmarshal(rec.Payload, &p); err != nil {
			return DailyReport{}, fmt.Errorf("failed to decode report %s: %w", rec.ID, err)
		}
	}
	return DailyReport{
		ID:         rec.ID,
		Day:        rec.Day,
		StaffName:  rec.StaffName,
		TotalSales: rec.TotalSales,
		Payload:    p.Payload,
		CreatedAt:  rec.CreatedAt,
	}, nil
}
