/*
Package rest provides a stock.Backend over a PostgREST (Supabase) API.

PURPOSE:
  Lets the service run against a hosted Supabase project instead of a
  database it connects to directly. Every call is a plain HTTPS request
  to /rest/v1/<table> carrying the project's API key.

TABLES (same shape as store/sqlite):
  inventory(id, name, category, price, is_active, created_at, updated_at)
  stock_entries(report_date, item_id, opening, received, damaged, closing,
                sold, updated_at) UNIQUE(report_date, item_id)
  daily_reports(id, report_date, staff_name, total_sales, report_data jsonb,
                created_at)
  entry_corrections(id, report_date, item_id, previous_opening, opening,
                    note, actor, created_at)

UPSERT:
  POST /stock_entries?on_conflict=report_date,item_id
  Prefer: resolution=merge-duplicates
  PostgREST turns this into INSERT ... ON CONFLICT DO UPDATE.

CORRECTIONS:
  PostgREST has no multi-request transactions, so ApplyCorrection calls
  the rpc/apply_stock_correction function, which must insert the audit
  row and upsert the entry in one statement block.

RATE LIMIT:
  Requests pass through a token bucket so a burst of entry submissions
  does not trip the hosted API's own limits.
*/
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/safebar/stockledger/stock"
)

// Config configures the REST backend.
type Config struct {
	BaseURL string // project URL, e.g. https://xyz.supabase.co
	APIKey  string
	Timeout time.Duration
	RPS     float64 // 0 disables the limiter
	Burst   int
}

// Store implements stock.Backend against PostgREST.
type Store struct {
	baseURL string
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
}

var _ stock.Backend = (*Store)(nil)

func New(cfg Config) (*Store, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("rest backend: base URL is empty")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("rest backend: api key is empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RPS > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RPS), burst)
	}
	return &Store{
		baseURL: base + "/rest/v1",
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: timeout},
		limiter: limiter,
	}, nil
}

func (s *Store) Close() error {
	s.http.CloseIdleConnections()
	return nil
}

// =============================================================================
// HTTP PLUMBING
// =============================================================================

// apiError is a non-2xx PostgREST response.
type apiError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
}

func (e *apiError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("postgrest %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("postgrest %d: %s", e.Status, e.Message)
}

func isUniqueViolation(err error) bool {
	var apiErr *apiError
	return errors.As(err, &apiErr) && (apiErr.Status == http.StatusConflict || apiErr.Code == "23505")
}

// do sends one request. out, when non-nil, receives the decoded JSON body.
func (s *Store) do(ctx context.Context, method, path string, query url.Values, prefer string, body, out any) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	endpoint := s.baseURL + "/" + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode %s body: %w", path, err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	req.Header.Set("apikey", s.apiKey)
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if prefer != "" {
		req.Header.Set("Prefer", prefer)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &apiError{Status: resp.StatusCode}
		if json.Unmarshal(raw, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		return apiErr
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

// =============================================================================
// ROWS
// =============================================================================

type itemRow struct {
	ID        int64     `json:"id,omitempty"`
	Name      string    `json:"name"`
	Category  string    `json:"category"`
	Price     int64     `json:"price"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (r itemRow) toItem() stock.Item {
	return stock.Item{
		ID:        stock.ItemID(r.ID),
		Name:      r.Name,
		Category:  r.Category,
		UnitPrice: stock.Money(r.Price),
		Active:    r.IsActive,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

type entryRow struct {
	ReportDate stock.BusinessDay `json:"report_date"`
	ItemID     int64             `json:"item_id"`
	Opening    int64             `json:"opening"`
	Received   int64             `json:"received"`
	Damaged    int64             `json:"damaged"`
	Closing    int64             `json:"closing"`
	Sold       int64             `json:"sold"`
	UpdatedAt  time.Time         `json:"updated_at"`
	Inventory  *itemRow          `json:"inventory,omitempty"`
}

func toEntryRow(e stock.Entry) entryRow {
	return entryRow{
		ReportDate: e.Day,
		ItemID:     int64(e.ItemID),
		Opening:    e.Opening,
		Received:   e.Received,
		Damaged:    e.Damaged,
		Closing:    e.Closing,
		Sold:       e.Sold,
		UpdatedAt:  e.UpdatedAt,
	}
}

func (r entryRow) toEntry() stock.Entry {
	return stock.Entry{
		Day:       r.ReportDate,
		ItemID:    stock.ItemID(r.ItemID),
		Opening:   r.Opening,
		Received:  r.Received,
		Damaged:   r.Damaged,
		Closing:   r.Closing,
		Sold:      r.Sold,
		UpdatedAt: r.UpdatedAt,
	}
}

type reportRow struct {
	ID         string            `json:"id"`
	ReportDate stock.BusinessDay `json:"report_date"`
	StaffName  string            `json:"staff_name"`
	TotalSales int64             `json:"total_sales"`
	ReportData json.RawMessage   `json:"report_data"`
	CreatedAt  time.Time         `json:"created_at"`
}

func (r reportRow) toRecord() stock.ReportRecord {
	return stock.ReportRecord{
		ID:         r.ID,
		Day:        r.ReportDate,
		StaffName:  r.StaffName,
		TotalSales: stock.Money(r.TotalSales),
		Payload:    []byte(r.ReportData),
		CreatedAt:  r.CreatedAt,
	}
}

type correctionRow struct {
	ID              string            `json:"id"`
	ReportDate      stock.BusinessDay `json:"report_date"`
	ItemID          int64             `json:"item_id"`
	PreviousOpening int64             `json:"previous_opening"`
	Opening         int64             `json:"opening"`
	Note            string            `json:"note"`
	Actor           string            `json:"actor"`
	CreatedAt       time.Time         `json:"created_at"`
}

func eq(v string) string { return "eq." + v }

// =============================================================================
// ENTRY STORE
// =============================================================================

func (s *Store) UpsertEntry(ctx context.Context, e stock.Entry) (stock.Entry, error) {
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = time.Now().UTC()
	}
	q := url.Values{"on_conflict": {"report_date,item_id"}}
	err := s.do(ctx, http.MethodPost, "stock_entries", q,
		"resolution=merge-duplicates,return=minimal", toEntryRow(e), nil)
	if err != nil {
		return stock.Entry{}, fmt.Errorf("failed to upsert stock entry: %w", err)
	}
	return e, nil
}

func (s *Store) GetEntry(ctx context.Context, day stock.BusinessDay, itemID stock.ItemID) (*stock.Entry, error) {
	q := url.Values{
		"report_date": {eq(day.String())},
		"item_id":     {eq(strconv.FormatInt(int64(itemID), 10))},
		"limit":       {"1"},
	}
	var rows []entryRow
	if err := s.do(ctx, http.MethodGet, "stock_entries", q, "", nil, &rows); err != nil {
		return nil, fmt.Errorf("failed to get stock entry: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	e := rows[0].toEntry()
	return &e, nil
}

func (s *Store) EntriesForDay(ctx context.Context, day stock.BusinessDay) ([]stock.EntryView, error) {
	q := url.Values{
		"report_date": {eq(day.String())},
		"select":      {"*,inventory(name,category,price)"},
	}
	var rows []entryRow
	if err := s.do(ctx, http.MethodGet, "stock_entries", q, "", nil, &rows); err != nil {
		return nil, fmt.Errorf("failed to query stock entries: %w", err)
	}

	views := make([]stock.EntryView, 0, len(rows))
	for _, r := range rows {
		v := stock.EntryView{Entry: r.toEntry()}
		if r.Inventory != nil {
			v.Name = r.Inventory.Name
			v.Category = r.Inventory.Category
			v.UnitPrice = stock.Money(r.Inventory.Price)
		}
		views = append(views, v)
	}
	// Ordering on an embedded resource is not supported by every PostgREST version.
	sort.Slice(views, func(i, j int) bool {
		return stock.CatalogLess(views[i].Category, views[i].Name, views[j].Category, views[j].Name)
	})
	return views, nil
}

func (s *Store) LatestEntry(ctx context.Context, itemID stock.ItemID, before *stock.BusinessDay) (*stock.Entry, error) {
	q := url.Values{
		"item_id": {eq(strconv.FormatInt(int64(itemID), 10))},
		"order":   {"report_date.desc"},
		"limit":   {"1"},
	}
	if before != nil {
		q.Set("report_date", "lt."+before.String())
	}
	var rows []entryRow
	if err := s.do(ctx, http.MethodGet, "stock_entries", q, "", nil, &rows); err != nil {
		return nil, fmt.Errorf("failed to load latest stock entry: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	e := rows[0].toEntry()
	return &e, nil
}

// =============================================================================
// ITEM STORE
// =============================================================================

func (s *Store) CreateItem(ctx context.Context, item stock.Item) (stock.Item, error) {
	now := time.Now().UTC()
	body := itemRow{
		Name: item.Name, Category: item.Category, Price: int64(item.UnitPrice),
		IsActive: item.Active, CreatedAt: now, UpdatedAt: now,
	}
	var rows []itemRow
	if err := s.do(ctx, http.MethodPost, "inventory", nil, "return=representation", body, &rows); err != nil {
		if isUniqueViolation(err) {
			return stock.Item{}, &stock.ConflictError{Name: item.Name}
		}
		return stock.Item{}, fmt.Errorf("failed to create item: %w", err)
	}
	if len(rows) == 0 {
		return stock.Item{}, errors.New("failed to create item: empty representation")
	}
	return rows[0].toItem(), nil
}

func (s *Store) UpdateItem(ctx context.Context, item stock.Item) (stock.Item, error) {
	q := url.Values{"id": {eq(strconv.FormatInt(int64(item.ID), 10))}}
	body := map[string]any{
		"name":       item.Name,
		"category":   item.Category,
		"price":      int64(item.UnitPrice),
		"is_active":  item.Active,
		"updated_at": time.Now().UTC(),
	}
	var rows []itemRow
	if err := s.do(ctx, http.MethodPatch, "inventory", q, "return=representation", body, &rows); err != nil {
		if isUniqueViolation(err) {
			return stock.Item{}, &stock.ConflictError{Name: item.Name}
		}
		return stock.Item{}, fmt.Errorf("failed to update item: %w", err)
	}
	if len(rows) == 0 {
		return stock.Item{}, stock.ErrItemNotFound
	}
	return rows[0].toItem(), nil
}

func (s *Store) SetItemActive(ctx context.Context, id stock.ItemID, active bool) error {
	q := url.Values{"id": {eq(strconv.FormatInt(int64(id), 10))}}
	body := map[string]any{"is_active": active, "updated_at": time.Now().UTC()}
	var rows []itemRow
	if err := s.do(ctx, http.MethodPatch, "inventory", q, "return=representation", body, &rows); err != nil {
		return fmt.Errorf("failed to set item active: %w", err)
	}
	if len(rows) == 0 {
		return stock.ErrItemNotFound
	}
	return nil
}

func (s *Store) GetItem(ctx context.Context, id stock.ItemID) (stock.Item, error) {
	q := url.Values{"id": {eq(strconv.FormatInt(int64(id), 10))}}
	var rows []itemRow
	if err := s.do(ctx, http.MethodGet, "inventory", q, "", nil, &rows); err != nil {
		return stock.Item{}, fmt.Errorf("failed to get item: %w", err)
	}
	if len(rows) == 0 {
		return stock.Item{}, stock.ErrItemNotFound
	}
	return rows[0].toItem(), nil
}

// FindItemByName matches case-insensitively with ilike; LIKE wildcards in
// name are escaped.
func (s *Store) FindItemByName(ctx context.Context, name string) (*stock.Item, error) {
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`, `*`, `\*`).Replace(name)
	q := url.Values{"name": {"ilike." + escaped}, "limit": {"1"}}
	var rows []itemRow
	if err := s.do(ctx, http.MethodGet, "inventory", q, "", nil, &rows); err != nil {
		return nil, fmt.Errorf("failed to find item: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	item := rows[0].toItem()
	return &item, nil
}

func (s *Store) ListItems(ctx context.Context, activeOnly bool) ([]stock.Item, error) {
	q := url.Values{"order": {"category,name"}}
	if activeOnly {
		q.Set("is_active", "eq.true")
	}
	var rows []itemRow
	if err := s.do(ctx, http.MethodGet, "inventory", q, "", nil, &rows); err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	items := make([]stock.Item, 0, len(rows))
	for _, r := range rows {
		items = append(items, r.toItem())
	}
	return items, nil
}

// =============================================================================
// REPORT STORE - Append-only
// =============================================================================

func (s *Store) AppendReport(ctx context.Context, r stock.ReportRecord) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	body := reportRow{
		ID:         r.ID,
		ReportDate: r.Day,
		StaffName:  r.StaffName,
		TotalSales: int64(r.TotalSales),
		ReportData: json.RawMessage(r.Payload),
		CreatedAt:  r.CreatedAt,
	}
	if err := s.do(ctx, http.MethodPost, "daily_reports", nil, "return=minimal", body, nil); err != nil {
		return fmt.Errorf("failed to append report: %w", err)
	}
	return nil
}

func (s *Store) GetReport(ctx context.Context, id string) (stock.ReportRecord, error) {
	q := url.Values{"id": {eq(id)}}
	var rows []reportRow
	if err := s.do(ctx, http.MethodGet, "daily_reports", q, "", nil, &rows); err != nil {
		return stock.ReportRecord{}, fmt.Errorf("failed to get report: %w", err)
	}
	if len(rows) == 0 {
		return stock.ReportRecord{}, stock.ErrReportNotFound
	}
	return rows[0].toRecord(), nil
}

func (s *Store) ListReports(ctx context.Context, day stock.BusinessDay) ([]stock.ReportRecord, error) {
	q := url.Values{"report_date": {eq(day.String())}, "order": {"created_at.asc"}}
	var rows []reportRow
	if err := s.do(ctx, http.MethodGet, "daily_reports", q, "", nil, &rows); err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}
	records := make([]stock.ReportRecord, 0, len(rows))
	for _, r := range rows {
		records = append(records, r.toRecord())
	}
	return records, nil
}

// =============================================================================
// CORRECTION STORE
// =============================================================================

func (s *Store) ApplyCorrection(ctx context.Context, c stock.Correction, e stock.Entry) (stock.Entry, error) {
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = time.Now().UTC()
	}
	body := map[string]any{
		"correction": correctionRow{
			ID: c.ID, ReportDate: c.Day, ItemID: int64(c.ItemID),
			PreviousOpening: c.PreviousOpening, Opening: c.Opening,
			Note: c.Note, Actor: c.Actor, CreatedAt: c.At,
		},
		"entry": toEntryRow(e),
	}
	if err := s.do(ctx, http.MethodPost, "rpc/apply_stock_correction", nil, "", body, nil); err != nil {
		return stock.Entry{}, fmt.Errorf("failed to apply correction: %w", err)
	}
	return e, nil
}

func (s *Store) ListCorrections(ctx context.Context, day stock.BusinessDay) ([]stock.Correction, error) {
	q := url.Values{"report_date": {eq(day.String())}, "order": {"created_at.asc"}}
	var rows []correctionRow
	if err := s.do(ctx, http.MethodGet, "entry_corrections", q, "", nil, &rows); err != nil {
		return nil, fmt.Errorf("failed to list corrections: %w", err)
	}
	out := make([]stock.Correction, 0, len(rows))
	for _, r := range rows {
		out = append(out, stock.Correction{
			ID: r.ID, Day: r.ReportDate, ItemID: stock.ItemID(r.ItemID),
			PreviousOpening: r.PreviousOpening, Opening: r.Opening,
			Note: r.Note, Actor: r.Actor, At: r.CreatedAt,
		})
	}
	return out, nil
}
