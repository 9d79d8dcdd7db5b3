/*
handlers.go - HTTP API handlers for the stock ledger

PURPOSE:
  Exposes the ledger, item registry and shift-close pipeline over JSON.
  Handlers parse and validate the request, call into the stock and report
  packages with the session's actor, and map errors to HTTP statuses.

ENDPOINTS:
  Session:
    GET    /api/session                           Current staff member

  Items:
    GET    /api/items[?include_inactive=true]     List items
    GET    /api/items/by-category                 Active items grouped by category
    POST   /api/items                             Add or reactivate (manager)
    PUT    /api/items/{id}                        Edit (manager)
    DELETE /api/items/{id}                        Soft delete (manager)
    GET    /api/items/{id}/expected-opening       Rollover value [?day=]

  Stock:
    GET    /api/stock?day=                        Entries for a day
    POST   /api/stock                             Record an entry
    GET    /api/stock/closing/{id}                Last closing for an item
    POST   /api/stock/corrections                 Override an opening (manager/supervisor)
    GET    /api/stock/corrections?day=            Correction audit trail

  Reports:
    POST   /api/reports/close                     Close the shift
    GET    /api/reports?day=                      Reports for a day
    GET    /api/reports/{id}                      One report
    GET    /api/reports/{id}/export               .xlsx download
    POST   /api/reports/{id}/dispatch             Retry delivery

ERROR HANDLING:
  - 400: validation
  - 401: missing or invalid token (auth middleware)
  - 403: role not allowed
  - 404: unknown item or report
  - 409: item name taken by an active item
  - 500: storage failure
  - 502: report persisted but delivery failed; body carries report_id

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/safebar/stockledger/logger"
	"github.com/safebar/stockledger/metrics"
	"github.com/safebar/stockledger/report"
	"github.com/safebar/stockledger/stock"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	ledger   *stock.Ledger
	registry *stock.Registry
	reports  *report.Service
	metrics  *metrics.Metrics
	exponent int32
	validate *validator.Validate
}

type HandlerConfig struct {
	Ledger   *stock.Ledger
	Registry *stock.Registry
	Reports  *report.Service
	Metrics  *metrics.Metrics // optional
	Exponent int32
}

func NewHandler(cfg HandlerConfig) *Handler {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{
		ledger:   cfg.Ledger,
		registry: cfg.Registry,
		reports:  cfg.Reports,
		metrics:  cfg.Metrics,
		exponent: cfg.Exponent,
		validate: v,
	}
}

// =============================================================================
// SESSION
// =============================================================================

func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	actor := mustActor(r)
	writeJSON(w, http.StatusOK, SessionDTO{
		Name:           actor.Name,
		Role:           string(actor.Role),
		CanManageItems: actor.IsManager(),
		CanCorrect:     actor.IsManagerOrSupervisor(),
	})
}

// =============================================================================
// ITEM HANDLERS
// =============================================================================

func (h *Handler) ListItems(w http.ResponseWriter, r *http.Request) {
	includeInactive, _ := strconv.ParseBool(r.URL.Query().Get("include_inactive"))
	items, err := h.registry.List(r.Context(), includeInactive)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	dtos := make([]ItemDTO, len(items))
	for i, it := range items {
		dtos[i] = toItemDTO(it, h.exponent)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) ListItemsByCategory(w http.ResponseWriter, r *http.Request) {
	groups, err := h.registry.ByCategory(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	dtos := make([]CategoryDTO, len(groups))
	for i, g := range groups {
		items := make([]ItemDTO, len(g.Items))
		for j, it := range g.Items {
			items[j] = toItemDTO(it, h.exponent)
		}
		dtos[i] = CategoryDTO{Category: g.Category, Items: items}
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateItem(w http.ResponseWriter, r *http.Request) {
	var req ItemRequest
	if !h.decode(w, r, &req) {
		return
	}
	item, err := h.registry.Add(r.Context(), mustActor(r), stock.NewItem{
		Name: req.Name, Category: req.Category, UnitPrice: stock.Money(req.Price),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toItemDTO(item, h.exponent))
}

func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	id, ok := h.itemID(w, r)
	if !ok {
		return
	}
	var req ItemRequest
	if !h.decode(w, r, &req) {
		return
	}
	item, err := h.registry.Update(r.Context(), mustActor(r), id, stock.NewItem{
		Name: req.Name, Category: req.Category, UnitPrice: stock.Money(req.Price),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toItemDTO(item, h.exponent))
}

func (h *Handler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	id, ok := h.itemID(w, r)
	if !ok {
		return
	}
	if err := h.registry.Remove(r.Context(), mustActor(r), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetExpectedOpening answers the rollover value. With ?day= it is the
// closing strictly before that day; without it, the item's last closing.
func (h *Handler) GetExpectedOpening(w http.ResponseWriter, r *http.Request) {
	id, ok := h.itemID(w, r)
	if !ok {
		return
	}
	if _, err := h.registry.Resolve(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}

	dto := ExpectedOpeningDTO{ItemID: int64(id)}
	var err error
	if raw := r.URL.Query().Get("day"); raw != "" {
		day, perr := stock.ParseBusinessDay(raw)
		if perr != nil {
			h.writeError(w, r, perr)
			return
		}
		dto.Day = day.String()
		dto.Opening, err = h.ledger.Resolver().ExpectedOpeningOn(r.Context(), id, day)
	} else {
		dto.Opening, err = h.ledger.Resolver().ExpectedOpening(r.Context(), id)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto)
}

// =============================================================================
// STOCK HANDLERS
// =============================================================================

func (h *Handler) ListEntries(w http.ResponseWriter, r *http.Request) {
	day, err := stock.ParseBusinessDay(r.URL.Query().Get("day"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	views, err := h.ledger.EntriesForDay(r.Context(), day)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	dtos := make([]EntryDTO, len(views))
	for i, v := range views {
		dtos[i] = toEntryViewDTO(v)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) RecordEntry(w http.ResponseWriter, r *http.Request) {
	var req EntryRequest
	if !h.decode(w, r, &req) {
		return
	}
	day, err := stock.ParseBusinessDay(req.Day)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	entry, err := h.ledger.RecordEntry(r.Context(), stock.EntryInput{
		Day:      day,
		ItemID:   stock.ItemID(req.ItemID),
		Opening:  req.Opening,
		Received: req.Received,
		Damaged:  req.Damaged,
		Closing:  req.Closing,
		Sold:     req.Sold,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if h.metrics != nil {
		h.metrics.EntryRecorded(entry)
	}
	writeJSON(w, http.StatusOK, toEntryDTO(entry))
}

func (h *Handler) GetLastClosing(w http.ResponseWriter, r *http.Request) {
	id, ok := h.itemID(w, r)
	if !ok {
		return
	}
	closing, err := h.ledger.LastClosing(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ClosingDTO{ItemID: int64(id), Closing: closing})
}

func (h *Handler) CreateCorrection(w http.ResponseWriter, r *http.Request) {
	var req CorrectionRequest
	if !h.decode(w, r, &req) {
		return
	}
	day, err := stock.ParseBusinessDay(req.Day)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	entry, corr, err := h.ledger.CorrectEntry(r.Context(), mustActor(r), stock.EntryInput{
		Day:      day,
		ItemID:   stock.ItemID(req.ItemID),
		Opening:  req.Opening,
		Received: req.Received,
		Damaged:  req.Damaged,
		Closing:  req.Closing,
	}, req.Note)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if h.metrics != nil {
		h.metrics.EntryRecorded(entry)
		h.metrics.CorrectionApplied()
	}
	writeJSON(w, http.StatusOK, CorrectionResponse{Entry: toEntryDTO(entry), Correction: toCorrectionDTO(corr)})
}

func (h *Handler) ListCorrections(w http.ResponseWriter, r *http.Request) {
	day, err := stock.ParseBusinessDay(r.URL.Query().Get("day"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	corrections, err := h.ledger.Corrections(r.Context(), day)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	dtos := make([]CorrectionDTO, len(corrections))
	for i, c := range corrections {
		dtos[i] = toCorrectionDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// REPORT HANDLERS
// =============================================================================

// CloseShift runs the shift-close pipeline. The staff name defaults to the
// session's actor.
func (h *Handler) CloseShift(w http.ResponseWriter, r *http.Request) {
	var req CloseShiftRequest
	if !h.decode(w, r, &req) {
		return
	}
	day, err := stock.ParseBusinessDay(req.Day)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	staff := strings.TrimSpace(req.StaffName)
	if staff == "" {
		staff = mustActor(r).Name
	}
	drinks := make([]report.ManagerDrink, len(req.ManagerDrinks))
	for i, d := range req.ManagerDrinks {
		drinks[i] = report.ManagerDrink{Item: d.Item, Quantity: d.Quantity, Type: d.Type, Amount: stock.Money(d.Amount)}
	}

	out, err := h.reports.CloseShift(r.Context(), report.CloseShiftInput{
		Day: day, StaffName: staff, Notes: req.Notes, ManagerDrinks: drinks,
	})
	if err != nil {
		h.writeDeliveryAware(w, r, err, out)
		return
	}
	writeJSON(w, http.StatusCreated, toCloseShiftResponse(out, h.exponent))
}

func (h *Handler) ListReports(w http.ResponseWriter, r *http.Request) {
	day, err := stock.ParseBusinessDay(r.URL.Query().Get("day"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	reports, err := h.reports.Aggregator().ForDay(r.Context(), day)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	dtos := make([]ReportDTO, len(reports))
	for i, rep := range reports {
		dtos[i] = toReportDTO(rep, h.exponent)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	rep, err := h.reports.Aggregator().Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toReportDTO(rep, h.exponent))
}

func (h *Handler) ExportReport(w http.ResponseWriter, r *http.Request) {
	art, err := h.reports.Export(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", art.ContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": art.Name}))
	w.Header().Set("Content-Length", strconv.Itoa(len(art.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(art.Data)
}

func (h *Handler) DispatchReport(w http.ResponseWriter, r *http.Request) {
	out, err := h.reports.Redeliver(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDeliveryAware(w, r, err, out)
		return
	}
	writeJSON(w, http.StatusOK, toCloseShiftResponse(out, h.exponent))
}

// =============================================================================
// HELPERS
// =============================================================================

func mustActor(r *http.Request) stock.Actor {
	a, _ := ActorFrom(r.Context())
	return a
}

func (h *Handler) itemID(w http.ResponseWriter, r *http.Request) (stock.ItemID, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		h.writeError(w, r, stock.Invalid("id", "%q is not an item id", chi.URLParam(r, "id")))
		return 0, false
	}
	return stock.ItemID(id), true
}

// decode reads a JSON body into dst and runs its validator tags.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		h.writeError(w, r, stock.Invalid("body", "invalid JSON: %v", err))
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		h.writeError(w, r, validationError(err))
		return false
	}
	return true
}

// validationError turns the first validator failure into a
// stock.ValidationError keyed by the JSON field name.
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return stock.Invalid("body", "%v", err)
	}
	fe := verrs[0]
	field := jsonFieldName(fe.Namespace())
	switch fe.Tag() {
	case "required":
		return stock.Invalid(field, "is required")
	case "gte":
		return stock.Invalid(field, "must be at least %s", fe.Param())
	case "gt":
		return stock.Invalid(field, "must be greater than %s", fe.Param())
	case "max":
		return stock.Invalid(field, "must be at most %s characters", fe.Param())
	case "datetime":
		return stock.Invalid(field, "%q is not a date in YYYY-MM-DD format", fmt.Sprint(fe.Value()))
	default:
		return stock.Invalid(field, "failed %s validation", fe.Tag())
	}
}

// jsonFieldName drops the struct name from a validator namespace:
// "CloseShiftRequest.manager_drinks[0].item" becomes "manager_drinks[0].item".
func jsonFieldName(namespace string) string {
	if _, rest, ok := strings.Cut(namespace, "."); ok {
		return rest
	}
	return namespace
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError maps an error's kind to an HTTP status.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := errorResponse(err)
	if status >= 500 {
		logger.FromContext(r.Context()).Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, body)
}

func (h *Handler) writeDeliveryAware(w http.ResponseWriter, r *http.Request, err error, out report.Outcome) {
	status, body := errorResponse(err)
	if stock.KindOf(err) == stock.KindDelivery && out.Report.ID != "" {
		resp := toCloseShiftResponse(out, h.exponent)
		body.Outcome = &resp
	}
	if status >= 500 {
		logger.FromContext(r.Context()).Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, body)
}

func errorResponse(err error) (int, ErrorResponse) {
	kind := stock.KindOf(err)
	body := ErrorResponse{Error: err.Error(), Kind: string(kind)}

	switch kind {
	case stock.KindValidation:
		var verr *stock.ValidationError
		if errors.As(err, &verr) {
			body.Field = verr.Field
		}
		return http.StatusBadRequest, body
	case stock.KindNotFound:
		return http.StatusNotFound, body
	case stock.KindConflict:
		var cerr *stock.ConflictError
		if errors.As(err, &cerr) {
			body.ItemID = int64(cerr.ItemID)
		}
		return http.StatusConflict, body
	case stock.KindUnauthorized:
		return http.StatusForbidden, body
	case stock.KindDelivery:
		var derr *stock.DeliveryError
		if errors.As(err, &derr) {
			body.ReportID = derr.ReportID
			body.Hint = fmt.Sprintf("the report is saved; retry with POST /api/reports/%s/dispatch", derr.ReportID)
		}
		return http.StatusBadGateway, body
	case stock.KindPersistence:
		body.Hint = "storage is unavailable; retry the request"
		return http.StatusInternalServerError, body
	default:
		return http.StatusInternalServerError, body
	}
}
