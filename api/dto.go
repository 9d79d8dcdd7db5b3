/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication, decoupled from the
  stock and report domain types.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

VALIDATION:
  Request types carry go-playground/validator tags for shape checks
  (required, non-negative, date format). Domain rules such as "item exists"
  or rollover mode stay in the stock package.

MONEY:
  Amounts are integers in the smallest currency unit. Responses add a
  *_display string formatted with the configured exponent.
*/
package api

import (
	"time"

	"github.com/safebar/stockledger/report"
	"github.com/safebar/stockledger/stock"
)

// =============================================================================
// SESSION
// =============================================================================

type SessionDTO struct {
	Name           string `json:"name"`
	Role           string `json:"role"`
	CanManageItems bool   `json:"can_manage_items"`
	CanCorrect     bool   `json:"can_correct"`
}

// =============================================================================
// ITEMS
// =============================================================================

type ItemDTO struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	Category     string `json:"category"`
	Price        int64  `json:"price"`
	PriceDisplay string `json:"price_display"`
	Active       bool   `json:"is_active"`
}

type ItemRequest struct {
	Name     string `json:"name" validate:"required,max=100"`
	Category string `json:"category" validate:"max=50"`
	Price    int64  `json:"price" validate:"gte=0"`
}

type CategoryDTO struct {
	Category string    `json:"category"`
	Items    []ItemDTO `json:"items"`
}

type ExpectedOpeningDTO struct {
	ItemID  int64  `json:"item_id"`
	Day     string `json:"day,omitempty"`
	Opening int64  `json:"opening"`
}

type ClosingDTO struct {
	ItemID  int64 `json:"item_id"`
	Closing int64 `json:"closing"`
}

// =============================================================================
// STOCK ENTRIES
// =============================================================================

type EntryRequest struct {
	Day      string `json:"day" validate:"required,datetime=2006-01-02"`
	ItemID   int64  `json:"item_id" validate:"required,gt=0"`
	Opening  *int64 `json:"opening" validate:"omitempty,gte=0"`
	Received int64  `json:"received" validate:"gte=0"`
	Damaged  int64  `json:"damaged" validate:"gte=0"`
	Closing  int64  `json:"closing" validate:"gte=0"`
	Sold     *int64 `json:"sold,omitempty"`
}

type CorrectionRequest struct {
	Day      string `json:"day" validate:"required,datetime=2006-01-02"`
	ItemID   int64  `json:"item_id" validate:"required,gt=0"`
	Opening  *int64 `json:"opening" validate:"required,gte=0"`
	Received int64  `json:"received" validate:"gte=0"`
	Damaged  int64  `json:"damaged" validate:"gte=0"`
	Closing  int64  `json:"closing" validate:"gte=0"`
	Note     string `json:"note" validate:"required,max=500"`
}

type EntryDTO struct {
	Day       string    `json:"day"`
	ItemID    int64     `json:"item_id"`
	Item      string    `json:"item,omitempty"`
	Category  string    `json:"category,omitempty"`
	Opening   int64     `json:"opening"`
	Received  int64     `json:"received"`
	Damaged   int64     `json:"damaged"`
	Closing   int64     `json:"closing"`
	Sold      int64     `json:"sold"`
	UnitPrice *int64    `json:"unit_price,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

type CorrectionDTO struct {
	ID              string    `json:"id"`
	Day             string    `json:"day"`
	ItemID          int64     `json:"item_id"`
	PreviousOpening int64     `json:"previous_opening"`
	Opening         int64     `json:"opening"`
	Note            string    `json:"note"`
	Actor           string    `json:"actor"`
	At              time.Time `json:"at"`
}

type CorrectionResponse struct {
	Entry      EntryDTO      `json:"entry"`
	Correction CorrectionDTO `json:"correction"`
}

// =============================================================================
// REPORTS
// =============================================================================

type ManagerDrinkDTO struct {
	Item     string `json:"item" validate:"required"`
	Quantity int64  `json:"quantity" validate:"gte=0"`
	Type     string `json:"type"`
	Amount   int64  `json:"amount" validate:"gte=0"`
}

type CloseShiftRequest struct {
	Day           string            `json:"day" validate:"required,datetime=2006-01-02"`
	StaffName     string            `json:"staff_name" validate:"max=100"`
	Notes         string            `json:"notes" validate:"max=2000"`
	ManagerDrinks []ManagerDrinkDTO `json:"manager_drinks" validate:"dive"`
}

type ReportLineDTO struct {
	ItemID    int64  `json:"item_id"`
	Item      string `json:"item"`
	Category  string `json:"category"`
	Opening   int64  `json:"opening"`
	Received  int64  `json:"received"`
	Damaged   int64  `json:"damaged"`
	Closing   int64  `json:"closing"`
	Sold      int64  `json:"sold"`
	UnitPrice int64  `json:"unit_price"`
	LineTotal int64  `json:"line_total"`
}

type ReportDTO struct {
	ID                string            `json:"id"`
	Day               string            `json:"day"`
	StaffName         string            `json:"staff_name"`
	TotalSales        int64             `json:"total_sales"`
	TotalSalesDisplay string            `json:"total_sales_display"`
	GrossSales        int64             `json:"gross_sales"`
	DrinksValue       int64             `json:"drinks_value"`
	DrinksPolicy      string            `json:"drinks_policy"`
	Lines             []ReportLineDTO   `json:"lines"`
	Notes             string            `json:"notes"`
	ManagerDrinks     []ManagerDrinkDTO `json:"manager_drinks"`
	CreatedAt         time.Time         `json:"created_at"`
}

type CloseShiftResponse struct {
	Report         ReportDTO `json:"report"`
	ArtifactPath   string    `json:"artifact_path,omitempty"`
	SnapshotRolled bool      `json:"snapshot_rolled"`
	Delivered      bool      `json:"delivered"`
}

// =============================================================================
// ERRORS
// =============================================================================

type ErrorResponse struct {
	Error    string              `json:"error"`
	Kind     string              `json:"kind,omitempty"`
	Field    string              `json:"field,omitempty"`
	ItemID   int64               `json:"item_id,omitempty"`
	ReportID string              `json:"report_id,omitempty"`
	Hint     string              `json:"hint,omitempty"`
	Outcome  *CloseShiftResponse `json:"outcome,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toItemDTO(it stock.Item, exp int32) ItemDTO {
	return ItemDTO{
		ID:           int64(it.ID),
		Name:         it.Name,
		Category:     it.Category,
		Price:        int64(it.UnitPrice),
		PriceDisplay: it.UnitPrice.Format(exp),
		Active:       it.Active,
	}
}

func toEntryDTO(e stock.Entry) EntryDTO {
	return EntryDTO{
		Day:       e.Day.String(),
		ItemID:    int64(e.ItemID),
		Opening:   e.Opening,
		Received:  e.Received,
		Damaged:   e.Damaged,
		Closing:   e.Closing,
		Sold:      e.Sold,
		UpdatedAt: e.UpdatedAt,
	}
}

func toEntryViewDTO(v stock.EntryView) EntryDTO {
	dto := toEntryDTO(v.Entry)
	price := int64(v.UnitPrice)
	dto.Item = v.Name
	dto.Category = v.Category
	dto.UnitPrice = &price
	return dto
}

func toCorrectionDTO(c stock.Correction) CorrectionDTO {
	return CorrectionDTO{
		ID:              c.ID,
		Day:             c.Day.String(),
		ItemID:          int64(c.ItemID),
		PreviousOpening: c.PreviousOpening,
		Opening:         c.Opening,
		Note:            c.Note,
		Actor:           c.Actor,
		At:              c.At,
	}
}

func toReportDTO(r report.DailyReport, exp int32) ReportDTO {
	dto := ReportDTO{
		ID:                r.ID,
		Day:               r.Day.String(),
		StaffName:         r.StaffName,
		TotalSales:        int64(r.TotalSales),
		TotalSalesDisplay: r.TotalSales.Format(exp),
		GrossSales:        int64(r.Payload.GrossSales),
		DrinksValue:       int64(r.Payload.DrinksValue),
		DrinksPolicy:      string(r.Payload.DrinksPolicy),
		Lines:             make([]ReportLineDTO, 0, len(r.Payload.Lines)),
		Notes:             r.Payload.Notes,
		ManagerDrinks:     make([]ManagerDrinkDTO, 0, len(r.Payload.ManagerDrinks)),
		CreatedAt:         r.CreatedAt,
	}
	for _, l := range r.Payload.Lines {
		dto.Lines = append(dto.Lines, ReportLineDTO{
			ItemID:    int64(l.ItemID),
			Item:      l.Item,
			Category:  l.Category,
			Opening:   l.Opening,
			Received:  l.Received,
			Damaged:   l.Damaged,
			Closing:   l.Closing,
			Sold:      l.Sold,
			UnitPrice: int64(l.UnitPriceAtCapture),
			LineTotal: int64(l.LineTotal),
		})
	}
	for _, d := range r.Payload.ManagerDrinks {
		dto.ManagerDrinks = append(dto.ManagerDrinks, ManagerDrinkDTO{
			Item: d.Item, Quantity: d.Quantity, Type: d.Type, Amount: int64(d.Amount),
		})
	}
	return dto
}

func toCloseShiftResponse(out report.Outcome, exp int32) CloseShiftResponse {
	return CloseShiftResponse{
		Report:         toReportDTO(out.Report, exp),
		ArtifactPath:   out.ArtifactPath,
		SnapshotRolled: out.SnapshotRolled,
		Delivered:      out.Delivered,
	}
}
