/*
Package report turns a closed shift's ledger rows into an immutable daily
report, persists it, renders it to a spreadsheet and sends it on.

PURPOSE:
  A DailyReport is a copy, not a view. Every line captures the item's name
  and unit price by value at build time, so editing an item's price later
  never changes a historical total.

TOTAL SALES:
  gross        = Σ line.Sold × line.UnitPriceAtCapture
  drinks value = Σ drink.Amount

  DrinksSeparate (default): TotalSales = gross, drinks listed alongside
  DrinksDeduct:             TotalSales = gross - drinks value

PIPELINE (Service.CloseShift):
  entries -> Build -> Persist -> Render -> save artifact -> roll snapshot -> Dispatch

  Persist runs first. Everything after it can fail without losing the
  report; the caller gets the report id back and can retry delivery.

SEE ALSO:
  - aggregator.go: Build / Persist / Get / ForDay
  - excel.go: spreadsheet layout
  - mail.go: SMTP dispatch
  - service.go: shift close orchestration
*/
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/safebar/stockledger/stock"
)

// =============================================================================
// DRINKS POLICY
// =============================================================================

// DrinksPolicy decides whether manager drinks reduce reported sales.
type DrinksPolicy string

const (
	DrinksSeparate DrinksPolicy = "separate"
	DrinksDeduct   DrinksPolicy = "deduct"
)

// ParseDrinksPolicy maps a config value to a policy. Empty means separate.
func ParseDrinksPolicy(s string) (DrinksPolicy, error) {
	switch DrinksPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", DrinksSeparate:
		return DrinksSeparate, nil
	case DrinksDeduct:
		return DrinksDeduct, nil
	default:
		return "", fmt.Errorf("unknown drinks policy %q (want separate or deduct)", s)
	}
}

// =============================================================================
// REPORT SHAPE
// =============================================================================

// Line is one item's stock movement, priced at capture time.
type Line struct {
	ItemID             stock.ItemID `json:"item_id"`
	Item               string       `json:"item"`
	Category           string       `json:"category"`
	Opening            int64        `json:"opening"`
	Received           int64        `json:"received"`
	Damaged            int64        `json:"damaged"`
	Closing            int64        `json:"closing"`
	Sold               int64        `json:"sold"`
	UnitPriceAtCapture stock.Money  `json:"unit_price"`
	LineTotal          stock.Money  `json:"line_total"`
}

// ManagerDrink is unpaid consumption recorded for accounting visibility.
type ManagerDrink struct {
	Item     string      `json:"item"`
	Quantity int64       `json:"quantity"`
	Type     string      `json:"type"`
	Amount   stock.Money `json:"amount"`
}

type Payload struct {
	Lines         []Line         `json:"lines"`
	Notes         string         `json:"notes"`
	ManagerDrinks []ManagerDrink `json:"manager_drinks"`
	GrossSales    stock.Money    `json:"gross_sales"`
	DrinksValue   stock.Money    `json:"drinks_value"`
	DrinksPolicy  DrinksPolicy   `json:"drinks_policy"`
}

// DailyReport is the immutable record of one shift close.
type DailyReport struct {
	ID         string
	Day        stock.BusinessDay
	StaffName  string
	TotalSales stock.Money
	Payload    Payload
	CreatedAt  time.Time
}

// Artifact is a rendered report ready to save or attach.
type Artifact struct {
	Name        string
	ContentType string
	Data        []byte
}

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// ArtifactName is the file name a report is saved and attached under.
func ArtifactName(day stock.BusinessDay) string {
	return "Stock_Report_" + day.String() + ".xlsx"
}
