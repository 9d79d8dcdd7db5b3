package report

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/safebar/stockledger/stock"
)

// =============================================================================
// SPREADSHEET LAYOUT
// =============================================================================
//
//   row 1      business name
//   rows 2-3   blank (logo space)
//   row 4      column header, bold on grey
//   row 5..    one row per line
//   blank, Date / Barstaff / [Gross Sales / Drinks Value] / Total Sales
//   blank, manager drinks section (only when there are drinks)
//   blank, Notes

const (
	SheetName  = "Stock Report"
	HeaderRow  = 4
	noNotes    = "No notes provided."
	drinksHead = "Drinks Taken by Manager/Director"
)

var (
	lineHeader  = []any{"Item", "Opening", "Received", "Damaged", "Closing", "Sold", "Price", "Amount"}
	columnWidth = []float64{20, 10, 10, 10, 10, 10, 15, 15}
	drinkHeader = []any{"Item", "No Taken", "Type", "Amount"}
)

// ExcelRenderer renders a report to an .xlsx workbook.
type ExcelRenderer struct {
	Title    string
	Exponent int32
}

func (r ExcelRenderer) Render(rep DailyReport) (Artifact, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return Artifact{}, fmt.Errorf("failed to name sheet: %w", err)
	}
	for i, w := range columnWidth {
		col, _ := excelize.ColumnNumberToName(i + 1)
		if err := f.SetColWidth(SheetName, col, col, w); err != nil {
			return Artifact{}, fmt.Errorf("failed to size column %s: %w", col, err)
		}
	}

	w := &sheetWriter{f: f, row: 1}
	w.add(r.Title)
	w.row = HeaderRow
	w.add(lineHeader...)
	for _, l := range rep.Payload.Lines {
		w.add(l.Item, l.Opening, l.Received, l.Damaged, l.Closing, l.Sold, r.money(l.UnitPriceAtCapture), r.money(l.LineTotal))
	}

	w.skip()
	w.add("Date", rep.Day.String())
	w.add("Barstaff", rep.StaffName)
	if rep.Payload.DrinksPolicy == DrinksDeduct {
		w.add("Gross Sales", r.money(rep.Payload.GrossSales))
		w.add("Drinks Value", r.money(rep.Payload.DrinksValue))
	}
	w.add("Total Sales", r.money(rep.TotalSales))

	if len(rep.Payload.ManagerDrinks) > 0 {
		w.skip()
		w.add(drinksHead)
		w.add(drinkHeader...)
		for _, d := range rep.Payload.ManagerDrinks {
			w.add(d.Item, d.Quantity, d.Type, r.money(d.Amount))
		}
	}

	notes := rep.Payload.Notes
	if notes == "" {
		notes = noNotes
	}
	w.skip()
	w.add("Notes")
	w.add(notes)
	if w.err != nil {
		return Artifact{}, w.err
	}

	if err := r.styleHeader(f); err != nil {
		return Artifact{}, err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return Artifact{}, fmt.Errorf("failed to write workbook: %w", err)
	}
	return Artifact{
		Name:        ArtifactName(rep.Day),
		ContentType: xlsxContentType,
		Data:        buf.Bytes(),
	}, nil
}

func (r ExcelRenderer) money(m stock.Money) float64 {
	return m.Decimal(r.Exponent).InexactFloat64()
}

func (r ExcelRenderer) styleHeader(f *excelize.File) error {
	style, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true},
		Fill:      excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"DDDDDD"}},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}
	first, _ := excelize.CoordinatesToCellName(1, HeaderRow)
	last, _ := excelize.CoordinatesToCellName(len(lineHeader), HeaderRow)
	if err := f.SetCellStyle(SheetName, first, last, style); err != nil {
		return fmt.Errorf("failed to style header: %w", err)
	}
	return nil
}

// sheetWriter appends rows and keeps the first error.
type sheetWriter struct {
	f   *excelize.File
	row int
	err error
}

func (w *sheetWriter) add(values ...any) {
	if w.err != nil {
		return
	}
	cell, err := excelize.CoordinatesToCellName(1, w.row)
	if err == nil {
		err = w.f.SetSheetRow(SheetName, cell, &values)
	}
	if err != nil {
		w.err = fmt.Errorf("failed to write row %d: %w", w.row, err)
	}
	w.row++
}

func (w *sheetWriter) skip() { w.row++ }
