// Package export writes screening results as tables, CSV, or XLSX.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/screener-cli/internal/screen"
	"github.com/sells-group/screener-cli/internal/store"
)

// Supported output formats.
const (
	FormatTable = "table"
	FormatCSV   = "csv"
	FormatXLSX  = "xlsx"
)

// Document is the renderer-neutral shape of a screening result: one row per
// surviving ticker, one column per factor.
type Document struct {
	Title   string
	Columns []string
	Rows    []DocRow
}

// DocRow is one ticker row.
type DocRow struct {
	Ticker string
	Cells  []screen.Cell
}

// FromResult builds a Document of the survivors of a screening run.
func FromResult(res *screen.Result) *Document {
	doc := &Document{
		Title:   res.Index,
		Columns: res.Columns,
	}
	for _, row := range res.Survivors() {
		doc.Rows = append(doc.Rows, DocRow{Ticker: row.Ticker, Cells: row.Cells})
	}
	return doc
}

// FromRun builds a Document of the surviving rows of a persisted run.
func FromRun(run *store.Run) *Document {
	doc := &Document{
		Title:   run.Index,
		Columns: run.Columns,
	}
	for _, row := range run.Rows {
		if !row.Passed {
			continue
		}
		doc.Rows = append(doc.Rows, DocRow{Ticker: row.Ticker, Cells: row.Cells})
	}
	return doc
}

// Write renders the document in the given format.
func Write(w io.Writer, format string, doc *Document) error {
	switch format {
	case FormatTable:
		return WriteTable(w, doc)
	case FormatCSV:
		return WriteCSV(w, doc)
	case FormatXLSX:
		return WriteXLSX(w, doc)
	default:
		return eris.Errorf("export: unsupported format %q", format)
	}
}

// WriteTable writes an aligned text table. Missing cells render as "-".
func WriteTable(out io.Writer, doc *Document) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	header := "TICKER"
	rule := "------"
	for _, col := range doc.Columns {
		header += "\t" + col
		rule += "\t" + dashes(len(col))
	}
	fmt.Fprintln(w, header)
	fmt.Fprintln(w, rule)

	for _, row := range doc.Rows {
		line := row.Ticker
		for _, cell := range row.Cells {
			if cell.Missing {
				line += "\t-"
				continue
			}
			line += fmt.Sprintf("\t%.4f", cell.Value)
		}
		fmt.Fprintln(w, line)
	}
	return w.Flush()
}

// WriteCSV writes the document as CSV. Missing cells render empty.
func WriteCSV(out io.Writer, doc *Document) error {
	w := csv.NewWriter(out)

	header := append([]string{"ticker"}, doc.Columns...)
	if err := w.Write(header); err != nil {
		return eris.Wrap(err, "export: write CSV header")
	}

	for _, row := range doc.Rows {
		record := make([]string, 0, len(row.Cells)+1)
		record = append(record, row.Ticker)
		for _, cell := range row.Cells {
			if cell.Missing {
				record = append(record, "")
				continue
			}
			record = append(record, fmt.Sprintf("%.6f", cell.Value))
		}
		if err := w.Write(record); err != nil {
			return eris.Wrapf(err, "export: write CSV row %s", row.Ticker)
		}
	}

	w.Flush()
	return eris.Wrap(w.Error(), "export: flush CSV")
}

// WriteXLSX writes the document as a single-sheet workbook.
func WriteXLSX(out io.Writer, doc *Document) error {
	f := xlsx.NewFile()

	name := doc.Title
	if name == "" {
		name = "Screen"
	}
	sheet, err := f.AddSheet(name)
	if err != nil {
		return eris.Wrap(err, "export: add sheet")
	}

	header := sheet.AddRow()
	header.AddCell().SetString("ticker")
	for _, col := range doc.Columns {
		header.AddCell().SetString(col)
	}

	for _, row := range doc.Rows {
		r := sheet.AddRow()
		r.AddCell().SetString(row.Ticker)
		for _, cell := range row.Cells {
			c := r.AddCell()
			if cell.Missing {
				continue
			}
			c.SetFloat(cell.Value)
		}
	}

	return eris.Wrap(f.Write(out), "export: write workbook")
}

func dashes(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = '-'
	}
	return string(b)
}
