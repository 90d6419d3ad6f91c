package output

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/relaypool/relaypool/internal/pool"
)

// TableFormatter renders results as an ASCII table.
type TableFormatter struct{}

// FormatStatus renders one row per endpoint with a summary footer.
func (f *TableFormatter) FormatStatus(status *PoolStatus) (string, error) {
	if status == nil {
		return "", nil
	}

	t := newTable(endpointHeader)
	for _, row := range endpointRows(status) {
		t.AppendRow(table.Row(row.cells()))
	}
	t.AppendFooter(table.Row{"", "", summaryLine(status)})
	return t.Render(), nil
}

// FormatProbes renders probe results.
func (f *TableFormatter) FormatProbes(results []pool.ProbeResult) (string, error) {
	t := newTable(probeHeader)
	for _, r := range results {
		t.AppendRow(table.Row(probeCells(r)))
	}
	return t.Render(), nil
}

func newTable(header []any) table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.Style().Format.Footer = text.FormatDefault
	t.AppendHeader(table.Row(header))
	return t
}
