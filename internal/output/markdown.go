package output

import (
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/relaypool/relaypool/internal/pool"
)

// MarkdownFormatter renders results as markdown tables.
type MarkdownFormatter struct{}

// FormatStatus renders the endpoint table under a summary heading.
func (f *MarkdownFormatter) FormatStatus(status *PoolStatus) (string, error) {
	if status == nil {
		return "", nil
	}

	t := table.NewWriter()
	t.AppendHeader(table.Row(endpointHeader))
	for _, row := range endpointRows(status) {
		t.AppendRow(table.Row(row.cells()))
	}

	var sb strings.Builder
	sb.WriteString("## Pool status\n\n")
	sb.WriteString("**" + summaryLine(status) + "**\n\n")
	sb.WriteString(t.RenderMarkdown())
	sb.WriteString("\n")
	return sb.String(), nil
}

// FormatProbes renders probe results as a markdown table.
func (f *MarkdownFormatter) FormatProbes(results []pool.ProbeResult) (string, error) {
	t := table.NewWriter()
	t.AppendHeader(table.Row(probeHeader))
	for _, r := range results {
		t.AppendRow(table.Row(probeCells(r)))
	}
	return t.RenderMarkdown() + "\n", nil
}
