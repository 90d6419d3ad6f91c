package output

import (
	"fmt"
	"strings"
	"time"

	"github.com/relaypool/relaypool/internal/pool"
)

// Format represents an output format.
type Format string

const (
	FormatTable    Format = "table"
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
)

// PoolStatus is the rendered view of a pool.
type PoolStatus struct {
	GeneratedAt time.Time               `json:"generated_at"`
	Size        int                     `json:"size"`
	Healthy     int                     `json:"healthy"`
	Totals      *pool.Totals            `json:"totals,omitempty"`
	Endpoints   []pool.EndpointSnapshot `json:"endpoints"`
}

// Formatter renders pool views.
type Formatter interface {
	FormatStatus(status *PoolStatus) (string, error)
	FormatProbes(results []pool.ProbeResult) (string, error)
}

// ParseFormat validates and normalizes a format string.
func ParseFormat(value string) (Format, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case "", string(FormatTable):
		return FormatTable, nil
	case string(FormatJSON):
		return FormatJSON, nil
	case string(FormatMarkdown), "md":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", value)
	}
}

// NewFormatter returns a formatter for the requested format.
func NewFormatter(format Format) Formatter {
	switch format {
	case FormatJSON:
		return &JSONFormatter{Indent: true}
	case FormatMarkdown:
		return &MarkdownFormatter{}
	default:
		return &TableFormatter{}
	}
}

// endpointRow is one endpoint flattened into display cells.
type endpointRow struct {
	Index     int
	Name      string
	State     string
	InFlight  string
	Processed int64
	Latency   string
	Failures  int
	Errors    string
	Backoff   string
}

var endpointHeader = []any{"#", "Name", "State", "In flight", "Processed", "Avg latency", "Failures", "Errors (rl/quota/timeout/other)", "Backoff until"}

func endpointRows(status *PoolStatus) []endpointRow {
	rows := make([]endpointRow, 0, len(status.Endpoints))
	for _, ep := range status.Endpoints {
		rows = append(rows, endpointRow{
			Index:     ep.Index,
			Name:      ep.Name,
			State:     stateLabel(ep, status.GeneratedAt),
			InFlight:  fmt.Sprintf("%d/%d", ep.CurrentConcurrent, ep.MaxConcurrent),
			Processed: ep.ProcessedCount,
			Latency:   latencyLabel(ep.AvgLatencyMs),
			Failures:  ep.Failures,
			Errors: fmt.Sprintf("%d/%d/%d/%d",
				ep.ErrorCounts.RateLimited,
				ep.ErrorCounts.QuotaExceeded,
				ep.ErrorCounts.Timeout,
				ep.ErrorCounts.Other),
			Backoff: backoffLabel(ep.BackoffUntil, status.GeneratedAt),
		})
	}
	return rows
}

func (r endpointRow) cells() []any {
	return []any{r.Index, r.Name, r.State, r.InFlight, r.Processed, r.Latency, r.Failures, r.Errors, r.Backoff}
}

func stateLabel(ep pool.EndpointSnapshot, now time.Time) string {
	switch {
	case !ep.Healthy:
		return "unhealthy"
	case ep.BackoffUntil != nil && now.Before(*ep.BackoffUntil):
		return "backoff"
	default:
		return "healthy"
	}
}

func latencyLabel(ms *float64) string {
	if ms == nil {
		return "-"
	}
	return fmt.Sprintf("%.1fms", *ms)
}

func backoffLabel(until *time.Time, now time.Time) string {
	if until == nil || !now.Before(*until) {
		return "-"
	}
	return fmt.Sprintf("%s (in %s)", until.UTC().Format(time.RFC3339), until.Sub(now).Round(time.Second))
}

func summaryLine(status *PoolStatus) string {
	line := fmt.Sprintf("%d/%d endpoints healthy", status.Healthy, status.Size)
	if t := status.Totals; t != nil {
		line += fmt.Sprintf(", %d succeeded, %d failed", t.Succeeded, t.Failed)
	}
	return line
}

func probeCells(r pool.ProbeResult) []any {
	result := "ok"
	if !r.OK {
		result = "failed"
	}
	return []any{r.Index, r.Name, result, r.Duration.Round(time.Millisecond).String()}
}

var probeHeader = []any{"#", "Name", "Result", "Duration"}
