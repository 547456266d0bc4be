package metrics

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/ostin-pil/lesca/internal/types"
)

// JSONExport is the top-level shape written by ExportJSON.
type JSONExport struct {
	ExportedAtMs int64                  `json:"exportedAt"`
	Summary      Summary                `json:"summary"`
	Sessions     []SessionMetrics       `json:"sessions"`
	History      map[string][]types.MetricEvent `json:"history,omitempty"`
}

// ExportJSON renders the collector's current state as JSON. When
// includeHistory is true, every session's raw event ring buffer is
// included under "history".
func (c *Collector) ExportJSON(exportedAtMs int64, includeHistory bool) ([]byte, error) {
	sessions := c.AllSessionMetrics()
	export := JSONExport{
		ExportedAtMs: exportedAtMs,
		Summary:      c.GetSummary(),
		Sessions:     sessions,
	}
	if includeHistory {
		export.History = make(map[string][]types.MetricEvent, len(sessions))
		for _, s := range sessions {
			export.History[s.SessionName] = c.History(s.SessionName)
		}
	}
	return json.Marshal(export)
}

// csvColumns is the fixed column order from spec.md §6.
var csvColumns = []string{
	"session_name", "pool_size", "active_browsers", "idle_browsers",
	"total_acquisitions", "total_releases", "total_failures",
	"browsers_created", "browsers_destroyed",
	"acquisitions_per_minute", "failure_rate",
	"circuit_state", "circuit_trips",
	"acquire_avg_ms", "acquire_min_ms", "acquire_max_ms",
	"release_avg_ms", "browser_create_avg_ms",
}

// ExportCSV renders one row per session, in the exact column order
// spec.md §6 names. A timing snapshot with zero samples renders its
// min/max as the empty string rather than 0, per spec.md's "empty min is
// rendered as empty string" clause.
func (c *Collector) ExportCSV() string {
	var b strings.Builder
	b.WriteString(strings.Join(csvColumns, ","))
	b.WriteString("\n")

	for _, s := range c.AllSessionMetrics() {
		row := []string{
			csvField(s.SessionName),
			strconv.Itoa(s.PoolSize),
			strconv.Itoa(s.Active),
			strconv.Itoa(s.Idle),
			strconv.FormatInt(s.Acquisitions, 10),
			strconv.FormatInt(s.Releases, 10),
			strconv.FormatInt(s.Failures, 10),
			strconv.FormatInt(s.Created, 10),
			strconv.FormatInt(s.Destroyed, 10),
			strconv.FormatFloat(s.AcquisitionsPerMinute, 'f', 4, 64),
			strconv.FormatFloat(s.FailureRate, 'f', 4, 64),
			csvField(string(s.CircuitState)),
			strconv.FormatInt(s.CircuitTrips, 10),
			formatAvg(s.AcquireTiming),
			formatMinMax(s.AcquireTiming, s.AcquireTiming.MinMs),
			formatMinMax(s.AcquireTiming, s.AcquireTiming.MaxMs),
			formatAvg(s.ReleaseTiming),
			formatAvg(s.BrowserCreateTiming),
		}
		b.WriteString(strings.Join(row, ","))
		b.WriteString("\n")
	}
	return b.String()
}

func formatAvg(t TimingSnapshot) string {
	if t.Count == 0 {
		return ""
	}
	return strconv.FormatFloat(t.AvgMs, 'f', 2, 64)
}

func formatMinMax(t TimingSnapshot, v int64) string {
	if t.Count == 0 {
		return ""
	}
	return strconv.FormatInt(v, 10)
}

// csvField quotes a value containing a comma, quote, or newline,
// escaping embedded quotes by doubling them.
func csvField(v string) string {
	if strings.ContainsAny(v, ",\"\n\r") {
		return fmt.Sprintf("\"%s\"", strings.ReplaceAll(v, "\"", "\"\""))
	}
	return v
}
