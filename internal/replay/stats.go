package replay

import (
	"fmt"
	"io"
	"sort"

	"github.com/vinayprograms/agentcore/internal/events"
)

// ToolStats aggregates one tool's calls.
type ToolStats struct {
	Tool      string
	Calls     int
	Failures  int
	TotalMs   int64
	AvgMs     int64
	SlowestMs int64
}

// Stats holds aggregate statistics for a session.
type Stats struct {
	Calls    int
	Results  int
	Failures int
	Pending  int // calls with no result
	TotalMs  int64
	PerTool  map[string]*ToolStats
	Tasks    int
}

// ComputeStats calculates aggregate statistics from a session's events.
func ComputeStats(evs []events.Event) *Stats {
	stats := &Stats{PerTool: make(map[string]*ToolStats)}
	open := make(map[string]bool)
	tasks := make(map[string]bool)

	for _, ev := range evs {
		if ev.TaskID != "" {
			tasks[ev.TaskID] = true
		}
		ts := stats.PerTool[ev.Tool]
		if ts == nil {
			ts = &ToolStats{Tool: ev.Tool}
			stats.PerTool[ev.Tool] = ts
		}

		switch ev.Type {
		case events.TypeToolCall:
			stats.Calls++
			ts.Calls++
			open[ev.CorrelationID] = true

		case events.TypeToolResult:
			stats.Results++
			delete(open, ev.CorrelationID)
			if ev.Success == nil || !*ev.Success {
				stats.Failures++
				ts.Failures++
			}
			stats.TotalMs += ev.DurationMs
			ts.TotalMs += ev.DurationMs
			if ev.DurationMs > ts.SlowestMs {
				ts.SlowestMs = ev.DurationMs
			}
		}
	}

	stats.Pending = len(open)
	stats.Tasks = len(tasks)
	for _, ts := range stats.PerTool {
		if ts.Calls > 0 {
			ts.AvgMs = ts.TotalMs / int64(ts.Calls)
		}
	}
	return stats
}

// Tools returns per-tool stats sorted by total time, slowest first.
func (s *Stats) Tools() []*ToolStats {
	out := make([]*ToolStats, 0, len(s.PerTool))
	for _, ts := range s.PerTool {
		out = append(out, ts)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalMs != out[j].TotalMs {
			return out[i].TotalMs > out[j].TotalMs
		}
		return out[i].Tool < out[j].Tool
	})
	return out
}

// PrintStats outputs the statistics section.
func PrintStats(w io.Writer, stats *Stats) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, titleStyle.Render("STATISTICS"))
	fmt.Fprintf(w, "%s %d %s\n", labelStyle.Render("Tool calls:"), stats.Calls,
		dimStyle.Render(fmt.Sprintf("(%d failed, %d pending, %d tasks)", stats.Failures, stats.Pending, stats.Tasks)))
	fmt.Fprintf(w, "%s %s\n", labelStyle.Render("Tool time: "), formatMs(stats.TotalMs))

	for _, ts := range stats.Tools() {
		if ts.Calls == 0 {
			continue
		}
		line := toolStyle.Render(fmt.Sprintf("  %-12s", ts.Tool)) +
			fmt.Sprintf(" %3d calls  avg %-8s max %s", ts.Calls, formatMs(ts.AvgMs), formatMs(ts.SlowestMs))
		if ts.Failures > 0 {
			line += errorStyle.Render(fmt.Sprintf("  %d failed", ts.Failures))
		}
		fmt.Fprintln(w, line)
	}
}

func formatMs(ms int64) string {
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	return fmt.Sprintf("%.1fs", float64(ms)/1000)
}
