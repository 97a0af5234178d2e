package mcp

import (
	"fmt"
	"strings"
	"time"

	"github.com/gateway-fm/txstress/internal/report"
	"github.com/gateway-fm/txstress/internal/tracker"
	"github.com/gateway-fm/txstress/pkg/types"
)

// formatNumber adds comma separators to integers.
func formatNumber(n int) string {
	s := fmt.Sprintf("%d", n)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	if len(s) <= 3 {
		if neg {
			return "-" + s
		}
		return s
	}

	var result strings.Builder
	if neg {
		result.WriteByte('-')
	}
	start := len(s) % 3
	if start > 0 {
		result.WriteString(s[:start])
	}
	for i := start; i < len(s); i += 3 {
		if i > 0 {
			result.WriteByte(',')
		}
		result.WriteString(s[i : i+3])
	}
	return result.String()
}

// kv formats a key-value pair with aligned values (20 char key width).
func kv(key string, value any) string {
	return fmt.Sprintf("%-20s %v", key+":", value)
}

// section returns a markdown section header.
func section(title string) string {
	return "## " + title
}

// joinLines joins non-empty lines with newlines.
func joinLines(lines ...string) string {
	var result []string
	for _, l := range lines {
		if l != "" {
			result = append(result, l)
		}
	}
	return strings.Join(result, "\n")
}

// formatMs formats milliseconds with a "ms" suffix.
func formatMs(v float64) string {
	return fmt.Sprintf("%.1fms", v)
}

func formatReport(rep *types.RunReport, stragglers []tracker.Tx) string {
	title := fmt.Sprintf("txstress %s: %s", rep.Mode, strings.ToUpper(string(rep.State)))
	lines := joinLines(
		section(title),
		kv("Node", rep.NodeURL),
		kv("Requested", formatNumber(rep.Requested)),
		kv("Sent", formatNumber(rep.Sent)),
		kv("Completed", formatNumber(rep.Completed)),
		kv("Pending", formatNumber(rep.Pending)),
		kv("Failed", formatNumber(rep.Failed)),
		kv("Skipped (low bal)", formatNumber(rep.Skipped)),
		kv("Avg Latency", rep.AvgLatency.Round(time.Millisecond)),
		kv("Duration", rep.Duration().Round(time.Millisecond)),
	)

	if l := rep.Latency; l != nil && l.Count > 0 {
		lines += "\n\n" + joinLines(
			section("Confirmation Latency"),
			kv("Min", formatMs(l.Min)),
			kv("P50", formatMs(l.P50)),
			kv("P90", formatMs(l.P90)),
			kv("P99", formatMs(l.P99)),
			kv("Max", formatMs(l.Max)),
		)
	}

	if rep.Error != "" {
		lines += "\n\n" + kv("Error", rep.Error)
	}

	if len(stragglers) > 0 {
		lines += "\n\n" + section(fmt.Sprintf("Unconfirmed (%d)", len(stragglers)))
		for _, tx := range stragglers {
			lines += "\n  " + tx.Hash.Hex()
		}
	}
	return lines
}

func formatHistory(page *report.PaginatedRuns) string {
	lines := joinLines(
		section("Run History"),
		kv("Total Runs", formatNumber(page.Total)),
	)
	if len(page.Runs) == 0 {
		return lines + "\n\nNo runs found."
	}

	lines += "\n\n| ID | Started | Mode | State | Sent | Completed | Pending | Failed | Avg Latency |"
	lines += "\n|---|---|---|---|---|---|---|---|---|"
	for _, r := range page.Runs {
		lines += fmt.Sprintf("\n| %d | %s | %s | %s | %d | %d | %d | %d | %s |",
			r.ID, r.StartedAt.UTC().Format("2006-01-02 15:04"), r.Mode, r.State,
			r.Sent, r.Completed, r.Pending, r.Failed, r.AvgLatency.Round(time.Millisecond))
	}
	if shown := page.Offset + len(page.Runs); shown < page.Total {
		lines += fmt.Sprintf("\n\nShowing %d-%d of %d. Use offset=%d for more.", page.Offset+1, shown, page.Total, shown)
	}
	return lines
}
