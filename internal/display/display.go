// Package display renders wallets, run banners and final reports for the console.
package display

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/gateway-fm/txstress/internal/account"
	"github.com/gateway-fm/txstress/internal/config"
	"github.com/gateway-fm/txstress/internal/tracker"
	"github.com/gateway-fm/txstress/pkg/types"
)

// Printer writes human-readable output. It is safe for concurrent use.
type Printer struct {
	mu sync.Mutex
	w  io.Writer
}

// New creates a Printer writing to w.
func New(w io.Writer) *Printer {
	return &Printer{w: w}
}

var _ tracker.Observer = (*Printer)(nil)

func (p *Printer) println(lines ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, l := range lines {
		fmt.Fprintln(p.w, l)
	}
}

// Wallets prints a numbered address list with balances.
func (p *Printer) Wallets(accounts []*account.Account) {
	lines := []string{section(fmt.Sprintf("Wallets (%d)", len(accounts)))}
	for i, acc := range accounts {
		marker := "funded"
		if !acc.Above(account.DustThreshold) {
			marker = "low balance"
		}
		if !acc.Funded() {
			marker = "unfunded"
		}
		lines = append(lines, fmt.Sprintf("%3d. %s  %s ETH  [%s]", i+1, acc.Address.Hex(), account.FormatEther(acc.Balance), marker))
	}
	p.println(lines...)
}

// Banner prints the run settings before dispatching starts.
func (p *Printer) Banner(mode types.Mode, cfg *config.Config) {
	lines := []string{
		section("txstress " + string(mode)),
		kv("Node", cfg.NodeURL),
		kv("Transactions", cfg.TxCount),
		kv("Recipient", cfg.Recipient().Hex()),
		kv("Value", cfg.ValueETH+" ETH"),
		kv("Gas limit", cfg.GasLimit),
		kv("Manual nonce", cfg.ManualNonce),
	}
	switch mode {
	case types.ModeBurst:
		lines = append(lines, kv("Batch size", cfg.BatchSize), kv("Batch delay", cfg.BatchDelay))
	case types.ModeTimed:
		lines = append(lines, kv("Watchdog", cfg.WatchdogTimeout))
	}
	lines = append(lines, kv("Drain timeout", cfg.DrainTimeout))
	p.println(lines...)
}

// TxSubmitted implements tracker.Observer.
func (p *Printer) TxSubmitted(tx tracker.Tx) {
	p.println(fmt.Sprintf("-> sent      %s", tx.Hash.Hex()))
}

// TxConfirmed implements tracker.Observer.
func (p *Printer) TxConfirmed(tx tracker.Tx) {
	latency := "latency unknown"
	if tx.HasLatency {
		latency = formatDuration(tx.Latency)
	}
	p.println(fmt.Sprintf("<- confirmed %s  block %d  %s", tx.Hash.Hex(), tx.Block, latency))
}

// Report prints the final summary. Completed, pending, failed and average
// latency are always present.
func (p *Printer) Report(rep *types.RunReport, stragglers []tracker.Tx, now time.Time) {
	lines := []string{
		section("Results"),
		kv("Mode", rep.Mode),
		kv("State", rep.State),
		kv("Requested", rep.Requested),
		kv("Sent", rep.Sent),
		kv("Completed", rep.Completed),
		kv("Pending", rep.Pending),
		kv("Failed", rep.Failed),
	}
	if rep.Skipped > 0 {
		lines = append(lines, kv("Skipped (low bal)", rep.Skipped))
	}
	lines = append(lines, kv("Avg latency", formatDuration(rep.AvgLatency)))
	if l := rep.Latency; l != nil && l.Count > 0 {
		lines = append(lines,
			kv("Latency min/max", fmt.Sprintf("%s / %s", formatMs(l.Min), formatMs(l.Max))),
			kv("Latency p50/p90/p99", fmt.Sprintf("%s / %s / %s", formatMs(l.P50), formatMs(l.P90), formatMs(l.P99))),
		)
	}
	if d := rep.Duration(); d > 0 {
		lines = append(lines, kv("Duration", d.Round(time.Millisecond)))
	}
	if rep.Error != "" {
		lines = append(lines, kv("Error", rep.Error))
	}
	if len(stragglers) > 0 {
		lines = append(lines, "", section(fmt.Sprintf("Unconfirmed (%d)", len(stragglers))))
		for _, tx := range stragglers {
			lines = append(lines, fmt.Sprintf("  %s  pending for %s", tx.Hash.Hex(), formatDuration(now.Sub(tx.SubmittedAt))))
		}
	}
	p.println(lines...)
}

// History prints a table of stored runs.
func (p *Printer) History(runs []types.RunReport, total int) {
	lines := []string{section(fmt.Sprintf("Run history (%d of %d)", len(runs), total))}
	if len(runs) == 0 {
		lines = append(lines, "no runs recorded")
	}
	for _, r := range runs {
		lines = append(lines, fmt.Sprintf("#%-4d %s  %-5s %-6s sent %-5d ok %-5d pend %-4d fail %-4d avg %s",
			r.ID, r.StartedAt.Local().Format("2006-01-02 15:04:05"), r.Mode, r.State,
			r.Sent, r.Completed, r.Pending, r.Failed, formatDuration(r.AvgLatency)))
	}
	p.println(lines...)
}

// kv formats a key-value pair with aligned values.
func kv(key string, value any) string {
	return fmt.Sprintf("%-20s %v", key+":", value)
}

func section(title string) string {
	return "== " + title + " " + strings.Repeat("=", max(0, 40-len(title)))
}

func formatMs(v float64) string {
	return fmt.Sprintf("%.1fms", v)
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "0s"
	}
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(10 * time.Millisecond).String()
}
