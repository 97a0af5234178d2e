package display

import (
	"bytes"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/gateway-fm/txstress/internal/account"
	"github.com/gateway-fm/txstress/internal/config"
	"github.com/gateway-fm/txstress/internal/tracker"
	"github.com/gateway-fm/txstress/pkg/types"
)

func TestWallets(t *testing.T) {
	var buf bytes.Buffer
	p := New(&buf)

	mk := func(wei int64) *account.Account {
		key, err := crypto.GenerateKey()
		if err != nil {
			t.Fatal(err)
		}
		acc := account.NewAccount(key)
		acc.Balance = big.NewInt(wei)
		return acc
	}
	funded := mk(2e18)
	dust := mk(1e14)
	empty := mk(0)
	p.Wallets([]*account.Account{funded, dust, empty})

	out := buf.String()
	tests := []string{
		"Wallets (3)",
		"1. " + funded.Address.Hex(),
		"[funded]",
		"[low balance]",
		"[unfunded]",
	}
	for _, want := range tests {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestBanner(t *testing.T) {
	tests := []struct {
		mode    types.Mode
		want    string
		notWant string
	}{
		{mode: types.ModeBurst, want: "Batch size:", notWant: "Watchdog:"},
		{mode: types.ModeTimed, want: "Watchdog:", notWant: "Batch size:"},
		{mode: types.ModeSlow, want: "Manual nonce:", notWant: "Batch size:"},
	}

	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			var buf bytes.Buffer
			New(&buf).Banner(tt.mode, config.Default())
			out := buf.String()
			if !strings.Contains(out, tt.want) {
				t.Errorf("banner missing %q:\n%s", tt.want, out)
			}
			if strings.Contains(out, tt.notWant) {
				t.Errorf("banner should not contain %q:\n%s", tt.notWant, out)
			}
		})
	}
}

func TestReport(t *testing.T) {
	var buf bytes.Buffer
	now := time.Now()
	started := now.Add(-time.Minute)
	rep := &types.RunReport{
		Mode:       types.ModeBurst,
		State:      types.StateDone,
		StartedAt:  started,
		FinishedAt: now,
		Requested:  5,
		Sent:       5,
		Failed:     1,
		Completed:  3,
		Pending:    1,
		AvgLatency: 1200 * time.Millisecond,
		Latency:    &types.LatencyStats{Count: 3, Min: 800, Max: 1600, Avg: 1200, P50: 1200, P90: 1600, P99: 1600},
	}
	straggler := tracker.Tx{Hash: common.HexToHash("0xabc"), SubmittedAt: now.Add(-30 * time.Second)}
	New(&buf).Report(rep, []tracker.Tx{straggler}, now)

	out := buf.String()
	for _, want := range []string{
		"Completed:", "Pending:", "Failed:", "Avg latency:", "1.2s",
		"p50/p90/p99", "1200.0ms / 1600.0ms / 1600.0ms",
		"Unconfirmed (1)", straggler.Hash.Hex(), "pending for 30s",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "Skipped") {
		t.Error("zero skips should not be printed")
	}
}

func TestReportNothingCompleted(t *testing.T) {
	var buf bytes.Buffer
	New(&buf).Report(&types.RunReport{Mode: types.ModeSlow, State: types.StateFailed, Error: "no funded wallet"}, nil, time.Now())

	out := buf.String()
	for _, want := range []string{"Completed:", "Pending:", "Failed:", "Avg latency:", "0s", "no funded wallet"} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "p50") {
		t.Error("percentiles should be omitted without samples")
	}
}

func TestObserverLines(t *testing.T) {
	var buf bytes.Buffer
	p := New(&buf)
	h := common.HexToHash("0x01")

	p.TxSubmitted(tracker.Tx{Hash: h})
	p.TxConfirmed(tracker.Tx{Hash: h, Confirmed: true, Block: 42, Latency: 2 * time.Second, HasLatency: true})
	p.TxConfirmed(tracker.Tx{Hash: h, Confirmed: true, Block: 41})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3", len(lines))
	}
	if !strings.Contains(lines[0], "sent") || !strings.Contains(lines[1], "block 42") {
		t.Errorf("lines = %q", lines)
	}
	if !strings.Contains(lines[2], "latency unknown") {
		t.Errorf("line for a tx without latency = %q", lines[2])
	}
}

func TestHistory(t *testing.T) {
	var buf bytes.Buffer
	New(&buf).History([]types.RunReport{{ID: 7, Mode: types.ModeTimed, State: types.StateDone, Sent: 4}}, 9)

	out := buf.String()
	if !strings.Contains(out, "(1 of 9)") || !strings.Contains(out, "#7") {
		t.Errorf("history output:\n%s", out)
	}
}
