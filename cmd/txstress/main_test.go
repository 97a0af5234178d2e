package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gateway-fm/txstress/internal/config"
)

func TestFlagsOverrideConfig(t *testing.T) {
	cfg := config.Default()
	cfg.TxCount = 3 // as if set from the environment
	root := newRootCmd(cfg, &bytes.Buffer{})

	cmd, _, err := root.Find([]string{"burst"})
	if err != nil {
		t.Fatal(err)
	}
	err = cmd.ParseFlags([]string{"-c", "25", "-b", "4", "--batch-delay", "250ms", "--node", "http://node:8545", "--manual-nonce"})
	if err != nil {
		t.Fatalf("ParseFlags() error = %v", err)
	}

	if cfg.TxCount != 25 || cfg.BatchSize != 4 || cfg.BatchDelay != 250*time.Millisecond {
		t.Errorf("count/batch/delay = %d/%d/%v", cfg.TxCount, cfg.BatchSize, cfg.BatchDelay)
	}
	if cfg.NodeURL != "http://node:8545" || !cfg.ManualNonce {
		t.Errorf("node/manual = %q/%v", cfg.NodeURL, cfg.ManualNonce)
	}
}

func TestEnvValueIsFlagDefault(t *testing.T) {
	cfg := config.Default()
	cfg.ValueETH = "0.5"
	root := newRootCmd(cfg, &bytes.Buffer{})

	cmd, _, err := root.Find([]string{"slow"})
	if err != nil {
		t.Fatal(err)
	}
	if err := cmd.ParseFlags(nil); err != nil {
		t.Fatal(err)
	}
	if cfg.ValueETH != "0.5" {
		t.Errorf("ValueETH = %q, want value from environment", cfg.ValueETH)
	}
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	root := newRootCmd(cfg, &bytes.Buffer{})
	root.SetArgs([]string{"slow", "--to", "0x1234"})

	err := root.Execute()
	if err == nil || !strings.Contains(err.Error(), "invalid recipient") {
		t.Errorf("Execute() error = %v, want invalid recipient", err)
	}
}

func TestHistoryCommand(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		root := newRootCmd(config.Default(), &bytes.Buffer{})
		root.SetArgs([]string{"history"})
		if err := root.Execute(); err == nil {
			t.Error("history without a report db should fail")
		}
	})

	t.Run("empty", func(t *testing.T) {
		var out bytes.Buffer
		cfg := config.Default()
		root := newRootCmd(cfg, &out)
		root.SetArgs([]string{"history", "--report-db", filepath.Join(t.TempDir(), "runs.db")})
		if err := root.Execute(); err != nil {
			t.Fatalf("Execute() error = %v", err)
		}
		if !strings.Contains(out.String(), "no runs recorded") {
			t.Errorf("output = %q", out.String())
		}
	})
}

func TestFundRequiresSourceKey(t *testing.T) {
	t.Setenv("FROM_PK", "")
	root := newRootCmd(config.Default(), &bytes.Buffer{})
	root.SetArgs([]string{"fund"})
	err := root.Execute()
	if err == nil || !strings.Contains(err.Error(), "source private key") {
		t.Errorf("Execute() error = %v", err)
	}
}
