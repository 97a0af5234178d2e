// txstress MCP server.
// Exposes the stress runs over MCP stdio transport.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/gateway-fm/txstress/internal/config"
	mcptools "github.com/gateway-fm/txstress/internal/mcp"
	"github.com/gateway-fm/txstress/internal/report"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "txstress-mcp: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if err := config.LoadDotEnv(); err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// stdout carries the MCP protocol; logs go to stderr.
	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	var store report.Storage
	if cfg.ReportDB != "" {
		s, err := report.NewSQLiteStorage(cfg.ReportDB)
		if err != nil {
			return fmt.Errorf("report db: %w", err)
		}
		defer s.Close()
		store = s
	}

	s := server.NewMCPServer(
		"txstress",
		"0.1.0",
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)
	mcptools.RegisterTools(s, mcptools.NewRunner(cfg, store, logger))

	if err := server.ServeStdio(s); err != nil {
		return fmt.Errorf("MCP server error: %w", err)
	}
	return nil
}
