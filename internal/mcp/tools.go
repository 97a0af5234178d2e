package mcp

import (
	"context"
	"fmt"
	"time"

	gomcp "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/gateway-fm/txstress/internal/config"
	"github.com/gateway-fm/txstress/pkg/types"
)

// RegisterTools registers all txstress tools on the MCP server.
func RegisterTools(s *server.MCPServer, runner *Runner) {
	registerSlow(s, runner)
	registerBurst(s, runner)
	registerTimed(s, runner)
	registerHistory(s, runner)
}

// commonOptions are accepted by every run tool.
func commonOptions() []gomcp.ToolOption {
	return []gomcp.ToolOption{
		gomcp.WithNumber("count",
			gomcp.Required(),
			gomcp.Description("Number of transactions to send"),
		),
		gomcp.WithString("node_url",
			gomcp.Description("JSON-RPC endpoint (default: NODE_URL)"),
		),
		gomcp.WithString("to",
			gomcp.Description("Recipient address (default: TO_ADDRESS)"),
		),
		gomcp.WithString("value_eth",
			gomcp.Description("Value per transaction in ETH (default: VALUE_ETH)"),
		),
		gomcp.WithBoolean("manual_nonce",
			gomcp.Description("Assign nonces locally instead of using the node's pending count"),
		),
		gomcp.WithNumber("drain_timeout_sec",
			gomcp.Description("Seconds to wait for outstanding confirmations after sending"),
		),
	}
}

func registerSlow(s *server.MCPServer, runner *Runner) {
	opts := append([]gomcp.ToolOption{
		gomcp.WithDescription("Run a sequential stress test: one transaction in flight at a time, each waiting for inclusion. This is a MUTATING operation that spends funds."),
	}, commonOptions()...)
	s.AddTool(gomcp.NewTool("txstress_slow", opts...), runHandler(runner, types.ModeSlow, nil))
}

func registerBurst(s *server.MCPServer, runner *Runner) {
	opts := append([]gomcp.ToolOption{
		gomcp.WithDescription("Run a batch stress test: concurrent batches of transactions round-robin across wallets. This is a MUTATING operation that spends funds."),
		gomcp.WithNumber("batch_size",
			gomcp.Description("Transactions per batch (default: BATCH_SIZE)"),
		),
		gomcp.WithNumber("batch_delay_ms",
			gomcp.Description("Pause between batches in milliseconds"),
		),
	}, commonOptions()...)
	s.AddTool(gomcp.NewTool("txstress_burst", opts...), runHandler(runner, types.ModeBurst, func(req gomcp.CallToolRequest, cfg *config.Config) {
		if v := req.GetInt("batch_size", 0); v > 0 {
			cfg.BatchSize = v
		}
		if v := req.GetInt("batch_delay_ms", -1); v >= 0 {
			cfg.BatchDelay = time.Duration(v) * time.Millisecond
		}
	}))
}

func registerTimed(s *server.MCPServer, runner *Runner) {
	opts := append([]gomcp.ToolOption{
		gomcp.WithDescription("Run a block-triggered stress test: on every new block, one transaction from each funded wallet. This is a MUTATING operation that spends funds."),
		gomcp.WithNumber("watchdog_sec",
			gomcp.Description("Fail the run if sending is not finished within this many seconds (default: 600)"),
		),
	}, commonOptions()...)
	s.AddTool(gomcp.NewTool("txstress_timed", opts...), runHandler(runner, types.ModeTimed, func(req gomcp.CallToolRequest, cfg *config.Config) {
		if v := req.GetInt("watchdog_sec", 0); v > 0 {
			cfg.WatchdogTimeout = time.Duration(v) * time.Second
		}
	}))
}

func registerHistory(s *server.MCPServer, runner *Runner) {
	tool := gomcp.NewTool("txstress_history",
		gomcp.WithDescription("List past runs from the run history database, newest first."),
		gomcp.WithNumber("limit",
			gomcp.Description("Max results (default 20)"),
		),
		gomcp.WithNumber("offset",
			gomcp.Description("Pagination offset (default 0)"),
		),
	)
	s.AddTool(tool, historyHandler(runner))
}

func historyHandler(runner *Runner) server.ToolHandlerFunc {
	return func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		limit := req.GetInt("limit", 20)
		if limit <= 0 {
			limit = 20
		}
		page, err := runner.History(ctx, limit, max(req.GetInt("offset", 0), 0))
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Failed to load history: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatHistory(page)), nil
	}
}

func runHandler(runner *Runner, mode types.Mode, extra func(gomcp.CallToolRequest, *config.Config)) server.ToolHandlerFunc {
	return func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		count := req.GetInt("count", 0)
		if count <= 0 {
			return gomcp.NewToolResultError("count must be positive"), nil
		}

		cfg := runner.Config()
		cfg.TxCount = count
		if v := req.GetString("node_url", ""); v != "" {
			cfg.NodeURL = v
		}
		if v := req.GetString("to", ""); v != "" {
			cfg.ToAddress = v
		}
		if v := req.GetString("value_eth", ""); v != "" {
			cfg.ValueETH = v
		}
		cfg.ManualNonce = req.GetBool("manual_nonce", cfg.ManualNonce)
		if v := req.GetInt("drain_timeout_sec", 0); v > 0 {
			cfg.DrainTimeout = time.Duration(v) * time.Second
		}
		if extra != nil {
			extra(req, cfg)
		}

		out, err := runner.Run(ctx, mode, cfg)
		if out == nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Run failed: %v", err)), nil
		}
		text := formatReport(out.Report, out.Result.Stragglers)
		if err != nil {
			return gomcp.NewToolResultError(text), nil
		}
		return gomcp.NewToolResultText(text), nil
	}
}
