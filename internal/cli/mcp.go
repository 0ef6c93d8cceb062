package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	laimcp "github.com/ppiankov/lai/internal/mcp"
)

func init() {
	rootCmd.AddCommand(mcpCmd)
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP tool server for agent integration",
	Long:  "Runs lai as an MCP (Model Context Protocol) server over stdio.\nExposes tools: lai_capture, lai_run_code, lai_notify, lai_last, lai_audit_tail.",
	Args:  cobra.NoArgs,
	RunE:  runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	srv, err := laimcp.New(laimcp.Config{
		Addr:           cfg.ListenAddr,
		ClientTimeout:  cfg.ClientTimeout,
		CaptureTimeout: cfg.CaptureTimeout,
		RunTimeout:     cfg.RunTimeout,
		AuditLogPath:   cfg.AuditLog,
		AuditMaxBytes:  cfg.AuditMaxBytes,
		Version:        version,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	fmt.Fprintln(os.Stderr, "lai MCP server running on stdio")
	return srv.Run(ctx)
}
