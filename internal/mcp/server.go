// Package mcp exposes lai's runner, control plane client and audit log as
// MCP tools over stdio, so coding agents can capture commands and read the
// assistant's replies.
package mcp

import (
	"context"
	"fmt"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/ppiankov/lai/internal/audit"
	"github.com/ppiankov/lai/internal/client"
	"github.com/ppiankov/lai/internal/runner"
)

// Config holds MCP server configuration.
type Config struct {
	Addr           string        // control plane address
	ClientTimeout  time.Duration // per control plane call
	CaptureTimeout time.Duration // default lai_capture bound
	RunTimeout     time.Duration // default lai_run_code bound
	AuditLogPath   string
	AuditMaxBytes  int64
	Version        string
}

// Server wraps the MCP SDK server with lai's tools.
type Server struct {
	mcpServer *mcpsdk.Server
	runner    *runner.Runner
	client    *client.Client
	auditLog  *audit.Log
	cfg       Config
	logger    *zap.Logger
}

// New creates an MCP server. The audit log is optional; without it runs
// are not recorded and lai_audit_tail is unavailable.
func New(cfg Config, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.CaptureTimeout <= 0 {
		cfg.CaptureTimeout = runner.DefaultTimeout
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = runner.DefaultCodeTimeout
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}

	var auditLog *audit.Log
	if cfg.AuditLogPath != "" {
		var err error
		auditLog, err = audit.Open(cfg.AuditLogPath, audit.WithMaxBytes(cfg.AuditMaxBytes), audit.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("mcp: open audit log: %w", err)
		}
	}

	opts := []runner.Option{runner.WithLogger(logger)}
	if auditLog != nil {
		opts = append(opts, runner.WithAudit(auditLog))
	}

	s := &Server{
		runner:   runner.New(opts...),
		client:   client.New(cfg.Addr, cfg.ClientTimeout),
		auditLog: auditLog,
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "mcp")),
	}

	s.mcpServer = mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    "lai",
			Version: cfg.Version,
		},
		nil,
	)

	s.registerTools()
	return s, nil
}

// Run starts the MCP server on stdio transport. Blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Debug("mcp server starting", zap.String("control_plane", s.client.Addr()))
	return s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
}

func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "lai_capture",
		Description: "Run a command without a shell, capture its output and exit status, and diagnose common failures.",
	}, s.handleCapture)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "lai_run_code",
		Description: "Run a code snippet with a whitelisted interpreter (bash, sh, zsh, python, node, javascript).",
	}, s.handleRunCode)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "lai_notify",
		Description: "Show a desktop notification through the running lai application.",
	}, s.handleNotify)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "lai_last",
		Description: "Return the newest assistant reply from the most recently active conversation.",
	}, s.handleLast)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "lai_audit_tail",
		Description: "Return the last lines of the command execution audit log.",
	}, s.handleAuditTail)
}
