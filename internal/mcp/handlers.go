package mcp

import (
	"context"
	"errors"
	"fmt"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/ppiankov/lai/internal/runner"
)

// CaptureInput defines parameters for the lai_capture tool.
type CaptureInput struct {
	Command        string `json:"command" jsonschema:"command line, split on whitespace, no shell"`
	Cwd            string `json:"cwd,omitempty" jsonschema:"working directory, defaults to the server's"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty" jsonschema:"wall-clock bound in seconds"`
}

// RunCodeInput defines parameters for the lai_run_code tool.
type RunCodeInput struct {
	Language       string `json:"language" jsonschema:"interpreter: bash, sh, zsh, python, node or javascript"`
	Code           string `json:"code" jsonschema:"source to run"`
	Cwd            string `json:"cwd,omitempty" jsonschema:"working directory"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty" jsonschema:"wall-clock bound in seconds"`
}

// RunOutput is the outcome of a capture or code run.
type RunOutput struct {
	Command         string `json:"command"`
	WorkingDir      string `json:"working_dir"`
	ExitCode        *int   `json:"exit_code"`
	Stdout          string `json:"stdout"`
	Stderr          string `json:"stderr"`
	ExecutionTimeMS uint64 `json:"execution_time_ms"`
	TimedOut        bool   `json:"timed_out"`
	ErrorSummary    string `json:"error_summary,omitempty"`
	Error           string `json:"error,omitempty"`
}

// NotifyInput defines parameters for the lai_notify tool.
type NotifyInput struct {
	Message string `json:"message" jsonschema:"notification text"`
}

// NotifyOutput confirms delivery to the application.
type NotifyOutput struct {
	Sent bool `json:"sent"`
}

// LastInput is empty.
type LastInput struct{}

// LastOutput is the newest assistant message.
type LastOutput struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	Content        string `json:"content"`
	Timestamp      int64  `json:"timestamp"`
}

// AuditTailInput defines parameters for the lai_audit_tail tool.
type AuditTailInput struct {
	Lines int `json:"lines,omitempty" jsonschema:"number of lines, default 200"`
}

// AuditTailOutput carries the log excerpt.
type AuditTailOutput struct {
	Path string `json:"path"`
	Text string `json:"text"`
}

func (s *Server) handleCapture(ctx context.Context, req *mcpsdk.CallToolRequest, input CaptureInput) (*mcpsdk.CallToolResult, RunOutput, error) {
	timeout := s.cfg.CaptureTimeout
	if input.TimeoutSeconds > 0 {
		timeout = time.Duration(input.TimeoutSeconds) * time.Second
	}

	res, err := s.runner.Run(ctx, input.Command, input.Cwd, timeout)
	return s.runResult(input.Command, res, err)
}

func (s *Server) handleRunCode(ctx context.Context, req *mcpsdk.CallToolRequest, input RunCodeInput) (*mcpsdk.CallToolResult, RunOutput, error) {
	timeout := s.cfg.RunTimeout
	if input.TimeoutSeconds > 0 {
		timeout = time.Duration(input.TimeoutSeconds) * time.Second
	}

	res, err := s.runner.RunCode(ctx, input.Language, input.Code, input.Cwd, timeout)
	return s.runResult(input.Language, res, err)
}

// runResult maps a runner outcome onto the tool result. Spawn failures
// and rejected input are reported in-band with IsError set; anything else
// is a tool failure.
func (s *Server) runResult(what string, res *runner.Result, err error) (*mcpsdk.CallToolResult, RunOutput, error) {
	if err != nil {
		var spawn *runner.SpawnError
		var lang *runner.UnsupportedLanguageError
		if errors.As(err, &spawn) || errors.As(err, &lang) || errors.Is(err, runner.ErrEmptyCommand) {
			s.logger.Debug("run rejected", zap.String("target", what), zap.Error(err))
			return &mcpsdk.CallToolResult{IsError: true}, RunOutput{Command: what, Error: err.Error()}, nil
		}
		return nil, RunOutput{}, err
	}

	out := RunOutput{
		Command:         res.Command,
		WorkingDir:      res.WorkingDir,
		ExitCode:        res.ExitCode,
		Stdout:          res.Stdout,
		Stderr:          res.Stderr,
		ExecutionTimeMS: res.ExecutionTimeMS,
		TimedOut:        res.TimedOut,
	}
	if res.ErrorSummary != nil {
		out.ErrorSummary = *res.ErrorSummary
	}
	return nil, out, nil
}

func (s *Server) handleNotify(ctx context.Context, req *mcpsdk.CallToolRequest, input NotifyInput) (*mcpsdk.CallToolResult, NotifyOutput, error) {
	if input.Message == "" {
		return nil, NotifyOutput{}, errors.New("message is required")
	}
	if err := s.client.Notify(ctx, input.Message); err != nil {
		return nil, NotifyOutput{}, fmt.Errorf("notify: %w", err)
	}
	return nil, NotifyOutput{Sent: true}, nil
}

func (s *Server) handleLast(ctx context.Context, req *mcpsdk.CallToolRequest, input LastInput) (*mcpsdk.CallToolResult, LastOutput, error) {
	msg, err := s.client.Last(ctx)
	if err != nil {
		return nil, LastOutput{}, fmt.Errorf("last: %w", err)
	}
	return nil, LastOutput{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		Content:        msg.Content,
		Timestamp:      msg.Timestamp,
	}, nil
}

func (s *Server) handleAuditTail(ctx context.Context, req *mcpsdk.CallToolRequest, input AuditTailInput) (*mcpsdk.CallToolResult, AuditTailOutput, error) {
	if s.auditLog == nil {
		return nil, AuditTailOutput{}, errors.New("audit log not configured")
	}
	text, err := s.auditLog.Tail(input.Lines)
	if err != nil {
		return nil, AuditTailOutput{}, err
	}
	return nil, AuditTailOutput{Path: s.auditLog.Path(), Text: text}, nil
}
