package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ppiankov/lai/internal/audit"
	"github.com/ppiankov/lai/internal/client"
	"github.com/ppiankov/lai/internal/runner"
)

// aiAnalysisDelay is the wait between the analysis ask and the poll.
const aiAnalysisDelay = time.Second

var (
	captureCwd       string
	captureTimeout   int
	captureAnalyze   bool
	captureAIAnalyze bool
	captureJSON      bool
)

func init() {
	rootCmd.AddCommand(captureCmd)
	captureCmd.Flags().StringVar(&captureCwd, "cwd", "", "Working directory for the command")
	captureCmd.Flags().IntVar(&captureTimeout, "timeout", 0, "Timeout in seconds (default: capture_timeout, 30)")
	captureCmd.Flags().BoolVar(&captureAnalyze, "analyze", false, "Analyze output for errors and suggestions")
	captureCmd.Flags().BoolVar(&captureAIAnalyze, "ai-analyze", false, "Send the results to the assistant for analysis")
	captureCmd.Flags().BoolVar(&captureJSON, "json", false, "Print the result as JSON")
}

var captureCmd = &cobra.Command{
	Use:   "capture <command>",
	Short: "Capture and analyze terminal command output",
	Long:  "Runs the command without a shell (arguments split on whitespace), bounded by\n--timeout, and prints its output with a failure diagnosis. Every run is\nappended to the execution audit log.",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runCapture,
}

func runCapture(cmd *cobra.Command, args []string) error {
	timeout := cfg.CaptureTimeout
	if captureTimeout > 0 {
		timeout = time.Duration(captureTimeout) * time.Second
	}

	ctx, cancel := signalContext()
	defer cancel()

	r, err := newRunner()
	if err != nil {
		return err
	}
	res, err := r.Run(ctx, strings.Join(args, " "), captureCwd, timeout)
	if err != nil {
		return fmt.Errorf("Failed to execute command: %w", err)
	}

	out := cmd.OutOrStdout()
	if captureJSON {
		data, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(data))
		return nil
	}

	writeCapture(out, res)
	if captureAIAnalyze {
		fmt.Fprintln(out, "\n--- AI ANALYSIS ---")
		fmt.Fprintln(out, requestAnalysis(ctx, newClient(), res))
	}
	return nil
}

// newRunner builds a runner that records to the configured audit log.
func newRunner() (*runner.Runner, error) {
	log, err := audit.Open(cfg.AuditLog, audit.WithMaxBytes(cfg.AuditMaxBytes), audit.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	return runner.New(runner.WithAudit(log), runner.WithLogger(logger)), nil
}

// writeCapture prints the human-readable capture report.
func writeCapture(w io.Writer, res *runner.Result) {
	fmt.Fprintf(w, "Command: %s\n", res.Command)
	fmt.Fprintf(w, "Working Directory: %s\n", res.WorkingDir)
	fmt.Fprintf(w, "Execution Time: %dms\n", res.ExecutionTimeMS)

	if res.TimedOut {
		fmt.Fprintln(w, "Status: TIMED OUT")
	} else if res.ExitCode != nil {
		fmt.Fprintf(w, "Exit Code: %d\n", *res.ExitCode)
	}

	if res.Stdout != "" {
		fmt.Fprintln(w, "\n--- STDOUT ---")
		fmt.Fprintln(w, res.Stdout)
	}
	if res.Stderr != "" {
		fmt.Fprintln(w, "\n--- STDERR ---")
		fmt.Fprintln(w, res.Stderr)
	}
	if res.ErrorSummary != nil {
		fmt.Fprintln(w, "\n--- ANALYSIS ---")
		fmt.Fprintln(w, *res.ErrorSummary)
	}
}

// analysisPrompt asks the assistant to review a capture.
func analysisPrompt(res *runner.Result) string {
	exit := "None"
	if res.ExitCode != nil {
		exit = strconv.Itoa(*res.ExitCode)
	}
	return fmt.Sprintf("Analyze this terminal command execution:\n\n"+
		"Command: %s\nExit Code: %s\nExecution Time: %dms\n\n"+
		"STDOUT:\n%s\n\nSTDERR:\n%s\n\n"+
		"Provide:\n"+
		"1. What the command was trying to do\n"+
		"2. Whether it succeeded or failed\n"+
		"3. If failed, what went wrong\n"+
		"4. Suggestions for fixes or improvements\n"+
		"5. Any security or performance considerations",
		res.Command, exit, res.ExecutionTimeMS, res.Stdout, res.Stderr)
}

// requestAnalysis runs the ask/last round trip for a capture. Failures are
// reported in the returned text; the capture itself already succeeded.
func requestAnalysis(ctx context.Context, c *client.Client, res *runner.Result) string {
	err := c.Ask(ctx, client.AskRequest{
		Prompt:    analysisPrompt(res),
		RequestID: uuid.NewString(),
	})
	if err != nil {
		return fmt.Sprintf("Failed to request AI analysis: %v", err)
	}
	reply, err := c.AwaitReply(ctx, client.ReplyOptions{Delay: aiAnalysisDelay, Attempts: 1})
	if err != nil {
		return fmt.Sprintf("Failed to get AI analysis: %v", err)
	}
	return reply.Content
}
