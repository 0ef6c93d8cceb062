package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/lai/internal/runner"
)

var (
	runCwd     string
	runTimeout int
)

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&runCwd, "cwd", "", "Working directory for the snippet")
	runCmd.Flags().IntVar(&runTimeout, "timeout", 0, "Timeout in seconds (default: run_timeout, 10)")
}

var runCmd = &cobra.Command{
	Use:   "run <language> [file]",
	Short: "Run a code snippet with a whitelisted interpreter",
	Long: "Runs the snippet from file, or stdin when no file is given, with the\ninterpreter for language: " +
		strings.Join(runner.Languages(), ", ") + ".\nThe run is recorded in the execution audit log.",
	Args: cobra.RangeArgs(1, 2),
	RunE: runRunCode,
}

func runRunCode(cmd *cobra.Command, args []string) error {
	var code string
	if len(args) == 2 {
		data, err := os.ReadFile(args[1])
		if err != nil {
			return fmt.Errorf("read %s: %w", args[1], err)
		}
		code = string(data)
	} else {
		var err error
		if code, err = readStdin(cmd.InOrStdin()); err != nil {
			return err
		}
	}
	if strings.TrimSpace(code) == "" {
		return errors.New("No code provided. Pass a file or pipe the snippet on stdin.")
	}

	timeout := cfg.RunTimeout
	if runTimeout > 0 {
		timeout = time.Duration(runTimeout) * time.Second
	}

	ctx, cancel := signalContext()
	defer cancel()

	r, err := newRunner()
	if err != nil {
		return err
	}
	res, err := r.RunCode(ctx, args[0], code, runCwd, timeout)
	if err != nil {
		var lang *runner.UnsupportedLanguageError
		if errors.As(err, &lang) {
			return err
		}
		return fmt.Errorf("Failed to execute code: %w", err)
	}
	writeCapture(cmd.OutOrStdout(), res)
	return nil
}
