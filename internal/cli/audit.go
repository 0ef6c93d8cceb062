package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/lai/internal/audit"
)

var (
	tailLines  int
	tailFollow bool
)

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditTailCmd)
	auditCmd.AddCommand(auditRotateCmd)
	auditCmd.AddCommand(auditStatsCmd)
	auditTailCmd.Flags().IntVarP(&tailLines, "lines", "n", audit.DefaultTailLines, "Number of lines to show")
	auditTailCmd.Flags().BoolVarP(&tailFollow, "follow", "f", false, "Keep printing lines as they are appended")
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Execution audit log operations",
	Long:  "Commands for inspecting the plain-text log of every captured command\nand code run (default ~/.lai/executions.log).",
}

var auditTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Show the end of the audit log",
	Long:  "Prints the last N lines of the current audit log. The rotated backup is\nnot included. With --follow, keeps printing new records across rotations.",
	Args:  cobra.NoArgs,
	RunE:  runAuditTail,
}

var auditRotateCmd = &cobra.Command{
	Use:   "rotate",
	Short: "Move the current audit log to its backup now",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		log, err := openAudit()
		if err != nil {
			return err
		}
		if err := log.Rotate(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Rotated %s to %s\n", log.Path(), log.Backup())
		return nil
	},
}

var auditStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize the executions in the current audit log",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		log, err := openAudit()
		if err != nil {
			return err
		}
		summary, err := log.Stats()
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), audit.FormatSummary(summary))
		return nil
	},
}

func openAudit() (*audit.Log, error) {
	return audit.Open(cfg.AuditLog, audit.WithMaxBytes(cfg.AuditMaxBytes), audit.WithLogger(logger))
}

func runAuditTail(cmd *cobra.Command, args []string) error {
	log, err := openAudit()
	if err != nil {
		return err
	}
	text, err := log.Tail(tailLines)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if text != "" {
		fmt.Fprintln(out, text)
	}
	if !tailFollow {
		return nil
	}

	ctx, cancel := signalContext()
	defer cancel()
	if err := log.Follow(ctx, out); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
