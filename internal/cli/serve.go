package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/lai/internal/host"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the headless application host",
	Long:  "Runs the control plane, conversation store and event printer without the\ndesktop UI. Notifications and asks are printed to stdout. DEV_MODE unlocks\nthe create operation.",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	h, err := host.New(cfg, logger, host.WithDevMode(devMode), host.WithOutput(cmd.OutOrStdout()))
	if err != nil {
		return fmt.Errorf("failed to start host: %w", err)
	}
	defer h.Close()

	ctx, cancel := signalContext()
	defer cancel()

	fmt.Fprintf(os.Stderr, "lai host starting, control plane on %s\n", cfg.ListenAddr)
	fmt.Fprintf(os.Stderr, "Database: %s\n", cfg.Database)
	fmt.Fprintf(os.Stderr, "Audit log: %s\n", cfg.AuditLog)
	if devMode {
		fmt.Fprintln(os.Stderr, "DEV_MODE: create enabled")
	}
	fmt.Fprintln(os.Stderr)

	err = h.Run(ctx)
	fmt.Fprintln(os.Stderr, "\nShutting down lai host...")
	return err
}
