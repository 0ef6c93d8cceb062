package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ppiankov/lai/internal/client"
	"github.com/ppiankov/lai/internal/config"
	"github.com/ppiankov/lai/internal/logging"
)

var (
	configPath string
	addrFlag   string
	verbose    bool

	// devMode is read from DEV_MODE once per process.
	devMode = config.DevModeFromEnv()

	cfg    = config.Default()
	logger = zap.NewNop()
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config YAML (default: ~/.lai/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&addrFlag, "addr", "", "Control plane address (default: 127.0.0.1:39871, env LAI_ADDR)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging on stderr")
}

var rootCmd = &cobra.Command{
	Use:   "lai",
	Short: "Terminal companion for the lai desktop assistant",
	Long: `lai talks to the running desktop assistant over a loopback control plane.

Examples:
  lai ask "How do I list open ports?"
  cat error.log | lai analyze
  lai capture "make test" --analyze
  lai notify "Build completed"`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func setup(cmd *cobra.Command, args []string) error {
	loaded, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if addrFlag != "" {
		loaded.ListenAddr = addrFlag
	}
	cfg = loaded

	l, err := logging.New(verbose)
	if err != nil {
		return err
	}
	logger = l
	return nil
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newClient() *client.Client {
	return client.New(cfg.ListenAddr, cfg.ClientTimeout)
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}

// callError renders a failed control plane call as one line: the
// application's own message for protocol errors, "Failed to <op>: ..."
// for everything else.
func callError(op string, err error) error {
	var pe *client.ProtocolError
	if errors.As(err, &pe) {
		return fmt.Errorf("Error: %s", pe.Message)
	}
	return fmt.Errorf("Failed to %s: %w", op, err)
}
