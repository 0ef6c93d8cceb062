package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(notifyCmd)
}

var notifyCmd = &cobra.Command{
	Use:   "notify <message>",
	Short: "Send a desktop notification through the assistant app",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()
		if err := newClient().Notify(ctx, args[0]); err != nil {
			return callError("send notify", err)
		}
		return nil
	},
}
