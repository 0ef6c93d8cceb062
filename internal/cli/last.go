package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(lastCmd)
}

var lastCmd = &cobra.Command{
	Use:   "last",
	Short: "Print the assistant's most recent reply",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()
		msg, err := newClient().Last(ctx)
		if err != nil {
			return callError("get last response", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), msg.Content)
		return nil
	},
}
