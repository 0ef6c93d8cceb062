package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/lai/internal/protocol"
)

var createConversationID string

func init() {
	rootCmd.AddCommand(createCmd)
	createCmd.Flags().StringVar(&createConversationID, "conversation-id", "", "Append to this conversation instead of a new one")
	createCmd.Hidden = !devMode
}

var createCmd = &cobra.Command{
	Use:   "create <message>",
	Short: "Insert an assistant message (development only)",
	Long:  "Inserts the message as an assistant reply, for testing the ask/last flow\nwithout a model. Requires DEV_MODE on both the CLI and the application.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !devMode {
			return errors.New(protocol.ErrTextCreateDisabled)
		}
		ctx, cancel := signalContext()
		defer cancel()
		msg, err := newClient().Create(ctx, args[0], createConversationID)
		if err != nil {
			return callError("send create", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), msg.Content)
		return nil
	},
}
