package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ppiankov/lai/internal/client"
)

const (
	errNoMessage = "No message provided. Use --stdin to read from stdin, or provide a message argument."
	errNoInput   = "No input from stdin. Usage: cat file.txt | lai analyze"
	analyzeLead  = "Analyze the following:"
)

// askFlags are shared by ask, chat and analyze.
type askFlags struct {
	model    string
	provider string
	newConv  bool
	gui      bool
	stdin    bool
}

var (
	askOpts     askFlags
	analyzeOpts askFlags
)

func init() {
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(analyzeCmd)

	askCmd.Flags().StringVar(&askOpts.model, "model", "", "Override the default model")
	askCmd.Flags().StringVar(&askOpts.provider, "provider", "", "Override the default provider (e.g., openai, anthropic, ollama)")
	askCmd.Flags().BoolVar(&askOpts.newConv, "new", false, "Start a new conversation instead of continuing the current one")
	askCmd.Flags().BoolVar(&askOpts.gui, "gui", false, "Open the response in the GUI instead of the terminal")
	askCmd.Flags().BoolVar(&askOpts.stdin, "stdin", false, "Read the message from stdin")

	analyzeCmd.Flags().StringVar(&analyzeOpts.model, "model", "", "Override the default model")
	analyzeCmd.Flags().StringVar(&analyzeOpts.provider, "provider", "", "Override the default provider")
	analyzeCmd.Flags().BoolVar(&analyzeOpts.gui, "gui", false, "Open the response in the GUI")
}

var askCmd = &cobra.Command{
	Use:     "ask [message]",
	Aliases: []string{"chat"},
	Short:   "Send a question to the assistant",
	Long:    "Sends the message to the running application and prints the reply.\nWithout a message argument, or with --stdin, the message is read from stdin.",
	Args:    cobra.MaximumNArgs(1),
	RunE:    runAsk,
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze [prompt]",
	Short: "Analyze text from stdin (e.g., cat error.log | lai analyze)",
	Long:  "Reads stdin and asks the assistant about it. The optional prompt replaces\nthe default \"Analyze the following:\" lead.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAnalyze,
}

func runAsk(cmd *cobra.Command, args []string) error {
	var arg string
	if len(args) > 0 {
		arg = args[0]
	}
	msg, err := resolveMessage(arg, askOpts.stdin, cmd.InOrStdin())
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()
	return sendAsk(ctx, cmd.OutOrStdout(), cmd.ErrOrStderr(), msg, askOpts)
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	input, err := readStdin(cmd.InOrStdin())
	if err != nil {
		return err
	}
	var prompt string
	if len(args) > 0 {
		prompt = args[0]
	}
	msg, err := analyzeMessage(prompt, input)
	if err != nil {
		return err
	}

	opts := analyzeOpts
	opts.newConv = false

	ctx, cancel := signalContext()
	defer cancel()
	return sendAsk(ctx, cmd.OutOrStdout(), cmd.ErrOrStderr(), msg, opts)
}

// resolveMessage picks the argument, or stdin when forced or when no
// argument was given. An empty result is an error.
func resolveMessage(arg string, fromStdin bool, stdin io.Reader) (string, error) {
	msg := arg
	if fromStdin || arg == "" {
		var err error
		if msg, err = readStdin(stdin); err != nil {
			return "", err
		}
	}
	if msg == "" {
		return "", errors.New(errNoMessage)
	}
	return msg, nil
}

// analyzeMessage frames stdin content under a lead line.
func analyzeMessage(prompt, input string) (string, error) {
	if input == "" {
		return "", errors.New(errNoInput)
	}
	if prompt == "" {
		prompt = analyzeLead
	}
	return prompt + "\n\n" + input, nil
}

func readStdin(r io.Reader) (string, error) {
	if f, ok := r.(*os.File); ok {
		if info, err := f.Stat(); err == nil && info.Mode()&os.ModeCharDevice != 0 {
			return "", nil
		}
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("Failed to read from stdin: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// sendAsk submits the prompt and, unless the GUI shows the answer, waits
// and prints the newest assistant reply.
func sendAsk(ctx context.Context, stdout, stderr io.Writer, prompt string, opts askFlags) error {
	c := newClient()

	// Remember the current reply so a stale one can be polled past.
	var previous string
	if !opts.gui && cfg.ReplyAttempts > 1 {
		if msg, err := c.Last(ctx); err == nil {
			previous = msg.ID
		}
	}

	err := c.Ask(ctx, client.AskRequest{
		Prompt:    prompt,
		Model:     optional(opts.model),
		Provider:  optional(opts.provider),
		New:       opts.newConv,
		GUI:       opts.gui,
		RequestID: uuid.NewString(),
	})
	if err != nil {
		return callError("send ask", err)
	}

	if opts.gui {
		fmt.Fprintln(stdout, "Request sent. Check the GUI for the response.")
		return nil
	}

	reply, err := c.AwaitReply(ctx, client.ReplyOptions{
		PreviousID: previous,
		Delay:      cfg.ReplyDelay,
		Attempts:   cfg.ReplyAttempts,
		Progress:   stderr,
	})
	if err != nil {
		return callError("get response", err)
	}
	fmt.Fprintf(stdout, "\n%s\n", reply.Content)
	return nil
}
