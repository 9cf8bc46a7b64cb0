package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	sendNoNewline bool
	sendReplies   int
)

var sendCmd = &cobra.Command{
	Use:   "send <text>",
	Short: "Send one line and print the replies",
	Long: `Send writes the text (with a trailing newline unless --no-newline) and then
prints up to --replies units received before the timeout.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		arb, err := openArbiter()
		if err != nil {
			return err
		}
		defer arb.Close()

		payload := args[0]
		if !sendNoNewline && !strings.HasSuffix(payload, "\n") {
			payload += "\n"
		}
		deadline := time.Now().Add(cfg.Timeout)
		if err := arb.TransmitString(payload, deadline); err != nil {
			return fmt.Errorf("failed to send: %w", err)
		}

		for i := 0; i < sendReplies; i++ {
			data, ok, err := arb.Receive(deadline)
			if err != nil {
				return fmt.Errorf("failed to receive: %w", err)
			}
			if !ok {
				if i == 0 {
					fmt.Fprintln(cmd.ErrOrStderr(), "No reply before timeout.")
				}
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s", data)
		}
		return nil
	},
}

func init() {
	sendCmd.Flags().BoolVar(&sendNoNewline, "no-newline", false, "do not append a newline")
	sendCmd.Flags().IntVarP(&sendReplies, "replies", "n", 1, "number of replies to wait for (0 to not wait)")
	rootCmd.AddCommand(sendCmd)
}
