package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// seal <recipient>... : encrypt a message for every device of the recipients
// and write the envelope JSON to stdout (or --out).
func sealCmd() *cobra.Command {
	var (
		message string
		outPath string
	)
	cmd := &cobra.Command{
		Use:   "seal <recipient>...",
		Short: "Encrypt a message for every device of the recipients",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			plaintext := []byte(message)
			if message == "" {
				data, err := io.ReadAll(os.Stdin)
				if err != nil {
					return err
				}
				plaintext = data
			}

			env, results, err := wire.Cipher.SendToRecipients(cmd.Context(), plaintext, args)
			for _, res := range results {
				if res.Err != nil {
					fmt.Fprintf(os.Stderr, "skip %s: %v\n", res.Address, res.Err)
				}
			}
			if err != nil {
				return err
			}

			out := os.Stdout
			if outPath != "" {
				f, err := os.Create(outPath)
				if err != nil {
					return err
				}
				defer f.Close()
				out = f
			}
			return json.NewEncoder(out).Encode(env)
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "message text (reads stdin when omitted)")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "write the envelope to a file instead of stdout")
	return cmd
}
