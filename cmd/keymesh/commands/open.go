package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"keymesh/internal/domain"
)

// open <sender>: decrypt this device's slot of an envelope read from stdin
// (or --in).
func openCmd() *cobra.Command {
	var inPath string
	cmd := &cobra.Command{
		Use:   "open <sender>",
		Short: "Decrypt this device's slot of an envelope",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := os.Stdin
			if inPath != "" {
				f, err := os.Open(inPath)
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}

			var env domain.Envelope
			if err := json.NewDecoder(in).Decode(&env); err != nil {
				return fmt.Errorf("decode envelope: %w", err)
			}

			res, err := wire.Cipher.Receive(cmd.Context(), env, args[0])
			if err != nil {
				return err
			}
			switch res.Status {
			case domain.ReceiveNotForThisDevice:
				fmt.Fprintln(os.Stderr, "envelope has no slot for this device")
			case domain.ReceiveDuplicate:
				fmt.Fprintln(os.Stderr, "duplicate message; dropped")
			default:
				fmt.Printf("from %s:\n%s\n", res.Sender, res.Plaintext)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&inPath, "in", "i", "", "read the envelope from a file instead of stdin")
	return cmd
}
