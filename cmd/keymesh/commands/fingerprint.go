package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"keymesh/internal/crypto"
)

func fingerprintCmd() *cobra.Command {
	var (
		peer   string
		device uint32
	)
	cmd := &cobra.Command{
		Use:   "fingerprint",
		Short: "Print the identity fingerprint, or a peer safety number",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if peer == "" {
				id, err := wire.Secure.LoadIdentity()
				if err != nil {
					return err
				}
				fmt.Printf("Fingerprint: %s\n", crypto.Fingerprint(id.XPub.Slice()))
				return nil
			}

			number, err := wire.Manager.SafetyNumber(address(peer, device))
			if err != nil {
				return err
			}
			fmt.Printf("Safety number with %s:\n", peer)
			printSafetyNumber(number)
			return nil
		},
	}
	cmd.Flags().StringVar(&peer, "peer", "", "print the safety number with this user instead")
	cmd.Flags().Uint32Var(&device, "peer-device", 0, "peer device id (default 1)")
	return cmd
}

// printSafetyNumber renders the 60 digits in the conventional 12 groups of 5.
func printSafetyNumber(number string) {
	for i := 0; i+5 <= len(number); i += 5 {
		fmt.Print(number[i : i+5])
		if (i+5)%30 == 0 {
			fmt.Println()
		} else {
			fmt.Print(" ")
		}
	}
}
