package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"keymesh/internal/crypto"
)

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Generate identity, registration id, and prekeys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			bundle, oneTime, err := wire.Keys.GenerateInitialKeyBundle(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("Device %s.%d initialised.\n", bundle.UserID, bundle.DeviceID)
			fmt.Printf("Registration id: %d\n", bundle.RegistrationID)
			fmt.Printf("Fingerprint:     %s\n", crypto.Fingerprint(bundle.IdentityKey.Slice()))
			fmt.Printf("One-time prekeys: %d\n", len(oneTime))
			fmt.Println("Run `keymesh publish` to upload the bundle to the directory.")
			return nil
		},
	}
}
