package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func rotateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rotate",
		Short: "Rotate the signed prekey and republish the bundle",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := wire.Keys.RotateSignedPreKey(cmd.Context())
			if err != nil {
				return err
			}
			bundle, oneTime, err := wire.Keys.GenerateInitialKeyBundle(cmd.Context())
			if err != nil {
				return err
			}
			if err := wire.Directory.Publish(cmd.Context(), bundle, oneTime); err != nil {
				return err
			}
			if len(oneTime) > 0 {
				if err := wire.Keys.MarkPreKeysOffered(oneTime[len(oneTime)-1].ID); err != nil {
					return err
				}
			}
			fmt.Printf("Signed prekey rotated (id %d) and bundle republished.\n", rec.ID)
			return nil
		},
	}
}
