package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func publishCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "publish",
		Short: "Upload this device's prekey bundle to the directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
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
			fmt.Printf("Published bundle for %s.%d with %d new one-time prekeys.\n", bundle.UserID, bundle.DeviceID, len(oneTime))
			return nil
		},
	}
}
