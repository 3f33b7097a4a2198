package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show directory-side prekey status for this device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := wire.Directory.CheckPreKeyStatus(cmd.Context(), wire.Config.UserID, wire.Config.DeviceID)
			if err != nil {
				return err
			}
			fmt.Printf("One-time prekeys remaining on directory: %d\n", status.Remaining)
			if status.NeedsReplenishment {
				fmt.Println("Pool is low; run `keymesh publish` or `keymesh maintain`.")
			}
			return nil
		},
	}
}
