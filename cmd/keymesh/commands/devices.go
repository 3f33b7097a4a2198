package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func devicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices <user>",
		Short: "List a user's registered devices",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			devices, err := wire.Directory.ListDevices(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if len(devices) == 0 {
				fmt.Printf("%s has no registered devices.\n", args[0])
				return nil
			}
			for _, d := range devices {
				capable := "encryption-capable"
				if !d.Capable {
					capable = "not capable"
				}
				fmt.Printf("device %d\t%s\tlast seen %s\n", d.DeviceID, capable, time.Unix(d.LastSeen, 0).Format(time.RFC3339))
			}
			return nil
		},
	}
}
