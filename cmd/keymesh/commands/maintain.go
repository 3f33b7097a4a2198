package commands

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func maintainCmd() *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "maintain",
		Short: "Run the periodic key-maintenance loop",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if once {
				wire.Maintenance.RunOnce(cmd.Context())
				return nil
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			fmt.Printf("Maintaining keys every %s; Ctrl-C to stop.\n", wire.Config.MaintenanceInterval)
			if err := wire.Maintenance.Run(ctx); !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "run a single maintenance pass and exit")
	return cmd
}
