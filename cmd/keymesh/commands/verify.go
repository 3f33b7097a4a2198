package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// verify <user> <number>: compare a safety number read from the peer's
// screen and record the result.
func verifyCmd() *cobra.Command {
	var device uint32
	cmd := &cobra.Command{
		Use:   "verify <user> <safety-number>",
		Short: "Compare and record a peer's safety number",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr := address(args[0], device)
			number := strings.ReplaceAll(args[1], " ", "")

			ok, err := wire.Manager.VerifySafetyNumber(addr, number)
			if err != nil {
				return err
			}
			if !ok {
				fmt.Println("Safety number DOES NOT match. Do not trust this session.")
				return nil
			}
			if err := wire.Manager.MarkVerified(addr, true); err != nil {
				return err
			}
			fmt.Printf("Safety number verified for %s.\n", addr)
			return nil
		},
	}
	cmd.Flags().Uint32Var(&device, "peer-device", 0, "peer device id (default 1)")
	return cmd
}
