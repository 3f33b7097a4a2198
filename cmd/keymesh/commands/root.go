package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"keymesh/internal/app"
	"keymesh/internal/domain"
)

var (
	home         string
	passphrase   string
	directoryURL string
	userID       string
	deviceID     uint32

	wire *app.Wire
)

func Execute() error {
	root := &cobra.Command{
		Use:           "keymesh",
		Short:         "End-to-end encryption key lifecycle and session CLI",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig()
			if err != nil {
				return err
			}
			if home != "" {
				cfg.Home = home
			}
			if directoryURL != "" {
				cfg.DirectoryURL = directoryURL
			}
			if userID != "" {
				cfg.UserID = userID
			}
			if deviceID != 0 {
				cfg.DeviceID = deviceID
			}
			if cfg.UserID == "" {
				return fmt.Errorf("user id required (--user or KEYMESH_USER)")
			}
			if passphrase == "" {
				return fmt.Errorf("passphrase required (-p)")
			}

			wire, err = app.NewWire(cfg, passphrase, func(addr domain.ProtocolAddress, oldFP, newFP string) {
				fmt.Printf("WARNING: identity key for %s changed (%s -> %s); re-verify the safety number\n", addr, oldFP, newFP)
			})
			return err
		},
	}

	root.PersistentFlags().StringVar(&home, "home", "", "state dir (default ~/.keymesh)")
	root.PersistentFlags().StringVarP(&passphrase, "passphrase", "p", "", "passphrase protecting the identity store")
	root.PersistentFlags().StringVar(&directoryURL, "directory", "", "directory base URL (e.g. http://127.0.0.1:8420)")
	root.PersistentFlags().StringVar(&userID, "user", "", "this account's user id")
	root.PersistentFlags().Uint32Var(&deviceID, "device", 0, "this device's id (default 1)")

	root.AddCommand(
		initCmd(),
		publishCmd(),
		devicesCmd(),
		statusCmd(),
		rotateCmd(),
		sealCmd(),
		openCmd(),
		fingerprintCmd(),
		verifyCmd(),
		maintainCmd(),
	)
	return root.Execute()
}

// address parses "user.device" style positional args used by several
// commands; a bare user defaults to device 1.
func address(user string, device uint32) domain.ProtocolAddress {
	if device == 0 {
		device = 1
	}
	return domain.ProtocolAddress{UserID: user, DeviceID: device}
}
