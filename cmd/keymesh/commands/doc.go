// Package commands defines the keymesh CLI and wires dependencies for
// subcommands.
//
// Commands
//
//   - init           Generate identity, registration id, prekeys
//   - publish        Upload this device's prekey bundle to the directory
//   - devices        List a user's registered devices
//   - status         Show local and directory-side prekey counts
//   - rotate         Rotate the signed prekey and republish
//   - seal           Encrypt a message for every device of the recipients
//   - open           Decrypt this device's slot of an envelope
//   - fingerprint    Print the identity fingerprint or a peer safety number
//   - verify         Compare and record a peer's safety number
//   - maintain       Run the periodic key-maintenance loop
//
// The root command builds the dependency graph (stores, services, directory
// client) before any subcommand runs, so handlers share one app context.
package commands
