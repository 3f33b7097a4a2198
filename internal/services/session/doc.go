// Package session owns the per-address session state machine: establishing
// sessions from fetched bundles or inbound handshakes, running the ratchet
// for encrypt/decrypt, and the trust bookkeeping around peer identities.
package session
