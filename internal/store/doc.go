// Package store provides the local persistence tiers for keymesh's key
// material and session state.
//
// Two tiers back the domain storage interfaces:
//
//   - Secure tier: the long-term identity key pair, sealed under a
//     passphrase-derived key (scrypt + ChaCha20-Poly1305). Nothing else
//     lives at this tier.
//   - Standard tier: registration id, one-time prekeys, signed prekeys,
//     sessions and trusted-identity records as JSON files under the home
//     directory.
//
// All methods are concurrency-safe via per-store locking; one-time prekey
// consumption holds the lock across read, delete and persist so an id can
// never be handed out twice. In-memory implementations of every interface
// are provided for tests.
package store
