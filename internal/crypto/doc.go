// Package crypto wraps the primitive operations keymesh builds on: X25519
// key generation and Diffie-Hellman, Ed25519 signing, key fingerprints and
// the human-comparable safety number. Curve and AEAD primitives come from
// golang.org/x/crypto and the standard library.
package crypto
