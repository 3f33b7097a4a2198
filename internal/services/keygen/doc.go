// Package keygen owns the lifecycle of this device's key material: the
// long-term identity pair, the 24-bit registration id, the rotating signed
// prekey, and the one-time prekey pool.
package keygen
