// Package memzero clears key material that has left its store: ratchet
// chain keys, derived message keys, and decrypted prekey privates. Go gives
// no hard guarantee the bytes are gone, this only narrows the window.
package memzero

import "runtime"

// Zero overwrites b in place. Kept out of inlining so the compiler cannot
// prove the buffer dead and drop the writes.
//
//go:noinline
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
	runtime.KeepAlive(&b)
}
