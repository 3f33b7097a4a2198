// Package x3dh implements the asynchronous key agreement that bootstraps a
// session from a published prekey bundle. The initiator derives a root key
// from a fetched bundle without the peer being online; the responder later
// recomputes the same root from the handshake parameters embedded in the
// first ciphertext.
package x3dh
