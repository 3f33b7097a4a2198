// Package ratchet implements the Double Ratchet over an X3DH-derived root
// key: a DH ratchet step on every remote key change and an HKDF chain per
// direction, with skipped-key retention for out-of-order delivery and
// explicit replay detection.
//
// Decrypt never commits state on failure, so a bad or replayed ciphertext
// cannot corrupt a session.
package ratchet
