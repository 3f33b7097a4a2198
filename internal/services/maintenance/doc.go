// Package maintenance runs the periodic key-hygiene loop: signed prekey
// rotation, expired-record cleanup, one-time prekey replenishment, and
// bundle republication.
package maintenance
