// Package cipher fans a logical message out to every device of every
// recipient and opens the matching slot on receipt. Device failures within a
// send are isolated: one broken device never blocks the rest of the fan-out.
package cipher
