// Package directory implements both sides of the remote key directory: the
// HTTP client used by this device (publish bundles, fetch-and-consume peer
// bundles, enumerate devices) and the server behind cmd/directoryd.
//
// The server keeps bundle documents per (user, device) in a pluggable
// Storage backend. One-time prekeys are held as an ordered set and removed
// one element at a time inside the fetch that returns them, which is what
// gives the at-most-once guarantee: if the response is lost after the
// removal, that prekey is gone and later fetches simply fall back to
// bundles without one. Nothing ever re-queues a handed-out prekey.
//
// All requests are JSON over HTTP with contexts for cancellation; the
// client imposes a request timeout and treats a timeout as a fetch failure.
package directory
