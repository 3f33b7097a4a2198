// Package main runs the keymesh key directory server.
//
// HTTP API
//
//	PUT /v1/keys/{user}/{device}
//	    Upsert the device's bundle document: static bundle fields plus the
//	    full one-time prekey pool. Marks the device encryption-capable.
//
//	GET /v1/keys/{user}/{device}
//	    Return the static bundle with at most one one-time prekey attached.
//	    The returned prekey is removed before the response is written, so a
//	    given prekey is handed out at most once. 404 when no bundle exists.
//
//	GET /v1/keys/{user}/{device}/status
//	    Return {"remaining": N} for the device's one-time prekey pool.
//
//	GET /v1/devices/{user}
//	    List the user's registered devices.
//
//	DELETE /v1/devices/{user}/{device}
//	    Remove the device's bundle, pool, and registration.
//
// Behaviour
//
//   - With DIRECTORYD_REDIS_ADDR set, state lives in Redis and survives
//     restarts; otherwise an in-memory backend is used and state is lost on
//     exit.
//   - Responses are JSON. Non-2xx statuses carry a short error message.
//   - The default listen address is :8420 (DIRECTORYD_LISTEN).
//
// The directory never sees plaintext or private keys; it stores public
// bundles only.
package main
