// Package session provides Redis-backed refresh session persistence and the
// compact binary session encoding.
//
// # Binary encoding
//
// A session is stored as a fixed-layout blob (see [Encode]). The refresh hash
// and expiry sit at fixed offsets so the rotation and revocation Lua scripts can
// compare and replace them without a round trip.
//
// # Rotation
//
// [Store.Rotate] is a compare-and-swap on the refresh hash. Exactly one of any
// number of concurrent rotations presenting the same hash succeeds. A mismatch
// deletes the session when reuse detection is requested by the caller.
//
// # What this package must NOT do
//
//   - Import goAuthz, jwt, or permission (no upward imports).
//   - Interpret access tokens or make authorization decisions.
//   - Store plaintext refresh secrets.
package session
