// Package goAuthz provides a role-based authorization engine with a
// snapshot permission cache, plus the session lifecycle that feeds it
// authenticated user ids: JWT access tokens, rotating opaque refresh tokens
// and Redis-backed sessions.
//
// Engine methods are safe to call from multiple goroutines after
// initialization through [Builder.Build].
//
// # Resolution
//
// Users hold roles; roles hold scoped permission grants and per-field
// allow/deny grants. For every (user, permission) pair exactly one held role
// wins: a superuser role first, then the higher level, then the lower role id.
// Field grants come from the winning role only.
//
// # Cache
//
// Resolution runs over the whole assignment graph and is published as an
// immutable snapshot. Authorize and GetEffectivePermissions read the current
// snapshot without locks and never wait on a rebuild. Writes made through
// [Engine.Assignments] mark a shared dirty tracker; the refresher rebuilds on
// the next tick, on a mutation trigger, or on a tracker notification. Call
// [Engine.Sync] to read your own writes.
//
// # Architecture boundaries
//
// goAuthz is the public surface: [Engine], [Builder], [Config] and value
// types. Session encoding, rate limiting, audit dispatch and metric counters
// live under internal/. Storage backends live under store/ and never import
// this package.
//
// # Performance contract
//
// Authorize and ValidateAccessToken are the hot path and make no network
// round-trips. Login, Refresh and Logout make a bounded number of Redis calls.
package goAuthz
