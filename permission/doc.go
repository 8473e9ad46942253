// Package permission defines the RBAC domain model shared by the resolver, the
// permission cache, the assignment stores and the engine.
//
// # Model
//
// Roles are granted permissions with a [Scope]; a grant may carry field grants
// that allow or deny individual request fields, grouped by [Source]. Users hold
// roles. The derived [EffectivePermission] is the single winning grant per
// (user, permission) pair, produced by package resolve.
//
// # Field checks
//
// [CheckFields] applies a [FieldPolicy] to the keys of an incoming request.
// [CollectKeys] flattens nested JSON bodies into a key set.
//
// # What this package must NOT do
//
//   - Access Redis, databases, or the network.
//   - Import goAuthz, resolve, permcache, or store.
package permission
