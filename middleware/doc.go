// Package middleware exposes net/http adapters over goAuthz.Engine.
//
//   - [Authenticate] verifies the bearer access token and stores the claims
//     in the request context.
//   - [Require] authorizes the authenticated user for one permission key,
//     including own-scope and field checks, and stores the decision.
//
// This package translates HTTP semantics into Engine calls. It does not parse
// tokens, touch Redis or resolve permissions itself.
package middleware
