// Package jwt issues and verifies stateless access tokens (Ed25519 or HS256)
// with strict algorithm, issuer, audience and type checks.
package jwt
