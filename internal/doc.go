// Package internal holds helpers private to goAuthz: random session ids,
// refresh token encoding and fingerprint-bound refresh hashing.
//
// # Sub-packages
//
//   - audit: async audit dispatcher with drop-if-full backpressure
//   - metrics: lock-free counters and latency histograms
//   - rate: Redis-backed fixed-window counters for login and refresh
package internal
