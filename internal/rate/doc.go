// Package rate provides Redis-backed fixed-window counters for login and
// refresh throttling.
//
// # Window semantics
//
// INCR plus EXPIRE on the first hit. Keys live under "<prefix>:rl:":
//   - login:<identifier> failed logins per identifier
//   - ip:<ip>            failed logins per client IP
//   - refresh:<sid>      refresh attempts per session
package rate
