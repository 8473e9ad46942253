// Package audit dispatches security events asynchronously to a pluggable sink.
//
// # Components
//
//   - [Sink]: event consumer (channel, JSON lines, slog, no-op).
//   - [Dispatcher]: buffered relay with drop-if-full or block-if-full delivery.
//   - [Event]: structured record with timestamp, type, user, session,
//     permission, IP and metadata.
//
// The engine decides which events to emit; this package only buffers and
// delivers them.
package audit
