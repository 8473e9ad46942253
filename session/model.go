package session

// Session is the server-side record of one refresh-token lineage.
//
// RefreshHash is sha256(fingerprint ":" secret) of the currently valid refresh
// secret. Timestamps are Unix seconds.
type Session struct {
	SessionID   string
	UserID      string
	RefreshHash [32]byte
	CreatedAt   int64
	ExpiresAt   int64
}

// Expired reports whether the session is past its absolute expiry at now (Unix seconds).
func (s *Session) Expired(now int64) bool {
	return s.ExpiresAt <= now
}
