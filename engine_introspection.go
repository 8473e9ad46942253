package goAuthz

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goAuthz/session"
	"github.com/google/uuid"
)

// SessionInfo is the read-only view of a session. Refresh hashes and token
// material are never exposed.
type SessionInfo struct {
	SessionID string
	UserID    string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// HealthStatus is an on-demand session backend check.
type HealthStatus struct {
	RedisAvailable bool
	RedisLatency   time.Duration
}

// GetSessionInfo returns the session behind sessionID. Missing and expired
// sessions yield ErrSessionNotFound.
func (e *Engine) GetSessionInfo(ctx context.Context, sessionID string) (*SessionInfo, error) {
	if sessionID == "" {
		return nil, ErrSessionNotFound
	}
	sess, err := e.sessionStore.Get(ctx, sessionID)
	if err != nil {
		return nil, mapSessionLookupError(err)
	}
	info := toSessionInfo(sess)
	return &info, nil
}

// ListActiveSessions returns the live sessions of userID. Index entries whose
// session has already expired are skipped.
func (e *Engine) ListActiveSessions(ctx context.Context, userID uuid.UUID) ([]SessionInfo, error) {
	ids, err := e.ActiveSessionIDs(ctx, userID)
	if err != nil {
		return nil, err
	}

	out := make([]SessionInfo, 0, len(ids))
	for _, id := range ids {
		sess, err := e.sessionStore.Get(ctx, id)
		if err != nil {
			if errors.Is(err, session.ErrRedisUnavailable) {
				return nil, fmt.Errorf("%w: %v", ErrSessionBackendUnavailable, err)
			}
			continue
		}
		out = append(out, toSessionInfo(sess))
	}
	return out, nil
}

// Health pings the session backend.
func (e *Engine) Health(ctx context.Context) HealthStatus {
	latency, err := e.sessionStore.Ping(ctx)
	return HealthStatus{RedisAvailable: err == nil, RedisLatency: latency}
}

func mapSessionLookupError(err error) error {
	switch {
	case errors.Is(err, session.ErrSessionNotFound), errors.Is(err, session.ErrSessionExpired):
		return ErrSessionNotFound
	case errors.Is(err, session.ErrRedisUnavailable):
		return fmt.Errorf("%w: %v", ErrSessionBackendUnavailable, err)
	default:
		return err
	}
}

func toSessionInfo(s *session.Session) SessionInfo {
	return SessionInfo{
		SessionID: s.SessionID,
		UserID:    s.UserID,
		CreatedAt: time.Unix(s.CreatedAt, 0).UTC(),
		ExpiresAt: time.Unix(s.ExpiresAt, 0).UTC(),
	}
}
