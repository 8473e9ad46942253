package goAuthz

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetSessionInfo(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	tokens, err := h.engine.IssueTokens(ctx, h.alice, testFingerprint)
	require.NoError(t, err)

	info, err := h.engine.GetSessionInfo(ctx, tokens.SessionID)
	require.NoError(t, err)
	assert.Equal(t, tokens.SessionID, info.SessionID)
	assert.Equal(t, h.alice.String(), info.UserID)
	assert.Equal(t, h.clock.Now().Unix(), info.CreatedAt.Unix())
	assert.Equal(t, tokens.ExpiresAt.Unix(), info.ExpiresAt.Unix())

	_, err = h.engine.GetSessionInfo(ctx, "")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = h.engine.GetSessionInfo(ctx, "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	require.NoError(t, h.engine.LogoutAll(ctx, h.alice))
	_, err = h.engine.GetSessionInfo(ctx, tokens.SessionID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestListActiveSessionsSkipsExpired(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	first, err := h.engine.IssueTokens(ctx, h.alice, testFingerprint)
	require.NoError(t, err)
	h.clock.Advance(24 * time.Hour)
	second, err := h.engine.IssueTokens(ctx, h.alice, testFingerprint)
	require.NoError(t, err)

	sessions, err := h.engine.ListActiveSessions(ctx, h.alice)
	require.NoError(t, err)
	assert.Len(t, sessions, 2)

	// The first session passes its absolute expiry; Redis has not evicted it yet.
	h.clock.Advance(6*24*time.Hour + time.Minute)
	sessions, err = h.engine.ListActiveSessions(ctx, h.alice)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, second.SessionID, sessions[0].SessionID)

	_, err = h.engine.GetSessionInfo(ctx, first.SessionID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestHealth(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	assert.True(t, h.engine.Health(ctx).RedisAvailable)

	h.mr.Close()
	assert.False(t, h.engine.Health(ctx).RedisAvailable)
	_, err := h.engine.GetSessionInfo(ctx, "any")
	assert.ErrorIs(t, err, ErrSessionBackendUnavailable)
	_, err = h.engine.ListActiveSessions(ctx, h.alice)
	assert.ErrorIs(t, err, ErrSessionBackendUnavailable)
}
