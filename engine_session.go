package goAuthz

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrEthical07/goAuthz/internal"
	"github.com/MrEthical07/goAuthz/internal/rate"
	"github.com/MrEthical07/goAuthz/session"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Login verifies identifier and password through the UserProvider and opens
// a session bound to fingerprint. It returns an access token and a refresh
// token.
//
// Unknown identifiers and wrong passwords both fail with
// ErrInvalidCredentials and count against the login rate limit.
func (e *Engine) Login(ctx context.Context, identifier, password, fingerprint string) (string, string, error) {
	if e.userProvider == nil || e.passwordHash == nil {
		return "", "", ErrEngineNotReady
	}
	ip := clientIPFromContext(ctx)

	if err := e.rateLimiter.CheckLogin(ctx, identifier, ip); err != nil {
		if !errors.Is(err, rate.ErrRateLimited) {
			return "", "", fmt.Errorf("%w: %v", ErrSessionBackendUnavailable, err)
		}
		return "", "", e.loginRateLimited(ctx, identifier, err)
	}

	fail := func(reason string, userID string, cause error) error {
		if err := e.rateLimiter.IncrementLogin(ctx, identifier, ip); err != nil {
			e.logger.Warn("login failure not counted", "identifier", identifier, "error", err)
		}
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, userID, "", "", cause, func() map[string]string {
			return map[string]string{
				"identifier": identifier,
				"reason":     reason,
			}
		})
		return cause
	}

	if password == "" {
		return "", "", fail("empty_password", "", ErrInvalidCredentials)
	}

	user, err := e.userProvider.GetUserByIdentifier(ctx, identifier)
	if err != nil {
		return "", "", fail("user_lookup", "", ErrInvalidCredentials)
	}

	ok, err := e.passwordHash.Verify(password, user.PasswordHash)
	if err != nil || !ok {
		return "", "", fail("password_mismatch", user.UserID, ErrInvalidCredentials)
	}
	if user.Disabled {
		return "", "", fail("account_disabled", user.UserID, ErrAccountDisabled)
	}

	userID, err := uuid.Parse(user.UserID)
	if err != nil {
		return "", "", fail("invalid_user_id", user.UserID, ErrInvalidCredentials)
	}

	if err := e.rateLimiter.ResetLogin(ctx, identifier, ip); err != nil {
		e.logger.Warn("login rate limit reset failed", "error", err)
	}

	if e.config.Password.UpgradeOnLogin {
		e.upgradePasswordHash(ctx, user, password)
	}

	tokens, err := e.issue(ctx, userID, fingerprint)
	if err != nil {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, user.UserID, "", "", err, nil)
		return "", "", err
	}

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, user.UserID, tokens.SessionID, "", nil, nil)
	return tokens.AccessToken, tokens.RefreshToken, nil
}

func (e *Engine) loginRateLimited(ctx context.Context, identifier string, cause error) error {
	e.metricInc(MetricLoginRateLimited)
	e.emitAudit(ctx, auditEventLoginRateLimited, false, "", "", "", ErrLoginRateLimited, func() map[string]string {
		return map[string]string{
			"identifier": identifier,
		}
	})
	e.logger.Debug("login rate limited", "identifier", identifier, "cause", cause)
	return ErrLoginRateLimited
}

func (e *Engine) upgradePasswordHash(ctx context.Context, user UserRecord, password string) {
	needs, err := e.passwordHash.NeedsUpgrade(user.PasswordHash)
	if err != nil || !needs {
		return
	}
	next, err := e.passwordHash.Hash(password)
	if err != nil {
		e.logger.Warn("password rehash failed", "user_id", user.UserID, "error", err)
		return
	}
	if err := e.userProvider.UpdatePasswordHash(ctx, user.UserID, next); err != nil {
		e.logger.Warn("password hash upgrade not stored", "user_id", user.UserID, "error", err)
	}
}

// IssueTokens opens a session for a user authenticated outside the engine.
func (e *Engine) IssueTokens(ctx context.Context, userID uuid.UUID, fingerprint string) (*Tokens, error) {
	if userID == uuid.Nil {
		return nil, ErrInvalidCredentials
	}
	tokens, err := e.issue(ctx, userID, fingerprint)
	if err != nil {
		return nil, err
	}
	e.emitAudit(ctx, auditEventSessionIssued, true, userID.String(), tokens.SessionID, "", nil, nil)
	return tokens, nil
}

func (e *Engine) issue(ctx context.Context, userID uuid.UUID, fingerprint string) (*Tokens, error) {
	sid, err := internal.NewSessionID()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionCreationFailed, err)
	}
	secret, err := internal.NewRefreshSecret()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionCreationFailed, err)
	}

	now := e.clock.Now()
	expiresAt := now.Add(e.config.JWT.RefreshTTL)
	sess := &session.Session{
		SessionID:   sid.String(),
		UserID:      userID.String(),
		RefreshHash: internal.HashRefreshSecret(fingerprint, secret),
		CreatedAt:   now.Unix(),
		ExpiresAt:   expiresAt.Unix(),
	}
	if err := e.sessionStore.Save(ctx, sess, e.config.JWT.RefreshTTL); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionCreationFailed, err)
	}

	access, err := e.jwtManager.CreateAccess(sess.UserID, sess.SessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionCreationFailed, err)
	}
	refresh, err := internal.EncodeRefreshToken(sess.SessionID, secret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionCreationFailed, err)
	}

	e.metricInc(MetricSessionCreated)
	return &Tokens{
		AccessToken:  access,
		RefreshToken: refresh,
		SessionID:    sess.SessionID,
		UserID:       userID,
		ExpiresAt:    expiresAt,
	}, nil
}

// Refresh rotates a refresh token. The presented token becomes unusable and
// a new access and refresh token pair is returned. The session's absolute
// expiry does not move.
//
// A token that was already rotated, or presented with the wrong fingerprint,
// fails with ErrRefreshInvalid and, with
// Security.EnforceRefreshReuseDetection, revokes the whole session. The two
// causes are indistinguishable to the caller.
func (e *Engine) Refresh(ctx context.Context, refreshToken, fingerprint string) (string, string, error) {
	sessionID, provided, err := internal.DecodeRefreshToken(stripBearer(refreshToken))
	if err != nil {
		e.refreshFailed(ctx, "", "decode_failed")
		return "", "", ErrRefreshInvalid
	}

	if err := e.rateLimiter.CheckRefresh(ctx, sessionID); err != nil {
		if !errors.Is(err, rate.ErrRateLimited) {
			e.refreshFailed(ctx, sessionID, "backend_unavailable")
			return "", "", fmt.Errorf("%w: %v", ErrSessionBackendUnavailable, err)
		}
		e.metricInc(MetricRefreshRateLimited)
		e.emitAudit(ctx, auditEventRefreshRateLimited, false, "", sessionID, "", ErrRefreshRateLimited, nil)
		return "", "", ErrRefreshRateLimited
	}

	next, err := internal.NewRefreshSecret()
	if err != nil {
		e.refreshFailed(ctx, sessionID, "next_secret_generation")
		return "", "", fmt.Errorf("%w: %v", ErrSessionCreationFailed, err)
	}

	revoke := e.config.Security.EnforceRefreshReuseDetection
	sess, err := e.sessionStore.Rotate(
		ctx,
		sessionID,
		internal.HashRefreshSecret(fingerprint, provided),
		internal.HashRefreshSecret(fingerprint, next),
		revoke,
	)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrRefreshHashMismatch):
			e.metricInc(MetricRefreshReuseDetected)
			if revoke {
				e.metricInc(MetricSessionInvalidated)
			}
			e.emitAudit(ctx, auditEventRefreshReuseDetected, false, "", sessionID, "", ErrRefreshInvalid, func() map[string]string {
				return map[string]string{
					"session_revoked": fmt.Sprint(revoke),
				}
			})
			return "", "", ErrRefreshInvalid
		case errors.Is(err, redis.Nil):
			e.refreshFailed(ctx, sessionID, "session_not_found")
			return "", "", ErrRefreshInvalid
		case errors.Is(err, session.ErrSessionCorrupt):
			e.logger.Error("corrupt session record", "session_id", sessionID, "error", err)
			e.refreshFailed(ctx, sessionID, "session_corrupt")
			return "", "", ErrRefreshInvalid
		default:
			e.refreshFailed(ctx, sessionID, "backend_unavailable")
			return "", "", fmt.Errorf("%w: %v", ErrSessionBackendUnavailable, err)
		}
	}

	access, err := e.jwtManager.CreateAccess(sess.UserID, sessionID)
	if err != nil {
		e.refreshFailed(ctx, sessionID, "access_token_issue")
		return "", "", fmt.Errorf("%w: %v", ErrSessionCreationFailed, err)
	}
	refresh, err := internal.EncodeRefreshToken(sessionID, next)
	if err != nil {
		e.refreshFailed(ctx, sessionID, "refresh_token_encode")
		return "", "", fmt.Errorf("%w: %v", ErrSessionCreationFailed, err)
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventRefreshSuccess, true, sess.UserID, sessionID, "", nil, nil)
	return access, refresh, nil
}

func (e *Engine) refreshFailed(ctx context.Context, sessionID, reason string) {
	e.metricInc(MetricRefreshFailure)
	e.emitAudit(ctx, auditEventRefreshInvalid, false, "", sessionID, "", ErrRefreshInvalid, func() map[string]string {
		return map[string]string{
			"reason": reason,
		}
	})
}

// Logout revokes the session of refreshToken. The token must be the current
// one and fingerprint must match; otherwise ErrRefreshInvalid is returned and
// the session is left untouched.
func (e *Engine) Logout(ctx context.Context, refreshToken, fingerprint string) error {
	sessionID, secret, err := internal.DecodeRefreshToken(stripBearer(refreshToken))
	if err != nil {
		e.emitAudit(ctx, auditEventLogoutSession, false, "", "", "", ErrRefreshInvalid, nil)
		return ErrRefreshInvalid
	}

	err = e.sessionStore.Revoke(ctx, sessionID, internal.HashRefreshSecret(fingerprint, secret))
	switch {
	case err == nil:
		e.metricInc(MetricLogout)
		e.emitAudit(ctx, auditEventLogoutSession, true, "", sessionID, "", nil, nil)
		return nil
	case errors.Is(err, session.ErrRedisUnavailable):
		e.emitAudit(ctx, auditEventLogoutSession, false, "", sessionID, "", ErrSessionBackendUnavailable, nil)
		return fmt.Errorf("%w: %v", ErrSessionBackendUnavailable, err)
	default:
		e.emitAudit(ctx, auditEventLogoutSession, false, "", sessionID, "", ErrRefreshInvalid, nil)
		return ErrRefreshInvalid
	}
}

// LogoutAll revokes every session of userID.
func (e *Engine) LogoutAll(ctx context.Context, userID uuid.UUID) error {
	err := e.sessionStore.DeleteAllForUser(ctx, userID.String())
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrSessionBackendUnavailable, err)
	} else {
		e.metricInc(MetricLogoutAll)
	}
	e.emitAudit(ctx, auditEventLogoutAll, err == nil, userID.String(), "", "", err, nil)
	return err
}

// ActiveSessionIDs lists the indexed sessions of userID.
func (e *Engine) ActiveSessionIDs(ctx context.Context, userID uuid.UUID) ([]string, error) {
	ids, err := e.sessionStore.ActiveSessionIDs(ctx, userID.String())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionBackendUnavailable, err)
	}
	return ids, nil
}

// ValidateAccessToken verifies an access token without touching storage. A
// session revoked after issue stays valid until the token expires.
func (e *Engine) ValidateAccessToken(_ context.Context, token string) (*Claims, error) {
	start := e.clock.Now()
	defer e.metricObserve(MetricValidateLatency, start)

	claims, err := e.jwtManager.ParseAccess(stripBearer(token))
	if err != nil {
		return nil, ErrTokenInvalid
	}
	userID, err := uuid.Parse(claims.UID)
	if err != nil || claims.SID == "" {
		return nil, ErrTokenInvalid
	}

	out := &Claims{
		UserID:    userID,
		SessionID: claims.SID,
		TokenID:   claims.ID,
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	return out, nil
}

func stripBearer(token string) string {
	token = strings.TrimSpace(token)
	if len(token) > 7 && strings.EqualFold(token[:7], "bearer ") {
		return strings.TrimSpace(token[7:])
	}
	return token
}
