package goAuthz

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized is wrapped by every authentication failure.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden is wrapped by every authorization failure.
	ErrForbidden = errors.New("forbidden")

	// ErrInvalidCredentials is returned by Login for an unknown identifier or a wrong password.
	ErrInvalidCredentials = fmt.Errorf("%w: invalid credentials", ErrUnauthorized)
	// ErrAccountDisabled is returned by Login when the user provider reports the account disabled.
	ErrAccountDisabled = fmt.Errorf("%w: account disabled", ErrUnauthorized)
	// ErrRefreshInvalid covers malformed, unknown, expired, reused and
	// fingerprint-mismatched refresh tokens alike.
	ErrRefreshInvalid = fmt.Errorf("%w: invalid refresh token", ErrUnauthorized)
	// ErrTokenInvalid is returned for an access token that fails verification.
	ErrTokenInvalid = fmt.Errorf("%w: invalid access token", ErrUnauthorized)

	// ErrPermissionDenied is returned when the user does not hold the permission.
	ErrPermissionDenied = fmt.Errorf("%w: permission denied", ErrForbidden)
	// ErrScopeViolation is returned when an own-scoped grant is used on another user's resource.
	ErrScopeViolation = fmt.Errorf("%w: scope violation", ErrForbidden)

	// ErrLoginRateLimited is returned while an identifier or client IP is in
	// its login cooldown window.
	ErrLoginRateLimited = errors.New("login rate limited")
	// ErrRefreshRateLimited is returned when a session exceeds
	// Security.MaxRefreshAttempts within the refresh cooldown window.
	ErrRefreshRateLimited = errors.New("refresh rate limited")

	// ErrSessionNotFound is returned by session introspection for a missing
	// or expired session.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionCreationFailed is returned when a session cannot be persisted.
	ErrSessionCreationFailed = errors.New("session creation failed")
	// ErrSessionBackendUnavailable is returned when Redis fails during login, refresh or logout.
	ErrSessionBackendUnavailable = errors.New("session backend unavailable")
	// ErrEngineNotReady is returned when an operation needs a collaborator the
	// engine was built without, or a primed cache.
	ErrEngineNotReady = errors.New("engine not ready")
	// ErrBuilderUsed is returned by a second Build on the same Builder.
	ErrBuilderUsed = errors.New("builder already used")
)
