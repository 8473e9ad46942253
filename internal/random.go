package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
)

// SessionID is the random identifier embedded in every refresh token.
type SessionID [16]byte

const (
	refreshSecretSize   = 32
	refreshTokenRawSize = 16 + refreshSecretSize
)

// RefreshSecret is the random part of a refresh token.
type RefreshSecret [refreshSecretSize]byte

var (
	errSessionIDSize    = errors.New("invalid session id size")
	errRefreshTokenSize = errors.New("invalid refresh token size")
)

// NewSessionID returns a random 128-bit session id.
func NewSessionID() (SessionID, error) {
	var sid SessionID
	_, err := rand.Read(sid[:])
	return sid, err
}

func (s SessionID) String() string {
	return base64.RawURLEncoding.EncodeToString(s[:])
}

// ParseSessionID parses the string form produced by String.
func ParseSessionID(sessionID string) (SessionID, error) {
	var sid SessionID

	raw, err := base64.RawURLEncoding.DecodeString(sessionID)
	if err != nil {
		return sid, err
	}
	if len(raw) != len(sid) {
		return sid, errSessionIDSize
	}

	copy(sid[:], raw)
	return sid, nil
}

// NewRefreshSecret returns a random refresh secret.
func NewRefreshSecret() (RefreshSecret, error) {
	var secret RefreshSecret
	_, err := rand.Read(secret[:])
	return secret, err
}

// HashRefreshSecret binds a refresh secret to a client fingerprint:
// sha256(fingerprint ":" secret).
func HashRefreshSecret(fingerprint string, secret RefreshSecret) [32]byte {
	h := sha256.New()
	h.Write([]byte(fingerprint))
	h.Write([]byte{':'})
	h.Write(secret[:])

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// EncodeRefreshToken returns base64url(session id ‖ secret).
func EncodeRefreshToken(sessionID string, secret RefreshSecret) (string, error) {
	sid, err := ParseSessionID(sessionID)
	if err != nil {
		return "", err
	}

	var raw [refreshTokenRawSize]byte
	copy(raw[:len(sid)], sid[:])
	copy(raw[len(sid):], secret[:])

	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// DecodeRefreshToken splits a refresh token into its session id and secret.
func DecodeRefreshToken(token string) (string, RefreshSecret, error) {
	var secret RefreshSecret

	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", secret, err
	}
	if len(raw) != refreshTokenRawSize {
		return "", secret, errRefreshTokenSize
	}

	var sid SessionID
	copy(sid[:], raw[:len(sid)])
	copy(secret[:], raw[len(sid):])

	return sid.String(), secret, nil
}
