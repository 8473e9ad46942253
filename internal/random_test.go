package internal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRefreshTokenRoundTrip(t *testing.T) {
	sid, err := NewSessionID()
	require.NoError(t, err)
	secret, err := NewRefreshSecret()
	require.NoError(t, err)

	token, err := EncodeRefreshToken(sid.String(), secret)
	require.NoError(t, err)

	gotSID, gotSecret, err := DecodeRefreshToken(token)
	require.NoError(t, err)
	assert.Equal(t, sid.String(), gotSID)
	assert.Equal(t, secret, gotSecret)

	_, _, err = DecodeRefreshToken(token[:20])
	require.Error(t, err)
}

func TestHashRefreshSecretIsFingerprintBound(t *testing.T) {
	secret := RefreshSecret{1, 2, 3}
	a := HashRefreshSecret("device-a", secret)
	b := HashRefreshSecret("device-b", secret)

	assert.NotEqual(t, a, b)
	assert.Equal(t, a, HashRefreshSecret("device-a", secret))
	assert.NotEqual(t, a, HashRefreshSecret("device-a", RefreshSecret{1, 2, 4}))
}
