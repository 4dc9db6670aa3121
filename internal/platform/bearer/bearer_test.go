package bearer

import (
	"testing"
	"time"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var secret = []byte("test-secret")

func TestSignVerifyRoundTrip(t *testing.T) {
	now := time.Now()
	user := domain.NewUserID()

	token, err := Sign(secret, user, time.Hour, now)
	require.NoError(t, err)

	got, err := NewVerifier(secret, func() time.Time { return now }).Verify(token)
	require.NoError(t, err)
	assert.Equal(t, user, got)
}

func TestVerifyExpired(t *testing.T) {
	now := time.Now()
	token, err := Sign(secret, domain.NewUserID(), time.Minute, now)
	require.NoError(t, err)

	_, err = NewVerifier(secret, func() time.Time { return now.Add(2 * time.Minute) }).Verify(token)
	require.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.Contains(t, err.Error(), "expired")
}

func TestVerifyWrongSecret(t *testing.T) {
	token, err := Sign(secret, domain.NewUserID(), time.Hour, time.Now())
	require.NoError(t, err)

	_, err = NewVerifier([]byte("other"), nil).Verify(token)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestVerifyEmptyAndGarbage(t *testing.T) {
	v := NewVerifier(secret, nil)

	_, err := v.Verify("  ")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = v.Verify("not.a.token")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestSignRequiresSecret(t *testing.T) {
	_, err := Sign(nil, domain.NewUserID(), time.Hour, time.Now())
	assert.Error(t, err)
}
