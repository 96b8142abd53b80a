package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/guardrail/internal/guarderr"
	"github.com/web3guy0/guardrail/internal/storage"
	"github.com/web3guy0/guardrail/internal/types"
)

func newAuth(t *testing.T) (*Service, *storage.Store) {
	t.Helper()
	store, err := storage.OpenForTest()
	require.NoError(t, err)

	hash, err := HashPassword("hunter22")
	require.NoError(t, err)
	require.NoError(t, store.CreateUser(&types.User{
		ID: "u1", Email: "u1@example.com", PasswordHash: hash,
	}))

	return New(store, "test-secret", 15*time.Minute, 7*24*time.Hour, NewMemoryBlacklist()), store
}

func TestLoginIssuesWorkingPair(t *testing.T) {
	svc, _ := newAuth(t)
	ctx := context.Background()

	pair, err := svc.Login(ctx, "u1@example.com", "hunter22")
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)
	assert.Equal(t, int64(900), pair.ExpiresIn)

	uid, err := svc.Authenticate(ctx, pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "u1", uid)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	svc, _ := newAuth(t)
	ctx := context.Background()

	_, err := svc.Login(ctx, "u1@example.com", "wrong")
	require.Error(t, err)
	assert.Equal(t, guarderr.CodeUnauthorized, guarderr.CodeOf(err))

	_, err = svc.Login(ctx, "nobody@example.com", "hunter22")
	require.Error(t, err)
	assert.Equal(t, guarderr.CodeUnauthorized, guarderr.CodeOf(err))
}

func TestRefreshRotatesAndRevokesOldToken(t *testing.T) {
	svc, _ := newAuth(t)
	ctx := context.Background()

	pair, err := svc.Login(ctx, "u1@example.com", "hunter22")
	require.NoError(t, err)

	next, err := svc.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, pair.AccessToken, next.AccessToken)

	// The spent refresh token is dead.
	_, err = svc.Refresh(ctx, pair.RefreshToken)
	require.Error(t, err)
	assert.Equal(t, guarderr.CodeUnauthorized, guarderr.CodeOf(err))
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	svc, _ := newAuth(t)
	ctx := context.Background()

	pair, err := svc.Login(ctx, "u1@example.com", "hunter22")
	require.NoError(t, err)

	_, err = svc.Refresh(ctx, pair.AccessToken)
	require.Error(t, err)
	assert.Equal(t, guarderr.CodeUnauthorized, guarderr.CodeOf(err))
}

func TestLogoutRevokesAccessToken(t *testing.T) {
	svc, _ := newAuth(t)
	ctx := context.Background()

	pair, err := svc.Login(ctx, "u1@example.com", "hunter22")
	require.NoError(t, err)
	require.NoError(t, svc.Logout(ctx, pair.AccessToken))

	_, err = svc.Authenticate(ctx, pair.AccessToken)
	require.Error(t, err)
	assert.Equal(t, guarderr.CodeUnauthorized, guarderr.CodeOf(err))
}

func TestAuthenticateRejectsForgedToken(t *testing.T) {
	svc, store := newAuth(t)
	ctx := context.Background()

	forger := New(store, "other-secret", 15*time.Minute, time.Hour, nil)
	pair, err := forger.issuePair("u1")
	require.NoError(t, err)

	_, err = svc.Authenticate(ctx, pair.AccessToken)
	require.Error(t, err)
	assert.Equal(t, guarderr.CodeUnauthorized, guarderr.CodeOf(err))
}

func TestMemoryRateLimiterWindow(t *testing.T) {
	l := NewMemoryRateLimiter()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := l.Allow(ctx, "ip:1.2.3.4", 3, 50*time.Millisecond)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := l.Allow(ctx, "ip:1.2.3.4", 3, 50*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)

	// Fresh window after expiry.
	time.Sleep(60 * time.Millisecond)
	ok, err = l.Allow(ctx, "ip:1.2.3.4", 3, 50*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryBlacklistExpiry(t *testing.T) {
	b := NewMemoryBlacklist()
	ctx := context.Background()

	require.NoError(t, b.Revoke(ctx, "jti-1", 30*time.Millisecond))
	revoked, err := b.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.True(t, revoked)

	time.Sleep(40 * time.Millisecond)
	revoked, err = b.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, revoked)
}
