package pg

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/storefront-dev/storefront/shared/domain"
	internal_errors "github.com/storefront-dev/storefront/shared/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newToken(userId domain.UserId) domain.IssuedToken {
	now := time.Now().UTC().Truncate(time.Second)
	return domain.IssuedToken{Jti: uuid.NewString(), UserId: userId, IssuedAt: now, ExpiresAt: now.Add(time.Hour)}
}

func TestAuthenticate(t *testing.T) {
	ctx := context.Background()
	id := mustCreateUser(t, "heidi", "heidi@example.com", "198.51.100.1")
	token := newToken(id)
	require.NoError(t, storage.RecordLogin(ctx, token, "198.51.100.1", "ua", testMaxAttempts))

	user, err := storage.Authenticate(ctx, token.Jti, id)
	require.NoError(t, err)
	assert.Equal(t, "heidi", user.Username)

	t.Run("role change is visible on the next request", func(t *testing.T) {
		require.NoError(t, storage.SetRole(ctx, id, domain.RoleAdmin))
		user, err := storage.Authenticate(ctx, token.Jti, id)
		require.NoError(t, err)
		assert.Equal(t, domain.RoleAdmin, user.Role)
	})

	t.Run("unknown jti", func(t *testing.T) {
		_, err := storage.Authenticate(ctx, uuid.NewString(), id)
		assert.True(t, internal_errors.IsNotFound(err))
	})

	t.Run("jti of another user", func(t *testing.T) {
		_, err := storage.Authenticate(ctx, token.Jti, id+1000)
		assert.True(t, internal_errors.IsNotFound(err))
	})

	t.Run("expired row", func(t *testing.T) {
		expired := newToken(id)
		expired.IssuedAt = expired.IssuedAt.Add(-2 * time.Hour)
		expired.ExpiresAt = expired.IssuedAt.Add(time.Hour)
		require.NoError(t, storage.RecordLogin(ctx, expired, "198.51.100.1", "ua", testMaxAttempts))
		_, err := storage.Authenticate(ctx, expired.Jti, id)
		assert.True(t, internal_errors.IsNotFound(err))
	})

	t.Run("revoked row", func(t *testing.T) {
		require.NoError(t, storage.RevokeToken(ctx, token.Jti))
		_, err := storage.Authenticate(ctx, token.Jti, id)
		assert.True(t, internal_errors.IsNotFound(err))

		require.NoError(t, storage.RevokeToken(ctx, token.Jti), "revoking twice is fine")
		assert.True(t, internal_errors.IsNotFound(storage.RevokeToken(ctx, uuid.NewString())))
	})
}

func TestRecordLoginDuplicateJtiRollsBack(t *testing.T) {
	ctx := context.Background()
	ip := "198.51.100.2"
	id := mustCreateUser(t, "ivan", "ivan@example.com", "198.51.100.3")
	token := newToken(id)
	require.NoError(t, storage.RecordLogin(ctx, token, "198.51.100.3", "ua", testMaxAttempts))

	_, err := storage.EnsureIPLog(ctx, ip, testMaxAttempts)
	require.NoError(t, err)
	_, err = storage.DecrementRecoveryAttempts(ctx, ip)
	require.NoError(t, err)

	err = storage.RecordLogin(ctx, token, ip, "ua", testMaxAttempts)
	require.Error(t, err)

	l, err := storage.EnsureIPLog(ctx, ip, testMaxAttempts)
	require.NoError(t, err)
	assert.Equal(t, testMaxAttempts-1, l.RecoveryAttempts, "ip log reset is rolled back with the token insert")
	assert.Nil(t, l.UserId)
}

func TestRevokeUserTokensAndGC(t *testing.T) {
	ctx := context.Background()
	id := mustCreateUser(t, "judy", "judy@example.com", "198.51.100.4")
	tokens := []domain.IssuedToken{newToken(id), newToken(id), newToken(id)}
	for _, tok := range tokens {
		require.NoError(t, storage.RecordLogin(ctx, tok, "198.51.100.4", "ua", testMaxAttempts))
	}

	listed, err := storage.ListUserTokens(ctx, id)
	require.NoError(t, err)
	assert.Len(t, listed, 3)

	n, err := storage.RevokeUserTokens(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	n, err = storage.RevokeUserTokens(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n, "already revoked rows are not counted")

	for _, tok := range tokens {
		_, err := storage.Authenticate(ctx, tok.Jti, id)
		assert.True(t, internal_errors.IsNotFound(err))
	}

	live := newToken(id)
	require.NoError(t, storage.RecordLogin(ctx, live, "198.51.100.4", "ua", testMaxAttempts))

	deleted, err := storage.DeleteStaleTokens(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, deleted, int64(3))

	listed, err = storage.ListUserTokens(ctx, id)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, live.Jti, listed[0].Jti)
	assert.True(t, listed[0].Usable(time.Now()))
}
