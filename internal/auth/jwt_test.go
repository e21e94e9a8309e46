package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTService_RoundTrip(t *testing.T) {
	svc := NewJWTService("test-secret", "claire-portal", time.Hour, nil)

	token, err := svc.GenerateAccessToken("user-1", "Client@Example.com", []string{"client"})
	require.NoError(t, err)

	claims, err := svc.ValidateToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "client@example.com", claims.Email)
	assert.Equal(t, []string{"client"}, claims.Roles)
	assert.Equal(t, "access", claims.TokenType)
}

func TestJWTService_Rejects(t *testing.T) {
	svc := NewJWTService("test-secret", "claire-portal", time.Hour, nil)

	t.Run("错误密钥", func(t *testing.T) {
		other := NewJWTService("other-secret", "claire-portal", time.Hour, nil)
		token, err := other.GenerateAccessToken("user-1", "a@b.com", nil)
		require.NoError(t, err)
		_, err = svc.ValidateToken(context.Background(), token)
		assert.Error(t, err)
	})

	t.Run("签发方不符", func(t *testing.T) {
		other := NewJWTService("test-secret", "someone-else", time.Hour, nil)
		token, err := other.GenerateAccessToken("user-1", "a@b.com", nil)
		require.NoError(t, err)
		_, err = svc.ValidateToken(context.Background(), token)
		assert.Error(t, err)
	})

	t.Run("已过期", func(t *testing.T) {
		expired := NewJWTService("test-secret", "claire-portal", time.Nanosecond, nil)
		token, err := expired.GenerateAccessToken("user-1", "a@b.com", nil)
		require.NoError(t, err)
		time.Sleep(5 * time.Millisecond)
		_, err = svc.ValidateToken(context.Background(), token)
		assert.Error(t, err)
	})
}

func TestExtractTokenFromBearer(t *testing.T) {
	assert.Equal(t, "abc", ExtractTokenFromBearer("Bearer abc"))
	assert.Equal(t, "abc", ExtractTokenFromBearer("bearer abc"))
	assert.Empty(t, ExtractTokenFromBearer("abc"))
	assert.Empty(t, ExtractTokenFromBearer(""))
}

type memRevocations map[string]time.Duration

func (m memRevocations) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	m[jti] = ttl
	return nil
}

func (m memRevocations) Revoked(ctx context.Context, jti string) (bool, error) {
	_, ok := m[jti]
	return ok, nil
}

func TestJWTService_Revoke(t *testing.T) {
	ctx := context.Background()
	store := memRevocations{}
	svc := NewJWTService("test-secret", "claire-portal", time.Hour, nil)
	svc.revoked = store

	token, err := svc.GenerateAccessToken("user-1", "a@b.com", nil)
	require.NoError(t, err)
	claims, err := svc.ValidateToken(ctx, token)
	require.NoError(t, err)
	require.NotEmpty(t, claims.ID)

	require.NoError(t, svc.Revoke(ctx, claims))
	assert.InDelta(t, time.Hour.Seconds(), store[claims.ID].Seconds(), 5)

	_, err = svc.ValidateToken(ctx, token)
	assert.ErrorIs(t, err, ErrTokenRevoked)

	t.Run("未配置名单时忽略", func(t *testing.T) {
		plain := NewJWTService("test-secret", "claire-portal", time.Hour, nil)
		assert.NoError(t, plain.Revoke(ctx, claims))
		_, err := plain.ValidateToken(ctx, token)
		assert.NoError(t, err)
	})
}
