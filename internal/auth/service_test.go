package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailtriage/backend/internal/auth/jwt"
	"mailtriage/backend/internal/domain"
	"mailtriage/backend/internal/storage/memory"
)

func newTestAuthService() *Service {
	manager := jwt.NewManager("test-secret-key-32-characters-long!!", "mailtriage", 15*time.Minute, 7*24*time.Hour)
	return NewService(memory.NewStore(), manager)
}

func TestRegister(t *testing.T) {
	ctx := context.Background()

	t.Run("注册成功并返回令牌对", func(t *testing.T) {
		svc := newTestAuthService()

		resp, err := svc.Register(ctx, RegisterInput{
			Email:    "User@Example.com",
			Password: "secure-password",
			Username: "alice",
		})

		require.NoError(t, err)
		assert.Equal(t, "user@example.com", resp.User.Email)
		assert.Equal(t, "alice", resp.User.Username)
		assert.Empty(t, resp.User.PasswordHash, "响应中不得包含密码哈希")
		assert.NotEmpty(t, resp.AccessToken)
		assert.NotEmpty(t, resp.RefreshToken)
		assert.Equal(t, "Bearer", resp.TokenType)
	})

	t.Run("无效邮箱失败", func(t *testing.T) {
		svc := newTestAuthService()

		_, err := svc.Register(ctx, RegisterInput{Email: "not-an-email", Password: "secure-password"})
		assert.ErrorIs(t, err, domain.ErrInvalidEmail)
	})

	t.Run("弱密码失败", func(t *testing.T) {
		svc := newTestAuthService()

		_, err := svc.Register(ctx, RegisterInput{Email: "a@example.com", Password: "short"})
		assert.ErrorIs(t, err, domain.ErrPasswordTooShort)
	})

	t.Run("重复邮箱失败", func(t *testing.T) {
		svc := newTestAuthService()

		_, err := svc.Register(ctx, RegisterInput{Email: "a@example.com", Password: "secure-password"})
		require.NoError(t, err)

		_, err = svc.Register(ctx, RegisterInput{Email: "a@example.com", Password: "another-password"})
		assert.ErrorIs(t, err, ErrEmailExists)
	})
}

func TestLogin(t *testing.T) {
	ctx := context.Background()

	t.Run("登录成功", func(t *testing.T) {
		svc := newTestAuthService()
		_, err := svc.Register(ctx, RegisterInput{Email: "a@example.com", Password: "secure-password"})
		require.NoError(t, err)

		resp, err := svc.Login(ctx, LoginInput{Email: "a@example.com", Password: "secure-password"})

		require.NoError(t, err)
		assert.NotEmpty(t, resp.AccessToken)
	})

	t.Run("错误密码失败", func(t *testing.T) {
		svc := newTestAuthService()
		_, err := svc.Register(ctx, RegisterInput{Email: "a@example.com", Password: "secure-password"})
		require.NoError(t, err)

		_, err = svc.Login(ctx, LoginInput{Email: "a@example.com", Password: "wrong-password"})
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("不存在的用户失败", func(t *testing.T) {
		svc := newTestAuthService()

		_, err := svc.Login(ctx, LoginInput{Email: "ghost@example.com", Password: "secure-password"})
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})
}

func TestRefresh(t *testing.T) {
	ctx := context.Background()

	t.Run("刷新令牌成功", func(t *testing.T) {
		svc := newTestAuthService()
		resp, err := svc.Register(ctx, RegisterInput{Email: "a@example.com", Password: "secure-password"})
		require.NoError(t, err)

		pair, err := svc.Refresh(resp.RefreshToken)

		require.NoError(t, err)
		assert.NotEmpty(t, pair.AccessToken)
		assert.NotEmpty(t, pair.RefreshToken)
	})

	t.Run("无效令牌失败", func(t *testing.T) {
		svc := newTestAuthService()

		_, err := svc.Refresh("garbage-token")
		assert.ErrorIs(t, err, jwt.ErrInvalidToken)
	})
}

func TestTokenValidation(t *testing.T) {
	t.Run("签发的令牌可被验证", func(t *testing.T) {
		manager := jwt.NewManager("test-secret-key-32-characters-long!!", "mailtriage", 15*time.Minute, time.Hour)

		pair, err := manager.GenerateTokenPair("user-1", "a@example.com")
		require.NoError(t, err)

		claims, err := manager.ValidateToken(pair.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, "user-1", claims.UserID)
		assert.Equal(t, "a@example.com", claims.Email)
		assert.Equal(t, "mailtriage", claims.Issuer)
	})

	t.Run("过期令牌返回ErrExpiredToken", func(t *testing.T) {
		manager := jwt.NewManager("test-secret-key-32-characters-long!!", "mailtriage", -time.Minute, time.Hour)

		pair, err := manager.GenerateTokenPair("user-1", "a@example.com")
		require.NoError(t, err)

		_, err = manager.ValidateToken(pair.AccessToken)
		assert.ErrorIs(t, err, jwt.ErrExpiredToken)
	})

	t.Run("篡改令牌返回ErrInvalidToken", func(t *testing.T) {
		manager := jwt.NewManager("test-secret-key-32-characters-long!!", "mailtriage", 15*time.Minute, time.Hour)
		other := jwt.NewManager("another-secret-key-32-characters-!!!", "mailtriage", 15*time.Minute, time.Hour)

		pair, err := other.GenerateTokenPair("user-1", "a@example.com")
		require.NoError(t, err)

		_, err = manager.ValidateToken(pair.AccessToken)
		assert.ErrorIs(t, err, jwt.ErrInvalidToken)
	})
}
