package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailtriage/backend/internal/auth/jwt"
)

type fakeBlacklist struct {
	blocked map[string]bool
}

func (f *fakeBlacklist) IsBlacklisted(_ context.Context, jti string) (bool, error) {
	return f.blocked[jti], nil
}

func newTestManager() *jwt.Manager {
	return jwt.NewManager("test-secret-key-32-characters-long!!", "mailtriage", 15*time.Minute, 24*time.Hour)
}

func newAuthRouter(ja *JWTAuth) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/protected", ja.RequireAuth(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"userID":  c.GetString("userID"),
			"tokenID": c.GetString("tokenID"),
		})
	})
	return router
}

func TestRequireAuth(t *testing.T) {
	manager := newTestManager()

	t.Run("有效令牌放行并注入用户上下文", func(t *testing.T) {
		router := newAuthRouter(NewJWTAuth(manager, nil))

		pair, err := manager.GenerateTokenPair("user-1", "a@example.com")
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/protected", nil)
		req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "user-1")
	})

	t.Run("缺少令牌返回401", func(t *testing.T) {
		router := newAuthRouter(NewJWTAuth(manager, nil))

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/protected", nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("伪造令牌返回401", func(t *testing.T) {
		router := newAuthRouter(NewJWTAuth(manager, nil))

		req := httptest.NewRequest(http.MethodGet, "/protected", nil)
		req.Header.Set("Authorization", "Bearer not-a-real-token")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("query参数可携带令牌", func(t *testing.T) {
		router := newAuthRouter(NewJWTAuth(manager, nil))

		pair, err := manager.GenerateTokenPair("user-1", "a@example.com")
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/protected?token="+pair.AccessToken, nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("已吊销令牌返回401", func(t *testing.T) {
		pair, err := manager.GenerateTokenPair("user-1", "a@example.com")
		require.NoError(t, err)

		claims, err := manager.ValidateToken(pair.AccessToken)
		require.NoError(t, err)
		require.NotEmpty(t, claims.ID, "令牌必须携带 jti")

		blacklist := &fakeBlacklist{blocked: map[string]bool{claims.ID: true}}
		router := newAuthRouter(NewJWTAuth(manager, nil).WithBlacklist(blacklist))

		req := httptest.NewRequest(http.MethodGet, "/protected", nil)
		req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)

		// 同一用户的另一个令牌 jti 不同，不受影响
		other, err := manager.GenerateTokenPair("user-1", "a@example.com")
		require.NoError(t, err)

		req = httptest.NewRequest(http.MethodGet, "/protected", nil)
		req.Header.Set("Authorization", "Bearer "+other.AccessToken)
		w = httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}
