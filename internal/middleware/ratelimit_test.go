package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

// fakeCounter 固定窗口计数器的内存实现
type fakeCounter struct {
	counts map[string]int64
	err    error
}

func (f *fakeCounter) IncrementRateLimit(_ context.Context, key string, _ time.Duration) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	if f.counts == nil {
		f.counts = make(map[string]int64)
	}
	f.counts[key]++
	return f.counts[key], nil
}

func newRateLimitRouter(counter RateCounter, limit int64, userID string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/classify",
		func(c *gin.Context) { c.Set("userID", userID) },
		RateLimitByUser(counter, limit, time.Minute, nil),
		func(c *gin.Context) { c.Status(http.StatusOK) },
	)
	return router
}

func TestRateLimitByUser(t *testing.T) {
	t.Run("限额内放行并返回剩余次数", func(t *testing.T) {
		router := newRateLimitRouter(&fakeCounter{}, 3, "u1")

		for i := 0; i < 3; i++ {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/classify", nil))
			assert.Equal(t, http.StatusOK, w.Code)
		}
	})

	t.Run("超过限额返回429", func(t *testing.T) {
		router := newRateLimitRouter(&fakeCounter{}, 2, "u1")

		for i := 0; i < 2; i++ {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/classify", nil))
			assert.Equal(t, http.StatusOK, w.Code)
		}

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/classify", nil))
		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	})

	t.Run("不同用户独立计数", func(t *testing.T) {
		counter := &fakeCounter{}
		alice := newRateLimitRouter(counter, 1, "alice")
		bob := newRateLimitRouter(counter, 1, "bob")

		w := httptest.NewRecorder()
		alice.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/classify", nil))
		assert.Equal(t, http.StatusOK, w.Code)

		w = httptest.NewRecorder()
		bob.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/classify", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("计数器故障时放行", func(t *testing.T) {
		router := newRateLimitRouter(&fakeCounter{err: errors.New("redis down")}, 1, "u1")

		for i := 0; i < 5; i++ {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/classify", nil))
			assert.Equal(t, http.StatusOK, w.Code)
		}
	})

	t.Run("未认证请求不参与限流", func(t *testing.T) {
		gin.SetMode(gin.TestMode)
		router := gin.New()
		router.POST("/classify",
			RateLimitByUser(&fakeCounter{}, 1, time.Minute, nil),
			func(c *gin.Context) { c.Status(http.StatusOK) },
		)

		for i := 0; i < 3; i++ {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/classify", nil))
			assert.Equal(t, http.StatusOK, w.Code)
		}
	})
}
