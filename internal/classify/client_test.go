package classify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"mailtriage/backend/internal/domain"
)

func newTestClassifier(serverURL string, timeout time.Duration) *HTTPClassifier {
	return NewHTTPClassifier(HTTPClassifierOptions{
		BaseURL: serverURL,
		Timeout: timeout,
	}, zap.NewNop())
}

func TestHTTPClassifier_Classify(t *testing.T) {
	t.Run("成功返回归一化结果", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/classify", r.URL.Path)
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"decisionType":"reply_required","reason":"Sender asks a direct question"}`))
		}))
		defer srv.Close()

		c := newTestClassifier(srv.URL, time.Second)
		result, err := c.Classify(context.Background(), "Quick question", "Can you help me with this?")

		assert.NoError(t, err)
		assert.Equal(t, domain.DecisionReplyRequired, result.Type)
		assert.Equal(t, "Sender asks a direct question", result.Reason)
	})

	t.Run("超时映射为不可用错误", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(200 * time.Millisecond)
		}))
		defer srv.Close()

		c := newTestClassifier(srv.URL, 20*time.Millisecond)
		result, err := c.Classify(context.Background(), "s", "b")

		assert.Nil(t, result)
		assert.ErrorIs(t, err, ErrClassifierUnavailable)
	})

	t.Run("5xx映射为不可用错误", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		c := newTestClassifier(srv.URL, time.Second)
		_, err := c.Classify(context.Background(), "s", "b")

		assert.ErrorIs(t, err, ErrClassifierUnavailable)
	})

	t.Run("响应不可解析映射为格式错误", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`not json at all`))
		}))
		defer srv.Close()

		c := newTestClassifier(srv.URL, time.Second)
		_, err := c.Classify(context.Background(), "s", "b")

		assert.ErrorIs(t, err, ErrMalformedResponse)
	})

	t.Run("未知决策类型映射为格式错误", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"decisionType":"spam","reason":"x"}`))
		}))
		defer srv.Close()

		c := newTestClassifier(srv.URL, time.Second)
		_, err := c.Classify(context.Background(), "s", "b")

		assert.ErrorIs(t, err, ErrMalformedResponse)
	})
}

func TestFallbackResult(t *testing.T) {
	fb := FallbackResult()

	assert.Equal(t, domain.DecisionInformational, fb.Type)
	assert.Equal(t, ReasonClassifierUnavailable, fb.Reason)
	// 降级理由必须与快速路径理由可区分
	assert.NotEqual(t, ReasonNoActionIndicators, fb.Reason)
}
