package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"mailtriage/backend/internal/domain"
)

// ReasonClassifierUnavailable AI 降级时的判定理由。
// 必须与快速路径的 ReasonNoActionIndicators 可区分，便于前端排障。
const ReasonClassifierUnavailable = "Classification unavailable"

// DefaultTimeout AI 分类调用的默认超时。
// 调用要么在有界时间内返回，要么快速失败降级，绝不无限阻塞调用方。
const DefaultTimeout = 5 * time.Second

var (
	// ErrClassifierUnavailable 分类服务不可达或超时
	ErrClassifierUnavailable = errors.New("classifier unavailable")
	// ErrMalformedResponse 分类服务返回无法解析的结果
	ErrMalformedResponse = errors.New("malformed classifier response")
)

// Result AI 分类器的归一化输出
type Result struct {
	Type   domain.DecisionType `json:"decisionType"`
	Reason string              `json:"reason"`
}

// Classifier 外部 AI 分类能力的接口抽象。
//
// 实现必须在有界超时内返回；失败以 error 表达，由解析器映射为降级决策。
// 测试中可注入假实现，无需网络。
type Classifier interface {
	Classify(ctx context.Context, subject, bodyText string) (*Result, error)
}

// FallbackResult 返回 AI 不可用时的安全降级结果
func FallbackResult() *Result {
	return &Result{
		Type:   domain.DecisionInformational,
		Reason: ReasonClassifierUnavailable,
	}
}

// HTTPClassifier 通过 HTTP 调用外部 AI 分类服务的适配器。
//
// 适配器内部不做重试（重试属于传输层的职责），
// 只负责有界超时、限速与错误归一化。
type HTTPClassifier struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// HTTPClassifierOptions HTTP 分类器的构造参数
type HTTPClassifierOptions struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	// RatePerSecond 客户端限速，避免批量分类打爆外部服务；0 表示不限速
	RatePerSecond float64
}

// NewHTTPClassifier 创建 HTTP 分类器
func NewHTTPClassifier(opts HTTPClassifierOptions, logger *zap.Logger) *HTTPClassifier {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	var limiter *rate.Limiter
	if opts.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), 1)
	}

	return &HTTPClassifier{
		baseURL: opts.BaseURL,
		apiKey:  opts.APIKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		limiter: limiter,
		logger:  logger,
	}
}

type classifyRequest struct {
	Subject  string `json:"subject"`
	BodyText string `json:"bodyText"`
}

type classifyResponse struct {
	DecisionType string `json:"decisionType"`
	Reason       string `json:"reason"`
}

// Classify 调用外部分类服务并归一化结果。
//
// 超时、传输错误、5xx、响应不可解析或决策类型非法时返回 error，
// 调用方应以 FallbackResult 降级，而不是让错误继续向上传播。
func (c *HTTPClassifier) Classify(ctx context.Context, subject, bodyText string) (*Result, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrClassifierUnavailable, err)
		}
	}

	payload, err := json.Marshal(classifyRequest{Subject: subject, BodyText: bodyText})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/classify", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("classifier request failed",
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %v", ErrClassifierUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("classifier returned non-200",
			zap.Int("status", resp.StatusCode),
			zap.Duration("elapsed", time.Since(start)),
		)
		return nil, fmt.Errorf("%w: status %d", ErrClassifierUnavailable, resp.StatusCode)
	}

	var body classifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		c.logger.Warn("classifier response unparseable", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	decisionType := domain.DecisionType(body.DecisionType)
	if !domain.ValidType(decisionType) {
		c.logger.Warn("classifier returned unknown decision type",
			zap.String("decision_type", body.DecisionType),
		)
		return nil, fmt.Errorf("%w: unknown decision type %q", ErrMalformedResponse, body.DecisionType)
	}

	return &Result{Type: decisionType, Reason: body.Reason}, nil
}
