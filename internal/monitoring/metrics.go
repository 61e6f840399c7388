package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 监控指标
type Metrics struct {
	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPRequestSize     *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// 分类管线指标
	ClassificationsTotal   *prometheus.CounterVec // outcome: fast_path / ai / fallback
	ClassifierCallDuration prometheus.Histogram
	ClassifierFailures     *prometheus.CounterVec // reason: timeout / transport / malformed
	GateTriggered          *prometheus.CounterVec // trigger: question_mark / keyword / frequent / stale_unread

	// 决策生命周期指标
	DecisionActions  *prometheus.CounterVec // action: complete / dismiss / snooze / not_decision
	DecisionsPending prometheus.Gauge
	UpsertSkipped    prometheus.Counter // 已操作状态记录上的重新分类

	// 用户指标
	UsersRegistered prometheus.Counter
	UsersOnline     prometheus.Gauge

	// 系统指标
	SystemUptime        prometheus.Gauge
	DatabaseConnections prometheus.Gauge
	RedisConnections    prometheus.Gauge

	// 错误指标
	ErrorsTotal *prometheus.CounterVec
	PanicsTotal prometheus.Counter
}

// NewMetrics 创建监控指标
func NewMetrics() *Metrics {
	return &Metrics{
		// HTTP 请求指标
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailtriage_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mailtriage_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		HTTPRequestSize: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mailtriage_http_request_size_bytes",
				Help:    "HTTP request size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "endpoint"},
		),

		HTTPResponseSize: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mailtriage_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "endpoint"},
		),

		// 分类管线指标
		ClassificationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailtriage_classifications_total",
				Help: "Total number of classifications by outcome",
			},
			[]string{"outcome", "decision_type"},
		),

		ClassifierCallDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "mailtriage_classifier_call_duration_seconds",
				Help:    "AI classifier call duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),

		ClassifierFailures: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailtriage_classifier_failures_total",
				Help: "Total number of classifier call failures by reason",
			},
			[]string{"reason"},
		),

		GateTriggered: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailtriage_gate_triggered_total",
				Help: "Total number of gate passes by trigger signal",
			},
			[]string{"trigger"},
		),

		// 决策生命周期指标
		DecisionActions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailtriage_decision_actions_total",
				Help: "Total number of decision lifecycle actions",
			},
			[]string{"action"},
		),

		DecisionsPending: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "mailtriage_decisions_pending",
				Help: "Number of actionable pending decisions",
			},
		),

		UpsertSkipped: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "mailtriage_upsert_skipped_total",
				Help: "Total number of re-classifications that hit an actioned record",
			},
		),

		// 用户指标
		UsersRegistered: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "mailtriage_users_registered_total",
				Help: "Total number of users registered",
			},
		),

		UsersOnline: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "mailtriage_users_online",
				Help: "Number of online users",
			},
		),

		// 系统指标
		SystemUptime: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "mailtriage_system_uptime_seconds",
				Help: "System uptime in seconds",
			},
		),

		DatabaseConnections: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "mailtriage_database_connections",
				Help: "Number of database connections",
			},
		),

		RedisConnections: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "mailtriage_redis_connections",
				Help: "Number of Redis connections",
			},
		),

		// 错误指标
		ErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailtriage_errors_total",
				Help: "Total number of errors",
			},
			[]string{"type", "component"},
		),

		PanicsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "mailtriage_panics_total",
				Help: "Total number of panics",
			},
		),
	}
}

// RecordHTTPRequest 记录 HTTP 请求指标
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration, requestSize, responseSize int64) {
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
	m.HTTPRequestSize.WithLabelValues(method, endpoint).Observe(float64(requestSize))
	m.HTTPResponseSize.WithLabelValues(method, endpoint).Observe(float64(responseSize))
}

// RecordClassification 记录一次分类结果
//
// outcome 取值: "fast_path"（未调用 AI）、"ai"（AI 成功）、"fallback"（AI 降级）
func (m *Metrics) RecordClassification(outcome, decisionType string) {
	m.ClassificationsTotal.WithLabelValues(outcome, decisionType).Inc()
}

// RecordClassifierCall 记录 AI 分类调用耗时
func (m *Metrics) RecordClassifierCall(duration time.Duration) {
	m.ClassifierCallDuration.Observe(duration.Seconds())
}

// RecordClassifierFailure 记录 AI 分类调用失败
func (m *Metrics) RecordClassifierFailure(reason string) {
	m.ClassifierFailures.WithLabelValues(reason).Inc()
}

// RecordGateTrigger 记录门控触发信号
func (m *Metrics) RecordGateTrigger(trigger string) {
	m.GateTriggered.WithLabelValues(trigger).Inc()
}

// RecordDecisionAction 记录决策生命周期操作
func (m *Metrics) RecordDecisionAction(action string) {
	m.DecisionActions.WithLabelValues(action).Inc()
}

// RecordUpsertSkipped 记录命中已操作记录的重新分类
func (m *Metrics) RecordUpsertSkipped() {
	m.UpsertSkipped.Inc()
}

// RecordUserRegistered 记录用户注册
func (m *Metrics) RecordUserRegistered() {
	m.UsersRegistered.Inc()
}

// RecordError 记录错误
func (m *Metrics) RecordError(errorType, component string) {
	m.ErrorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordPanic 记录 panic
func (m *Metrics) RecordPanic() {
	m.PanicsTotal.Inc()
}

// UpdateDecisionsPending 更新待办决策数
func (m *Metrics) UpdateDecisionsPending(count int) {
	m.DecisionsPending.Set(float64(count))
}

// UpdateUsersOnline 更新在线用户数
func (m *Metrics) UpdateUsersOnline(count int) {
	m.UsersOnline.Set(float64(count))
}

// UpdateSystemUptime 更新系统运行时间
func (m *Metrics) UpdateSystemUptime(uptime time.Duration) {
	m.SystemUptime.Set(uptime.Seconds())
}

// UpdateDatabaseConnections 更新数据库连接数
func (m *Metrics) UpdateDatabaseConnections(count int) {
	m.DatabaseConnections.Set(float64(count))
}

// UpdateRedisConnections 更新 Redis 连接数
func (m *Metrics) UpdateRedisConnections(count int) {
	m.RedisConnections.Set(float64(count))
}

// HTTPHandler 返回 Prometheus HTTP 处理器
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.Handler()
}
