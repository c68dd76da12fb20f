// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ミドルウェア、ハンドラー、ワーカーから利用する。
type MetricsCollector interface {
	RecordHTTPStatus(statusCode int)
	RecordLoginAttempt(result string)
	RecordRateLimitRejection(limitType string)
	RecordCSRFRejection(reason string)
	RecordFlagEvaluation(flag string, enabled bool)
	RecordExport(format, delivery string)
	RecordCleanup(target string, deleted int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	httpStatus      *prometheus.CounterVec
	loginAttempts   *prometheus.CounterVec
	rateLimited     *prometheus.CounterVec
	csrfRejected    *prometheus.CounterVec
	flagEvaluations *prometheus.CounterVec
	exports         *prometheus.CounterVec
	cleanupDeleted  *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shipkit_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		loginAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shipkit_login_attempts_total",
			Help: "結果別のログイン試行数",
		}, []string{"result"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shipkit_rate_limit_rejections_total",
			Help: "レート制限で拒否されたリクエスト数",
		}, []string{"limit"}),
		csrfRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shipkit_csrf_rejections_total",
			Help: "CSRF検証で拒否されたリクエスト数",
		}, []string{"reason"}),
		flagEvaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shipkit_flag_evaluations_total",
			Help: "機能フラグの評価回数",
		}, []string{"flag", "result"}),
		exports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shipkit_exports_total",
			Help: "形式・配信方法別のエクスポート数",
		}, []string{"format", "delivery"}),
		cleanupDeleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shipkit_cleanup_deleted_total",
			Help: "クリーンアップで削除された行数",
		}, []string{"target"}),
	}

	reg.MustRegister(
		c.httpStatus,
		c.loginAttempts,
		c.rateLimited,
		c.csrfRejected,
		c.flagEvaluations,
		c.exports,
		c.cleanupDeleted,
	)

	return c
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordLoginAttempt はログイン試行を記録する。resultは success, failure, rate_limited など。
func (c *Collector) RecordLoginAttempt(result string) {
	c.loginAttempts.WithLabelValues(result).Inc()
}

// RecordRateLimitRejection はレート制限による拒否を記録する。
func (c *Collector) RecordRateLimitRejection(limitType string) {
	c.rateLimited.WithLabelValues(limitType).Inc()
}

// RecordCSRFRejection はCSRF検証による拒否を記録する。
func (c *Collector) RecordCSRFRejection(reason string) {
	c.csrfRejected.WithLabelValues(reason).Inc()
}

// RecordFlagEvaluation はフラグ評価結果を記録する。
func (c *Collector) RecordFlagEvaluation(flag string, enabled bool) {
	c.flagEvaluations.WithLabelValues(flag, strconv.FormatBool(enabled)).Inc()
}

// RecordExport はエクスポートを記録する。deliveryは download または s3。
func (c *Collector) RecordExport(format, delivery string) {
	c.exports.WithLabelValues(format, delivery).Inc()
}

// RecordCleanup はクリーンアップの削除件数を記録する。
func (c *Collector) RecordCleanup(target string, deleted int64) {
	c.cleanupDeleted.WithLabelValues(target).Add(float64(deleted))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
