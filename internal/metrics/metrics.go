// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// QuickBooksクライアント、OAuthサービス、IDリゾルバから利用する。
type MetricsCollector interface {
	RecordAPICall(api string, statusCode int, duration time.Duration)
	RecordAPIRetry(api string)
	RecordOAuthEvent(event, result string)
	RecordResolution(outcome string)
}

// プロジェクトID解決の結果ラベル
const (
	ResolutionDirect   = "direct"   // 渡されたIDがそのままAccountingのプロジェクト顧客ID
	ResolutionByName   = "by_name"  // 名前検索で解決
	ResolutionFallback = "fallback" // 未解決、渡されたIDを使用
	ResolutionMiss     = "miss"     // 名前検索で該当なし
)

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	apiCalls    *prometheus.CounterVec
	apiRetries  *prometheus.CounterVec
	apiLatency  *prometheus.HistogramVec
	oauthEvents *prometheus.CounterVec
	resolutions *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		apiCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "qbodemo_api_requests_total",
			Help: "QuickBooks APIへのリクエスト数（API種別・ステータスコード別）",
		}, []string{"api", "status_code"}),
		apiRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "qbodemo_api_retries_total",
			Help: "一時的な失敗によるリトライ回数",
		}, []string{"api"}),
		apiLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "qbodemo_api_latency_seconds",
			Help:    "QuickBooks API呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"api"}),
		oauthEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "qbodemo_oauth_events_total",
			Help: "OAuthライフサイクルのイベント数",
		}, []string{"event", "result"}),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "qbodemo_project_resolution_total",
			Help: "プロジェクトID解決の結果別件数",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		c.apiCalls,
		c.apiRetries,
		c.apiLatency,
		c.oauthEvents,
		c.resolutions,
	)

	return c
}

// RecordAPICall はAPI呼び出しを記録する。接続失敗はstatusCode=0で記録する。
func (c *Collector) RecordAPICall(api string, statusCode int, duration time.Duration) {
	c.apiCalls.WithLabelValues(api, strconv.Itoa(statusCode)).Inc()
	c.apiLatency.WithLabelValues(api).Observe(duration.Seconds())
}

// RecordAPIRetry はリトライを記録する。
func (c *Collector) RecordAPIRetry(api string) {
	c.apiRetries.WithLabelValues(api).Inc()
}

// RecordOAuthEvent はOAuthイベント（authorize, exchange, refresh, revoke）を記録する。
func (c *Collector) RecordOAuthEvent(event, result string) {
	c.oauthEvents.WithLabelValues(event, result).Inc()
}

// RecordResolution はプロジェクトID解決の結果を記録する。
func (c *Collector) RecordResolution(outcome string) {
	c.resolutions.WithLabelValues(outcome).Inc()
}

// nopCollector は何も記録しないMetricsCollector。
type nopCollector struct{}

// Nop は何も記録しないMetricsCollectorを返す。
func Nop() MetricsCollector { return nopCollector{} }

func (nopCollector) RecordAPICall(string, int, time.Duration) {}
func (nopCollector) RecordAPIRetry(string)                    {}
func (nopCollector) RecordOAuthEvent(string, string)          {}
func (nopCollector) RecordResolution(string)                  {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = nopCollector{}
)
