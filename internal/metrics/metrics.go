// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ダウンロード結果のラベル値
const (
	DownloadGranted         = "granted"
	DownloadPaymentRequired = "payment_required"
	DownloadNotFound        = "not_found"
)

// 決済確定結果のラベル値
const (
	SettlementSettled        = "settled"
	SettlementAlreadySettled = "already_settled"
	SettlementFailed         = "failed"
	SettlementPending        = "pending"
	SettlementMismatch       = "mismatch"
	SettlementGatewayError   = "gateway_error"
)

// MetricsCollector はメトリクス収集のインターフェース。
// サービス層やワーカーから利用する。
type MetricsCollector interface {
	RecordCoverGenerated()
	RecordGenerationFailure(reason string)
	RecordDownload(result string)
	RecordPaymentInitialized()
	RecordSettlement(outcome string)
	RecordCreditsGranted(count int)
	RecordGatewayLatency(operation string, duration time.Duration)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	coversGenerated     prometheus.Counter
	generationFail      *prometheus.CounterVec
	downloads           *prometheus.CounterVec
	paymentsInitialized prometheus.Counter
	settlements         *prometheus.CounterVec
	creditsGranted      prometheus.Counter
	gatewayLatency      *prometheus.HistogramVec
	httpStatus          *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		coversGenerated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "covercraft_covers_generated_total",
			Help: "生成されたブックカバーの合計数",
		}),
		generationFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "covercraft_generation_fail_total",
			Help: "ブックカバー生成失敗の合計数",
		}, []string{"reason"}),
		downloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "covercraft_downloads_total",
			Help: "結果別のダウンロード要求数",
		}, []string{"result"}),
		paymentsInitialized: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "covercraft_payments_initialized_total",
			Help: "初期化された決済の合計数",
		}),
		settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "covercraft_settlements_total",
			Help: "結果別の決済確定処理数",
		}, []string{"outcome"}),
		creditsGranted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "covercraft_credits_granted_total",
			Help: "付与されたクレジットの合計数",
		}),
		gatewayLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "covercraft_gateway_latency_seconds",
			Help:    "外部ゲートウェイ呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "covercraft_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.coversGenerated,
		c.generationFail,
		c.downloads,
		c.paymentsInitialized,
		c.settlements,
		c.creditsGranted,
		c.gatewayLatency,
		c.httpStatus,
	)

	return c
}

// RecordCoverGenerated はカバー生成成功を記録する。
func (c *Collector) RecordCoverGenerated() {
	c.coversGenerated.Inc()
}

// RecordGenerationFailure はカバー生成失敗を記録する。
func (c *Collector) RecordGenerationFailure(reason string) {
	c.generationFail.WithLabelValues(reason).Inc()
}

// RecordDownload はダウンロード要求の結果を記録する。
func (c *Collector) RecordDownload(result string) {
	c.downloads.WithLabelValues(result).Inc()
}

// RecordPaymentInitialized は決済初期化を記録する。
func (c *Collector) RecordPaymentInitialized() {
	c.paymentsInitialized.Inc()
}

// RecordSettlement は決済確定処理の結果を記録する。
func (c *Collector) RecordSettlement(outcome string) {
	c.settlements.WithLabelValues(outcome).Inc()
}

// RecordCreditsGranted は付与したクレジット数を記録する。
func (c *Collector) RecordCreditsGranted(count int) {
	c.creditsGranted.Add(float64(count))
}

// RecordGatewayLatency は外部呼び出しのレイテンシを記録する。
func (c *Collector) RecordGatewayLatency(operation string, duration time.Duration) {
	c.gatewayLatency.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Nop は何も記録しないMetricsCollector。テストやメトリクス無効時に使用する。
type Nop struct{}

func (Nop) RecordCoverGenerated()                      {}
func (Nop) RecordGenerationFailure(string)             {}
func (Nop) RecordDownload(string)                      {}
func (Nop) RecordPaymentInitialized()                  {}
func (Nop) RecordSettlement(string)                    {}
func (Nop) RecordCreditsGranted(int)                   {}
func (Nop) RecordGatewayLatency(string, time.Duration) {}
func (Nop) RecordHTTPStatus(int)                       {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}

// compile-time interface check
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
