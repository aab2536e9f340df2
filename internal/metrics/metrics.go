// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ワーカーやハンドラー層から利用する。
type MetricsCollector interface {
	RecordProcessed(status string)
	RecordParseFailure()
	RecordEnqueued()
	RecordQueueDepth(depth int64)
	RecordSinkLatency(sink string, duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	processed   *prometheus.CounterVec
	parseFail   prometheus.Counter
	enqueued    prometheus.Counter
	queueDepth  prometheus.Gauge
	sinkLatency *prometheus.HistogramVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		processed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ytindexer_notifications_processed_total",
			Help: "処理済み通知のステータス別合計数",
		}, []string{"status"}),
		parseFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ytindexer_parse_fail_total",
			Help: "通知パース失敗の合計数",
		}),
		enqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ytindexer_notifications_enqueued_total",
			Help: "キューに投入された通知の合計数",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ytindexer_queue_depth",
			Help: "通知キューの現在の長さ",
		}),
		sinkLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ytindexer_sink_latency_seconds",
			Help:    "シンク書き込みのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"sink"}),
	}

	reg.MustRegister(
		c.processed,
		c.parseFail,
		c.enqueued,
		c.queueDepth,
		c.sinkLatency,
	)

	return c
}

// RecordProcessed は通知処理の完了を全体ステータス別に記録する。
func (c *Collector) RecordProcessed(status string) {
	c.processed.WithLabelValues(status).Inc()
}

// RecordParseFailure はパース失敗を記録する。
func (c *Collector) RecordParseFailure() {
	c.parseFail.Inc()
}

// RecordEnqueued はキューへの投入を記録する。
func (c *Collector) RecordEnqueued() {
	c.enqueued.Inc()
}

// RecordQueueDepth はキューの長さを記録する。
func (c *Collector) RecordQueueDepth(depth int64) {
	c.queueDepth.Set(float64(depth))
}

// RecordSinkLatency はシンク書き込みのレイテンシを記録する。
func (c *Collector) RecordSinkLatency(sink string, duration time.Duration) {
	c.sinkLatency.WithLabelValues(sink).Observe(duration.Seconds())
}

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
