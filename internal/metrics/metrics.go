// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// インジェスト・各ステージ・ワーカーから利用する。
type MetricsCollector interface {
	RecordImportQueued(count int)
	RecordImportSkipped(count int)
	RecordStageSuccess(stage string)
	RecordStageFailure(stage string, kind string)
	RecordStageLatency(stage string, duration time.Duration)
	RecordMessagesProcessed(queue string, count int)
	RecordMessagesArchived(queue string, count int)
	RecordMessagesFailed(queue string, count int)
	RecordMessagesDeadLettered(queue string, count int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	importQueued       prometheus.Counter
	importSkipped      prometheus.Counter
	stageSuccess       *prometheus.CounterVec
	stageFailure       *prometheus.CounterVec
	stageLatency       *prometheus.HistogramVec
	messagesProcessed  *prometheus.CounterVec
	messagesArchived   *prometheus.CounterVec
	messagesFailed     *prometheus.CounterVec
	messagesDeadLetter *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		importQueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "recollect_import_queued_total",
			Help: "インポートで投入されたブックマークの合計数",
		}),
		importSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "recollect_import_skipped_total",
			Help: "重複としてスキップされたブックマークの合計数",
		}),
		stageSuccess: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recollect_stage_success_total",
			Help: "ステージ別のエンリッチメント成功数",
		}, []string{"stage"}),
		stageFailure: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recollect_stage_failure_total",
			Help: "ステージ・エラー分類別のエンリッチメント失敗数",
		}, []string{"stage", "kind"}),
		stageLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "recollect_stage_latency_seconds",
			Help:    "ステージ別の処理レイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage"}),
		messagesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recollect_messages_processed_total",
			Help: "キュー別の読み取り・処理を試みたメッセージ数",
		}, []string{"queue"}),
		messagesFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recollect_messages_failed_total",
			Help: "キュー別の処理に失敗し再配送待ちとなったメッセージ数",
		}, []string{"queue"}),
		messagesArchived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recollect_messages_archived_total",
			Help: "キュー別のアーカイブ済みメッセージ数",
		}, []string{"queue"}),
		messagesDeadLetter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recollect_messages_dead_lettered_total",
			Help: "キュー別のリトライ上限超過メッセージ数",
		}, []string{"queue"}),
	}

	reg.MustRegister(
		c.importQueued,
		c.importSkipped,
		c.stageSuccess,
		c.stageFailure,
		c.stageLatency,
		c.messagesProcessed,
		c.messagesArchived,
		c.messagesFailed,
		c.messagesDeadLetter,
	)

	return c
}

// RecordImportQueued はインポートで投入されたブックマーク数を記録する。
func (c *Collector) RecordImportQueued(count int) {
	c.importQueued.Add(float64(count))
}

// RecordImportSkipped は重複スキップされたブックマーク数を記録する。
func (c *Collector) RecordImportSkipped(count int) {
	c.importSkipped.Add(float64(count))
}

// RecordStageSuccess はステージの成功を記録する。
func (c *Collector) RecordStageSuccess(stage string) {
	c.stageSuccess.WithLabelValues(stage).Inc()
}

// RecordStageFailure はステージの失敗をエラー分類付きで記録する。
func (c *Collector) RecordStageFailure(stage string, kind string) {
	c.stageFailure.WithLabelValues(stage, kind).Inc()
}

// RecordStageLatency はステージの処理レイテンシを記録する。
func (c *Collector) RecordStageLatency(stage string, duration time.Duration) {
	c.stageLatency.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordMessagesProcessed は読み取り・処理を試みたメッセージ数を記録する。
func (c *Collector) RecordMessagesProcessed(queue string, count int) {
	c.messagesProcessed.WithLabelValues(queue).Add(float64(count))
}

// RecordMessagesFailed は処理に失敗し再配送待ちとなったメッセージ数を記録する。
func (c *Collector) RecordMessagesFailed(queue string, count int) {
	c.messagesFailed.WithLabelValues(queue).Add(float64(count))
}

// RecordMessagesArchived はアーカイブ済みメッセージ数を記録する。
func (c *Collector) RecordMessagesArchived(queue string, count int) {
	c.messagesArchived.WithLabelValues(queue).Add(float64(count))
}

// RecordMessagesDeadLettered はリトライ上限超過メッセージ数を記録する。
func (c *Collector) RecordMessagesDeadLettered(queue string, count int) {
	c.messagesDeadLetter.WithLabelValues(queue).Add(float64(count))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
