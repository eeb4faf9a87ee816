// Package dispatch は一次エンリッチメントキューのディスパッチャを提供する。
// ジョブをカバー画像の有無で分類し、スクリーンショットステージまたは
// 仕上げステージへ振り分ける。
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/timelessco/recollect-pipeline/internal/metrics"
	"github.com/timelessco/recollect-pipeline/internal/model"
	"github.com/timelessco/recollect-pipeline/internal/queue"
)

// RetryPolicy はディスパッチ済みメッセージの扱いを決める。
type RetryPolicy string

const (
	// PolicyFireAndForget はステージ呼び出しを待たず、メッセージも
	// アーカイブしない。可視性ウィンドウ経過後に再配送されるが、
	// 呼び出しの成否は追跡されない（元設計の挙動）。
	PolicyFireAndForget RetryPolicy = "fire_and_forget"

	// PolicyArchiveOnAccept はステージの受理確認後にだけアーカイブする。
	// 仕上げキューと同じ「成功確認後にのみアーカイブ」の再試行安全な挙動。
	PolicyArchiveOnAccept RetryPolicy = "archive_on_accept"
)

// StageInvoker は分類先ステージの呼び出しインターフェース。
type StageInvoker interface {
	InvokeScreenshot(ctx context.Context, job model.PrimaryJob) error
	InvokeFinalize(ctx context.Context, job model.FinalizeJob) error
}

// Config はディスパッチャの設定を保持する。
type Config struct {
	QueueName         string
	BatchSize         int
	VisibilitySeconds int
	MaxRetries        int
	Policy            RetryPolicy
}

// Result は1回のディスパッチサイクルの集計結果。
type Result struct {
	Read         int `json:"read"`
	Dispatched   int `json:"dispatched"`
	Archived     int `json:"archived"`
	Failed       int `json:"failed"`
	DeadLettered int `json:"deadLettered"`
}

// Dispatcher は一次エンリッチメントキューを定期的に読み、ジョブを
// ステージへ振り分けるワーカー。並行起動・多重起動に対して安全
// （キュー側の可視性ウィンドウと冪等なステージに正しさを委ねる）。
type Dispatcher struct {
	queue     queue.Queue
	invoker   StageInvoker
	collector metrics.MetricsCollector
	logger    *slog.Logger
	config    Config
}

// NewDispatcher はDispatcherの新しいインスタンスを生成する。
func NewDispatcher(
	q queue.Queue,
	invoker StageInvoker,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	config Config,
) *Dispatcher {
	if config.BatchSize <= 0 {
		config.BatchSize = 10
	}
	if config.VisibilitySeconds <= 0 {
		config.VisibilitySeconds = 30
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if config.Policy == "" {
		config.Policy = PolicyFireAndForget
	}
	return &Dispatcher{
		queue:     q,
		invoker:   invoker,
		collector: collector,
		logger:    logger,
		config:    config,
	}
}

// Start は指定間隔のティッカーでディスパッチャを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (d *Dispatcher) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	d.logger.Info("ディスパッチャを開始しました",
		slog.String("queue", d.config.QueueName),
		slog.Duration("interval", interval),
		slog.String("policy", string(d.config.Policy)),
	)

	// 起動直後に1回実行
	if _, err := d.RunOnce(ctx); err != nil {
		d.logger.Error("ディスパッチサイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("ディスパッチャを停止しました")
			return
		case <-ticker.C:
			if _, err := d.RunOnce(ctx); err != nil {
				d.logger.Error("ディスパッチサイクルの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunOnce はキューを1回読み、メッセージをステージへ振り分ける。
func (d *Dispatcher) RunOnce(ctx context.Context) (Result, error) {
	messages, err := d.queue.Read(ctx, d.config.QueueName, d.config.BatchSize, d.config.VisibilitySeconds)
	if err != nil {
		return Result{}, fmt.Errorf("一次キューの読み出しに失敗しました: %w", err)
	}

	result := Result{Read: len(messages)}
	if len(messages) == 0 {
		return result, nil
	}

	for _, msg := range messages {
		var job model.PrimaryJob
		if err := json.Unmarshal(msg.Body, &job); err != nil || !job.Valid() {
			result.Failed++
			d.handleFailure(ctx, msg, &result, "ペイロードの形状が不正です")
			continue
		}

		if err := d.dispatchOne(ctx, job); err != nil {
			result.Failed++
			d.handleFailure(ctx, msg, &result, err.Error())
			continue
		}
		result.Dispatched++

		if d.config.Policy == PolicyArchiveOnAccept {
			if err := d.queue.Archive(ctx, d.config.QueueName, msg.MsgID); err != nil {
				d.logger.Error("メッセージのアーカイブに失敗しました",
					slog.Int64("msg_id", msg.MsgID),
					slog.String("error", err.Error()),
				)
				continue
			}
			result.Archived++
		}
	}

	d.collector.RecordMessagesProcessed(d.config.QueueName, result.Read)
	d.collector.RecordMessagesArchived(d.config.QueueName, result.Archived)
	d.collector.RecordMessagesFailed(d.config.QueueName, result.Failed)
	d.logger.Info("ディスパッチサイクルが完了しました",
		slog.Int("read", result.Read),
		slog.Int("dispatched", result.Dispatched),
		slog.Int("archived", result.Archived),
		slog.Int("failed", result.Failed),
		slog.Int("dead_lettered", result.DeadLettered),
	)
	return result, nil
}

// dispatchOne はジョブを分類して対応するステージを呼び出す。
// カバー画像を既に持つジョブはスクリーンショット不要なので、その画像を
// 対象に仕上げステージへ直行させる。それ以外はスクリーンショットステージへ。
//
// PolicyFireAndForgetの場合は呼び出しをゴルーチンに切り離し、結果を
// 待たずに成功として返す。呼び出しの失敗はステージ側のログとメトリクス
// にだけ現れる。
func (d *Dispatcher) dispatchOne(ctx context.Context, job model.PrimaryJob) error {
	invoke := func(ctx context.Context) error {
		if job.OgImage != "" {
			finalizeJob := model.FinalizeJob{
				BookmarkID: job.BookmarkID,
				UserID:     job.UserID,
				PublicURL:  job.OgImage,
			}
			if job.MetaData != nil {
				finalizeJob.FavIcon = job.MetaData.FavIcon
				finalizeJob.MediaType = job.MetaData.MediaType
			}
			return d.invoker.InvokeFinalize(ctx, finalizeJob)
		}
		return d.invoker.InvokeScreenshot(ctx, job)
	}

	if d.config.Policy == PolicyFireAndForget {
		go func() {
			// 親サイクルの終了に巻き込まれないよう独立したコンテキストで呼ぶ
			if err := invoke(context.WithoutCancel(ctx)); err != nil {
				d.logger.Warn("ステージ呼び出しに失敗しました（再配送はされません）",
					slog.Int64("bookmark_id", job.BookmarkID),
					slog.String("error", err.Error()),
				)
			}
		}()
		return nil
	}

	return invoke(ctx)
}

// handleFailure は失敗したメッセージへエラーを記録し、読み出し回数が
// 上限を超えていたら理由付きでアーカイブする（デッドレター）。
// 上限以内なら何もしない: 可視性ウィンドウ経過後に再配送される。
func (d *Dispatcher) handleFailure(ctx context.Context, msg queue.Message, result *Result, reason string) {
	if err := d.queue.SetLastError(ctx, d.config.QueueName, msg.MsgID, reason); err != nil {
		d.logger.Error("エラーの記録に失敗しました",
			slog.Int64("msg_id", msg.MsgID),
			slog.String("error", err.Error()),
		)
	}

	if msg.ReadCt <= d.config.MaxRetries {
		return
	}

	if err := d.queue.ArchiveWithReason(ctx, d.config.QueueName, msg.MsgID,
		fmt.Sprintf("リトライ上限(%d)を超過しました: %s", d.config.MaxRetries, reason)); err != nil {
		d.logger.Error("デッドレターのアーカイブに失敗しました",
			slog.Int64("msg_id", msg.MsgID),
			slog.String("error", err.Error()),
		)
		return
	}
	result.DeadLettered++
	d.collector.RecordMessagesDeadLettered(d.config.QueueName, 1)
	d.logger.Warn("メッセージをデッドレターへ送りました",
		slog.Int64("msg_id", msg.MsgID),
		slog.Int("read_ct", msg.ReadCt),
		slog.String("reason", reason),
	)
}
