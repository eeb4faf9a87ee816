// Package consume は仕上げキューのコンシューマ/リトライコーディネータを提供する。
// 「処理してから確認応答」パターンの実装: 成功を確認するまで絶対に
// アーカイブしない。アーカイブは破壊的（再配送なし）だが、未アーカイブの
// まま残すのは常に安全（最悪でも冪等な再処理が走るだけ）。
package consume

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

// FinalizeInvoker は仕上げステージの呼び出しインターフェース。
type FinalizeInvoker interface {
	InvokeFinalize(ctx context.Context, job model.FinalizeJob) error
}

// Config はコンシューマの設定を保持する。
type Config struct {
	QueueName         string
	BatchSize         int
	VisibilitySeconds int
	MaxRetries        int
}

// MessageResult はメッセージ1件の処理結果を表す。
type MessageResult struct {
	MessageID  int64  `json:"messageId"`
	BookmarkID int64  `json:"fileId"`
	Success    bool   `json:"success"`
	Archived   bool   `json:"archived"`
	Error      string `json:"error,omitempty"`
}

// Result は1回の消費サイクルの集計結果。
type Result struct {
	ProcessedCount int             `json:"processedCount"`
	ArchivedCount  int             `json:"archivedCount"`
	FailedCount    int             `json:"failedCount"`
	DeadLettered   int             `json:"deadLettered"`
	Results        []MessageResult `json:"results"`
}

// Consumer は仕上げキューを定期的に読み、仕上げステージを呼び出して
// 成功したメッセージだけをアーカイブするワーカー。
// 同一コンシューマの多重起動に対して安全（可視性ウィンドウと
// 冪等なアップサートに正しさを委ねる）。
type Consumer struct {
	queue     queue.Queue
	invoker   FinalizeInvoker
	collector metrics.MetricsCollector
	logger    *slog.Logger
	config    Config
}

// NewConsumer はConsumerの新しいインスタンスを生成する。
func NewConsumer(
	q queue.Queue,
	invoker FinalizeInvoker,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	config Config,
) *Consumer {
	if config.BatchSize <= 0 {
		config.BatchSize = 10
	}
	if config.VisibilitySeconds <= 0 {
		config.VisibilitySeconds = 60
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	return &Consumer{
		queue:     q,
		invoker:   invoker,
		collector: collector,
		logger:    logger,
		config:    config,
	}
}

// Start は指定間隔のティッカーでコンシューマを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (c *Consumer) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.logger.Info("コンシューマを開始しました",
		slog.String("queue", c.config.QueueName),
		slog.Duration("interval", interval),
	)

	// 起動直後に1回実行
	if _, err := c.RunOnce(ctx); err != nil {
		c.logger.Error("消費サイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("コンシューマを停止しました")
			return
		case <-ticker.C:
			if _, err := c.RunOnce(ctx); err != nil {
				c.logger.Error("消費サイクルの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunOnce はキューを1回読み、メッセージごとに仕上げステージを呼び出す。
// メッセージ単位の失敗でエラーは返さない: 失敗は集計結果に記録して
// バッチの残りを続行する。
func (c *Consumer) RunOnce(ctx context.Context) (Result, error) {
	messages, err := c.queue.Read(ctx, c.config.QueueName, c.config.BatchSize, c.config.VisibilitySeconds)
	if err != nil {
		return Result{}, fmt.Errorf("仕上げキューの読み出しに失敗しました: %w", err)
	}

	result := Result{Results: make([]MessageResult, 0, len(messages))}
	if len(messages) == 0 {
		return result, nil
	}

	for _, msg := range messages {
		result.ProcessedCount++

		var job model.FinalizeJob
		if err := json.Unmarshal(msg.Body, &job); err != nil || !job.Valid() {
			c.recordFailure(ctx, msg, &result, job.BookmarkID, "ペイロードの形状が不正です")
			continue
		}

		if err := c.invoker.InvokeFinalize(ctx, job); err != nil {
			c.recordFailure(ctx, msg, &result, job.BookmarkID, err.Error())
			continue
		}

		// 成功を確認した。ここが唯一のコミットポイント。
		if err := c.queue.Archive(ctx, c.config.QueueName, msg.MsgID); err != nil {
			// アーカイブ失敗は再配送されるだけで安全。成功としては数えない。
			c.logger.Error("メッセージのアーカイブに失敗しました",
				slog.Int64("msg_id", msg.MsgID),
				slog.String("error", err.Error()),
			)
			result.Results = append(result.Results, MessageResult{
				MessageID:  msg.MsgID,
				BookmarkID: job.BookmarkID,
				Success:    true,
				Archived:   false,
				Error:      err.Error(),
			})
			continue
		}

		result.ArchivedCount++
		result.Results = append(result.Results, MessageResult{
			MessageID:  msg.MsgID,
			BookmarkID: job.BookmarkID,
			Success:    true,
			Archived:   true,
		})
	}

	c.collector.RecordMessagesProcessed(c.config.QueueName, result.ProcessedCount)
	c.collector.RecordMessagesArchived(c.config.QueueName, result.ArchivedCount)
	c.collector.RecordMessagesFailed(c.config.QueueName, result.FailedCount)
	c.logger.Info("消費サイクルが完了しました",
		slog.Int("processed", result.ProcessedCount),
		slog.Int("archived", result.ArchivedCount),
		slog.Int("failed", result.FailedCount),
		slog.Int("dead_lettered", result.DeadLettered),
	)
	return result, nil
}

// recordFailure は失敗を集計へ記録し、メッセージへエラーを残す。
// 読み出し回数が上限を超えていたら理由付きでアーカイブする（デッドレター）。
// 上限以内なら何もしない: メッセージはキューに残り、可視性ウィンドウ
// 経過後に再配送される。
func (c *Consumer) recordFailure(ctx context.Context, msg queue.Message, result *Result, bookmarkID int64, reason string) {
	result.FailedCount++
	result.Results = append(result.Results, MessageResult{
		MessageID:  msg.MsgID,
		BookmarkID: bookmarkID,
		Success:    false,
		Archived:   false,
		Error:      reason,
	})

	if err := c.queue.SetLastError(ctx, c.config.QueueName, msg.MsgID, reason); err != nil {
		c.logger.Error("エラーの記録に失敗しました",
			slog.Int64("msg_id", msg.MsgID),
			slog.String("error", err.Error()),
		)
	}

	if msg.ReadCt <= c.config.MaxRetries {
		return
	}

	if err := c.queue.ArchiveWithReason(ctx, c.config.QueueName, msg.MsgID,
		fmt.Sprintf("リトライ上限(%d)を超過しました: %s", c.config.MaxRetries, reason)); err != nil {
		c.logger.Error("デッドレターのアーカイブに失敗しました",
			slog.Int64("msg_id", msg.MsgID),
			slog.String("error", err.Error()),
		)
		return
	}
	result.DeadLettered++
	c.collector.RecordMessagesDeadLettered(c.config.QueueName, 1)
	c.logger.Warn("メッセージをデッドレターへ送りました",
		slog.Int64("msg_id", msg.MsgID),
		slog.Int("read_ct", msg.ReadCt),
		slog.String("reason", reason),
	)
}
