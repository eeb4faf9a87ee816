// Package queue は永続メッセージキューのプリミティブを提供する。
// at-least-once配送が前提: readはメッセージを削除せず、可視性ウィンドウの間
// 不可視にするだけで、archiveされない限りウィンドウ経過後に再配送される。
package queue

import (
	"context"
	"encoding/json"
	"time"
)

// Message はキューから読み出したメッセージの封筒を表す。
type Message struct {
	MsgID      int64
	Body       json.RawMessage
	EnqueuedAt time.Time
	// ReadCt はこのメッセージが読み出された累計回数。
	// 再配送上限の判定（デッドレター）に使う。
	ReadCt int
	// LastError はコンシューマが記録した直近の処理エラー。
	LastError string
}

// Queue は永続FIFO風メッセージストアのインターフェース。
type Queue interface {
	// Send はメッセージを1件エンキューし、メッセージIDを返す。
	Send(ctx context.Context, queueName string, body any) (int64, error)

	// SendBatch は複数メッセージを一括エンキューし、メッセージIDの列を返す。
	SendBatch(ctx context.Context, queueName string, bodies []any) ([]int64, error)

	// Read は可視なメッセージを最大n件読み出す。
	// 読み出したメッセージはvisibilitySeconds秒の間不可視になり、
	// その間にarchiveされなければ再び読み出し可能になる。
	// メッセージ間の順序保証はない。
	Read(ctx context.Context, queueName string, n, visibilitySeconds int) ([]Message, error)

	// Archive はメッセージを終端状態にする。アーカイブ後の再配送はない。
	// 処理成功を確認してから呼ぶこと。
	Archive(ctx context.Context, queueName string, msgID int64) error

	// ArchiveWithReason は理由付きでメッセージをアーカイブする。
	// リトライ上限超過によるデッドレター用。
	ArchiveWithReason(ctx context.Context, queueName string, msgID int64, reason string) error

	// SetLastError はメッセージに直近の処理エラーを記録する。
	// デッドレター時の原因調査に使う。アーカイブはしない。
	SetLastError(ctx context.Context, queueName string, msgID int64, lastError string) error
}
