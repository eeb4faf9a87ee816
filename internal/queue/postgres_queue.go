package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"
)

// PostgresQueue はPostgreSQLを使用したQueue実装。
// 単一のqueue_messagesテーブルをqueue_nameで区分して使う。
// ReadはFOR UPDATE SKIP LOCKEDで排他的に行い、同時実行される
// コンシューマ同士が同じメッセージを同時に掴むことを防ぐ。
type PostgresQueue struct {
	db *sql.DB
}

// NewPostgresQueue はPostgresQueueを生成する。
func NewPostgresQueue(db *sql.DB) *PostgresQueue {
	return &PostgresQueue{db: db}
}

// Send はメッセージを1件エンキューし、メッセージIDを返す。
func (q *PostgresQueue) Send(ctx context.Context, queueName string, body any) (int64, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("メッセージのエンコードに失敗しました: %w", err)
	}

	var msgID int64
	err = q.db.QueryRowContext(ctx,
		`INSERT INTO queue_messages (queue_name, message) VALUES ($1, $2) RETURNING msg_id`,
		queueName, raw,
	).Scan(&msgID)
	if err != nil {
		return 0, fmt.Errorf("メッセージのエンキューに失敗しました: %w", err)
	}

	return msgID, nil
}

// SendBatch は複数メッセージを一括エンキューし、メッセージIDの列を返す。
// 空のスライスはno-opとして空の結果を返す。
func (q *PostgresQueue) SendBatch(ctx context.Context, queueName string, bodies []any) ([]int64, error) {
	if len(bodies) == 0 {
		return nil, nil
	}

	raws := make([][]byte, 0, len(bodies))
	for _, body := range bodies {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("メッセージのエンコードに失敗しました: %w", err)
		}
		raws = append(raws, raw)
	}

	rows, err := q.db.QueryContext(ctx,
		`INSERT INTO queue_messages (queue_name, message)
		 SELECT $1, jsonb_array_elements($2::jsonb)
		 RETURNING msg_id`,
		queueName, concatJSONArray(raws),
	)
	if err != nil {
		return nil, fmt.Errorf("メッセージの一括エンキューに失敗しました: %w", err)
	}
	defer rows.Close()

	var msgIDs []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("エンキュー結果の読み取りに失敗しました: %w", err)
		}
		msgIDs = append(msgIDs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("エンキュー結果の走査に失敗しました: %w", err)
	}

	return msgIDs, nil
}

// Read は可視なメッセージを最大n件読み出し、visibilitySeconds秒の間不可視にする。
// read_ctをインクリメントするため、再配送回数はメッセージ側に蓄積される。
func (q *PostgresQueue) Read(ctx context.Context, queueName string, n, visibilitySeconds int) ([]Message, error) {
	rows, err := q.db.QueryContext(ctx,
		`WITH candidates AS (
		    SELECT msg_id
		    FROM queue_messages
		    WHERE queue_name = $1
		      AND archived_at IS NULL
		      AND vt <= now()
		    ORDER BY msg_id
		    LIMIT $2
		    FOR UPDATE SKIP LOCKED
		 )
		 UPDATE queue_messages m
		 SET vt = now() + make_interval(secs => $3),
		     read_ct = m.read_ct + 1
		 FROM candidates c
		 WHERE m.msg_id = c.msg_id
		 RETURNING m.msg_id, m.message, m.enqueued_at, m.read_ct, COALESCE(m.last_error, '')`,
		queueName, n, visibilitySeconds,
	)
	if err != nil {
		return nil, fmt.Errorf("キューの読み出しに失敗しました: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.MsgID, &m.Body, &m.EnqueuedAt, &m.ReadCt, &m.LastError); err != nil {
			return nil, fmt.Errorf("キューメッセージの読み取りに失敗しました: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("キューメッセージの走査に失敗しました: %w", err)
	}

	return msgs, nil
}

// Archive はメッセージを終端状態にする。
func (q *PostgresQueue) Archive(ctx context.Context, queueName string, msgID int64) error {
	return q.archive(ctx, queueName, msgID, "")
}

// ArchiveWithReason は理由付きでメッセージをアーカイブする。
func (q *PostgresQueue) ArchiveWithReason(ctx context.Context, queueName string, msgID int64, reason string) error {
	return q.archive(ctx, queueName, msgID, reason)
}

func (q *PostgresQueue) archive(ctx context.Context, queueName string, msgID int64, reason string) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE queue_messages
		 SET archived_at = now(),
		     archive_reason = NULLIF($3, '')
		 WHERE queue_name = $1 AND msg_id = $2 AND archived_at IS NULL`,
		queueName, msgID, reason,
	)
	if err != nil {
		return fmt.Errorf("メッセージのアーカイブに失敗しました: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("アーカイブ結果の確認に失敗しました: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("アーカイブ対象のメッセージが見つかりません: queue=%s msg_id=%d", queueName, msgID)
	}

	return nil
}

// SetLastError はメッセージに直近の処理エラーを記録する。
func (q *PostgresQueue) SetLastError(ctx context.Context, queueName string, msgID int64, lastError string) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE queue_messages SET last_error = $3
		 WHERE queue_name = $1 AND msg_id = $2`,
		queueName, msgID, lastError,
	)
	if err != nil {
		return fmt.Errorf("メッセージエラーの記録に失敗しました: %w", err)
	}
	return nil
}

// PendingCount は未アーカイブのメッセージ数を返す。運用時の点検用。
func (q *PostgresQueue) PendingCount(ctx context.Context, queueNames []string) (int, error) {
	var count int
	err := q.db.QueryRowContext(ctx,
		`SELECT count(*) FROM queue_messages
		 WHERE queue_name = ANY($1) AND archived_at IS NULL`,
		pq.Array(queueNames),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("キュー残量の取得に失敗しました: %w", err)
	}
	return count, nil
}

// concatJSONArray は個別にエンコード済みのJSON値をJSON配列リテラルに連結する。
func concatJSONArray(raws [][]byte) []byte {
	out := make([]byte, 0, 2)
	out = append(out, '[')
	for i, raw := range raws {
		if i > 0 {
			out = append(out, ',')
		}
		out = append(out, raw...)
	}
	out = append(out, ']')
	return out
}
