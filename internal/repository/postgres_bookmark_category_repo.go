package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/timelessco/recollect-pipeline/internal/model"
)

// PostgresBookmarkCategoryRepo はPostgreSQLを使用した
// ブックマーク↔カテゴリ関連リポジトリ。
type PostgresBookmarkCategoryRepo struct {
	db *sql.DB
}

// NewPostgresBookmarkCategoryRepo はPostgresBookmarkCategoryRepoを生成する。
func NewPostgresBookmarkCategoryRepo(db *sql.DB) *PostgresBookmarkCategoryRepo {
	return &PostgresBookmarkCategoryRepo{db: db}
}

// InsertBatch は関連行を一括挿入する。既存の組はON CONFLICTでスキップする。
func (r *PostgresBookmarkCategoryRepo) InsertBatch(ctx context.Context, relations []model.BookmarkCategory) error {
	if len(relations) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクションの開始に失敗しました: %w", err)
	}
	defer tx.Rollback()

	for _, rel := range relations {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO bookmark_categories (bookmark_id, category_id, user_id)
			 VALUES ($1, $2, $3)
			 ON CONFLICT DO NOTHING`,
			rel.BookmarkID, rel.CategoryID, rel.UserID,
		)
		if err != nil {
			return fmt.Errorf("ブックマークカテゴリ関連の挿入に失敗しました: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("トランザクションのコミットに失敗しました: %w", err)
	}

	return nil
}

// ListBookmarkIDsWithCategory は指定ブックマークのうち、1件以上の
// カテゴリ関連を持つものだけのIDを返す。
func (r *PostgresBookmarkCategoryRepo) ListBookmarkIDsWithCategory(ctx context.Context, userID string, bookmarkIDs []int64) ([]int64, error) {
	if len(bookmarkIDs) == 0 {
		return nil, nil
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT DISTINCT bookmark_id FROM bookmark_categories
		 WHERE user_id = $1 AND bookmark_id = ANY($2)`,
		userID, pq.Array(bookmarkIDs),
	)
	if err != nil {
		return nil, fmt.Errorf("ブックマークカテゴリ関連の検索に失敗しました: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("ブックマークカテゴリ関連の読み取りに失敗しました: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ブックマークカテゴリ関連の走査に失敗しました: %w", err)
	}

	return ids, nil
}
