package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

// PostgresProfileRepo はPostgreSQLを使用したプロファイルリポジトリ。
type PostgresProfileRepo struct {
	db *sql.DB
}

// NewPostgresProfileRepo はPostgresProfileRepoを生成する。
func NewPostgresProfileRepo(db *sql.DB) *PostgresProfileRepo {
	return &PostgresProfileRepo{db: db}
}

// AppendCategoryOrder はカテゴリ並び順リストの末尾に新規カテゴリIDを追加する。
// プロファイル行がなければ作成する。重複IDは追加しない。
func (r *PostgresProfileRepo) AppendCategoryOrder(ctx context.Context, userID string, categoryIDs []int64) error {
	if len(categoryIDs) == 0 {
		return nil
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO profiles (id, category_order)
		 VALUES ($1, $2)
		 ON CONFLICT (id) DO UPDATE
		 SET category_order = profiles.category_order || (
		       SELECT COALESCE(array_agg(c), '{}')
		       FROM unnest($2::bigint[]) AS c
		       WHERE c <> ALL (profiles.category_order)
		     ),
		     updated_at = NOW()`,
		userID, pq.Array(categoryIDs),
	)
	if err != nil {
		return fmt.Errorf("カテゴリ並び順の更新に失敗しました: %w", err)
	}

	return nil
}
