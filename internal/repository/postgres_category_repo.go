package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/timelessco/recollect-pipeline/internal/model"
)

// PostgresCategoryRepo はPostgreSQLを使用したカテゴリリポジトリ。
type PostgresCategoryRepo struct {
	db *sql.DB
}

// NewPostgresCategoryRepo はPostgresCategoryRepoを生成する。
func NewPostgresCategoryRepo(db *sql.DB) *PostgresCategoryRepo {
	return &PostgresCategoryRepo{db: db}
}

// ListByNames は指定名のカテゴリを大文字小文字を区別せず取得する。
func (r *PostgresCategoryRepo) ListByNames(ctx context.Context, userID string, names []string) ([]*model.Category, error) {
	if len(names) == 0 {
		return nil, nil
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, category_name, category_slug, icon, icon_color, created_at, updated_at
		 FROM categories
		 WHERE user_id = $1 AND lower(category_name) IN (
		   SELECT lower(n) FROM unnest($2::text[]) AS n
		 )`,
		userID, pq.Array(names),
	)
	if err != nil {
		return nil, fmt.Errorf("カテゴリの検索に失敗しました: %w", err)
	}
	defer rows.Close()

	var categories []*model.Category
	for rows.Next() {
		c := &model.Category{}
		if err := rows.Scan(&c.ID, &c.UserID, &c.CategoryName, &c.CategorySlug, &c.Icon, &c.IconColor, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("カテゴリの読み取りに失敗しました: %w", err)
		}
		categories = append(categories, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("カテゴリの走査に失敗しました: %w", err)
	}

	return categories, nil
}

// InsertBatch はカテゴリを一括挿入し、採番済みIDを含む行を返す。
func (r *PostgresCategoryRepo) InsertBatch(ctx context.Context, categories []*model.Category) ([]*model.Category, error) {
	if len(categories) == 0 {
		return nil, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("トランザクションの開始に失敗しました: %w", err)
	}
	defer tx.Rollback()

	inserted := make([]*model.Category, 0, len(categories))
	for _, c := range categories {
		row := *c
		err := tx.QueryRowContext(ctx,
			`INSERT INTO categories (user_id, category_name, category_slug, icon, icon_color)
			 VALUES ($1, $2, $3, $4, $5)
			 RETURNING id, created_at, updated_at`,
			c.UserID, c.CategoryName, c.CategorySlug, c.Icon, c.IconColor,
		).Scan(&row.ID, &row.CreatedAt, &row.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("カテゴリの挿入に失敗しました: %w", err)
		}
		inserted = append(inserted, &row)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("トランザクションのコミットに失敗しました: %w", err)
	}

	return inserted, nil
}
