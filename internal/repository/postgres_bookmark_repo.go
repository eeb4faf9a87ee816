package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"github.com/timelessco/recollect-pipeline/internal/model"
)

// PostgresBookmarkRepo はPostgreSQLを使用したブックマークリポジトリ。
type PostgresBookmarkRepo struct {
	db *sql.DB
}

// NewPostgresBookmarkRepo はPostgresBookmarkRepoを生成する。
func NewPostgresBookmarkRepo(db *sql.DB) *PostgresBookmarkRepo {
	return &PostgresBookmarkRepo{db: db}
}

// FindByID は指定IDかつ指定ユーザー所有のブックマークを取得する。
// 見つからない場合はnilを返す。
func (r *PostgresBookmarkRepo) FindByID(ctx context.Context, id int64, userID string) (*model.Bookmark, error) {
	bookmark := &model.Bookmark{}
	var trash sql.NullTime
	var metaRaw []byte

	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, url, title, description, type, og_image, meta_data,
		        category_id, sort_index, trash, inserted_at, updated_at
		 FROM bookmarks WHERE id = $1 AND user_id = $2`,
		id, userID,
	).Scan(
		&bookmark.ID, &bookmark.UserID, &bookmark.URL, &bookmark.Title,
		&bookmark.Description, &bookmark.Type, &bookmark.OgImage, &metaRaw,
		&bookmark.CategoryID, &bookmark.SortIndex, &trash,
		&bookmark.InsertedAt, &bookmark.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ブックマークの取得に失敗しました: %w", err)
	}

	if trash.Valid {
		bookmark.Trash = &trash.Time
	}
	if err := unmarshalMetadata(metaRaw, &bookmark.MetaData); err != nil {
		return nil, err
	}

	return bookmark, nil
}

// InsertBatch はブックマークを一括挿入し、採番済みIDを含む行を返す。
// 単一トランザクション内で1行ずつINSERTし、どれか1件でも失敗したら
// 全体をロールバックする。
func (r *PostgresBookmarkRepo) InsertBatch(ctx context.Context, bookmarks []*model.Bookmark) ([]*model.Bookmark, error) {
	if len(bookmarks) == 0 {
		return nil, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("トランザクションの開始に失敗しました: %w", err)
	}
	defer tx.Rollback()

	inserted := make([]*model.Bookmark, 0, len(bookmarks))
	for _, b := range bookmarks {
		metaRaw, err := json.Marshal(b.MetaData)
		if err != nil {
			return nil, fmt.Errorf("メタデータのシリアライズに失敗しました: %w", err)
		}

		row := *b
		err = tx.QueryRowContext(ctx,
			`INSERT INTO bookmarks (user_id, url, title, description, type, og_image,
			                        meta_data, category_id, sort_index)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			 RETURNING id, inserted_at, updated_at`,
			b.UserID, b.URL, b.Title, b.Description,
			b.Type, b.OgImage, metaRaw, b.CategoryID, b.SortIndex,
		).Scan(&row.ID, &row.InsertedAt, &row.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("ブックマークの挿入に失敗しました: %w", err)
		}
		inserted = append(inserted, &row)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("トランザクションのコミットに失敗しました: %w", err)
	}

	return inserted, nil
}

// UpdateScreenshot はスクリーンショットステージの結果を書き戻す。
func (r *PostgresBookmarkRepo) UpdateScreenshot(ctx context.Context, id int64, userID, title, description string, meta model.Metadata) error {
	metaRaw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("メタデータのシリアライズに失敗しました: %w", err)
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE bookmarks
		 SET title = $3, description = $4, meta_data = $5, updated_at = NOW()
		 WHERE id = $1 AND user_id = $2`,
		id, userID, title, description, metaRaw,
	)
	if err != nil {
		return fmt.Errorf("ブックマークの更新に失敗しました: %w", err)
	}

	return requireRowAffected(result, id)
}

// UpdateEnrichment は仕上げステージの結果を書き戻す。
func (r *PostgresBookmarkRepo) UpdateEnrichment(ctx context.Context, id int64, userID, description, ogImage string, meta model.Metadata) error {
	metaRaw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("メタデータのシリアライズに失敗しました: %w", err)
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE bookmarks
		 SET description = $3, og_image = $4, meta_data = $5, updated_at = NOW()
		 WHERE id = $1 AND user_id = $2`,
		id, userID, description, ogImage, metaRaw,
	)
	if err != nil {
		return fmt.Errorf("ブックマークの更新に失敗しました: %w", err)
	}

	return requireRowAffected(result, id)
}

// ListCategorizedByURLs は指定URL群のうち、指定カテゴリ群のいずれかに
// 関連付けられて存在する(url, category_id)の組を返す。
func (r *PostgresBookmarkRepo) ListCategorizedByURLs(ctx context.Context, userID string, urls []string, categoryIDs []int64) ([]URLCategory, error) {
	if len(urls) == 0 || len(categoryIDs) == 0 {
		return nil, nil
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT b.url, bc.category_id
		 FROM bookmarks b
		 INNER JOIN bookmark_categories bc ON bc.bookmark_id = b.id AND bc.user_id = b.user_id
		 WHERE b.user_id = $1 AND b.url = ANY($2) AND bc.category_id = ANY($3)
		   AND b.trash IS NULL`,
		userID, pq.Array(urls), pq.Array(categoryIDs),
	)
	if err != nil {
		return nil, fmt.Errorf("既存ブックマークの検索に失敗しました: %w", err)
	}
	defer rows.Close()

	var found []URLCategory
	for rows.Next() {
		var uc URLCategory
		if err := rows.Scan(&uc.URL, &uc.CategoryID); err != nil {
			return nil, fmt.Errorf("既存ブックマークの読み取りに失敗しました: %w", err)
		}
		found = append(found, uc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("既存ブックマークの走査に失敗しました: %w", err)
	}

	return found, nil
}

// ListByURLs は指定URL群に一致するユーザーのブックマークを返す。
func (r *PostgresBookmarkRepo) ListByURLs(ctx context.Context, userID string, urls []string) ([]BookmarkRef, error) {
	if len(urls) == 0 {
		return nil, nil
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, url FROM bookmarks
		 WHERE user_id = $1 AND url = ANY($2) AND trash IS NULL`,
		userID, pq.Array(urls),
	)
	if err != nil {
		return nil, fmt.Errorf("既存ブックマークの検索に失敗しました: %w", err)
	}
	defer rows.Close()

	var refs []BookmarkRef
	for rows.Next() {
		var ref BookmarkRef
		if err := rows.Scan(&ref.ID, &ref.URL); err != nil {
			return nil, fmt.Errorf("既存ブックマークの読み取りに失敗しました: %w", err)
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("既存ブックマークの走査に失敗しました: %w", err)
	}

	return refs, nil
}

// requireRowAffected はUPDATEが1行に当たったことを検証する。
// (id, user_id)の組に該当行がない場合、所有者不一致か削除済みとみなす。
func requireRowAffected(result sql.Result, id int64) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("更新結果の確認に失敗しました: %w", err)
	}
	if affected == 0 {
		return model.NewNotFoundError("repository.bookmark", fmt.Sprintf("ブックマークが見つかりません: id=%d", id))
	}
	return nil
}

func unmarshalMetadata(raw []byte, meta *model.Metadata) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, meta); err != nil {
		return fmt.Errorf("メタデータのパースに失敗しました: %w", err)
	}
	return nil
}
