// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/timelessco/recollect-pipeline/internal/model"
)

// URLCategory はURLとカテゴリIDの組を表す。重複判定キーに対応する。
type URLCategory struct {
	URL        string
	CategoryID int64
}

// BookmarkRef はブックマークのIDとURLの組。未分類の存在チェックに使う。
type BookmarkRef struct {
	ID  int64
	URL string
}

// BookmarkRepository はブックマークデータの永続化インターフェース。
type BookmarkRepository interface {
	// FindByID は指定IDかつ指定ユーザー所有のブックマークを取得する。
	// 見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64, userID string) (*model.Bookmark, error)

	// InsertBatch はブックマークを一括挿入し、採番済みIDを含む行を返す。
	InsertBatch(ctx context.Context, bookmarks []*model.Bookmark) ([]*model.Bookmark, error)

	// UpdateScreenshot はスクリーンショットステージの結果を書き戻す。
	// (id, user_id)をキーとした単一行UPDATE。所有チェックは述語に畳み込む。
	// 該当行がない場合はKindNotFoundのエラーを返す。
	UpdateScreenshot(ctx context.Context, id int64, userID, title, description string, meta model.Metadata) error

	// UpdateEnrichment は仕上げステージの結果を書き戻す。
	// (id, user_id)をキーとした単一行UPDATE。
	UpdateEnrichment(ctx context.Context, id int64, userID, description, ogImage string, meta model.Metadata) error

	// ListCategorizedByURLs は指定URL群のうち、指定カテゴリ群のいずれかに
	// 関連付けられて存在する(url, category_id)の組を中間テーブル経由で返す。
	ListCategorizedByURLs(ctx context.Context, userID string, urls []string, categoryIDs []int64) ([]URLCategory, error)

	// ListByURLs は指定URL群に一致するユーザーのブックマークを返す。
	// カテゴリ関連の有無は問わない。未分類チェックの一段目。
	ListByURLs(ctx context.Context, userID string, urls []string) ([]BookmarkRef, error)
}

// CategoryRepository はカテゴリデータの永続化インターフェース。
type CategoryRepository interface {
	// ListByNames は指定名のカテゴリを取得する。名前の照合は大文字小文字を
	// 区別せずに行う（一意制約がlower(category_name)で張られているため）。
	ListByNames(ctx context.Context, userID string, names []string) ([]*model.Category, error)

	// InsertBatch はカテゴリを一括挿入し、採番済みIDを含む行を返す。
	InsertBatch(ctx context.Context, categories []*model.Category) ([]*model.Category, error)
}

// BookmarkCategoryRepository はブックマーク↔カテゴリ関連の永続化インターフェース。
type BookmarkCategoryRepository interface {
	// InsertBatch は関連行を一括挿入する。既存の組は黙ってスキップする。
	InsertBatch(ctx context.Context, relations []model.BookmarkCategory) error

	// ListBookmarkIDsWithCategory は指定ブックマークのうち、1件以上の
	// カテゴリ関連を持つものだけのIDを返す。関連ゼロのブックマークが
	// 「未分類」である、という判定に使う。
	ListBookmarkIDsWithCategory(ctx context.Context, userID string, bookmarkIDs []int64) ([]int64, error)
}

// ProfileRepository はユーザープロファイルの永続化インターフェース。
type ProfileRepository interface {
	// AppendCategoryOrder はカテゴリ並び順リストの末尾に新規カテゴリIDを追加する。
	AppendCategoryOrder(ctx context.Context, userID string, categoryIDs []int64) error
}
