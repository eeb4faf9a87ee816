// Package model はドメインモデルを定義する。
package model

import "time"

// UnsortedSentinel はインポート元で「未分類」を意味するカテゴリ名。
// この名前のカテゴリは作成せず、category_id = 0として扱う。
const UnsortedSentinel = "Unsorted"

// Category はユーザーが所有する名前付きコレクションを表す。
// カテゴリ名はユーザーごとに大文字小文字を区別せず一意。
type Category struct {
	ID           int64
	UserID       string
	CategoryName string
	CategorySlug string
	Icon         string
	IconColor    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// BookmarkCategory はブックマークとカテゴリの多対多関連1件を表す。
type BookmarkCategory struct {
	BookmarkID int64
	CategoryID int64
	UserID     string
}
