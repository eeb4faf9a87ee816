// Package model はドメインモデルを定義する。
package model

import (
	"strings"
	"time"
)

// UncategorizedID は未分類を表すカテゴリID。
// カテゴリに属さないブックマークはcategory_id = 0として扱う。
const UncategorizedID = int64(0)

// Bookmark は保存されたブックマーク1件を表す。
// エンリッチメントパイプラインの処理単位。
type Bookmark struct {
	ID          int64
	UserID      string
	URL         string
	Title       string
	Description string
	Type        BookmarkType
	OgImage     string
	MetaData    Metadata
	// CategoryID はレガシーの単一カテゴリポインタ。0 = 未分類。
	// 新しいインポート経路では bookmark_categories 中間テーブルを使用する。
	CategoryID int64
	SortIndex  int64
	Trash      *time.Time
	InsertedAt time.Time
	UpdatedAt  time.Time
}

// BookmarkType はブックマークの種別を表す。
// メディアスニッフィングの結果から推定される。
type BookmarkType string

const (
	// TypeBookmark は通常のWebページ。
	TypeBookmark BookmarkType = "bookmark"
	// TypeImage は画像URL。
	TypeImage BookmarkType = "image"
	// TypeVideo は動画URL。
	TypeVideo BookmarkType = "video"
	// TypeDocument はPDFなどのドキュメントURL。
	TypeDocument BookmarkType = "document"
	// TypeTweet はツイートURL。
	TypeTweet BookmarkType = "tweet"
)

// TypeFromMediaType はContent-Typeからブックマーク種別を推定する。
// 判定できない場合はTypeBookmarkを返す。
func TypeFromMediaType(mediaType string) BookmarkType {
	switch {
	case mediaType == "":
		return TypeBookmark
	case strings.HasPrefix(mediaType, "image/"):
		return TypeImage
	case strings.HasPrefix(mediaType, "video/"):
		return TypeVideo
	case mediaType == "application/pdf":
		return TypeDocument
	default:
		return TypeBookmark
	}
}

// Metadata はブックマークのmeta_data JSONドキュメントを表す。
// スクリーンショットステージと仕上げステージがそれぞれ自分の所有する
// キーだけをマージして書き戻す。所有外のキーは変更せず引き継ぐこと。
type Metadata struct {
	Screenshot         string  `json:"screenshot,omitempty"`
	CoverImage         string  `json:"coverImage,omitempty"`
	FavIcon            string  `json:"favIcon,omitempty"`
	OgImgBlurURL       string  `json:"ogImgBlurUrl,omitempty"`
	Width              *int    `json:"width,omitempty"`
	Height             *int    `json:"height,omitempty"`
	ImgCaption         *string `json:"img_caption,omitempty"`
	OCR                *string `json:"ocr,omitempty"`
	IsOgImagePreferred bool    `json:"isOgImagePreferred,omitempty"`
	IsPageScreenshot   *bool   `json:"isPageScreenshot,omitempty"`
	MediaType          string  `json:"mediaType,omitempty"`
	IframeAllowed      *bool   `json:"iframeAllowed,omitempty"`
}
