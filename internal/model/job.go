// Package model はドメインモデルを定義する。
package model

// PrimaryJob は一次エンリッチメントキューを流れるジョブペイロード。
// 取り込みゲートまたは単体のブックマーク追加経路が生成する。
type PrimaryJob struct {
	BookmarkID int64     `json:"id"`
	UserID     string    `json:"user_id"`
	URL        string    `json:"url"`
	OgImage    string    `json:"ogImage,omitempty"`
	MetaData   *Metadata `json:"meta_data,omitempty"`
}

// Valid はペイロードの形状を検証する。
func (j *PrimaryJob) Valid() bool {
	return j.BookmarkID > 0 && j.URL != "" && j.UserID != ""
}

// FinalizeJob は仕上げキューを流れるジョブペイロード。
// スクリーンショットステージの成功経路（またはスクリーンショット不要の
// メディアの場合は直接）が生成する。
type FinalizeJob struct {
	BookmarkID int64  `json:"id"`
	UserID     string `json:"userId"`
	PublicURL  string `json:"publicUrl"`
	FavIcon    string `json:"favIcon,omitempty"`
	MediaType  string `json:"mediaType,omitempty"`
}

// Valid はペイロードの形状を検証する。
// idと対象画像URLの両方が必須。
func (j *FinalizeJob) Valid() bool {
	return j.BookmarkID > 0 && j.UserID != "" && j.PublicURL != ""
}

// EmbeddingJob は検索埋め込みキューを流れるジョブペイロード。
// 挿入イベントと同時にエンキューされる。コンシューマは本コアの範囲外。
type EmbeddingJob struct {
	BookmarkID int64  `json:"id"`
	UserID     string `json:"user_id"`
	URL        string `json:"url"`
	Title      string `json:"title,omitempty"`
}
