// Package ingest はブックマークの取り込みと重複排除ゲートを提供する。
// 候補バッチの検証、カテゴリ解決、三段階の重複排除、サニタイズ、
// 挿入とエンリッチメントジョブの投入までを1つのユースケースとして束ねる。
package ingest

import (
	"strings"

	"github.com/timelessco/recollect-pipeline/internal/model"
)

// Candidate はインポートされる候補ブックマーク1件を表す。
type Candidate struct {
	URL          string `json:"url"`
	Title        string `json:"title"`
	Description  string `json:"description"`
	OgImage      string `json:"ogImage"`
	CategoryName string `json:"category_name"`
}

// Valid は候補が最低限の形を満たしているかを返す。
// URLが空の候補は取り込めない。
func (c Candidate) Valid() bool {
	return strings.TrimSpace(c.URL) != ""
}

// Uncategorized はカテゴリ名が「未分類」を意味するかを返す。
// 空文字列とセンチネル名（大文字小文字を区別しない）の両方を未分類とみなす。
func (c Candidate) Uncategorized() bool {
	name := strings.TrimSpace(c.CategoryName)
	return name == "" || strings.EqualFold(name, model.UnsortedSentinel)
}

// ImportResult はImportBatchの結果を表す。
// Queuedは挿入されエンリッチメントが投入された件数、
// Skippedは重複またはサニタイズで落ちた件数。
type ImportResult struct {
	Queued  int `json:"queued"`
	Skipped int `json:"skipped"`
}
