package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// maxFieldLength はタイトル・説明文の最大文字数。
// データベースのインデックス対象カラムが膨張しないように切り詰める。
const maxFieldLength = 1300

// TextScrubberService はレンダリングバックエンドが返すタイトル・説明文を
// 保存可能なプレーンテキストに整形するインターフェースを定義する。
// バックエンドの応答はページ由来のマークアップを含みうるため信用しない。
type TextScrubberService interface {
	// Scrub は入力からHTMLタグを全て除去し、エンティティをデコードして
	// 前後の空白を取り除いたうえで最大文字数に切り詰める。
	// 空文字列の入力には空文字列を返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Scrub(raw string) string
}

// textScrubber はTextScrubberServiceの実装。
// bluemondayのStrictPolicyを保持し、スレッドセーフに整形処理を行う。
type textScrubber struct {
	policy *bluemonday.Policy
}

// NewTextScrubber はTextScrubberServiceの新しいインスタンスを生成する。
// StrictPolicyは許可タグを持たないため、script・style・on*イベント属性を
// 含む全てのマークアップがテキストだけを残して除去される。
func NewTextScrubber() *textScrubber {
	return &textScrubber{
		policy: bluemonday.StrictPolicy(),
	}
}

// Scrub は入力をプレーンテキストに整形する。
func (s *textScrubber) Scrub(raw string) string {
	// StrictPolicyはテキストノードをエンティティエスケープして返すため、
	// タグ除去後にデコードして元のテキストへ戻す
	cleaned := html.UnescapeString(s.policy.Sanitize(raw))
	cleaned = strings.TrimSpace(cleaned)

	runes := []rune(cleaned)
	if len(runes) > maxFieldLength {
		return string(runes[:maxFieldLength])
	}
	return cleaned
}
