package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/timelessco/recollect-pipeline/internal/model"
	"github.com/timelessco/recollect-pipeline/internal/security"
)

// sanitizeTimeout は候補1件あたりのプローブに許すタイムアウト。
// インポートはバッチ処理のため、1件の遅いホストで全体を待たせない。
const sanitizeTimeout = 5 * time.Second

// browserUserAgent はプローブに使うUser-Agent。
// ボット判定で拒否するサイトがあるため、一般的なブラウザを名乗る。
const browserUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// sanitizeConcurrency はバッチ内で同時にプローブする候補数の上限。
const sanitizeConcurrency = 5

// Sanitizer は挿入前のブックマーク行を検査・補完するインターフェース。
// 到達不能なogImageを持つ行の破棄、メディア種別の推定、
// ファビコンURLの設定を行う。
type Sanitizer interface {
	// Sanitize は行を検査し、生き残った行だけを返す。
	// 行の相対順序は保存される。
	Sanitize(ctx context.Context, rows []*model.Bookmark) []*model.Bookmark
}

// HTTPSanitizer はSSRF防止付きHTTPクライアントでプローブするSanitizer実装。
type HTTPSanitizer struct {
	client            *http.Client
	guard             security.SSRFGuardService
	logger            *slog.Logger
	faviconServiceURL string
}

// NewHTTPSanitizer はHTTPSanitizerを生成する。
// faviconServiceURLはドメインを渡すとアイコンを返すサービスの基底URL。
func NewHTTPSanitizer(guard security.SSRFGuardService, logger *slog.Logger, faviconServiceURL string) *HTTPSanitizer {
	return &HTTPSanitizer{
		client:            guard.NewSafeClient(sanitizeTimeout),
		guard:             guard,
		logger:            logger,
		faviconServiceURL: faviconServiceURL,
	}
}

// Sanitize は行を検査し、生き残った行だけを返す。
// 1件ごとに行うこと:
//  1. URLの静的検証。危険なURLの行は破棄する。
//  2. URLのHEADプローブでContent-Typeを推定し、種別とメタデータに反映する。
//     プローブ失敗は通常のWebページとして扱い、行は破棄しない。
//  3. ogImageがあればHEADで到達性を検証し、到達不能なら行を破棄する。
//  4. ファビコンURLをサービスから構成してメタデータに設定する。
//
// プローブはセマフォで同時数を絞って並列に行う。
func (s *HTTPSanitizer) Sanitize(ctx context.Context, rows []*model.Bookmark) []*model.Bookmark {
	if len(rows) == 0 {
		return nil
	}

	keep := make([]bool, len(rows))
	sem := make(chan struct{}, sanitizeConcurrency)
	var wg sync.WaitGroup

	for i, row := range rows {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, row *model.Bookmark) {
			defer wg.Done()
			defer func() { <-sem }()
			keep[i] = s.sanitizeRow(ctx, row)
		}(i, row)
	}
	wg.Wait()

	survivors := make([]*model.Bookmark, 0, len(rows))
	for i, row := range rows {
		if keep[i] {
			survivors = append(survivors, row)
		}
	}
	return survivors
}

// sanitizeRow は1行を検査・補完する。行を残すべきならtrueを返す。
func (s *HTTPSanitizer) sanitizeRow(ctx context.Context, row *model.Bookmark) bool {
	if err := s.guard.ValidateURL(row.URL); err != nil {
		s.logger.Warn("不正なURLの候補を破棄します",
			slog.String("url", row.URL),
			slog.String("error", err.Error()),
		)
		return false
	}

	mediaType, err := s.probeMediaType(ctx, row.URL)
	if err != nil {
		// プローブ失敗は通常ページ扱い。行は残す。
		s.logger.Debug("URLのプローブに失敗しました",
			slog.String("url", row.URL),
			slog.String("error", err.Error()),
		)
	}
	row.Type = model.TypeFromMediaType(mediaType)
	row.MetaData.MediaType = mediaType

	if row.OgImage != "" {
		if err := s.guard.ValidateURL(row.OgImage); err != nil {
			s.logger.Warn("不正なogImageの候補を破棄します",
				slog.String("url", row.URL),
				slog.String("og_image", row.OgImage),
			)
			return false
		}
		if _, err := s.probeMediaType(ctx, row.OgImage); err != nil {
			s.logger.Warn("到達不能なogImageの候補を破棄します",
				slog.String("url", row.URL),
				slog.String("og_image", row.OgImage),
				slog.String("error", err.Error()),
			)
			return false
		}
	}

	if row.MetaData.FavIcon == "" {
		row.MetaData.FavIcon = s.faviconURL(row.URL)
	}

	return true
}

// probeMediaType はHEADリクエストでContent-Typeを取得する。
func (s *HTTPSanitizer) probeMediaType(ctx context.Context, target string) (string, error) {
	probeCtx, cancel := context.WithTimeout(ctx, sanitizeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodHead, target, nil)
	if err != nil {
		return "", fmt.Errorf("プローブリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("User-Agent", browserUserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("プローブに失敗しました: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("プローブがステータス %d を返しました", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if idx := strings.Index(contentType, ";"); idx >= 0 {
		contentType = contentType[:idx]
	}
	return strings.TrimSpace(contentType), nil
}

// faviconURL はファビコンサービスのURLを構成する。ネットワークアクセスは行わない。
func (s *HTTPSanitizer) faviconURL(pageURL string) string {
	parsed, err := url.Parse(pageURL)
	if err != nil || parsed.Hostname() == "" {
		return ""
	}
	return fmt.Sprintf("%s?domain=%s&sz=64", s.faviconServiceURL, url.QueryEscape(parsed.Hostname()))
}
