// Package finalize は仕上げステージを提供する。
// カバー画像のリホスト、知覚ブラーハッシュ・OCR・キャプションの並列解析、
// ファビコン解決をまとめてメタデータへ書き戻す。
package finalize

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// maxFaviconPageSize はファビコン探索で読むHTMLの最大サイズ（1MB）。
const maxFaviconPageSize = 1 * 1024 * 1024

// FaviconResolverService はファビコンURL解決のインターフェース。
type FaviconResolverService interface {
	// Resolve はブックマークのファビコンURLを決定する。
	// 供給済みURLがあれば絶対URLへ正規化して返し、無ければページの
	// HTMLから探索し、それも失敗したらファビコンサービスのURLを返す。
	// 失敗しても空文字列ではなくサービスURLへフォールバックする。
	Resolve(ctx context.Context, pageURL, supplied string) string
}

// FaviconResolver はFaviconResolverServiceの実装。
type FaviconResolver struct {
	httpClient *http.Client
	logger     *slog.Logger
	serviceURL string
}

// NewFaviconResolver はFaviconResolverを生成する。
func NewFaviconResolver(httpClient *http.Client, logger *slog.Logger, serviceURL string) *FaviconResolver {
	return &FaviconResolver{
		httpClient: httpClient,
		logger:     logger,
		serviceURL: serviceURL,
	}
}

// Resolve はブックマークのファビコンURLを決定する。
func (f *FaviconResolver) Resolve(ctx context.Context, pageURL, supplied string) string {
	if supplied != "" {
		if normalized := normalizeFaviconURL(pageURL, supplied); normalized != "" {
			return normalized
		}
	}

	if discovered := f.discover(ctx, pageURL); discovered != "" {
		return discovered
	}

	return f.serviceFallback(pageURL)
}

// normalizeFaviconURL は供給済みのファビコンURLを絶対URLへ正規化する。
// x.comはスキームなしのプロトコル相対URL（//abs.twimg.com/...）を
// 返すため、その場合はhttpsを補う。
func normalizeFaviconURL(pageURL, supplied string) string {
	supplied = strings.TrimSpace(supplied)
	if supplied == "" {
		return ""
	}
	if strings.HasPrefix(supplied, "//") {
		return "https:" + supplied
	}
	if strings.HasPrefix(supplied, "http://") || strings.HasPrefix(supplied, "https://") {
		return supplied
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return ""
	}
	ref, err := url.Parse(supplied)
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}

// discover はページのHTMLからlink rel=iconを探索する。
// 見つからない・取得できない場合は空文字列を返す。
func (f *FaviconResolver) discover(ctx context.Context, pageURL string) string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return ""
	}
	req.Header.Set("Accept", "text/html")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		f.logger.Debug("ファビコン探索: ページ取得に失敗しました",
			slog.String("url", pageURL),
			slog.String("error", err.Error()),
		)
		return ""
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ""
	}

	href := findIconLink(io.LimitReader(resp.Body, maxFaviconPageSize))
	if href == "" {
		return ""
	}
	return normalizeFaviconURL(pageURL, href)
}

// serviceFallback はファビコンサービスのURLを構成する。
func (f *FaviconResolver) serviceFallback(pageURL string) string {
	parsed, err := url.Parse(pageURL)
	if err != nil || parsed.Hostname() == "" {
		return ""
	}
	return fmt.Sprintf("%s?domain=%s&sz=64", f.serviceURL, url.QueryEscape(parsed.Hostname()))
}

// findIconLink はHTMLのhead内からアイコンのlink要素を探す。
// rel="icon"系を優先し、apple-touch-iconも候補にする。
func findIconLink(r io.Reader) string {
	tokenizer := html.NewTokenizer(r)
	var appleTouchIcon string

	for {
		tt := tokenizer.Next()
		switch tt {
		case html.ErrorToken:
			return appleTouchIcon

		case html.StartTagToken, html.SelfClosingTagToken:
			tn, hasAttr := tokenizer.TagName()
			tagName := string(tn)

			if tagName == "body" {
				// bodyに入ったらheadの解析を終了
				return appleTouchIcon
			}
			if tagName != "link" || !hasAttr {
				continue
			}

			var rel, href string
			for {
				key, val, more := tokenizer.TagAttr()
				switch strings.ToLower(string(key)) {
				case "rel":
					rel = strings.ToLower(string(val))
				case "href":
					href = string(val)
				}
				if !more {
					break
				}
			}

			if href == "" {
				continue
			}
			switch rel {
			case "icon", "shortcut icon":
				return href
			case "apple-touch-icon":
				if appleTouchIcon == "" {
					appleTouchIcon = href
				}
			}

		case html.EndTagToken:
			tn, _ := tokenizer.TagName()
			if string(tn) == "head" {
				return appleTouchIcon
			}
		}
	}
}
