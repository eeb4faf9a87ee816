// Package screenshot はスクリーンショットステージを提供する。
// レンダリングバックエンドでページを画像化し、オブジェクトストレージへ
// 保存してブックマークのメタデータに書き戻す。
package screenshot

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/timelessco/recollect-pipeline/internal/model"
)

// PageCapture はヘッドレスレンダリングの結果を表す。
type PageCapture struct {
	// Image はスクリーンショットのJPEGバイト列。
	Image []byte
	// Title はレンダリング時に取得したページタイトル。空のことがある。
	Title string
	// Description は同じくページ説明文。空のことがある。
	Description string
	// IsPageScreenshot はページ全体のスクリーンショットかどうか。
	IsPageScreenshot bool
}

// Renderer はレンダリングバックエンドのインターフェース。
type Renderer interface {
	// CapturePage はヘッドレスブラウザでページを画像化する。
	CapturePage(ctx context.Context, pageURL string) (*PageCapture, error)

	// CapturePDF はPDFの1ページ目を画像化し、公開URLを返す。
	// PDF経路ではバックエンド側がストレージへ直接保存する。
	CapturePDF(ctx context.Context, pdfURL, userID string) (string, error)
}

// HTTPRenderer はHTTP API経由のRenderer実装。
type HTTPRenderer struct {
	httpClient    *http.Client
	logger        *slog.Logger
	screenshotURL string
	pdfURL        string
}

// NewHTTPRenderer はHTTPRendererを生成する。
func NewHTTPRenderer(httpClient *http.Client, logger *slog.Logger, screenshotURL, pdfURL string) *HTTPRenderer {
	return &HTTPRenderer{
		httpClient:    httpClient,
		logger:        logger,
		screenshotURL: screenshotURL,
		pdfURL:        pdfURL,
	}
}

// CapturePage はヘッドレスブラウザでページを画像化する。
func (r *HTTPRenderer) CapturePage(ctx context.Context, pageURL string) (*PageCapture, error) {
	var response struct {
		Screenshot string `json:"screenshot"`
		MetaData   struct {
			Title            string `json:"title"`
			Description      string `json:"description"`
			IsPageScreenshot bool   `json:"isPageScreenshot"`
		} `json:"metaData"`
	}

	if err := r.post(ctx, r.screenshotURL, map[string]string{"url": pageURL}, &response); err != nil {
		return nil, err
	}
	if response.Screenshot == "" {
		return nil, model.NewUpstreamError("screenshot.render", "バックエンドが空のスクリーンショットを返しました", nil)
	}

	image, err := base64.StdEncoding.DecodeString(response.Screenshot)
	if err != nil {
		return nil, model.NewUpstreamError("screenshot.render", "スクリーンショットのデコードに失敗しました", err)
	}

	return &PageCapture{
		Image:            image,
		Title:            response.MetaData.Title,
		Description:      response.MetaData.Description,
		IsPageScreenshot: response.MetaData.IsPageScreenshot,
	}, nil
}

// CapturePDF はPDFの1ページ目を画像化し、公開URLを返す。
func (r *HTTPRenderer) CapturePDF(ctx context.Context, pdfURL, userID string) (string, error) {
	var response struct {
		PublicURL string `json:"publicUrl"`
	}

	payload := map[string]string{"url": pdfURL, "userId": userID}
	if err := r.post(ctx, r.pdfURL, payload, &response); err != nil {
		return "", err
	}
	if response.PublicURL == "" {
		return "", model.NewUpstreamError("screenshot.pdf", "バックエンドが空の公開URLを返しました", nil)
	}

	return response.PublicURL, nil
}

// post はJSONボディをPOSTし、200応答をデコードする。
func (r *HTTPRenderer) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return model.NewUpstreamError("screenshot.render", "リクエストのエンコードに失敗しました", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return model.NewUpstreamError("screenshot.render", "リクエストの作成に失敗しました", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		r.logger.Error("レンダリングバックエンドの呼び出しに失敗しました",
			slog.String("endpoint", endpoint),
			slog.String("error", err.Error()),
		)
		return model.NewUpstreamError("screenshot.render", "レンダリングバックエンドの呼び出しに失敗しました", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		r.logger.Error("レンダリングバックエンドがエラーステータスを返しました",
			slog.String("endpoint", endpoint),
			slog.Int("http_status", resp.StatusCode),
			slog.String("body", string(snippet)),
		)
		return model.NewUpstreamError("screenshot.render",
			fmt.Sprintf("レンダリングバックエンドがステータス %d を返しました", resp.StatusCode), nil)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return model.NewUpstreamError("screenshot.render", "レスポンスのパースに失敗しました", err)
	}
	return nil
}
