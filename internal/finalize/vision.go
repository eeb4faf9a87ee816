package finalize

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// TextAnalysisService は画像からテキストを抽出するバックエンドの
// インターフェース。OCRとキャプション生成の両方がこの形に収まる。
type TextAnalysisService interface {
	// Analyze は画像URLを解析してテキストを返す。
	// バックエンドがテキストを見つけられなかった場合はnilを返す。
	Analyze(ctx context.Context, imageURL string) (*string, error)
}

// HTTPTextAnalyzer はHTTP API経由のTextAnalysisService実装。
// `POST {imageUrl}` を送り、レスポンスJSONの指定フィールドを読む。
type HTTPTextAnalyzer struct {
	httpClient *http.Client
	logger     *slog.Logger
	endpoint   string
	field      string // レスポンスJSONで結果が入るフィールド名（"text"や"caption"）
	op         string // エラーの操作タグ
}

// NewOCRAnalyzer はOCRバックエンドのクライアントを生成する。
func NewOCRAnalyzer(httpClient *http.Client, logger *slog.Logger, endpoint string) *HTTPTextAnalyzer {
	return &HTTPTextAnalyzer{
		httpClient: httpClient,
		logger:     logger,
		endpoint:   endpoint,
		field:      "text",
		op:         "finalize.ocr",
	}
}

// NewCaptionAnalyzer はキャプションバックエンドのクライアントを生成する。
func NewCaptionAnalyzer(httpClient *http.Client, logger *slog.Logger, endpoint string) *HTTPTextAnalyzer {
	return &HTTPTextAnalyzer{
		httpClient: httpClient,
		logger:     logger,
		endpoint:   endpoint,
		field:      "caption",
		op:         "finalize.caption",
	}
}

// Analyze は画像URLを解析してテキストを返す。
// エンドポイントが未設定の場合は解析なし（nil）として成功する。
func (a *HTTPTextAnalyzer) Analyze(ctx context.Context, imageURL string) (*string, error) {
	if a.endpoint == "" {
		return nil, nil
	}

	payload, err := json.Marshal(map[string]string{"imageUrl": imageURL})
	if err != nil {
		return nil, fmt.Errorf("%s: リクエストのエンコードに失敗しました: %w", a.op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%s: リクエストの作成に失敗しました: %w", a.op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: バックエンドの呼び出しに失敗しました: %w", a.op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: バックエンドがステータス %d を返しました", a.op, resp.StatusCode)
	}

	var response map[string]*string
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("%s: レスポンスのパースに失敗しました: %w", a.op, err)
	}

	result := response[a.field]
	if result == nil || *result == "" {
		return nil, nil
	}
	return result, nil
}
