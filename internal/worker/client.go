// Package worker はキュー駆動ワーカーの共通部品を提供する。
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/timelessco/recollect-pipeline/internal/model"
)

// StageClient は内部ステージエンドポイントの呼び出しクライアント。
// ディスパッチャとコンシューマが自プロセス（または水平分割された別
// プロセス）のステージAPIをHTTPで叩くために使う。
type StageClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	baseURL    string
	apiKey     string
}

// NewStageClient はStageClientを生成する。
func NewStageClient(httpClient *http.Client, logger *slog.Logger, baseURL, apiKey string) *StageClient {
	return &StageClient{
		httpClient: httpClient,
		logger:     logger,
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
	}
}

// InvokeScreenshot はスクリーンショットステージを呼び出す。
func (c *StageClient) InvokeScreenshot(ctx context.Context, job model.PrimaryJob) error {
	return c.post(ctx, "/api/v1/tasks/screenshot", job)
}

// InvokeFinalize は仕上げステージを呼び出す。
func (c *StageClient) InvokeFinalize(ctx context.Context, job model.FinalizeJob) error {
	return c.post(ctx, "/api/v1/tasks/finalize", job)
}

// post はJSONボディをPOSTし、200応答だけを成功とみなす。
// 200以外は全てエラーであり、呼び出し元はメッセージをアーカイブしない。
func (c *StageClient) post(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("ステージリクエストのエンコードに失敗しました: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("ステージリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return model.NewUpstreamError("worker.invoke", "ステージの呼び出しに失敗しました", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.Warn("ステージがエラーステータスを返しました",
			slog.String("path", path),
			slog.Int("http_status", resp.StatusCode),
			slog.String("body", string(snippet)),
		)
		return model.NewUpstreamError("worker.invoke",
			fmt.Sprintf("ステージがステータス %d を返しました", resp.StatusCode), nil)
	}

	return nil
}
