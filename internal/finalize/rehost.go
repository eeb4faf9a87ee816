package finalize

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/timelessco/recollect-pipeline/internal/storage"
)

// RehostService はリモート画像を自前ストレージへ移すインターフェース。
type RehostService interface {
	// Rehost はリモート画像を取得してストレージへ保存し、公開URLを返す。
	// 取得・保存のどの段階で失敗しても元のリモートURLへフォールバックする
	// （画像の可用性は段階的に劣化させ、ステージ全体は失敗させない）。
	// 戻り値の2番目はリホストに成功したかどうか。
	Rehost(ctx context.Context, imageURL, userID string) (string, bool)
}

// Rehoster はRehostServiceの実装。
type Rehoster struct {
	httpClient    *http.Client
	objectStorage storage.ObjectStorage
	logger        *slog.Logger
}

// NewRehoster はRehosterを生成する。
func NewRehoster(httpClient *http.Client, objectStorage storage.ObjectStorage, logger *slog.Logger) *Rehoster {
	return &Rehoster{
		httpClient:    httpClient,
		objectStorage: objectStorage,
		logger:        logger,
	}
}

// Rehost はリモート画像を取得してストレージへ保存し、公開URLを返す。
func (r *Rehoster) Rehost(ctx context.Context, imageURL, userID string) (string, bool) {
	data, contentType, err := r.fetch(ctx, imageURL)
	if err != nil {
		r.logger.Warn("画像のリホストに失敗しました。元のURLを使用します",
			slog.String("image_url", imageURL),
			slog.String("error", err.Error()),
		)
		return imageURL, false
	}

	path := rehostPath(userID, contentType)
	if err := r.objectStorage.UploadObject(ctx, path, contentType, data); err != nil {
		r.logger.Warn("リホスト画像のアップロードに失敗しました。元のURLを使用します",
			slog.String("image_url", imageURL),
			slog.String("error", err.Error()),
		)
		return imageURL, false
	}

	return r.objectStorage.PublicURL(path), true
}

// fetch は画像バイト列とContent-Typeをサイズ上限付きで取得する。
func (r *Rehoster) fetch(ctx context.Context, imageURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("画像リクエストの作成に失敗しました: %w", err)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("画像の取得に失敗しました: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("画像の取得がステータス %d を返しました", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAnalysisImageSize+1))
	if err != nil {
		return nil, "", fmt.Errorf("画像の読み取りに失敗しました: %w", err)
	}
	if int64(len(data)) > maxAnalysisImageSize {
		return nil, "", fmt.Errorf("画像がサイズ上限を超えています")
	}

	contentType := resp.Header.Get("Content-Type")
	if idx := strings.Index(contentType, ";"); idx >= 0 {
		contentType = contentType[:idx]
	}
	contentType = strings.TrimSpace(contentType)
	if contentType == "" {
		contentType = "image/jpeg"
	}
	return data, contentType, nil
}

// rehostPath はリホスト画像の保存先パスを生成する。
func rehostPath(userID, contentType string) string {
	ext := ".jpg"
	switch contentType {
	case "image/png":
		ext = ".png"
	case "image/gif":
		ext = ".gif"
	case "image/webp":
		ext = ".webp"
	}
	return fmt.Sprintf("rehosted/%s/img-%s%s", userID, uuid.NewString(), ext)
}
