package storage

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

// HTTPStorage はHTTP API経由のオブジェクトストレージクライアント。
// Supabase Storage互換のエンドポイントを想定している。
type HTTPStorage struct {
	httpClient *http.Client
	logger     *slog.Logger
	endpoint   string // 例: https://xyz.supabase.co/storage/v1
	bucket     string
	publicURL  string // 公開URL基底。空ならendpointから組み立てる
	accessKey  string
}

// NewHTTPStorage はHTTPStorageを生成する。
func NewHTTPStorage(httpClient *http.Client, logger *slog.Logger, endpoint, bucket, publicURL, accessKey string) *HTTPStorage {
	return &HTTPStorage{
		httpClient: httpClient,
		logger:     logger,
		endpoint:   strings.TrimRight(endpoint, "/"),
		bucket:     bucket,
		publicURL:  strings.TrimRight(publicURL, "/"),
		accessKey:  accessKey,
	}
}

// UploadObject はオブジェクトをアップロードする。
// x-upsertヘッダーにより同一パスへの再アップロードは上書きになる。
func (s *HTTPStorage) UploadObject(ctx context.Context, path, contentType string, data []byte) error {
	uploadURL := fmt.Sprintf("%s/object/%s/%s", s.endpoint, s.bucket, strings.TrimLeft(path, "/"))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, bytes.NewReader(data))
	if err != nil {
		return model.NewStorageError("storage.upload", "アップロードリクエストの作成に失敗しました", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+s.accessKey)
	req.Header.Set("x-upsert", "true")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.logger.Error("オブジェクトのアップロードに失敗しました",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return model.NewStorageError("storage.upload", "オブジェクトのアップロードに失敗しました", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		s.logger.Error("ストレージがエラーステータスを返しました",
			slog.String("path", path),
			slog.Int("http_status", resp.StatusCode),
			slog.String("body", string(body)),
		)
		return model.NewStorageError("storage.upload",
			fmt.Sprintf("ストレージがステータス %d を返しました", resp.StatusCode), nil)
	}

	return nil
}

// PublicURL はオブジェクトの公開URLを返す。
func (s *HTTPStorage) PublicURL(path string) string {
	path = strings.TrimLeft(path, "/")
	if s.publicURL != "" {
		return fmt.Sprintf("%s/%s/%s", s.publicURL, s.bucket, path)
	}
	return fmt.Sprintf("%s/object/public/%s/%s", s.endpoint, s.bucket, path)
}

// CreateSignedUploadURL は期限付きアップロードURLを発行する。
func (s *HTTPStorage) CreateSignedUploadURL(ctx context.Context, path string) (string, error) {
	signURL := fmt.Sprintf("%s/object/upload/sign/%s/%s", s.endpoint, s.bucket, strings.TrimLeft(path, "/"))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, signURL, nil)
	if err != nil {
		return "", model.NewStorageError("storage.sign", "署名リクエストの作成に失敗しました", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.accessKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", model.NewStorageError("storage.sign", "署名URLの発行に失敗しました", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", model.NewStorageError("storage.sign",
			fmt.Sprintf("ストレージがステータス %d を返しました", resp.StatusCode), nil)
	}

	var signed struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&signed); err != nil {
		return "", model.NewStorageError("storage.sign", "署名レスポンスのパースに失敗しました", err)
	}
	if signed.URL == "" {
		return "", model.NewStorageError("storage.sign", "署名URLが空です", nil)
	}

	// レスポンスのurlはストレージAPI基底からの相対パス
	if strings.HasPrefix(signed.URL, "http://") || strings.HasPrefix(signed.URL, "https://") {
		return signed.URL, nil
	}
	return s.endpoint + "/" + strings.TrimLeft(signed.URL, "/"), nil
}
