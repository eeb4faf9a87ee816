// Package handler はHTTP APIのハンドラーとルーティングを提供する。
package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/timelessco/recollect-pipeline/internal/ingest"
	"github.com/timelessco/recollect-pipeline/internal/middleware"
)

// maxImportBodySize はインポートリクエストボディの最大サイズ（5MB）。
const maxImportBodySize = 5 * 1024 * 1024

// IngestServiceInterface はブックマークハンドラーが必要とするサービスインターフェース。
type IngestServiceInterface interface {
	// ImportBatch は候補バッチを取り込み、投入件数とスキップ件数を返す。
	ImportBatch(ctx context.Context, userID string, candidates []ingest.Candidate) (ingest.ImportResult, error)
}

// BookmarkHandler はブックマーク取り込みのHTTPハンドラー。
type BookmarkHandler struct {
	service IngestServiceInterface
}

// NewBookmarkHandler はBookmarkHandlerを生成する。
func NewBookmarkHandler(service IngestServiceInterface) *BookmarkHandler {
	return &BookmarkHandler{
		service: service,
	}
}

// importRequest はインポートリクエストのボディ。
type importRequest struct {
	UserID    string             `json:"user_id"`
	Bookmarks []ingest.Candidate `json:"bookmarks"`
}

// Import は候補ブックマークのバッチを取り込む。
// POST /api/v1/bookmarks/import
func (h *BookmarkHandler) Import(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxImportBodySize))
	if err := decoder.Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, "VALIDATION_ERROR", "リクエストボディのパースに失敗しました。")
		return
	}
	if req.UserID == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, "VALIDATION_ERROR", "user_idは必須です。")
		return
	}

	result, err := h.service.ImportBatch(r.Context(), req.UserID, req.Bookmarks)
	if err != nil {
		middleware.WritePipelineError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}
