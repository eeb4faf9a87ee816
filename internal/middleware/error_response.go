package middleware

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/timelessco/recollect-pipeline/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
type ErrorResponseBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
// すべてのAPIエンドポイントで一貫したエラーレスポンスを提供する。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:    code,
		Message: message,
	})
}

// WritePipelineError はPipelineErrorの分類に応じたステータスコードで
// エラーレスポンスを書き込む。分類できないエラーは500として扱い、
// 詳細はログのみに記録して一般的なメッセージを返す。
func WritePipelineError(w http.ResponseWriter, err error) {
	var pe *model.PipelineError
	if !errors.As(err, &pe) {
		WriteInternalServerError(w)
		return
	}

	switch pe.Kind {
	case model.KindValidation:
		WriteErrorResponse(w, http.StatusBadRequest, "VALIDATION_ERROR", pe.Message)
	case model.KindAuth:
		WriteErrorResponse(w, http.StatusUnauthorized, "UNAUTHORIZED", pe.Message)
	case model.KindNotFound:
		WriteErrorResponse(w, http.StatusNotFound, "NOT_FOUND", pe.Message)
	case model.KindUpstream:
		WriteErrorResponse(w, http.StatusBadGateway, "UPSTREAM_ERROR", pe.Message)
	default:
		WriteInternalServerError(w)
	}
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, "INTERNAL_ERROR", "内部エラーが発生しました。")
}
