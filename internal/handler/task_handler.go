package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/timelessco/recollect-pipeline/internal/finalize"
	"github.com/timelessco/recollect-pipeline/internal/middleware"
	"github.com/timelessco/recollect-pipeline/internal/model"
	"github.com/timelessco/recollect-pipeline/internal/screenshot"
	"github.com/timelessco/recollect-pipeline/internal/worker/consume"
	"github.com/timelessco/recollect-pipeline/internal/worker/dispatch"
)

// ScreenshotServiceInterface はタスクハンドラーが必要とする
// スクリーンショットステージのインターフェース。
type ScreenshotServiceInterface interface {
	CaptureAndStore(ctx context.Context, job model.PrimaryJob) (*screenshot.Patch, error)
}

// FinalizeServiceInterface はタスクハンドラーが必要とする
// 仕上げステージのインターフェース。
type FinalizeServiceInterface interface {
	Finalize(ctx context.Context, job model.FinalizeJob) (*finalize.Patch, error)
}

// DispatcherInterface はディスパッチサイクルを1回実行するインターフェース。
type DispatcherInterface interface {
	RunOnce(ctx context.Context) (dispatch.Result, error)
}

// ConsumerInterface は消費サイクルを1回実行するインターフェース。
type ConsumerInterface interface {
	RunOnce(ctx context.Context) (consume.Result, error)
}

// TaskHandler はステージ実行とワーカーティックのHTTPハンドラー。
// これらのエンドポイントはディスパッチャ/コンシューマまたは外部
// スケジューラからのみ呼ばれる想定で、全てAPIキー認証の内側に置く。
type TaskHandler struct {
	screenshotService ScreenshotServiceInterface
	finalizeService   FinalizeServiceInterface
	dispatcher        DispatcherInterface
	consumer          ConsumerInterface
}

// NewTaskHandler はTaskHandlerを生成する。
func NewTaskHandler(
	screenshotService ScreenshotServiceInterface,
	finalizeService FinalizeServiceInterface,
	dispatcher DispatcherInterface,
	consumer ConsumerInterface,
) *TaskHandler {
	return &TaskHandler{
		screenshotService: screenshotService,
		finalizeService:   finalizeService,
		dispatcher:        dispatcher,
		consumer:          consumer,
	}
}

// Screenshot はスクリーンショットステージを実行する。
// POST /api/v1/tasks/screenshot
func (h *TaskHandler) Screenshot(w http.ResponseWriter, r *http.Request) {
	var job model.PrimaryJob
	if err := json.NewDecoder(r.Body).Decode(&job); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, "VALIDATION_ERROR", "リクエストボディのパースに失敗しました。")
		return
	}

	patch, err := h.screenshotService.CaptureAndStore(r.Context(), job)
	if err != nil {
		middleware.WritePipelineError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(patch)
}

// Finalize は仕上げステージを実行する。
// POST /api/v1/tasks/finalize
func (h *TaskHandler) Finalize(w http.ResponseWriter, r *http.Request) {
	var job model.FinalizeJob
	if err := json.NewDecoder(r.Body).Decode(&job); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, "VALIDATION_ERROR", "リクエストボディのパースに失敗しました。")
		return
	}

	patch, err := h.finalizeService.Finalize(r.Context(), job)
	if err != nil {
		middleware.WritePipelineError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(patch)
}

// Dispatch はディスパッチサイクルを1回実行する。
// 外部スケジューラからのトリガー用。冪等で、多重実行に対して安全。
// POST /api/v1/tasks/dispatch
func (h *TaskHandler) Dispatch(w http.ResponseWriter, r *http.Request) {
	result, err := h.dispatcher.RunOnce(r.Context())
	if err != nil {
		middleware.WritePipelineError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// Consume は消費サイクルを1回実行する。
// 外部スケジューラからのトリガー用。冪等で、多重実行に対して安全。
// POST /api/v1/tasks/consume
func (h *TaskHandler) Consume(w http.ResponseWriter, r *http.Request) {
	result, err := h.consumer.RunOnce(r.Context())
	if err != nil {
		middleware.WritePipelineError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}
