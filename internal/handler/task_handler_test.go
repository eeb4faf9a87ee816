package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/timelessco/recollect-pipeline/internal/finalize"
	"github.com/timelessco/recollect-pipeline/internal/model"
	"github.com/timelessco/recollect-pipeline/internal/screenshot"
	"github.com/timelessco/recollect-pipeline/internal/worker/consume"
	"github.com/timelessco/recollect-pipeline/internal/worker/dispatch"
)

// --- モック ---

type mockScreenshotService struct {
	captureFn func(ctx context.Context, job model.PrimaryJob) (*screenshot.Patch, error)

	gotJob model.PrimaryJob
}

func (m *mockScreenshotService) CaptureAndStore(ctx context.Context, job model.PrimaryJob) (*screenshot.Patch, error) {
	m.gotJob = job
	if m.captureFn != nil {
		return m.captureFn(ctx, job)
	}
	return &screenshot.Patch{BookmarkID: job.BookmarkID}, nil
}

type mockFinalizeService struct {
	finalizeFn func(ctx context.Context, job model.FinalizeJob) (*finalize.Patch, error)

	gotJob model.FinalizeJob
}

func (m *mockFinalizeService) Finalize(ctx context.Context, job model.FinalizeJob) (*finalize.Patch, error) {
	m.gotJob = job
	if m.finalizeFn != nil {
		return m.finalizeFn(ctx, job)
	}
	return &finalize.Patch{BookmarkID: job.BookmarkID}, nil
}

type mockDispatcher struct {
	result dispatch.Result
	err    error
	calls  int
}

func (m *mockDispatcher) RunOnce(ctx context.Context) (dispatch.Result, error) {
	m.calls++
	return m.result, m.err
}

type mockConsumer struct {
	result consume.Result
	err    error
	calls  int
}

func (m *mockConsumer) RunOnce(ctx context.Context) (consume.Result, error) {
	m.calls++
	return m.result, m.err
}

func newTestTaskHandler() (*TaskHandler, *mockScreenshotService, *mockFinalizeService, *mockDispatcher, *mockConsumer) {
	ss := &mockScreenshotService{}
	fs := &mockFinalizeService{}
	d := &mockDispatcher{}
	c := &mockConsumer{}
	return NewTaskHandler(ss, fs, d, c), ss, fs, d, c
}

// --- テスト ---

func TestTaskHandlerScreenshot(t *testing.T) {
	h, ss, _, _, _ := newTestTaskHandler()

	body := `{"id": 7, "user_id": "user-1", "url": "https://example.com"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/tasks/screenshot", strings.NewReader(body))
	w := httptest.NewRecorder()

	h.Screenshot(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Fatalf("status = %d", w.Result().StatusCode)
	}
	if ss.gotJob.BookmarkID != 7 || ss.gotJob.UserID != "user-1" {
		t.Errorf("job = %+v", ss.gotJob)
	}

	var patch screenshot.Patch
	if err := json.NewDecoder(w.Result().Body).Decode(&patch); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if patch.BookmarkID != 7 {
		t.Errorf("patch.BookmarkID = %d", patch.BookmarkID)
	}
}

func TestTaskHandlerScreenshotValidationError(t *testing.T) {
	h, _, _, _, _ := newTestTaskHandler()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/tasks/screenshot", strings.NewReader("{bad"))
	w := httptest.NewRecorder()

	h.Screenshot(w, req)

	if w.Result().StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusBadRequest)
	}
}

func TestTaskHandlerScreenshotStageError(t *testing.T) {
	h, ss, _, _, _ := newTestTaskHandler()
	ss.captureFn = func(ctx context.Context, job model.PrimaryJob) (*screenshot.Patch, error) {
		return nil, model.NewUpstreamError("screenshot.capture", "レンダリングに失敗しました", nil)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/tasks/screenshot",
		strings.NewReader(`{"id": 7, "user_id": "u", "url": "https://example.com"}`))
	w := httptest.NewRecorder()

	h.Screenshot(w, req)

	if w.Result().StatusCode != http.StatusBadGateway {
		t.Errorf("status = %d, want %d（ステージ失敗は502）", w.Result().StatusCode, http.StatusBadGateway)
	}
}

func TestTaskHandlerFinalize(t *testing.T) {
	h, _, fs, _, _ := newTestTaskHandler()

	body := `{"id": 8, "userId": "user-1", "publicUrl": "https://cdn.example.com/s.jpg"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/tasks/finalize", strings.NewReader(body))
	w := httptest.NewRecorder()

	h.Finalize(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Fatalf("status = %d", w.Result().StatusCode)
	}
	if fs.gotJob.BookmarkID != 8 || fs.gotJob.PublicURL != "https://cdn.example.com/s.jpg" {
		t.Errorf("job = %+v", fs.gotJob)
	}
}

func TestTaskHandlerDispatch(t *testing.T) {
	h, _, _, d, _ := newTestTaskHandler()
	d.result = dispatch.Result{Read: 3, Dispatched: 2, Failed: 1}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/tasks/dispatch", nil)
	w := httptest.NewRecorder()

	h.Dispatch(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Fatalf("status = %d", w.Result().StatusCode)
	}
	if d.calls != 1 {
		t.Errorf("RunOnce calls = %d", d.calls)
	}

	var result dispatch.Result
	if err := json.NewDecoder(w.Result().Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if result.Read != 3 || result.Dispatched != 2 || result.Failed != 1 {
		t.Errorf("result = %+v", result)
	}
}

func TestTaskHandlerConsume(t *testing.T) {
	h, _, _, _, c := newTestTaskHandler()
	c.result = consume.Result{ProcessedCount: 4, ArchivedCount: 4}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/tasks/consume", nil)
	w := httptest.NewRecorder()

	h.Consume(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Fatalf("status = %d", w.Result().StatusCode)
	}
	if c.calls != 1 {
		t.Errorf("RunOnce calls = %d", c.calls)
	}

	var result consume.Result
	if err := json.NewDecoder(w.Result().Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if result.ProcessedCount != 4 || result.ArchivedCount != 4 {
		t.Errorf("result = %+v", result)
	}
}

func TestTaskHandlerConsumeError(t *testing.T) {
	h, _, _, _, c := newTestTaskHandler()
	c.err = model.NewPersistenceError("consume.read", "キューの読み出しに失敗しました", nil)

	w := httptest.NewRecorder()
	h.Consume(w, httptest.NewRequest(http.MethodPost, "/api/v1/tasks/consume", nil))

	if w.Result().StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusInternalServerError)
	}
}
