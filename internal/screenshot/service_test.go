package screenshot

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/timelessco/recollect-pipeline/internal/model"
	"github.com/timelessco/recollect-pipeline/internal/queue"
	"github.com/timelessco/recollect-pipeline/internal/repository"
)

// --- モック ---

type mockBookmarkRepo struct {
	findByIDFn func(ctx context.Context, id int64, userID string) (*model.Bookmark, error)

	updatedTitle       string
	updatedDescription string
	updatedMeta        model.Metadata
	updateErr          error
	updateCalled       bool
}

func (m *mockBookmarkRepo) FindByID(ctx context.Context, id int64, userID string) (*model.Bookmark, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id, userID)
	}
	return &model.Bookmark{ID: id, UserID: userID, URL: "https://example.com"}, nil
}
func (m *mockBookmarkRepo) InsertBatch(ctx context.Context, bookmarks []*model.Bookmark) ([]*model.Bookmark, error) {
	return nil, nil
}
func (m *mockBookmarkRepo) UpdateScreenshot(ctx context.Context, id int64, userID, title, description string, meta model.Metadata) error {
	m.updateCalled = true
	m.updatedTitle = title
	m.updatedDescription = description
	m.updatedMeta = meta
	return m.updateErr
}
func (m *mockBookmarkRepo) UpdateEnrichment(ctx context.Context, id int64, userID, description, ogImage string, meta model.Metadata) error {
	return nil
}
func (m *mockBookmarkRepo) ListCategorizedByURLs(ctx context.Context, userID string, urls []string, categoryIDs []int64) ([]repository.URLCategory, error) {
	return nil, nil
}
func (m *mockBookmarkRepo) ListByURLs(ctx context.Context, userID string, urls []string) ([]repository.BookmarkRef, error) {
	return nil, nil
}

type mockRenderer struct {
	capturePageFn func(ctx context.Context, pageURL string) (*PageCapture, error)
	capturePDFFn  func(ctx context.Context, pdfURL, userID string) (string, error)

	pageCalls int
	pdfCalls  int
}

func (m *mockRenderer) CapturePage(ctx context.Context, pageURL string) (*PageCapture, error) {
	m.pageCalls++
	if m.capturePageFn != nil {
		return m.capturePageFn(ctx, pageURL)
	}
	return &PageCapture{Image: []byte("jpeg-bytes"), IsPageScreenshot: true}, nil
}
func (m *mockRenderer) CapturePDF(ctx context.Context, pdfURL, userID string) (string, error) {
	m.pdfCalls++
	if m.capturePDFFn != nil {
		return m.capturePDFFn(ctx, pdfURL, userID)
	}
	return "https://cdn.example.com/pdf-cover.jpg", nil
}

type mockStorage struct {
	uploadErr error

	uploadedPath        string
	uploadedContentType string
	uploadedData        []byte
}

func (m *mockStorage) UploadObject(ctx context.Context, path, contentType string, data []byte) error {
	m.uploadedPath = path
	m.uploadedContentType = contentType
	m.uploadedData = data
	return m.uploadErr
}
func (m *mockStorage) PublicURL(path string) string {
	return "https://cdn.example.com/" + path
}
func (m *mockStorage) CreateSignedUploadURL(ctx context.Context, path string) (string, error) {
	return "", nil
}

type mockQueue struct {
	sendErr error

	sentQueue string
	sentBody  any
}

func (m *mockQueue) Send(ctx context.Context, queueName string, body any) (int64, error) {
	m.sentQueue = queueName
	m.sentBody = body
	return 1, m.sendErr
}
func (m *mockQueue) SendBatch(ctx context.Context, queueName string, bodies []any) ([]int64, error) {
	return nil, nil
}
func (m *mockQueue) Read(ctx context.Context, queueName string, n, visibilitySeconds int) ([]queue.Message, error) {
	return nil, nil
}
func (m *mockQueue) Archive(ctx context.Context, queueName string, msgID int64) error {
	return nil
}
func (m *mockQueue) ArchiveWithReason(ctx context.Context, queueName string, msgID int64, reason string) error {
	return nil
}
func (m *mockQueue) SetLastError(ctx context.Context, queueName string, msgID int64, lastError string) error {
	return nil
}

// passthroughScrubber は入力をそのまま返すスクラバー。
type passthroughScrubber struct{}

func (passthroughScrubber) Scrub(raw string) string {
	return strings.TrimSpace(raw)
}

type nopCollector struct{}

func (nopCollector) RecordImportQueued(count int)                       {}
func (nopCollector) RecordImportSkipped(count int)                      {}
func (nopCollector) RecordStageSuccess(stage string)                    {}
func (nopCollector) RecordStageFailure(stage string, kind string)       {}
func (nopCollector) RecordStageLatency(stage string, d time.Duration)   {}
func (nopCollector) RecordMessagesProcessed(queue string, count int)    {}
func (nopCollector) RecordMessagesArchived(queue string, count int)     {}
func (nopCollector) RecordMessagesFailed(queue string, count int)       {}
func (nopCollector) RecordMessagesDeadLettered(queue string, count int) {}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

type stageDeps struct {
	repo     *mockBookmarkRepo
	renderer *mockRenderer
	storage  *mockStorage
	queue    *mockQueue
}

func newStageDeps() *stageDeps {
	return &stageDeps{
		repo:     &mockBookmarkRepo{},
		renderer: &mockRenderer{},
		storage:  &mockStorage{},
		queue:    &mockQueue{},
	}
}

func newTestService(deps *stageDeps) *Service {
	return NewService(
		deps.repo, deps.renderer, deps.storage, deps.queue,
		passthroughScrubber{}, nopCollector{}, discardLogger(), "finalize",
	)
}

func validJob() model.PrimaryJob {
	return model.PrimaryJob{BookmarkID: 1, UserID: "user-1", URL: "https://example.com"}
}

// --- CaptureAndStore ---

func TestCaptureAndStore_InvalidJob_ReturnsValidationError(t *testing.T) {
	svc := newTestService(newStageDeps())

	_, err := svc.CaptureAndStore(context.Background(), model.PrimaryJob{})
	if err == nil {
		t.Fatal("expected error for invalid job")
	}
	if model.KindOf(err) != model.KindValidation {
		t.Errorf("error kind = %q, want %q", model.KindOf(err), model.KindValidation)
	}
}

func TestCaptureAndStore_PagePath_UploadsAndUpdates(t *testing.T) {
	deps := newStageDeps()
	svc := newTestService(deps)

	patch, err := svc.CaptureAndStore(context.Background(), validJob())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if deps.renderer.pageCalls != 1 || deps.renderer.pdfCalls != 0 {
		t.Errorf("renderer calls = page:%d pdf:%d, want page:1 pdf:0", deps.renderer.pageCalls, deps.renderer.pdfCalls)
	}
	if !strings.HasPrefix(deps.storage.uploadedPath, "screenshots/user-1/img-") {
		t.Errorf("uploaded path = %q, want user-scoped screenshot path", deps.storage.uploadedPath)
	}
	if deps.storage.uploadedContentType != "image/jpeg" {
		t.Errorf("content type = %q, want image/jpeg", deps.storage.uploadedContentType)
	}

	wantURL := "https://cdn.example.com/" + deps.storage.uploadedPath
	if patch.MetaData.Screenshot != wantURL {
		t.Errorf("Screenshot = %q, want %q", patch.MetaData.Screenshot, wantURL)
	}
	if patch.MetaData.IsPageScreenshot == nil || !*patch.MetaData.IsPageScreenshot {
		t.Error("IsPageScreenshot should be true for a page capture")
	}
	if !deps.repo.updateCalled {
		t.Error("UpdateScreenshot should be called")
	}
}

func TestCaptureAndStore_PDFMediaType_UsesPDFPath(t *testing.T) {
	deps := newStageDeps()
	svc := newTestService(deps)

	job := validJob()
	job.MetaData = &model.Metadata{MediaType: "application/pdf"}

	patch, err := svc.CaptureAndStore(context.Background(), job)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if deps.renderer.pdfCalls != 1 || deps.renderer.pageCalls != 0 {
		t.Errorf("renderer calls = page:%d pdf:%d, want page:0 pdf:1", deps.renderer.pageCalls, deps.renderer.pdfCalls)
	}
	// PDF経路ではバックエンドが直接保存するためアップロードしない
	if deps.storage.uploadedPath != "" {
		t.Errorf("no upload expected for PDF path, got %q", deps.storage.uploadedPath)
	}
	if patch.MetaData.Screenshot != "https://cdn.example.com/pdf-cover.jpg" {
		t.Errorf("Screenshot = %q, want backend public URL", patch.MetaData.Screenshot)
	}
	if patch.MetaData.IsPageScreenshot == nil || *patch.MetaData.IsPageScreenshot {
		t.Error("IsPageScreenshot should be false for a PDF")
	}
}

func TestCaptureAndStore_CaptureTitleWins_EmptyKeepsCurrent(t *testing.T) {
	deps := newStageDeps()
	deps.repo.findByIDFn = func(ctx context.Context, id int64, userID string) (*model.Bookmark, error) {
		return &model.Bookmark{ID: id, UserID: userID, Title: "stored title", Description: "stored description"}, nil
	}
	deps.renderer.capturePageFn = func(ctx context.Context, pageURL string) (*PageCapture, error) {
		return &PageCapture{Image: []byte("x"), Title: "captured title", Description: ""}, nil
	}
	svc := newTestService(deps)

	patch, err := svc.CaptureAndStore(context.Background(), validJob())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if patch.Title != "captured title" {
		t.Errorf("Title = %q, want captured value", patch.Title)
	}
	if patch.Description != "stored description" {
		t.Errorf("Description = %q, want stored value kept when capture is empty", patch.Description)
	}
}

// og:imageを持つブックマークはカバー画像として引き継がれる。
func TestCaptureAndStore_SetsCoverImageFromOgImage(t *testing.T) {
	deps := newStageDeps()
	deps.repo.findByIDFn = func(ctx context.Context, id int64, userID string) (*model.Bookmark, error) {
		return &model.Bookmark{ID: id, UserID: userID, OgImage: "https://example.com/og.png"}, nil
	}
	svc := newTestService(deps)

	patch, err := svc.CaptureAndStore(context.Background(), validJob())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if patch.MetaData.CoverImage != "https://example.com/og.png" {
		t.Errorf("CoverImage = %q, want og:image carried over", patch.MetaData.CoverImage)
	}
}

func TestCaptureAndStore_MissingBookmark_ReturnsNotFound(t *testing.T) {
	deps := newStageDeps()
	deps.repo.findByIDFn = func(ctx context.Context, id int64, userID string) (*model.Bookmark, error) {
		return nil, nil
	}
	svc := newTestService(deps)

	_, err := svc.CaptureAndStore(context.Background(), validJob())
	if err == nil {
		t.Fatal("expected error for missing bookmark")
	}
	if model.KindOf(err) != model.KindNotFound {
		t.Errorf("error kind = %q, want %q", model.KindOf(err), model.KindNotFound)
	}
}

func TestCaptureAndStore_RenderFailure_NoPartialWrite(t *testing.T) {
	deps := newStageDeps()
	deps.renderer.capturePageFn = func(ctx context.Context, pageURL string) (*PageCapture, error) {
		return nil, model.NewUpstreamError("screenshot.render", "renderer down", errors.New("timeout"))
	}
	svc := newTestService(deps)

	_, err := svc.CaptureAndStore(context.Background(), validJob())
	if err == nil {
		t.Fatal("expected error when rendering fails")
	}
	if deps.repo.updateCalled {
		t.Error("bookmark must not be updated when rendering fails")
	}
	if deps.queue.sentQueue != "" {
		t.Error("finalize job must not be enqueued when rendering fails")
	}
}

func TestCaptureAndStore_EnqueuesFinalizeJob(t *testing.T) {
	deps := newStageDeps()
	svc := newTestService(deps)

	patch, err := svc.CaptureAndStore(context.Background(), validJob())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if deps.queue.sentQueue != "finalize" {
		t.Fatalf("sent queue = %q, want finalize", deps.queue.sentQueue)
	}
	job, ok := deps.queue.sentBody.(model.FinalizeJob)
	if !ok {
		t.Fatalf("sent body type = %T, want model.FinalizeJob", deps.queue.sentBody)
	}
	if job.PublicURL != patch.MetaData.Screenshot {
		t.Errorf("PublicURL = %q, want %q", job.PublicURL, patch.MetaData.Screenshot)
	}
	if !job.Valid() {
		t.Errorf("finalize job should be valid: %+v", job)
	}
}

// 仕上げジョブの投入に失敗してもステージの成功は覆らない。
func TestCaptureAndStore_EnqueueFailure_StillSucceeds(t *testing.T) {
	deps := newStageDeps()
	deps.queue.sendErr = errors.New("queue unavailable")
	svc := newTestService(deps)

	if _, err := svc.CaptureAndStore(context.Background(), validJob()); err != nil {
		t.Fatalf("enqueue failure must not fail the stage: %v", err)
	}
	if !deps.repo.updateCalled {
		t.Error("screenshot should still be persisted")
	}
}

// --- IsPDF ---

func TestIsPDF(t *testing.T) {
	tests := []struct {
		name      string
		rawURL    string
		mediaType string
		want      bool
	}{
		{"メディア種別がPDF", "https://example.com/doc", "application/pdf", true},
		{"メディア種別の大文字小文字は無視", "https://example.com/doc", "APPLICATION/PDF", true},
		{"パス拡張子がpdf", "https://example.com/paper.pdf", "", true},
		{"パス拡張子の大文字小文字は無視", "https://example.com/paper.PDF", "", true},
		{"クエリにpdfがあってもパスで判定", "https://example.com/view?file=a.pdf", "", false},
		{"通常ページ", "https://example.com/article", "text/html", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsPDF(tt.rawURL, tt.mediaType); got != tt.want {
				t.Errorf("IsPDF(%q, %q) = %v, want %v", tt.rawURL, tt.mediaType, got, tt.want)
			}
		})
	}
}
