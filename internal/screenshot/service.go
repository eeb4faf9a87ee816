package screenshot

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/timelessco/recollect-pipeline/internal/metrics"
	"github.com/timelessco/recollect-pipeline/internal/model"
	"github.com/timelessco/recollect-pipeline/internal/queue"
	"github.com/timelessco/recollect-pipeline/internal/repository"
	"github.com/timelessco/recollect-pipeline/internal/security"
	"github.com/timelessco/recollect-pipeline/internal/storage"
)

// pdfPathPattern はURLパスがPDFを指すかの判定パターン。
var pdfPathPattern = regexp.MustCompile(`(?i)\.pdf$`)

// Patch はステージがブックマークへ書き戻した内容を表す。
type Patch struct {
	BookmarkID  int64          `json:"id"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	MetaData    model.Metadata `json:"meta_data"`
}

// Service はスクリーンショットステージのサービス層。
type Service struct {
	bookmarkRepo  repository.BookmarkRepository
	renderer      Renderer
	objectStorage storage.ObjectStorage
	queue         queue.Queue
	scrubber      security.TextScrubberService
	collector     metrics.MetricsCollector
	logger        *slog.Logger
	finalizeQueue string
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	bookmarkRepo repository.BookmarkRepository,
	renderer Renderer,
	objectStorage storage.ObjectStorage,
	q queue.Queue,
	scrubber security.TextScrubberService,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	finalizeQueue string,
) *Service {
	return &Service{
		bookmarkRepo:  bookmarkRepo,
		renderer:      renderer,
		objectStorage: objectStorage,
		queue:         q,
		scrubber:      scrubber,
		collector:     collector,
		logger:        logger,
		finalizeQueue: finalizeQueue,
	}
}

// CaptureAndStore はブックマークのスクリーンショットを取得・保存し、
// メタデータへ書き戻したうえで仕上げジョブを投入する。
//
// 失敗時は部分書き込みを行わない: レンダリング・アップロード・取得の
// いずれかが失敗したらブックマーク行は呼び出し前の状態のまま残り、
// 外部のリトライに委ねられる。
func (s *Service) CaptureAndStore(ctx context.Context, job model.PrimaryJob) (*Patch, error) {
	start := time.Now()
	patch, err := s.captureAndStore(ctx, job)
	s.collector.RecordStageLatency("screenshot", time.Since(start))
	if err != nil {
		s.collector.RecordStageFailure("screenshot", string(model.KindOf(err)))
		return nil, err
	}
	s.collector.RecordStageSuccess("screenshot")
	return patch, nil
}

func (s *Service) captureAndStore(ctx context.Context, job model.PrimaryJob) (*Patch, error) {
	if !job.Valid() {
		return nil, model.NewValidationError("screenshot.capture", "ジョブペイロードが不正です")
	}

	mediaType := ""
	if job.MetaData != nil {
		mediaType = job.MetaData.MediaType
	}

	var (
		publicURL        string
		capture          *PageCapture
		isPageScreenshot bool
		err              error
	)

	if IsPDF(job.URL, mediaType) {
		// PDF経路: バックエンドが直接保存し公開URLを返す
		publicURL, err = s.renderer.CapturePDF(ctx, job.URL, job.UserID)
		if err != nil {
			return nil, err
		}
		isPageScreenshot = false
	} else {
		capture, err = s.renderer.CapturePage(ctx, job.URL)
		if err != nil {
			return nil, err
		}
		isPageScreenshot = capture.IsPageScreenshot

		objectPath := screenshotPath(job.UserID)
		if err := s.objectStorage.UploadObject(ctx, objectPath, "image/jpeg", capture.Image); err != nil {
			return nil, err
		}
		publicURL = s.objectStorage.PublicURL(objectPath)
	}

	// ユーザー編集済みの値を潰さないよう、書き込み直前の状態を読む
	current, err := s.bookmarkRepo.FindByID(ctx, job.BookmarkID, job.UserID)
	if err != nil {
		return nil, model.NewPersistenceError("screenshot.capture", "ブックマークの取得に失敗しました", err)
	}
	if current == nil {
		return nil, model.NewNotFoundError("screenshot.capture",
			fmt.Sprintf("ブックマークが見つかりません: id=%d", job.BookmarkID))
	}

	title := current.Title
	description := current.Description
	if capture != nil {
		if scrubbed := s.scrubber.Scrub(capture.Title); scrubbed != "" {
			title = scrubbed
		}
		if scrubbed := s.scrubber.Scrub(capture.Description); scrubbed != "" {
			description = scrubbed
		}
	}

	// ステージが所有するキーだけをマージする
	meta := current.MetaData
	meta.Screenshot = publicURL
	meta.IsPageScreenshot = &isPageScreenshot
	if current.OgImage != "" {
		meta.CoverImage = current.OgImage
	}
	if meta.MediaType == "" {
		meta.MediaType = mediaType
	}

	if err := s.bookmarkRepo.UpdateScreenshot(ctx, job.BookmarkID, job.UserID, title, description, meta); err != nil {
		return nil, err
	}

	s.enqueueFinalize(ctx, job, publicURL, meta)

	s.logger.Info("スクリーンショットを保存しました",
		slog.Int64("bookmark_id", job.BookmarkID),
		slog.String("user_id", job.UserID),
		slog.Bool("is_page_screenshot", isPageScreenshot),
	)

	return &Patch{
		BookmarkID:  job.BookmarkID,
		Title:       title,
		Description: description,
		MetaData:    meta,
	}, nil
}

// enqueueFinalize は仕上げジョブを投入する。
// ここでの失敗はステージの成功を覆さない（スクリーンショットは保存済み）。
func (s *Service) enqueueFinalize(ctx context.Context, job model.PrimaryJob, publicURL string, meta model.Metadata) {
	finalizeJob := model.FinalizeJob{
		BookmarkID: job.BookmarkID,
		UserID:     job.UserID,
		PublicURL:  publicURL,
		FavIcon:    meta.FavIcon,
		MediaType:  meta.MediaType,
	}
	if _, err := s.queue.Send(ctx, s.finalizeQueue, finalizeJob); err != nil {
		s.logger.Error("仕上げジョブの投入に失敗しました",
			slog.Int64("bookmark_id", job.BookmarkID),
			slog.String("queue", s.finalizeQueue),
			slog.String("error", err.Error()),
		)
	}
}

// IsPDF は対象がPDFかどうかを判定する。
// スニッフィング済みメディア種別を優先し、無ければURLパスの拡張子で判定する。
func IsPDF(rawURL, mediaType string) bool {
	if strings.EqualFold(mediaType, "application/pdf") {
		return true
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return pdfPathPattern.MatchString(parsed.Path)
}

// screenshotPath はユーザーごとの保存先パスを生成する。
// リトライで同名を上書きしないよう毎回一意なファイル名にする。
func screenshotPath(userID string) string {
	return fmt.Sprintf("screenshots/%s/img-%s.jpg", userID, uuid.NewString())
}
