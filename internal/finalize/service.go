package finalize

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/timelessco/recollect-pipeline/internal/metrics"
	"github.com/timelessco/recollect-pipeline/internal/model"
	"github.com/timelessco/recollect-pipeline/internal/repository"
)

// Patch はステージがブックマークへ書き戻した内容を表す。
type Patch struct {
	BookmarkID int64          `json:"id"`
	OgImage    string         `json:"ogImage"`
	MetaData   model.Metadata `json:"meta_data"`
}

// Service は仕上げステージのサービス層。
type Service struct {
	bookmarkRepo repository.BookmarkRepository
	rehoster     RehostService
	blurhash     BlurhashService
	ocr          TextAnalysisService
	caption      TextAnalysisService
	favicon      FaviconResolverService
	collector    metrics.MetricsCollector
	logger       *slog.Logger
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	bookmarkRepo repository.BookmarkRepository,
	rehoster RehostService,
	blurhash BlurhashService,
	ocr TextAnalysisService,
	caption TextAnalysisService,
	favicon FaviconResolverService,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
) *Service {
	return &Service{
		bookmarkRepo: bookmarkRepo,
		rehoster:     rehoster,
		blurhash:     blurhash,
		ocr:          ocr,
		caption:      caption,
		favicon:      favicon,
		collector:    collector,
		logger:       logger,
	}
}

// Finalize はブックマークの仕上げ処理を行う。
//
// カバー画像のリホスト、解析対象画像の選定、ブラーハッシュ・OCR・
// キャプションの並列解析、ファビコン解決をまとめてメタデータへ
// マージし、(id, user_id)をキーとした単一UPDATEで書き戻す。
//
// 3つの解析は互いに独立で、1つの失敗が他を道連れにしない。
// 解決できなかった解析結果はnullとして記録される。
// 同じジョブでの再実行は同じメタデータへ収束する（冪等。サードパーティの
// OCR・キャプションの非決定性だけは許容コスト）。
func (s *Service) Finalize(ctx context.Context, job model.FinalizeJob) (*Patch, error) {
	start := time.Now()
	patch, err := s.finalize(ctx, job)
	s.collector.RecordStageLatency("finalize", time.Since(start))
	if err != nil {
		s.collector.RecordStageFailure("finalize", string(model.KindOf(err)))
		return nil, err
	}
	s.collector.RecordStageSuccess("finalize")
	return patch, nil
}

func (s *Service) finalize(ctx context.Context, job model.FinalizeJob) (*Patch, error) {
	if !job.Valid() {
		return nil, model.NewValidationError("finalize.run", "ジョブペイロードが不正です")
	}

	current, err := s.bookmarkRepo.FindByID(ctx, job.BookmarkID, job.UserID)
	if err != nil {
		return nil, model.NewPersistenceError("finalize.run", "ブックマークの取得に失敗しました", err)
	}
	if current == nil {
		return nil, model.NewNotFoundError("finalize.run",
			fmt.Sprintf("ブックマークが見つかりません: id=%d", job.BookmarkID))
	}

	// カバー画像の確定。リホスト失敗時は元のリモートURLへフォールバック。
	ogImage, coverImage := s.resolveCoverImage(ctx, current)

	// 解析対象画像の選定: 保存済みスクリーンショットを既定とし、
	// isOgImagePreferredの場合だけ処理済みカバーを優先する。
	analysisImage := s.pickAnalysisImage(current, job, coverImage)

	// ステージが所有するキーだけを書き換える。screenshot・mediaType・
	// iframeAllowed・isPageScreenshot・isOgImagePreferredはそのまま引き継ぐ。
	meta := current.MetaData
	meta.CoverImage = coverImage
	meta.OgImgBlurURL = ""
	meta.Width = nil
	meta.Height = nil
	meta.OCR = nil
	meta.ImgCaption = nil

	if analysisImage != "" {
		blur, ocrText, captionText := s.analyze(ctx, job.BookmarkID, analysisImage)
		if blur != nil {
			meta.OgImgBlurURL = blur.Hash
			meta.Width = &blur.Width
			meta.Height = &blur.Height
		}
		meta.OCR = ocrText
		meta.ImgCaption = captionText
	}

	meta.FavIcon = s.favicon.Resolve(ctx, current.URL, job.FavIcon)

	if err := s.bookmarkRepo.UpdateEnrichment(ctx, job.BookmarkID, job.UserID, current.Description, ogImage, meta); err != nil {
		return nil, err
	}

	s.logger.Info("仕上げ処理が完了しました",
		slog.Int64("bookmark_id", job.BookmarkID),
		slog.String("user_id", job.UserID),
		slog.Bool("has_blurhash", meta.OgImgBlurURL != ""),
		slog.Bool("has_ocr", meta.OCR != nil),
		slog.Bool("has_caption", meta.ImgCaption != nil),
	)

	return &Patch{
		BookmarkID: job.BookmarkID,
		OgImage:    ogImage,
		MetaData:   meta,
	}, nil
}

// resolveCoverImage は正準のカバー画像を決めてリホストする。
// 戻り値は(更新後のogImage, カバー画像URL)。
//   - ソースURL自体が画像ならそれをリホストする。
//   - そうでなく、ogImageがありソースがメディア（動画）でなければ
//     ogImageをリホストする。
//   - どちらでもなければ現状のogImageを維持しカバーは空。
func (s *Service) resolveCoverImage(ctx context.Context, current *model.Bookmark) (string, string) {
	sourceIsImage := current.Type == model.TypeImage ||
		strings.HasPrefix(current.MetaData.MediaType, "image/")
	sourceIsMedia := current.Type == model.TypeVideo ||
		strings.HasPrefix(current.MetaData.MediaType, "video/") ||
		strings.HasPrefix(current.MetaData.MediaType, "audio/")

	switch {
	case sourceIsImage:
		hosted, _ := s.rehoster.Rehost(ctx, current.URL, current.UserID)
		return hosted, hosted
	case current.OgImage != "" && !sourceIsMedia:
		hosted, _ := s.rehoster.Rehost(ctx, current.OgImage, current.UserID)
		return hosted, hosted
	default:
		return current.OgImage, current.MetaData.CoverImage
	}
}

// pickAnalysisImage は解析に使う画像を1枚選ぶ。
func (s *Service) pickAnalysisImage(current *model.Bookmark, job model.FinalizeJob, coverImage string) string {
	if current.MetaData.IsOgImagePreferred && coverImage != "" {
		return coverImage
	}
	if current.MetaData.Screenshot != "" {
		return current.MetaData.Screenshot
	}
	if job.PublicURL != "" {
		return job.PublicURL
	}
	return coverImage
}

// analyze は3つの独立解析を並列に実行する。
// どれが失敗しても他の結果には影響せず、失敗した解析はnilになる。
func (s *Service) analyze(ctx context.Context, bookmarkID int64, imageURL string) (*BlurResult, *string, *string) {
	var (
		wg          sync.WaitGroup
		blur        *BlurResult
		ocrText     *string
		captionText *string
	)

	wg.Add(3)
	go func() {
		defer wg.Done()
		result, err := s.blurhash.Encode(ctx, imageURL)
		if err != nil {
			s.logAnalysisFailure(bookmarkID, "blurhash", err)
			return
		}
		blur = result
	}()
	go func() {
		defer wg.Done()
		result, err := s.ocr.Analyze(ctx, imageURL)
		if err != nil {
			s.logAnalysisFailure(bookmarkID, "ocr", err)
			return
		}
		ocrText = result
	}()
	go func() {
		defer wg.Done()
		result, err := s.caption.Analyze(ctx, imageURL)
		if err != nil {
			s.logAnalysisFailure(bookmarkID, "caption", err)
			return
		}
		captionText = result
	}()
	wg.Wait()

	return blur, ocrText, captionText
}

func (s *Service) logAnalysisFailure(bookmarkID int64, analysis string, err error) {
	s.collector.RecordStageFailure("finalize."+analysis, string(model.KindOf(err)))
	s.logger.Warn("解析に失敗しました。フィールドはnullになります",
		slog.Int64("bookmark_id", bookmarkID),
		slog.String("analysis", analysis),
		slog.String("error", err.Error()),
	)
}
