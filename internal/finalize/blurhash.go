package finalize

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"log/slog"
	"net/http"

	"github.com/buckket/go-blurhash"

	// デコード対応形式の登録
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"

	"github.com/timelessco/recollect-pipeline/internal/model"
)

// maxAnalysisImageSize は解析対象画像の最大サイズ（10MB）。
const maxAnalysisImageSize = 10 * 1024 * 1024

// blurhashComponents はブラーハッシュのX/Y成分数。
// 4x3はプレースホルダー用途の標準的な精度。
const (
	blurhashXComponents = 4
	blurhashYComponents = 3
)

// BlurResult はブラーハッシュ解析の結果を表す。
type BlurResult struct {
	Hash   string
	Width  int
	Height int
}

// BlurhashService は知覚ブラーハッシュ生成のインターフェース。
type BlurhashService interface {
	// Encode は画像URLを取得してブラーハッシュと寸法を返す。
	Encode(ctx context.Context, imageURL string) (*BlurResult, error)
}

// BlurhashEncoder はBlurhashServiceの実装。
// 画像の取得・デコード・エンコードをプロセス内で行う。
type BlurhashEncoder struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// NewBlurhashEncoder はBlurhashEncoderを生成する。
func NewBlurhashEncoder(httpClient *http.Client, logger *slog.Logger) *BlurhashEncoder {
	return &BlurhashEncoder{
		httpClient: httpClient,
		logger:     logger,
	}
}

// Encode は画像URLを取得してブラーハッシュと寸法を返す。
func (b *BlurhashEncoder) Encode(ctx context.Context, imageURL string) (*BlurResult, error) {
	data, err := b.fetch(ctx, imageURL)
	if err != nil {
		return nil, err
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, model.NewUpstreamError("finalize.blurhash", "画像のデコードに失敗しました", err)
	}

	hash, err := blurhash.Encode(blurhashXComponents, blurhashYComponents, img)
	if err != nil {
		return nil, model.NewUpstreamError("finalize.blurhash", "ブラーハッシュの生成に失敗しました", err)
	}

	bounds := img.Bounds()
	return &BlurResult{
		Hash:   hash,
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
	}, nil
}

// fetch は画像バイト列をサイズ上限付きで取得する。
func (b *BlurhashEncoder) fetch(ctx context.Context, imageURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, model.NewUpstreamError("finalize.blurhash", "画像リクエストの作成に失敗しました", err)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, model.NewUpstreamError("finalize.blurhash", "画像の取得に失敗しました", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, model.NewUpstreamError("finalize.blurhash",
			fmt.Sprintf("画像の取得がステータス %d を返しました", resp.StatusCode), nil)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAnalysisImageSize+1))
	if err != nil {
		return nil, model.NewUpstreamError("finalize.blurhash", "画像の読み取りに失敗しました", err)
	}
	if int64(len(data)) > maxAnalysisImageSize {
		return nil, model.NewUpstreamError("finalize.blurhash", "画像がサイズ上限を超えています", nil)
	}
	return data, nil
}
