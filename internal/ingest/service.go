package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gosimple/slug"

	"github.com/timelessco/recollect-pipeline/internal/metrics"
	"github.com/timelessco/recollect-pipeline/internal/model"
	"github.com/timelessco/recollect-pipeline/internal/queue"
	"github.com/timelessco/recollect-pipeline/internal/repository"
)

// Config はインポート処理の設定を保持する。
type Config struct {
	// PrimaryQueue は一次エンリッチメントキューの名前。
	PrimaryQueue string
	// EmbedQueue は検索埋め込みキューの名前。
	EmbedQueue string
	// DedupCheckBatchSize は既存チェック1クエリあたりのURL数上限。
	// パラメータ長の制限を踏まえてバッチに分割する。
	DedupCheckBatchSize int
}

// Service はブックマーク取り込みのサービス層。
type Service struct {
	bookmarkRepo repository.BookmarkRepository
	categoryRepo repository.CategoryRepository
	relationRepo repository.BookmarkCategoryRepository
	profileRepo  repository.ProfileRepository
	queue        queue.Queue
	sanitizer    Sanitizer
	collector    metrics.MetricsCollector
	logger       *slog.Logger
	config       Config
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	bookmarkRepo repository.BookmarkRepository,
	categoryRepo repository.CategoryRepository,
	relationRepo repository.BookmarkCategoryRepository,
	profileRepo repository.ProfileRepository,
	q queue.Queue,
	sanitizer Sanitizer,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	config Config,
) *Service {
	if config.DedupCheckBatchSize <= 0 {
		config.DedupCheckBatchSize = 120
	}
	return &Service{
		bookmarkRepo: bookmarkRepo,
		categoryRepo: categoryRepo,
		relationRepo: relationRepo,
		profileRepo:  profileRepo,
		queue:        q,
		sanitizer:    sanitizer,
		collector:    collector,
		logger:       logger,
		config:       config,
	}
}

// resolvedCandidate はカテゴリ解決後の候補1件。
type resolvedCandidate struct {
	candidate  Candidate
	categoryID int64
}

// ImportBatch は候補バッチを取り込み、挿入された行ごとに
// エンリッチメントジョブを投入する。
//
// 処理の流れ:
//  1. URLの正規化と候補の検証。URLの無い候補はスキップ扱い。
//  2. カテゴリ解決（不足分は作成）。
//  3. 三段階の重複排除（バッチ内 url+カテゴリ名 → url+カテゴリID → DB既存チェック）。
//  4. サニタイズ（到達不能なogImage等の破棄）。
//  5. 挿入 + 関連行の作成。
//  6. 一次ジョブと埋め込みジョブのバッチ投入。投入失敗は挿入をロールバックしない。
//  7. 新規カテゴリIDをプロファイルの並び順へ追記。
//
// 重複排除・カテゴリ解決・挿入のいずれかが失敗した場合はバッチ全体が
// エラーになる（その呼び出しでは何も挿入されない）。サニタイズによる
// 脱落はエラーではなく、skippedに計上される通常の結果。
// 同一入力での再実行は既存行として検出されskippedになる（バッチレベルで冪等）。
func (s *Service) ImportBatch(ctx context.Context, userID string, candidates []Candidate) (ImportResult, error) {
	if userID == "" {
		return ImportResult{}, model.NewValidationError("ingest.import", "user_idが指定されていません")
	}

	// URLはここで一度だけ正規化する。以降の重複排除キー・既存チェック・
	// 挿入はすべて同じ正規化済みURLを見る。
	valid := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		c.URL = strings.TrimSpace(c.URL)
		if c.Valid() {
			valid = append(valid, c)
		}
	}
	total := len(candidates)
	if len(valid) == 0 {
		return ImportResult{Queued: 0, Skipped: total}, nil
	}

	// カテゴリ解決
	lookup, newCategoryIDs, err := s.ensureCategories(ctx, userID, valid)
	if err != nil {
		return ImportResult{}, err
	}

	// 一段目: バッチ内の(url, カテゴリ名)重複を除去。最初の1件が勝つ。
	deduped := dedupeByURLAndName(valid)

	// 二段目: 解決済みカテゴリIDで再度重複除去。
	// 異なる名前が同じIDへ畳まれることがある。
	resolved := resolveAndDedupe(deduped, lookup)

	// 三段目: 既存行とのバッチ照合。
	fresh, err := s.filterExisting(ctx, userID, resolved)
	if err != nil {
		return ImportResult{}, err
	}

	// サニタイズと行の構築
	rows := make([]*model.Bookmark, 0, len(fresh))
	for _, rc := range fresh {
		rows = append(rows, &model.Bookmark{
			UserID:      userID,
			URL:         rc.candidate.URL,
			Title:       rc.candidate.Title,
			Description: rc.candidate.Description,
			Type:        model.TypeBookmark,
			OgImage:     rc.candidate.OgImage,
			CategoryID:  rc.categoryID,
		})
	}
	rows = s.sanitizer.Sanitize(ctx, rows)

	// 挿入と関連行の作成
	inserted, err := s.insertDedupedBookmarks(ctx, userID, rows)
	if err != nil {
		return ImportResult{}, err
	}

	// エンリッチメントジョブの投入。挿入済みの行はジョブ投入に失敗しても残す。
	s.enqueueJobs(ctx, inserted)

	// 新規カテゴリをプロファイルの並び順へ追記
	if err := s.profileRepo.AppendCategoryOrder(ctx, userID, newCategoryIDs); err != nil {
		return ImportResult{}, fmt.Errorf("カテゴリ並び順の追記に失敗しました: %w", err)
	}

	result := ImportResult{
		Queued:  len(inserted),
		Skipped: total - len(inserted),
	}
	s.collector.RecordImportQueued(result.Queued)
	s.collector.RecordImportSkipped(result.Skipped)
	s.logger.Info("インポートが完了しました",
		slog.String("user_id", userID),
		slog.Int("queued", result.Queued),
		slog.Int("skipped", result.Skipped),
	)
	return result, nil
}

// EnqueuePrimaryJob は単体のブックマーク追加経路から一次エンリッチメント
// ジョブを投入する。
func (s *Service) EnqueuePrimaryJob(ctx context.Context, bookmark *model.Bookmark) error {
	job := model.PrimaryJob{
		BookmarkID: bookmark.ID,
		UserID:     bookmark.UserID,
		URL:        bookmark.URL,
		OgImage:    bookmark.OgImage,
		MetaData:   &bookmark.MetaData,
	}
	if _, err := s.queue.Send(ctx, s.config.PrimaryQueue, job); err != nil {
		return fmt.Errorf("一次ジョブの投入に失敗しました: %w", err)
	}
	return nil
}

// ensureCategories は候補が参照するカテゴリ名を解決し、不足分を作成する。
// 戻り値は小文字化した名前→IDの対応表と、新規作成したカテゴリのID。
// 名前の照合は一意制約（ユーザーごと・大文字小文字を区別しない）に合わせて
// 大文字小文字を区別せずに行う。
func (s *Service) ensureCategories(ctx context.Context, userID string, candidates []Candidate) (map[string]int64, []int64, error) {
	// 未分類センチネルを除いた重複なしの名前を収集
	names := make([]string, 0)
	seen := make(map[string]struct{})
	for _, c := range candidates {
		if c.Uncategorized() {
			continue
		}
		name := strings.TrimSpace(c.CategoryName)
		key := strings.ToLower(name)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		names = append(names, name)
	}

	lookup := make(map[string]int64)
	if len(names) == 0 {
		return lookup, nil, nil
	}

	existing, err := s.categoryRepo.ListByNames(ctx, userID, names)
	if err != nil {
		return nil, nil, fmt.Errorf("カテゴリの解決に失敗しました: %w", err)
	}
	for _, c := range existing {
		lookup[strings.ToLower(c.CategoryName)] = c.ID
	}

	// 不足分を生成スラッグ付きで作成
	var missing []*model.Category
	for _, name := range names {
		if _, ok := lookup[strings.ToLower(name)]; ok {
			continue
		}
		missing = append(missing, &model.Category{
			UserID:       userID,
			CategoryName: name,
			CategorySlug: newCategorySlug(name),
		})
	}

	var newIDs []int64
	if len(missing) > 0 {
		created, err := s.categoryRepo.InsertBatch(ctx, missing)
		if err != nil {
			return nil, nil, fmt.Errorf("カテゴリの作成に失敗しました: %w", err)
		}
		for _, c := range created {
			lookup[strings.ToLower(c.CategoryName)] = c.ID
			newIDs = append(newIDs, c.ID)
		}
	}

	return lookup, newIDs, nil
}

// insertDedupedBookmarks は生き残った行を挿入し、カテゴリ付きの行には
// 関連行を作成する。挿入された行（ID採番済み）を返す。
func (s *Service) insertDedupedBookmarks(ctx context.Context, userID string, rows []*model.Bookmark) ([]*model.Bookmark, error) {
	if len(rows) == 0 {
		return nil, nil
	}

	inserted, err := s.bookmarkRepo.InsertBatch(ctx, rows)
	if err != nil {
		return nil, model.NewPersistenceError("ingest.insert", "ブックマークの挿入に失敗しました", err)
	}

	var relations []model.BookmarkCategory
	for _, b := range inserted {
		if b.CategoryID > model.UncategorizedID {
			relations = append(relations, model.BookmarkCategory{
				BookmarkID: b.ID,
				CategoryID: b.CategoryID,
				UserID:     userID,
			})
		}
	}
	if err := s.relationRepo.InsertBatch(ctx, relations); err != nil {
		return nil, model.NewPersistenceError("ingest.insert", "ブックマークカテゴリ関連の作成に失敗しました", err)
	}

	return inserted, nil
}

// enqueueJobs は挿入済みの行ごとに一次ジョブと埋め込みジョブを
// バッチ投入する。投入失敗はログに記録するだけで呼び出しは失敗させない
// （ブックマークはエンリッチメントなしでも存在できる）。
func (s *Service) enqueueJobs(ctx context.Context, inserted []*model.Bookmark) {
	if len(inserted) == 0 {
		return
	}

	primary := make([]any, 0, len(inserted))
	embed := make([]any, 0, len(inserted))
	for _, b := range inserted {
		primary = append(primary, model.PrimaryJob{
			BookmarkID: b.ID,
			UserID:     b.UserID,
			URL:        b.URL,
			OgImage:    b.OgImage,
			MetaData:   &b.MetaData,
		})
		embed = append(embed, model.EmbeddingJob{
			BookmarkID: b.ID,
			UserID:     b.UserID,
			URL:        b.URL,
			Title:      b.Title,
		})
	}

	if _, err := s.queue.SendBatch(ctx, s.config.PrimaryQueue, primary); err != nil {
		s.logger.Error("一次ジョブのバッチ投入に失敗しました",
			slog.String("queue", s.config.PrimaryQueue),
			slog.Int("count", len(primary)),
			slog.String("error", err.Error()),
		)
	}
	if _, err := s.queue.SendBatch(ctx, s.config.EmbedQueue, embed); err != nil {
		s.logger.Error("埋め込みジョブのバッチ投入に失敗しました",
			slog.String("queue", s.config.EmbedQueue),
			slog.Int("count", len(embed)),
			slog.String("error", err.Error()),
		)
	}
}

// filterExisting は既にDBへ永続化済みの(url, カテゴリID)の組を除外する。
// カテゴリID > 0 の行は関連テーブル経由で、カテゴリID = 0 の行は
// 「関連行がまったく無いブックマーク」として照合する。
// クエリはDedupCheckBatchSizeごとのバッチに分割し、バッチ内の
// 2種類の照合クエリはゴルーチンで並行に実行する。バッチ間は逐次。
func (s *Service) filterExisting(ctx context.Context, userID string, resolved []resolvedCandidate) ([]resolvedCandidate, error) {
	if len(resolved) == 0 {
		return nil, nil
	}

	existing := make(map[string]struct{})
	batchSize := s.config.DedupCheckBatchSize

	for start := 0; start < len(resolved); start += batchSize {
		end := start + batchSize
		if end > len(resolved) {
			end = len(resolved)
		}
		batch := resolved[start:end]

		var categorizedURLs, uncategorizedURLs []string
		categoryIDSet := make(map[int64]struct{})
		for _, rc := range batch {
			if rc.categoryID > model.UncategorizedID {
				categorizedURLs = append(categorizedURLs, rc.candidate.URL)
				categoryIDSet[rc.categoryID] = struct{}{}
			} else {
				uncategorizedURLs = append(uncategorizedURLs, rc.candidate.URL)
			}
		}
		categoryIDs := make([]int64, 0, len(categoryIDSet))
		for id := range categoryIDSet {
			categoryIDs = append(categoryIDs, id)
		}

		var wg sync.WaitGroup
		var catErr, uncatErr error
		var catPairs []repository.URLCategory
		var uncatURLs []string

		if len(categorizedURLs) > 0 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				catPairs, catErr = s.bookmarkRepo.ListCategorizedByURLs(ctx, userID, categorizedURLs, categoryIDs)
			}()
		}
		if len(uncategorizedURLs) > 0 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				uncatURLs, uncatErr = s.listUncategorizedURLs(ctx, userID, uncategorizedURLs)
			}()
		}
		wg.Wait()

		if catErr != nil {
			return nil, fmt.Errorf("既存チェックに失敗しました: %w", catErr)
		}
		if uncatErr != nil {
			return nil, fmt.Errorf("既存チェックに失敗しました: %w", uncatErr)
		}

		for _, pair := range catPairs {
			existing[dedupKey(pair.URL, pair.CategoryID)] = struct{}{}
		}
		for _, u := range uncatURLs {
			existing[dedupKey(u, model.UncategorizedID)] = struct{}{}
		}
	}

	fresh := make([]resolvedCandidate, 0, len(resolved))
	for _, rc := range resolved {
		if _, ok := existing[dedupKey(rc.candidate.URL, rc.categoryID)]; ok {
			continue
		}
		fresh = append(fresh, rc)
	}
	return fresh, nil
}

// listUncategorizedURLs は指定URL群のうち「関連行を1件も持たない
// ブックマーク」として既に存在するURLを返す。
func (s *Service) listUncategorizedURLs(ctx context.Context, userID string, urls []string) ([]string, error) {
	refs, err := s.bookmarkRepo.ListByURLs(ctx, userID, urls)
	if err != nil {
		return nil, err
	}
	if len(refs) == 0 {
		return nil, nil
	}

	ids := make([]int64, len(refs))
	for i, ref := range refs {
		ids[i] = ref.ID
	}
	withCategory, err := s.relationRepo.ListBookmarkIDsWithCategory(ctx, userID, ids)
	if err != nil {
		return nil, err
	}
	categorized := make(map[int64]struct{}, len(withCategory))
	for _, id := range withCategory {
		categorized[id] = struct{}{}
	}

	var uncategorized []string
	for _, ref := range refs {
		if _, ok := categorized[ref.ID]; !ok {
			uncategorized = append(uncategorized, ref.URL)
		}
	}
	return uncategorized, nil
}

// dedupeByURLAndName はバッチ内の(url, カテゴリ名)重複を除去する。
// カテゴリ名の比較は大文字小文字を区別しない。最初の1件が勝つ。
func dedupeByURLAndName(candidates []Candidate) []Candidate {
	seen := make(map[string]struct{}, len(candidates))
	out := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		name := strings.ToLower(strings.TrimSpace(c.CategoryName))
		if c.Uncategorized() {
			name = ""
		}
		key := c.URL + "\x00" + name
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, c)
	}
	return out
}

// resolveAndDedupe は候補をカテゴリIDへ解決し、(url, カテゴリID)の
// 重複を除去する。未知のカテゴリ名と未分類センチネルはID 0になる。
func resolveAndDedupe(candidates []Candidate, lookup map[string]int64) []resolvedCandidate {
	seen := make(map[string]struct{}, len(candidates))
	out := make([]resolvedCandidate, 0, len(candidates))
	for _, c := range candidates {
		categoryID := model.UncategorizedID
		if !c.Uncategorized() {
			if id, ok := lookup[strings.ToLower(strings.TrimSpace(c.CategoryName))]; ok {
				categoryID = id
			}
		}
		key := dedupKey(c.URL, categoryID)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, resolvedCandidate{candidate: c, categoryID: categoryID})
	}
	return out
}

// dedupKey は(url, カテゴリID)の照合キーを作る。
func dedupKey(url string, categoryID int64) string {
	return fmt.Sprintf("%s\x00%d", url, categoryID)
}

// newCategorySlug はカテゴリ名から一意なスラッグを生成する。
// 同名他ユーザーや再作成と衝突しないよう短いランダム接尾辞を付ける。
func newCategorySlug(name string) string {
	suffix := strings.Split(uuid.NewString(), "-")[0]
	base := slug.Make(name)
	if base == "" {
		base = "category"
	}
	return base + "-" + suffix
}
