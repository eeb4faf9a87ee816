package ingest

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
	insertBatchFn           func(ctx context.Context, bookmarks []*model.Bookmark) ([]*model.Bookmark, error)
	listCategorizedByURLsFn func(ctx context.Context, userID string, urls []string, categoryIDs []int64) ([]repository.URLCategory, error)
	listByURLsFn            func(ctx context.Context, userID string, urls []string) ([]repository.BookmarkRef, error)

	listByURLsCalls int
}

func (m *mockBookmarkRepo) FindByID(ctx context.Context, id int64, userID string) (*model.Bookmark, error) {
	return nil, nil
}
func (m *mockBookmarkRepo) InsertBatch(ctx context.Context, bookmarks []*model.Bookmark) ([]*model.Bookmark, error) {
	if m.insertBatchFn != nil {
		return m.insertBatchFn(ctx, bookmarks)
	}
	// 既定: 連番でIDを採番して返す
	out := make([]*model.Bookmark, len(bookmarks))
	for i, b := range bookmarks {
		copied := *b
		copied.ID = int64(i + 1)
		out[i] = &copied
	}
	return out, nil
}
func (m *mockBookmarkRepo) UpdateScreenshot(ctx context.Context, id int64, userID, title, description string, meta model.Metadata) error {
	return nil
}
func (m *mockBookmarkRepo) UpdateEnrichment(ctx context.Context, id int64, userID, description, ogImage string, meta model.Metadata) error {
	return nil
}
func (m *mockBookmarkRepo) ListCategorizedByURLs(ctx context.Context, userID string, urls []string, categoryIDs []int64) ([]repository.URLCategory, error) {
	if m.listCategorizedByURLsFn != nil {
		return m.listCategorizedByURLsFn(ctx, userID, urls, categoryIDs)
	}
	return nil, nil
}
func (m *mockBookmarkRepo) ListByURLs(ctx context.Context, userID string, urls []string) ([]repository.BookmarkRef, error) {
	m.listByURLsCalls++
	if m.listByURLsFn != nil {
		return m.listByURLsFn(ctx, userID, urls)
	}
	return nil, nil
}

type mockCategoryRepo struct {
	listByNamesFn func(ctx context.Context, userID string, names []string) ([]*model.Category, error)
	insertBatchFn func(ctx context.Context, categories []*model.Category) ([]*model.Category, error)

	inserted []*model.Category
}

func (m *mockCategoryRepo) ListByNames(ctx context.Context, userID string, names []string) ([]*model.Category, error) {
	if m.listByNamesFn != nil {
		return m.listByNamesFn(ctx, userID, names)
	}
	return nil, nil
}
func (m *mockCategoryRepo) InsertBatch(ctx context.Context, categories []*model.Category) ([]*model.Category, error) {
	if m.insertBatchFn != nil {
		return m.insertBatchFn(ctx, categories)
	}
	out := make([]*model.Category, len(categories))
	for i, c := range categories {
		copied := *c
		copied.ID = int64(100 + i)
		out[i] = &copied
	}
	m.inserted = append(m.inserted, out...)
	return out, nil
}

type mockRelationRepo struct {
	insertBatchFn                 func(ctx context.Context, relations []model.BookmarkCategory) error
	listBookmarkIDsWithCategoryFn func(ctx context.Context, userID string, bookmarkIDs []int64) ([]int64, error)

	relations []model.BookmarkCategory
}

func (m *mockRelationRepo) InsertBatch(ctx context.Context, relations []model.BookmarkCategory) error {
	m.relations = append(m.relations, relations...)
	if m.insertBatchFn != nil {
		return m.insertBatchFn(ctx, relations)
	}
	return nil
}
func (m *mockRelationRepo) ListBookmarkIDsWithCategory(ctx context.Context, userID string, bookmarkIDs []int64) ([]int64, error) {
	if m.listBookmarkIDsWithCategoryFn != nil {
		return m.listBookmarkIDsWithCategoryFn(ctx, userID, bookmarkIDs)
	}
	return nil, nil
}

type mockProfileRepo struct {
	appendedIDs []int64
}

func (m *mockProfileRepo) AppendCategoryOrder(ctx context.Context, userID string, categoryIDs []int64) error {
	m.appendedIDs = append(m.appendedIDs, categoryIDs...)
	return nil
}

type mockQueue struct {
	sendBatchFn func(ctx context.Context, queueName string, bodies []any) ([]int64, error)

	sentBatches map[string][]any
}

func (m *mockQueue) Send(ctx context.Context, queueName string, body any) (int64, error) {
	return 1, nil
}
func (m *mockQueue) SendBatch(ctx context.Context, queueName string, bodies []any) ([]int64, error) {
	if m.sentBatches == nil {
		m.sentBatches = make(map[string][]any)
	}
	m.sentBatches[queueName] = append(m.sentBatches[queueName], bodies...)
	if m.sendBatchFn != nil {
		return m.sendBatchFn(ctx, queueName, bodies)
	}
	ids := make([]int64, len(bodies))
	return ids, nil
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

// passthroughSanitizer は全行をそのまま通すSanitizer。
type passthroughSanitizer struct{}

func (passthroughSanitizer) Sanitize(ctx context.Context, rows []*model.Bookmark) []*model.Bookmark {
	return rows
}

// dropAllSanitizer は全行を破棄するSanitizer。
type dropAllSanitizer struct{}

func (dropAllSanitizer) Sanitize(ctx context.Context, rows []*model.Bookmark) []*model.Bookmark {
	return nil
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

type testDeps struct {
	bookmarks  *mockBookmarkRepo
	categories *mockCategoryRepo
	relations  *mockRelationRepo
	profiles   *mockProfileRepo
	queue      *mockQueue
}

func newTestService(deps *testDeps, cfg Config) *Service {
	if cfg.PrimaryQueue == "" {
		cfg.PrimaryQueue = "primary"
	}
	if cfg.EmbedQueue == "" {
		cfg.EmbedQueue = "embed"
	}
	return NewService(
		deps.bookmarks, deps.categories, deps.relations, deps.profiles,
		deps.queue, passthroughSanitizer{}, nopCollector{}, discardLogger(), cfg,
	)
}

func newTestDeps() *testDeps {
	return &testDeps{
		bookmarks:  &mockBookmarkRepo{},
		categories: &mockCategoryRepo{},
		relations:  &mockRelationRepo{},
		profiles:   &mockProfileRepo{},
		queue:      &mockQueue{},
	}
}

// --- ImportBatch ---

func TestImportBatch_EmptyUserID_ReturnsValidationError(t *testing.T) {
	svc := newTestService(newTestDeps(), Config{})

	_, err := svc.ImportBatch(context.Background(), "", []Candidate{{URL: "https://example.com"}})
	if err == nil {
		t.Fatal("expected error for empty user id")
	}
	if model.KindOf(err) != model.KindValidation {
		t.Errorf("error kind = %q, want %q", model.KindOf(err), model.KindValidation)
	}
}

func TestImportBatch_InvalidCandidates_CountedAsSkipped(t *testing.T) {
	deps := newTestDeps()
	svc := newTestService(deps, Config{})

	result, err := svc.ImportBatch(context.Background(), "user-1", []Candidate{
		{URL: ""},
		{URL: ""},
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if result.Queued != 0 || result.Skipped != 2 {
		t.Errorf("result = %+v, want Queued=0 Skipped=2", result)
	}
	if len(deps.queue.sentBatches) != 0 {
		t.Error("no jobs should be enqueued for invalid candidates")
	}
}

func TestImportBatch_InsertsRowsAndEnqueuesJobs(t *testing.T) {
	deps := newTestDeps()
	svc := newTestService(deps, Config{})

	result, err := svc.ImportBatch(context.Background(), "user-1", []Candidate{
		{URL: "https://example.com/a", Title: "A", CategoryName: "Reading"},
		{URL: "https://example.com/b", Title: "B", CategoryName: "Unsorted"},
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if result.Queued != 2 || result.Skipped != 0 {
		t.Errorf("result = %+v, want Queued=2 Skipped=0", result)
	}

	// 未知のカテゴリが1件作成されること
	if len(deps.categories.inserted) != 1 {
		t.Fatalf("created categories = %d, want 1", len(deps.categories.inserted))
	}
	created := deps.categories.inserted[0]
	if created.CategoryName != "Reading" {
		t.Errorf("category name = %q, want %q", created.CategoryName, "Reading")
	}
	if !strings.HasPrefix(created.CategorySlug, "reading-") {
		t.Errorf("category slug = %q, want prefix %q", created.CategorySlug, "reading-")
	}

	// カテゴリ付きの行だけ関連行が作られること
	if len(deps.relations.relations) != 1 {
		t.Fatalf("relations = %d, want 1", len(deps.relations.relations))
	}
	if deps.relations.relations[0].CategoryID != created.ID {
		t.Errorf("relation category id = %d, want %d", deps.relations.relations[0].CategoryID, created.ID)
	}

	// 一次ジョブと埋め込みジョブが行ごとに投入されること
	if len(deps.queue.sentBatches["primary"]) != 2 {
		t.Errorf("primary jobs = %d, want 2", len(deps.queue.sentBatches["primary"]))
	}
	if len(deps.queue.sentBatches["embed"]) != 2 {
		t.Errorf("embed jobs = %d, want 2", len(deps.queue.sentBatches["embed"]))
	}
	job, ok := deps.queue.sentBatches["primary"][0].(model.PrimaryJob)
	if !ok {
		t.Fatalf("primary job type = %T, want model.PrimaryJob", deps.queue.sentBatches["primary"][0])
	}
	if !job.Valid() {
		t.Errorf("enqueued primary job should be valid: %+v", job)
	}

	// 新規カテゴリIDがプロファイルの並び順へ追記されること
	if len(deps.profiles.appendedIDs) != 1 || deps.profiles.appendedIDs[0] != created.ID {
		t.Errorf("appended category ids = %v, want [%d]", deps.profiles.appendedIDs, created.ID)
	}
}

func TestImportBatch_DuplicateWithinBatch_FirstWins(t *testing.T) {
	deps := newTestDeps()
	svc := newTestService(deps, Config{})

	// 同一URL・同一カテゴリ名（大文字小文字違い）は1件に畳まれる
	result, err := svc.ImportBatch(context.Background(), "user-1", []Candidate{
		{URL: "https://example.com/a", Title: "first", CategoryName: "Reading"},
		{URL: "https://example.com/a", Title: "second", CategoryName: "READING"},
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if result.Queued != 1 || result.Skipped != 1 {
		t.Errorf("result = %+v, want Queued=1 Skipped=1", result)
	}
	if len(deps.queue.sentBatches["primary"]) != 1 {
		t.Errorf("primary jobs = %d, want 1", len(deps.queue.sentBatches["primary"]))
	}
}

func TestImportBatch_ExistingCategorizedRow_Skipped(t *testing.T) {
	deps := newTestDeps()
	deps.categories.listByNamesFn = func(ctx context.Context, userID string, names []string) ([]*model.Category, error) {
		return []*model.Category{{ID: 7, UserID: userID, CategoryName: "Reading"}}, nil
	}
	deps.bookmarks.listCategorizedByURLsFn = func(ctx context.Context, userID string, urls []string, categoryIDs []int64) ([]repository.URLCategory, error) {
		return []repository.URLCategory{{URL: "https://example.com/a", CategoryID: 7}}, nil
	}
	svc := newTestService(deps, Config{})

	result, err := svc.ImportBatch(context.Background(), "user-1", []Candidate{
		{URL: "https://example.com/a", CategoryName: "Reading"},
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if result.Queued != 0 || result.Skipped != 1 {
		t.Errorf("result = %+v, want Queued=0 Skipped=1", result)
	}
	if len(deps.queue.sentBatches) != 0 {
		t.Error("no jobs should be enqueued when every candidate already exists")
	}
}

// 未分類候補の既存チェック: 同じURLのブックマークが存在しても、それが
// カテゴリ関連を持つなら「未分類としては存在しない」ので挿入される。
func TestImportBatch_UncategorizedCheck_IgnoresCategorizedRows(t *testing.T) {
	deps := newTestDeps()
	deps.bookmarks.listByURLsFn = func(ctx context.Context, userID string, urls []string) ([]repository.BookmarkRef, error) {
		return []repository.BookmarkRef{{ID: 42, URL: "https://example.com/a"}}, nil
	}
	deps.relations.listBookmarkIDsWithCategoryFn = func(ctx context.Context, userID string, bookmarkIDs []int64) ([]int64, error) {
		return []int64{42}, nil
	}
	svc := newTestService(deps, Config{})

	result, err := svc.ImportBatch(context.Background(), "user-1", []Candidate{
		{URL: "https://example.com/a"},
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if result.Queued != 1 {
		t.Errorf("Queued = %d, want 1 (categorized row does not block uncategorized insert)", result.Queued)
	}
}

func TestImportBatch_UncategorizedCheck_SkipsBareRows(t *testing.T) {
	deps := newTestDeps()
	deps.bookmarks.listByURLsFn = func(ctx context.Context, userID string, urls []string) ([]repository.BookmarkRef, error) {
		return []repository.BookmarkRef{{ID: 42, URL: "https://example.com/a"}}, nil
	}
	// 関連行なし = 既に未分類として存在する
	svc := newTestService(deps, Config{})

	result, err := svc.ImportBatch(context.Background(), "user-1", []Candidate{
		{URL: "https://example.com/a"},
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if result.Queued != 0 || result.Skipped != 1 {
		t.Errorf("result = %+v, want Queued=0 Skipped=1", result)
	}
}

// 既存チェックは設定されたバッチサイズごとに分割される。
func TestImportBatch_ExistenceCheckIsBatched(t *testing.T) {
	deps := newTestDeps()
	svc := newTestService(deps, Config{DedupCheckBatchSize: 2})

	candidates := []Candidate{
		{URL: "https://example.com/1"},
		{URL: "https://example.com/2"},
		{URL: "https://example.com/3"},
		{URL: "https://example.com/4"},
		{URL: "https://example.com/5"},
	}
	if _, err := svc.ImportBatch(context.Background(), "user-1", candidates); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	// 5件 / バッチ2件 = 3回のクエリ
	if deps.bookmarks.listByURLsCalls != 3 {
		t.Errorf("ListByURLs calls = %d, want 3", deps.bookmarks.listByURLsCalls)
	}
}

func TestImportBatch_EnqueueFailure_DoesNotRollBackInsert(t *testing.T) {
	deps := newTestDeps()
	deps.queue.sendBatchFn = func(ctx context.Context, queueName string, bodies []any) ([]int64, error) {
		return nil, errors.New("queue unavailable")
	}
	svc := newTestService(deps, Config{})

	result, err := svc.ImportBatch(context.Background(), "user-1", []Candidate{
		{URL: "https://example.com/a"},
	})
	if err != nil {
		t.Fatalf("enqueue failure must not fail the import: %v", err)
	}
	if result.Queued != 1 {
		t.Errorf("Queued = %d, want 1 (inserted rows are kept)", result.Queued)
	}
}

// statefulBookmarkRepo はInsertBatchで受けた行を保持し、既存チェックを
// 自身の保持内容との完全一致で答えるRepo。書き込み側と照合側が同じ
// キーを見ていることを検証する冪等性テスト用。
type statefulBookmarkRepo struct {
	mockBookmarkRepo
	rows []*model.Bookmark
}

func (m *statefulBookmarkRepo) InsertBatch(ctx context.Context, bookmarks []*model.Bookmark) ([]*model.Bookmark, error) {
	out := make([]*model.Bookmark, len(bookmarks))
	for i, b := range bookmarks {
		copied := *b
		copied.ID = int64(len(m.rows) + i + 1)
		out[i] = &copied
	}
	m.rows = append(m.rows, out...)
	return out, nil
}

func (m *statefulBookmarkRepo) ListCategorizedByURLs(ctx context.Context, userID string, urls []string, categoryIDs []int64) ([]repository.URLCategory, error) {
	var pairs []repository.URLCategory
	for _, row := range m.rows {
		if row.CategoryID <= model.UncategorizedID {
			continue
		}
		for _, u := range urls {
			if row.URL == u {
				pairs = append(pairs, repository.URLCategory{URL: row.URL, CategoryID: row.CategoryID})
			}
		}
	}
	return pairs, nil
}

func (m *statefulBookmarkRepo) ListByURLs(ctx context.Context, userID string, urls []string) ([]repository.BookmarkRef, error) {
	var refs []repository.BookmarkRef
	for _, row := range m.rows {
		for _, u := range urls {
			if row.URL == u {
				refs = append(refs, repository.BookmarkRef{ID: row.ID, URL: row.URL})
			}
		}
	}
	return refs, nil
}

// 同一入力での再実行は2回目が全件skippedになる。URLに前後の空白が
// 付いていても、正規化後の同じURLで照合・挿入されること。
func TestImportBatch_RepeatedImport_IsIdempotent(t *testing.T) {
	deps := newTestDeps()
	repo := &statefulBookmarkRepo{}
	deps.categories.listByNamesFn = func(ctx context.Context, userID string, names []string) ([]*model.Category, error) {
		return deps.categories.inserted, nil
	}
	deps.relations.listBookmarkIDsWithCategoryFn = func(ctx context.Context, userID string, bookmarkIDs []int64) ([]int64, error) {
		var out []int64
		for _, row := range repo.rows {
			if row.CategoryID <= model.UncategorizedID {
				continue
			}
			for _, id := range bookmarkIDs {
				if row.ID == id {
					out = append(out, id)
				}
			}
		}
		return out, nil
	}
	svc := NewService(
		repo, deps.categories, deps.relations, deps.profiles,
		deps.queue, passthroughSanitizer{}, nopCollector{}, discardLogger(),
		Config{PrimaryQueue: "primary", EmbedQueue: "embed"},
	)

	candidates := []Candidate{
		{URL: " https://example.com/padded ", Title: "空白付き"},
		{URL: "https://example.com/b", CategoryName: "Reading"},
	}

	first, err := svc.ImportBatch(context.Background(), "user-1", candidates)
	if err != nil {
		t.Fatalf("first import: %v", err)
	}
	if first.Queued != 2 || first.Skipped != 0 {
		t.Fatalf("first = %+v, want Queued=2 Skipped=0", first)
	}

	second, err := svc.ImportBatch(context.Background(), "user-1", candidates)
	if err != nil {
		t.Fatalf("second import: %v", err)
	}
	if second.Queued != 0 || second.Skipped != 2 {
		t.Errorf("second = %+v, want Queued=0 Skipped=2", second)
	}
	if len(repo.rows) != 2 {
		t.Errorf("persisted rows = %d, want 2", len(repo.rows))
	}
	for _, row := range repo.rows {
		if row.URL != strings.TrimSpace(row.URL) {
			t.Errorf("persisted URL %q should not carry surrounding whitespace", row.URL)
		}
	}
}

func TestImportBatch_SanitizerDrop_CountedAsSkipped(t *testing.T) {
	deps := newTestDeps()
	svc := NewService(
		deps.bookmarks, deps.categories, deps.relations, deps.profiles,
		deps.queue, dropAllSanitizer{}, nopCollector{}, discardLogger(),
		Config{PrimaryQueue: "primary", EmbedQueue: "embed"},
	)

	result, err := svc.ImportBatch(context.Background(), "user-1", []Candidate{
		{URL: "https://example.com/a"},
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if result.Queued != 0 || result.Skipped != 1 {
		t.Errorf("result = %+v, want Queued=0 Skipped=1", result)
	}
}

func TestImportBatch_InsertFailure_ReturnsPersistenceError(t *testing.T) {
	deps := newTestDeps()
	deps.bookmarks.insertBatchFn = func(ctx context.Context, bookmarks []*model.Bookmark) ([]*model.Bookmark, error) {
		return nil, errors.New("connection reset")
	}
	svc := newTestService(deps, Config{})

	_, err := svc.ImportBatch(context.Background(), "user-1", []Candidate{
		{URL: "https://example.com/a"},
	})
	if err == nil {
		t.Fatal("expected error when insert fails")
	}
	if model.KindOf(err) != model.KindPersistence {
		t.Errorf("error kind = %q, want %q", model.KindOf(err), model.KindPersistence)
	}
}

func TestEnqueuePrimaryJob_SendsToPrimaryQueue(t *testing.T) {
	deps := newTestDeps()
	svc := newTestService(deps, Config{})

	err := svc.EnqueuePrimaryJob(context.Background(), &model.Bookmark{
		ID: 9, UserID: "user-1", URL: "https://example.com",
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

// --- ヘルパー ---

func TestDedupeByURLAndName(t *testing.T) {
	tests := []struct {
		name       string
		candidates []Candidate
		wantCount  int
	}{
		{
			name: "同一URLでもカテゴリ名が違えば別の候補",
			candidates: []Candidate{
				{URL: "https://a.example", CategoryName: "Work"},
				{URL: "https://a.example", CategoryName: "Play"},
			},
			wantCount: 2,
		},
		{
			name: "カテゴリ名の大文字小文字は同一視される",
			candidates: []Candidate{
				{URL: "https://a.example", CategoryName: "Work"},
				{URL: "https://a.example", CategoryName: "work"},
			},
			wantCount: 1,
		},
		{
			name: "未分類センチネルと空文字は同一視される",
			candidates: []Candidate{
				{URL: "https://a.example", CategoryName: "Unsorted"},
				{URL: "https://a.example", CategoryName: ""},
			},
			wantCount: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := dedupeByURLAndName(tt.candidates)
			if len(got) != tt.wantCount {
				t.Errorf("len = %d, want %d", len(got), tt.wantCount)
			}
		})
	}
}

func TestResolveAndDedupe_CollapsesNamesWithSameID(t *testing.T) {
	lookup := map[string]int64{"work": 5, "仕事": 5}

	got := resolveAndDedupe([]Candidate{
		{URL: "https://a.example", CategoryName: "Work"},
		{URL: "https://a.example", CategoryName: "仕事"},
	}, lookup)

	// 異なる名前でも同じIDへ解決されれば1件に畳まれる
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	if got[0].categoryID != 5 {
		t.Errorf("categoryID = %d, want 5", got[0].categoryID)
	}
}

func TestResolveAndDedupe_UnknownNameBecomesUncategorized(t *testing.T) {
	got := resolveAndDedupe([]Candidate{
		{URL: "https://a.example", CategoryName: "nonexistent"},
	}, map[string]int64{})

	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	if got[0].categoryID != model.UncategorizedID {
		t.Errorf("categoryID = %d, want %d", got[0].categoryID, model.UncategorizedID)
	}
}

func TestNewCategorySlug(t *testing.T) {
	s := newCategorySlug("Design Inspiration")
	if !strings.HasPrefix(s, "design-inspiration-") {
		t.Errorf("slug = %q, want prefix %q", s, "design-inspiration-")
	}

	// スラッグ化で空になる名前はフォールバックする
	s = newCategorySlug("!!!")
	if !strings.HasPrefix(s, "category-") {
		t.Errorf("slug = %q, want prefix %q", s, "category-")
	}
}
