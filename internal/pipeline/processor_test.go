package pipeline

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qarag-go/internal/chunker"
	"qarag-go/internal/extractor"
	"qarag-go/internal/model"
	"qarag-go/internal/repository"
	"qarag-go/pkg/storage"
	"qarag-go/pkg/tasks"
)

type fakeDocRepo struct {
	mu   sync.Mutex
	docs map[string]*model.Document
}

func newFakeDocRepo(ids ...string) *fakeDocRepo {
	r := &fakeDocRepo{docs: map[string]*model.Document{}}
	for _, id := range ids {
		r.docs[id] = &model.Document{ID: id, Status: model.StatusPending}
	}
	return r
}

func (r *fakeDocRepo) Create(_ context.Context, doc *model.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *doc
	r.docs[doc.ID] = &cp
	return nil
}

func (r *fakeDocRepo) FindByID(_ context.Context, id string) (*model.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.docs[id]
	if !ok {
		return nil, repository.ErrDocumentNotFound
	}
	cp := *d
	return &cp, nil
}

func (r *fakeDocRepo) List(context.Context) ([]model.Document, error) { return nil, nil }

func (r *fakeDocRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.docs, id)
	return nil
}

func (r *fakeDocRepo) UpdateStatus(_ context.Context, id string, status model.DocStatus, errMsg *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.docs[id]
	if !ok {
		return repository.ErrDocumentNotFound
	}
	d.Status = status
	d.ErrorMessage = errMsg
	return nil
}

func (r *fakeDocRepo) MarkCompleted(_ context.Context, id string, chunkCount int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d := r.docs[id]
	d.Status = model.StatusCompleted
	d.ChunkCount = chunkCount
	d.ErrorMessage = nil
	return nil
}

func (r *fakeDocRepo) ListByStatus(_ context.Context, status model.DocStatus) ([]model.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Document
	for _, d := range r.docs {
		if d.Status == status {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *fakeDocRepo) FailIfProcessing(_ context.Context, id string, errMsg string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.docs[id]
	if !ok || d.Status != model.StatusProcessing {
		return false, nil
	}
	d.Status = model.StatusFailed
	d.ErrorMessage = &errMsg
	return true, nil
}

func (r *fakeDocRepo) Count(context.Context) (int64, error) { return int64(len(r.docs)), nil }

func (r *fakeDocRepo) CountByStatus(context.Context) (map[model.DocStatus]int64, error) {
	return nil, nil
}

func (r *fakeDocRepo) get(id string) model.Document {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.docs[id]
}

type fakeChunkRepo struct {
	mu        sync.Mutex
	chunks    map[string]map[int]model.DocumentChunk
	upsertErr error
	panicMsg  string
}

func newFakeChunkRepo() *fakeChunkRepo {
	return &fakeChunkRepo{chunks: map[string]map[int]model.DocumentChunk{}}
}

func (r *fakeChunkRepo) Upsert(_ context.Context, docID string, chunks []model.DocumentChunk) error {
	if r.panicMsg != "" {
		panic(r.panicMsg)
	}
	if r.upsertErr != nil {
		return r.upsertErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	byIndex := r.chunks[docID]
	if byIndex == nil {
		byIndex = map[int]model.DocumentChunk{}
		r.chunks[docID] = byIndex
	}
	for _, c := range chunks {
		byIndex[c.ChunkIndex] = c
	}
	for idx := range byIndex {
		if idx >= len(chunks) {
			delete(byIndex, idx)
		}
	}
	return nil
}

func (r *fakeChunkRepo) DeleteByDocID(_ context.Context, docID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.chunks, docID)
	return nil
}

func (r *fakeChunkRepo) FindByDocID(_ context.Context, docID string) ([]model.DocumentChunk, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.DocumentChunk
	for _, c := range r.chunks[docID] {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChunkIndex < out[j].ChunkIndex })
	return out, nil
}

func (r *fakeChunkRepo) Count(context.Context) (int64, error) { return 0, nil }

func (r *fakeChunkRepo) Match(context.Context, repository.ChunkQuery) ([]model.ScoredChunk, error) {
	return nil, nil
}

func (r *fakeChunkRepo) Leading(context.Context, []string, int) ([]model.ScoredChunk, error) {
	return nil, nil
}

type fakeIndexer struct {
	deleted []string
	indexed []model.EsChunk
}

func (f *fakeIndexer) IndexChunks(_ context.Context, chunks []model.EsChunk) error {
	f.indexed = append(f.indexed, chunks...)
	return nil
}

func (f *fakeIndexer) DeleteByDoc(_ context.Context, docID string) error {
	f.deleted = append(f.deleted, docID)
	return nil
}

type fixture struct {
	proc   *Processor
	docs   *fakeDocRepo
	chunks *fakeChunkRepo
	store  *storage.FileStore
}

func newFixture(t *testing.T, index ChunkIndexer, ids ...string) *fixture {
	t.Helper()
	store, err := storage.NewFileStore(afero.NewMemMapFs(), "/data")
	require.NoError(t, err)
	f := &fixture{docs: newFakeDocRepo(ids...), chunks: newFakeChunkRepo(), store: store}
	f.proc = NewProcessor(
		extractor.New(),
		chunker.New(chunker.WithChunkSize(100), chunker.WithOverlap(20)),
		NewFetcher(5*time.Second, 0),
		f.docs, f.chunks, store, index,
	)
	f.proc.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	return f
}

func TestIngestFile_Completes(t *testing.T) {
	f := newFixture(t, nil, "doc-1")
	ctx := context.Background()

	text := strings.Repeat("Python is a programming language. ", 10)
	require.NoError(t, f.proc.IngestFile(ctx, "doc-1", "notes.txt", []byte(text)))

	doc := f.docs.get("doc-1")
	assert.Equal(t, model.StatusCompleted, doc.Status)
	chunks, _ := f.chunks.FindByDocID(ctx, "doc-1")
	require.NotEmpty(t, chunks)
	assert.Equal(t, len(chunks), doc.ChunkCount)

	for i, c := range chunks {
		meta := c.Metadata.Data()
		assert.Equal(t, i, c.ChunkIndex)
		assert.Equal(t, "doc-1", meta.DocID)
		assert.Equal(t, "notes.txt", meta.Source)
		assert.Equal(t, model.DocTypeText, meta.DocType)
		assert.Equal(t, len(chunks), meta.TotalChunks)
		assert.Equal(t, 2026, meta.ProcessedAt.Year())
	}
}

func TestIngestFile_ReingestOverwrites(t *testing.T) {
	f := newFixture(t, nil, "doc-1")
	ctx := context.Background()

	require.NoError(t, f.proc.IngestFile(ctx, "doc-1", "a.md", []byte(strings.Repeat("word ", 200))))
	first, _ := f.chunks.FindByDocID(ctx, "doc-1")
	require.Greater(t, len(first), 1)

	require.NoError(t, f.proc.IngestFile(ctx, "doc-1", "a.md", []byte("short text")))
	second, _ := f.chunks.FindByDocID(ctx, "doc-1")
	require.Len(t, second, 1)
	assert.Equal(t, "short text", second[0].Content)
	assert.Equal(t, 1, f.docs.get("doc-1").ChunkCount)
}

func TestIngestFile_EmptyContentFails(t *testing.T) {
	f := newFixture(t, nil, "doc-1")

	err := f.proc.IngestFile(context.Background(), "doc-1", "blank.txt", []byte(" \n\t "))
	require.ErrorIs(t, err, extractor.ErrEmptyContent)

	doc := f.docs.get("doc-1")
	assert.Equal(t, model.StatusFailed, doc.Status)
	require.NotNil(t, doc.ErrorMessage)
	assert.NotEmpty(t, *doc.ErrorMessage)
}

func TestIngestFile_MirrorsToIndex(t *testing.T) {
	idx := &fakeIndexer{}
	f := newFixture(t, idx, "doc-1")

	require.NoError(t, f.proc.IngestFile(context.Background(), "doc-1", "a.txt", []byte("hello world")))
	assert.Equal(t, []string{"doc-1"}, idx.deleted)
	require.Len(t, idx.indexed, 1)
	assert.Equal(t, "doc-1_0", idx.indexed[0].ChunkID)
	assert.Equal(t, "a.txt", idx.indexed[0].DocumentName)
}

func TestProcess_FileTask(t *testing.T) {
	f := newFixture(t, nil, "doc-1")
	ctx := context.Background()
	key := storage.DocumentKey("doc-1", "a.txt")
	require.NoError(t, f.store.Put(ctx, key, []byte("stored content"), "text/plain"))

	err := f.proc.Process(ctx, tasks.IngestTask{DocID: "doc-1", Kind: tasks.KindFile, FileName: "a.txt", ObjectKey: key})
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, f.docs.get("doc-1").Status)
}

func TestProcess_TerminalStates(t *testing.T) {
	tests := []struct {
		name      string
		setup     func(f *fixture)
		task      tasks.IngestTask
		wantErr   bool
		wantState model.DocStatus
	}{
		{
			name:      "missing artifact is terminal",
			task:      tasks.IngestTask{DocID: "doc-1", Kind: tasks.KindFile, FileName: "a.txt", ObjectKey: "documents/doc-1/a.txt"},
			wantState: model.StatusFailed,
		},
		{
			name: "empty content is terminal",
			setup: func(f *fixture) {
				_ = f.store.Put(context.Background(), "documents/doc-1/a.txt", []byte("   "), "")
			},
			task:      tasks.IngestTask{DocID: "doc-1", Kind: tasks.KindFile, FileName: "a.txt", ObjectKey: "documents/doc-1/a.txt"},
			wantState: model.StatusFailed,
		},
		{
			name: "store failure is retried",
			setup: func(f *fixture) {
				_ = f.store.Put(context.Background(), "documents/doc-1/a.txt", []byte("text"), "")
				f.chunks.upsertErr = assert.AnError
			},
			task:      tasks.IngestTask{DocID: "doc-1", Kind: tasks.KindFile, FileName: "a.txt", ObjectKey: "documents/doc-1/a.txt"},
			wantErr:   true,
			wantState: model.StatusFailed,
		},
		{
			name: "panic is finalized",
			setup: func(f *fixture) {
				_ = f.store.Put(context.Background(), "documents/doc-1/a.txt", []byte("text"), "")
				f.chunks.panicMsg = "boom"
			},
			task:      tasks.IngestTask{DocID: "doc-1", Kind: tasks.KindFile, FileName: "a.txt", ObjectKey: "documents/doc-1/a.txt"},
			wantErr:   true,
			wantState: model.StatusFailed,
		},
		{
			name:      "invalid url is terminal",
			task:      tasks.IngestTask{DocID: "doc-1", Kind: tasks.KindURL, URL: "not a url"},
			wantState: model.StatusFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil, "doc-1")
			if tt.setup != nil {
				tt.setup(f)
			}
			err := f.proc.Process(context.Background(), tt.task)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			doc := f.docs.get("doc-1")
			assert.Equal(t, tt.wantState, doc.Status)
			assert.True(t, doc.Status.Terminal())
			require.NotNil(t, doc.ErrorMessage)
		})
	}
}

func TestProcess_URLTask(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("User-Agent"), "Mozilla/5.0")
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><head><script>var x;</script></head><body><nav>menu</nav><p>Go is fun.</p></body></html>`))
	}))
	defer srv.Close()

	f := newFixture(t, nil, "doc-1")
	require.NoError(t, f.proc.Process(context.Background(), tasks.IngestTask{DocID: "doc-1", Kind: tasks.KindURL, URL: srv.URL}))

	assert.Equal(t, model.StatusCompleted, f.docs.get("doc-1").Status)
	chunks, _ := f.chunks.FindByDocID(context.Background(), "doc-1")
	require.Len(t, chunks, 1)
	assert.Equal(t, "Go is fun.", chunks[0].Content)
	assert.Equal(t, srv.URL, chunks[0].Metadata.Data().Source)
	assert.Equal(t, model.DocTypeHTML, chunks[0].Metadata.Data().DocType)
}

func TestProcess_URLFetchFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	f := newFixture(t, nil, "doc-1")
	require.NoError(t, f.proc.Process(context.Background(), tasks.IngestTask{DocID: "doc-1", Kind: tasks.KindURL, URL: srv.URL}))

	doc := f.docs.get("doc-1")
	assert.Equal(t, model.StatusFailed, doc.Status)
	require.NotNil(t, doc.ErrorMessage)
	assert.Contains(t, *doc.ErrorMessage, "failed to fetch URL")
}

func TestFetcher_SizeLimit(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		chunked bool
		wantErr bool
	}{
		{name: "恰好等于上限", size: 64},
		{name: "声明长度超限", size: 65, wantErr: true},
		{name: "未声明长度且超限", size: 4096, chunked: true, wantErr: true},
		{name: "未声明长度且未超限", size: 10, chunked: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page := strings.Repeat("a", tt.size)
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.chunked {
					_, _ = w.Write([]byte(page[:1]))
					w.(http.Flusher).Flush()
					_, _ = w.Write([]byte(page[1:]))
					return
				}
				w.Header().Set("Content-Length", strconv.Itoa(len(page)))
				_, _ = w.Write([]byte(page))
			}))
			defer srv.Close()

			data, err := NewFetcher(5*time.Second, 64).Fetch(context.Background(), srv.URL)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrFetchFailed)
				assert.Contains(t, err.Error(), "page exceeds size limit")
				assert.Nil(t, data)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, page, string(data))
		})
	}
}

func TestProcess_URLTooLargeFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<p>" + strings.Repeat("x", 200) + "</p>"))
	}))
	defer srv.Close()

	f := newFixture(t, nil, "doc-1")
	f.proc.fetcher = NewFetcher(5*time.Second, 100)
	require.NoError(t, f.proc.Process(context.Background(), tasks.IngestTask{DocID: "doc-1", Kind: tasks.KindURL, URL: srv.URL}))

	doc := f.docs.get("doc-1")
	assert.Equal(t, model.StatusFailed, doc.Status)
	require.NotNil(t, doc.ErrorMessage)
	assert.Contains(t, *doc.ErrorMessage, "page exceeds size limit")
	chunks, _ := f.chunks.FindByDocID(context.Background(), "doc-1")
	assert.Empty(t, chunks)
}

func TestValidateURL(t *testing.T) {
	assert.NoError(t, ValidateURL("https://example.com/a"))
	assert.ErrorIs(t, ValidateURL("example.com"), ErrInvalidURL)
	assert.ErrorIs(t, ValidateURL("http://"), ErrInvalidURL)
}
