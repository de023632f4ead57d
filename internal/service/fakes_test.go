package service

import (
	"context"
	"sort"
	"sync"

	"qarag-go/internal/model"
	"qarag-go/internal/repository"
	"qarag-go/pkg/es"
	"qarag-go/pkg/llm"
	"qarag-go/pkg/tasks"
	"qarag-go/pkg/websearch"
)

// fakeLLM 记录每次调用的消息，并按预设返回结果。
type fakeLLM struct {
	mu          sync.Mutex
	answer      string
	completeErr error
	tokens      []string
	streamErr   error
	calls       [][]llm.Message
	params      []*llm.GenerationParams
}

func (f *fakeLLM) record(messages []llm.Message, gen *llm.GenerationParams) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, messages)
	f.params = append(f.params, gen)
}

func (f *fakeLLM) lastCall() []llm.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return nil
	}
	return f.calls[len(f.calls)-1]
}

func (f *fakeLLM) Complete(_ context.Context, messages []llm.Message, gen *llm.GenerationParams) (string, error) {
	f.record(messages, gen)
	if f.completeErr != nil {
		return "", f.completeErr
	}
	return f.answer, nil
}

func (f *fakeLLM) StreamChatMessages(ctx context.Context, messages []llm.Message, gen *llm.GenerationParams, writer llm.TokenWriter) error {
	f.record(messages, gen)
	for _, tok := range f.tokens {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := writer.WriteToken(tok); err != nil {
			return err
		}
	}
	if f.streamErr != nil {
		return f.streamErr
	}
	return ctx.Err()
}

// fakeChunkRepo 只实现检索相关的行为，其余方法记录调用。
type fakeChunkRepo struct {
	matchRows   []model.ScoredChunk
	matchErr    error
	leadingRows []model.ScoredChunk
	queries     []repository.ChunkQuery
	leadingArgs [][]string
	deleted     []string
	count       int64
}

func (f *fakeChunkRepo) Upsert(context.Context, string, []model.DocumentChunk) error { return nil }

func (f *fakeChunkRepo) DeleteByDocID(_ context.Context, docID string) error {
	f.deleted = append(f.deleted, docID)
	return nil
}

func (f *fakeChunkRepo) FindByDocID(context.Context, string) ([]model.DocumentChunk, error) {
	return nil, nil
}

func (f *fakeChunkRepo) Count(context.Context) (int64, error) { return f.count, nil }

func (f *fakeChunkRepo) Match(_ context.Context, q repository.ChunkQuery) ([]model.ScoredChunk, error) {
	f.queries = append(f.queries, q)
	return f.matchRows, f.matchErr
}

func (f *fakeChunkRepo) Leading(_ context.Context, docIDs []string, _ int) ([]model.ScoredChunk, error) {
	f.leadingArgs = append(f.leadingArgs, docIDs)
	return f.leadingRows, nil
}

type fakeLexicalIndex struct {
	rows   []model.ScoredChunk
	err    error
	params []es.SearchParams
}

func (f *fakeLexicalIndex) Search(_ context.Context, p es.SearchParams) ([]model.ScoredChunk, error) {
	f.params = append(f.params, p)
	return f.rows, f.err
}

type fakeWebSearcher struct {
	results    []websearch.Result
	err        error
	queries    []string
	extracted  [][]string
	maxResults []int
}

func (f *fakeWebSearcher) Search(_ context.Context, query string, maxResults int) ([]websearch.Result, error) {
	f.queries = append(f.queries, query)
	f.maxResults = append(f.maxResults, maxResults)
	return f.results, f.err
}

func (f *fakeWebSearcher) Extract(_ context.Context, urls []string) ([]websearch.Result, error) {
	f.extracted = append(f.extracted, urls)
	return f.results, f.err
}

// stubPlanner 返回固定的规划结果。
type stubPlanner struct {
	plan    Plan
	calls   int
	hasDocs []bool
	history [][]model.ChatMessage
}

func (p *stubPlanner) Plan(_ context.Context, _ string, history []model.ChatMessage, hasDocs bool) Plan {
	p.calls++
	p.hasDocs = append(p.hasDocs, hasDocs)
	p.history = append(p.history, history)
	return p.plan
}

type stubSearch struct {
	sources []model.Source
	err     error
	scopes  []DocScope
	limits  []int
}

func (s *stubSearch) Search(_ context.Context, _ string, limit int, scope DocScope) ([]model.Source, error) {
	s.scopes = append(s.scopes, scope)
	s.limits = append(s.limits, limit)
	return s.sources, s.err
}

type stubWeb struct {
	searchResults  []model.Source
	extractResults []model.Source
	queries        []string
	extracted      [][]string
}

func (w *stubWeb) Search(_ context.Context, query string, _ int) []model.Source {
	w.queries = append(w.queries, query)
	return w.searchResults
}

func (w *stubWeb) Extract(_ context.Context, urls []string) []model.Source {
	w.extracted = append(w.extracted, urls)
	return w.extractResults
}

// fakeDocRepo 是基于 map 的 DocumentRepository。
type fakeDocRepo struct {
	mu        sync.Mutex
	docs      map[string]*model.Document
	createErr error
}

func newFakeDocRepo() *fakeDocRepo {
	return &fakeDocRepo{docs: make(map[string]*model.Document)}
}

func (r *fakeDocRepo) Create(_ context.Context, doc *model.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	cp := *doc
	r.docs[doc.ID] = &cp
	return nil
}

func (r *fakeDocRepo) FindByID(_ context.Context, id string) (*model.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[id]
	if !ok {
		return nil, repository.ErrDocumentNotFound
	}
	cp := *doc
	return &cp, nil
}

func (r *fakeDocRepo) List(context.Context) ([]model.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Document, 0, len(r.docs))
	for _, d := range r.docs {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *fakeDocRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.docs[id]; !ok {
		return repository.ErrDocumentNotFound
	}
	delete(r.docs, id)
	return nil
}

func (r *fakeDocRepo) UpdateStatus(_ context.Context, id string, status model.DocStatus, errMsg *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[id]
	if !ok {
		return repository.ErrDocumentNotFound
	}
	doc.Status = status
	doc.ErrorMessage = errMsg
	return nil
}

func (r *fakeDocRepo) MarkCompleted(_ context.Context, id string, chunkCount int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[id]
	if !ok {
		return repository.ErrDocumentNotFound
	}
	doc.Status = model.StatusCompleted
	doc.ChunkCount = chunkCount
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
	doc, ok := r.docs[id]
	if !ok || doc.Status != model.StatusProcessing {
		return false, nil
	}
	doc.Status = model.StatusFailed
	doc.ErrorMessage = &errMsg
	return true, nil
}

func (r *fakeDocRepo) Count(context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.docs)), nil
}

func (r *fakeDocRepo) CountByStatus(context.Context) (map[model.DocStatus]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[model.DocStatus]int64)
	for _, d := range r.docs {
		out[d.Status]++
	}
	return out, nil
}

type fakeQueue struct {
	submitted []tasks.IngestTask
	err       error
}

func (q *fakeQueue) Submit(_ context.Context, task tasks.IngestTask) error {
	if q.err != nil {
		return q.err
	}
	q.submitted = append(q.submitted, task)
	return nil
}

func (q *fakeQueue) Close() error { return nil }

type fakeDocIndex struct {
	deleted []string
}

func (f *fakeDocIndex) DeleteByDoc(_ context.Context, docID string) error {
	f.deleted = append(f.deleted, docID)
	return nil
}
