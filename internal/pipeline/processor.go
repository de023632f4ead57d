// Package pipeline 定义了文档入库的核心流程：抽取、清洗、分块、持久化与状态跟踪。
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"

	"qarag-go/internal/chunker"
	"qarag-go/internal/extractor"
	"qarag-go/internal/model"
	"qarag-go/internal/repository"
	"qarag-go/pkg/log"
	"qarag-go/pkg/storage"
	"qarag-go/pkg/tasks"
)

// msgUnfinished 是收尾检查把卡在 processing 的文档置为 failed 时写入的错误信息。
const msgUnfinished = "ingestion did not reach a terminal state"

// ChunkIndexer 是分块的检索镜像（Elasticsearch）。
type ChunkIndexer interface {
	IndexChunks(ctx context.Context, chunks []model.EsChunk) error
	DeleteByDoc(ctx context.Context, docID string) error
}

// Processor 封装了文档处理的所有依赖和逻辑。
type Processor struct {
	extractor *extractor.Extractor
	splitter  *chunker.Splitter
	fetcher   *Fetcher
	docRepo   repository.DocumentRepository
	chunkRepo repository.ChunkRepository
	store     storage.ObjectStore
	index     ChunkIndexer
	now       func() time.Time
}

// NewProcessor 创建一个新的 Processor 实例。index 可以为 nil（未启用 Elasticsearch）。
func NewProcessor(
	ext *extractor.Extractor,
	splitter *chunker.Splitter,
	fetcher *Fetcher,
	docRepo repository.DocumentRepository,
	chunkRepo repository.ChunkRepository,
	store storage.ObjectStore,
	index ChunkIndexer,
) *Processor {
	return &Processor{
		extractor: ext,
		splitter:  splitter,
		fetcher:   fetcher,
		docRepo:   docRepo,
		chunkRepo: chunkRepo,
		store:     store,
		index:     index,
		now:       time.Now,
	}
}

// Process 是任务队列的入口：执行入库，并在结束时（包括 panic）做收尾检查，
// 保证文档不会停留在 processing。
// 只有基础设施错误（存储、数据库）会返回给队列以便重试；抽取类错误是终态。
func (p *Processor) Process(ctx context.Context, task tasks.IngestTask) (err error) {
	log.Infof("[Processor] 开始处理任务, DocID: %s, Kind: %s, FileName: %s", task.DocID, task.Kind, task.FileName)
	defer p.finalize(task.DocID, &err)

	switch task.Kind {
	case tasks.KindURL:
		err = p.IngestURL(ctx, task.DocID, task.URL)
	default:
		var data []byte
		data, err = p.store.Get(ctx, task.ObjectKey)
		if err != nil {
			log.Errorf("[Processor] 读取上传文件失败, Object: %s, Error: %v", task.ObjectKey, err)
			p.markFailed(ctx, task.DocID, fmt.Sprintf("failed to read uploaded file: %v", err))
			err = fmt.Errorf("读取上传文件失败: %w", err)
		} else {
			err = p.IngestFile(ctx, task.DocID, task.FileName, data)
		}
	}

	if err != nil && isTerminal(err) {
		log.Warnf("[Processor] 文档处理失败(不重试), DocID: %s, Error: %v", task.DocID, err)
		return nil
	}
	return err
}

func (p *Processor) finalize(docID string, errp *error) {
	msg := msgUnfinished
	if r := recover(); r != nil {
		log.Errorf("[Processor] 处理文档时发生 panic, DocID: %s, panic: %v", docID, r)
		msg = fmt.Sprintf("unexpected failure: %v", r)
		*errp = fmt.Errorf("panic while processing %s: %v", docID, r)
	}
	// ctx 可能已被取消，收尾检查使用独立的 context
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	changed, err := p.docRepo.FailIfProcessing(ctx, docID, msg)
	if err != nil {
		log.Errorf("[Processor] 收尾检查失败, DocID: %s, Error: %v", docID, err)
		return
	}
	if changed {
		log.Warnf("[Processor] 文档 %s 仍处于 processing，已置为 failed", docID)
	}
}

// IngestFile 处理上传的文件内容。
func (p *Processor) IngestFile(ctx context.Context, docID, filename string, data []byte) error {
	docType := extractor.DetectType(filename)
	return p.ingest(ctx, docID, filename, filename, docType, func() (string, error) {
		return p.extractor.Extract(ctx, data, filename, docType)
	})
}

// IngestURL 抓取网页并按 HTML 处理。
func (p *Processor) IngestURL(ctx context.Context, docID, rawURL string) error {
	return p.ingest(ctx, docID, rawURL, rawURL, model.DocTypeHTML, func() (string, error) {
		log.Infof("[Processor] 抓取网页, URL: %s", rawURL)
		body, err := p.fetcher.Fetch(ctx, rawURL)
		if err != nil {
			return "", err
		}
		return p.extractor.Extract(ctx, body, rawURL, model.DocTypeHTML)
	})
}

func (p *Processor) ingest(ctx context.Context, docID, name, source string, docType model.DocType, extract func() (string, error)) error {
	// 1. 标记为 processing
	log.Infof("[Processor] 步骤1: 更新文档状态为 processing, DocID: %s", docID)
	if err := p.docRepo.UpdateStatus(ctx, docID, model.StatusProcessing, nil); err != nil {
		return fmt.Errorf("更新文档状态失败: %w", err)
	}

	// 2. 抽取文本
	log.Infof("[Processor] 步骤2: 抽取文本, Name: %s, Type: %s", name, docType)
	text, err := extract()
	if err != nil {
		log.Errorf("[Processor] 抽取文本失败, DocID: %s, Error: %v", docID, err)
		p.markFailed(ctx, docID, err.Error())
		return &ExtractionError{DocID: docID, Err: err}
	}

	// 3. 清洗与分块
	cleaned := extractor.Clean(text)
	if cleaned == "" {
		p.markFailed(ctx, docID, extractor.ErrEmptyContent.Error())
		return &ExtractionError{DocID: docID, Err: extractor.ErrEmptyContent}
	}
	pieces := p.splitter.Split(cleaned)
	log.Infof("[Processor] 步骤3: 文本分块完成, 字符数: %d, 分块数: %d", len([]rune(cleaned)), len(pieces))

	processedAt := p.now().UTC()
	chunks := make([]model.DocumentChunk, 0, len(pieces))
	for _, piece := range pieces {
		chunks = append(chunks, model.DocumentChunk{
			DocID:      docID,
			ChunkIndex: piece.Index,
			Content:    piece.Content,
			Metadata: datatypes.NewJSONType(model.ChunkMetadata{
				DocID:       docID,
				Source:      source,
				DocType:     docType,
				ChunkIndex:  piece.Index,
				TotalChunks: len(pieces),
				ProcessedAt: processedAt,
			}),
		})
	}

	// 4. 持久化分块
	log.Infof("[Processor] 步骤4: 写入 %d 个分块到数据库", len(chunks))
	if err := p.chunkRepo.Upsert(ctx, docID, chunks); err != nil {
		log.Errorf("[Processor] 写入分块失败, DocID: %s, Error: %v", docID, err)
		p.markFailed(ctx, docID, fmt.Sprintf("failed to store chunks: %v", err))
		return fmt.Errorf("写入分块失败: %w", err)
	}

	// 5. 同步到 Elasticsearch（可选，失败不影响入库结果）
	if p.index != nil {
		log.Infof("[Processor] 步骤5: 同步分块到 Elasticsearch, DocID: %s", docID)
		p.mirror(ctx, docID, name, chunks)
	}

	// 6. 标记完成
	if err := p.docRepo.MarkCompleted(ctx, docID, len(chunks)); err != nil {
		p.markFailed(ctx, docID, fmt.Sprintf("failed to update status: %v", err))
		return fmt.Errorf("更新文档状态失败: %w", err)
	}
	log.Infof("[Processor] 文档处理完成, DocID: %s, ChunkCount: %d", docID, len(chunks))
	return nil
}

func (p *Processor) mirror(ctx context.Context, docID, name string, chunks []model.DocumentChunk) {
	if err := p.index.DeleteByDoc(ctx, docID); err != nil {
		log.Warnf("[Processor] 清理 Elasticsearch 旧分块失败, DocID: %s, Error: %v", docID, err)
	}
	esChunks := make([]model.EsChunk, 0, len(chunks))
	for _, c := range chunks {
		esChunks = append(esChunks, model.EsChunk{
			ChunkID:      model.EsChunkID(docID, c.ChunkIndex),
			DocID:        docID,
			ChunkIndex:   c.ChunkIndex,
			DocumentName: name,
			Content:      c.Content,
		})
	}
	if err := p.index.IndexChunks(ctx, esChunks); err != nil {
		log.Warnf("[Processor] 同步分块到 Elasticsearch 失败, DocID: %s, Error: %v", docID, err)
	}
}

func (p *Processor) markFailed(ctx context.Context, docID, msg string) {
	if ctx.Err() != nil {
		ctx = context.Background()
	}
	if err := p.docRepo.UpdateStatus(ctx, docID, model.StatusFailed, &msg); err != nil {
		log.Errorf("[Processor] 更新文档状态为 failed 失败, DocID: %s, Error: %v", docID, err)
	}
}

// ExtractionError 包装抽取阶段的错误（格式不支持、内容为空、解析失败、抓取失败），重试无法恢复。
type ExtractionError struct {
	DocID string
	Err   error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract document %s: %v", e.DocID, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// isTerminal 判断错误是否属于重试也无法恢复的错误。
func isTerminal(err error) bool {
	var ee *ExtractionError
	return errors.As(err, &ee) || errors.Is(err, storage.ErrObjectNotFound)
}
