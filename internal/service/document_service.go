package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"qarag-go/internal/extractor"
	"qarag-go/internal/model"
	"qarag-go/internal/repository"
	"qarag-go/pkg/log"
	"qarag-go/pkg/storage"
	"qarag-go/pkg/tasks"
)

// DocumentIndex 是文档分块在 Elasticsearch 中的镜像，只用于删除。
type DocumentIndex interface {
	DeleteByDoc(ctx context.Context, docID string) error
}

// DocumentService 接口定义了文档管理相关的业务操作。
type DocumentService interface {
	// Upload 保存上传文件并投递入库任务，返回 status=processing 的文档记录。
	Upload(ctx context.Context, filename string, data []byte) (*model.Document, error)
	// AddURL 登记网页文档并投递入库任务。
	AddURL(ctx context.Context, rawURL string) (*model.Document, error)
	List(ctx context.Context) ([]model.Document, error)
	Get(ctx context.Context, id string) (*model.Document, error)
	// Delete 删除文档、分块、检索镜像和上传文件。
	Delete(ctx context.Context, id string) error
	Stats(ctx context.Context) (*model.DocumentStats, error)
	// ResumeInterrupted 重新投递上次进程退出时仍处于 processing 的文档，返回投递成功的数量。
	ResumeInterrupted(ctx context.Context) (int, error)
}

type documentService struct {
	docRepo      repository.DocumentRepository
	chunkRepo    repository.ChunkRepository
	store        storage.ObjectStore
	queue        tasks.Queue
	index        DocumentIndex
	maxSizeBytes int64
}

// NewDocumentService 创建一个新的 DocumentService 实例。index 可以为 nil。
func NewDocumentService(
	docRepo repository.DocumentRepository,
	chunkRepo repository.ChunkRepository,
	store storage.ObjectStore,
	queue tasks.Queue,
	index DocumentIndex,
	maxSizeBytes int64,
) DocumentService {
	return &documentService{
		docRepo:      docRepo,
		chunkRepo:    chunkRepo,
		store:        store,
		queue:        queue,
		index:        index,
		maxSizeBytes: maxSizeBytes,
	}
}

func (s *documentService) Upload(ctx context.Context, filename string, data []byte) (*model.Document, error) {
	filename = filepath.Base(strings.TrimSpace(filename))
	if filename == "" || filename == "." || filename == string(filepath.Separator) {
		return nil, ErrEmptyFile
	}
	if s.maxSizeBytes > 0 && int64(len(data)) > s.maxSizeBytes {
		return nil, fmt.Errorf("%w: max size is %dMB, got %.1fMB", ErrFileTooLarge,
			s.maxSizeBytes/(1024*1024), float64(len(data))/(1024*1024))
	}

	docID := uuid.NewString()
	docType := extractor.DetectType(filename)
	log.Infof("[DocumentService] 上传文档, doc_id: %s, filename: %s, type: %s, size: %d", docID, filename, docType, len(data))

	// 1. 保存原始文件
	key := storage.DocumentKey(docID, filename)
	if err := s.store.Put(ctx, key, data, http.DetectContentType(data)); err != nil {
		return nil, fmt.Errorf("保存上传文件失败: %w", err)
	}

	// 2. 登记文档
	doc := &model.Document{
		ID:        docID,
		Filename:  filename,
		DocType:   docType,
		Status:    model.StatusProcessing,
		ObjectKey: key,
	}
	if err := s.docRepo.Create(ctx, doc); err != nil {
		return nil, fmt.Errorf("创建文档记录失败: %w", err)
	}

	// 3. 投递入库任务
	task := tasks.IngestTask{DocID: docID, Kind: tasks.KindFile, FileName: filename, ObjectKey: key}
	if err := s.submit(ctx, task); err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *documentService) AddURL(ctx context.Context, rawURL string) (*model.Document, error) {
	rawURL = strings.TrimSpace(rawURL)
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		return nil, ErrInvalidURL
	}

	docID := uuid.NewString()
	log.Infof("[DocumentService] 添加网页文档, doc_id: %s, url: %s", docID, rawURL)
	source := rawURL
	doc := &model.Document{
		ID:       docID,
		Filename: rawURL,
		DocType:  model.DocTypeHTML,
		Source:   &source,
		Status:   model.StatusProcessing,
	}
	if err := s.docRepo.Create(ctx, doc); err != nil {
		return nil, fmt.Errorf("创建文档记录失败: %w", err)
	}

	if err := s.submit(ctx, tasks.IngestTask{DocID: docID, Kind: tasks.KindURL, FileName: rawURL, URL: rawURL}); err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *documentService) ResumeInterrupted(ctx context.Context) (int, error) {
	docs, err := s.docRepo.ListByStatus(ctx, model.StatusProcessing)
	if err != nil {
		return 0, fmt.Errorf("查询未完成的文档失败: %w", err)
	}
	resumed := 0
	for _, doc := range docs {
		task := tasks.IngestTask{DocID: doc.ID, Kind: tasks.KindFile, FileName: doc.Filename, ObjectKey: doc.ObjectKey}
		if doc.DocType == model.DocTypeHTML && doc.Source != nil {
			task = tasks.IngestTask{DocID: doc.ID, Kind: tasks.KindURL, FileName: doc.Filename, URL: *doc.Source}
		}
		// 投递失败时 submit 已把文档置为 failed
		if err := s.submit(ctx, task); err != nil {
			continue
		}
		resumed++
	}
	log.Infof("[DocumentService] 重新投递中断的入库任务 %d/%d 个", resumed, len(docs))
	return resumed, nil
}

// submit 投递任务，失败时把文档置为 failed，避免停留在 processing。
func (s *documentService) submit(ctx context.Context, task tasks.IngestTask) error {
	if err := s.queue.Submit(ctx, task); err != nil {
		log.Errorf("[DocumentService] 投递入库任务失败, doc_id: %s, error: %v", task.DocID, err)
		msg := fmt.Sprintf("failed to queue ingestion: %v", err)
		if uerr := s.docRepo.UpdateStatus(context.Background(), task.DocID, model.StatusFailed, &msg); uerr != nil {
			log.Errorf("[DocumentService] 更新文档状态失败, doc_id: %s, error: %v", task.DocID, uerr)
		}
		return fmt.Errorf("投递入库任务失败: %w", err)
	}
	return nil
}

func (s *documentService) List(ctx context.Context) ([]model.Document, error) {
	return s.docRepo.List(ctx)
}

func (s *documentService) Get(ctx context.Context, id string) (*model.Document, error) {
	doc, err := s.docRepo.FindByID(ctx, id)
	if errors.Is(err, repository.ErrDocumentNotFound) {
		return nil, ErrNotFound
	}
	return doc, err
}

func (s *documentService) Delete(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	log.Infof("[DocumentService] 删除文档, doc_id: %s", id)

	if err := s.chunkRepo.DeleteByDocID(ctx, id); err != nil {
		return fmt.Errorf("删除文档分块失败: %w", err)
	}
	if err := s.docRepo.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrDocumentNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("删除文档失败: %w", err)
	}

	// 镜像与文件的清理失败不影响删除结果
	if s.index != nil {
		if err := s.index.DeleteByDoc(ctx, id); err != nil {
			log.Warnf("[DocumentService] 删除 Elasticsearch 分块失败, doc_id: %s, error: %v", id, err)
		}
	}
	if err := s.store.DeletePrefix(ctx, storage.DocumentPrefix(id)); err != nil {
		log.Warnf("[DocumentService] 删除上传文件失败, doc_id: %s, error: %v", id, err)
	}
	return nil
}

func (s *documentService) Stats(ctx context.Context) (*model.DocumentStats, error) {
	total, err := s.docRepo.Count(ctx)
	if err != nil {
		return nil, err
	}
	chunks, err := s.chunkRepo.Count(ctx)
	if err != nil {
		return nil, err
	}
	breakdown, err := s.docRepo.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	return &model.DocumentStats{TotalDocuments: total, TotalChunks: chunks, StatusBreakdown: breakdown}, nil
}
