// Package repository 提供了数据访问层的实现。
package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"qarag-go/internal/model"
)

// ErrDocumentNotFound 表示文档不存在。
var ErrDocumentNotFound = errors.New("document not found")

// DocumentRepository 定义了对 documents 表的数据操作接口。
type DocumentRepository interface {
	Create(ctx context.Context, doc *model.Document) error
	FindByID(ctx context.Context, id string) (*model.Document, error)
	List(ctx context.Context) ([]model.Document, error)
	ListByStatus(ctx context.Context, status model.DocStatus) ([]model.Document, error)
	Delete(ctx context.Context, id string) error
	UpdateStatus(ctx context.Context, id string, status model.DocStatus, errMsg *string) error
	MarkCompleted(ctx context.Context, id string, chunkCount int) error
	// FailIfProcessing 把仍处于 processing 的文档置为 failed，返回是否发生了修改。
	FailIfProcessing(ctx context.Context, id string, errMsg string) (bool, error)
	Count(ctx context.Context) (int64, error)
	CountByStatus(ctx context.Context) (map[model.DocStatus]int64, error)
}

type documentRepository struct {
	db *gorm.DB
}

// NewDocumentRepository 创建一个新的 DocumentRepository 实例。
func NewDocumentRepository(db *gorm.DB) DocumentRepository {
	return &documentRepository{db: db}
}

func (r *documentRepository) Create(ctx context.Context, doc *model.Document) error {
	return r.db.WithContext(ctx).Create(doc).Error
}

func (r *documentRepository) FindByID(ctx context.Context, id string) (*model.Document, error) {
	var doc model.Document
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (r *documentRepository) List(ctx context.Context) ([]model.Document, error) {
	var docs []model.Document
	err := r.db.WithContext(ctx).Order("created_at DESC").Find(&docs).Error
	return docs, err
}

func (r *documentRepository) ListByStatus(ctx context.Context, status model.DocStatus) ([]model.Document, error) {
	var docs []model.Document
	err := r.db.WithContext(ctx).Where("status = ?", status).Order("created_at ASC").Find(&docs).Error
	return docs, err
}

// Delete 删除文档，分块由外键级联删除。
func (r *documentRepository) Delete(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.Document{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrDocumentNotFound
	}
	return nil
}

func (r *documentRepository) UpdateStatus(ctx context.Context, id string, status model.DocStatus, errMsg *string) error {
	return r.db.WithContext(ctx).Model(&model.Document{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":        status,
			"error_message": errMsg,
			"updated_at":    time.Now(),
		}).Error
}

func (r *documentRepository) MarkCompleted(ctx context.Context, id string, chunkCount int) error {
	return r.db.WithContext(ctx).Model(&model.Document{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":        model.StatusCompleted,
			"chunk_count":   chunkCount,
			"error_message": nil,
			"updated_at":    time.Now(),
		}).Error
}

func (r *documentRepository) FailIfProcessing(ctx context.Context, id string, errMsg string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.Document{}).
		Where("id = ? AND status = ?", id, model.StatusProcessing).
		Updates(map[string]interface{}{
			"status":        model.StatusFailed,
			"error_message": errMsg,
			"updated_at":    time.Now(),
		})
	return res.RowsAffected > 0, res.Error
}

func (r *documentRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.Document{}).Count(&n).Error
	return n, err
}

func (r *documentRepository) CountByStatus(ctx context.Context) (map[model.DocStatus]int64, error) {
	var rows []struct {
		Status model.DocStatus
		Total  int64
	}
	err := r.db.WithContext(ctx).Model(&model.Document{}).
		Select("status, COUNT(*) AS total").Group("status").Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[model.DocStatus]int64, len(rows))
	for _, row := range rows {
		out[row.Status] = row.Total
	}
	return out, nil
}
