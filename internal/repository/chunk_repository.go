package repository

import (
	"context"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"qarag-go/internal/model"
)

// 词法检索的分数档位。
const (
	ScoreExactMatch = 1.0
	ScoreTermMatch  = 0.7
	ScoreFallback   = 0.45
)

// ChunkQuery 描述一次分块检索。Scoped 为 true 时只在 DocIDs 中检索。
type ChunkQuery struct {
	Query  string
	Terms  []string
	DocIDs []string
	Scoped bool
	Limit  int
}

// ChunkRepository 定义了对 document_chunks 表的数据操作接口。
type ChunkRepository interface {
	// Upsert 按 (doc_id, chunk_index) 覆盖写入，并删除 chunk_index 超出本次数量的旧分块。
	Upsert(ctx context.Context, docID string, chunks []model.DocumentChunk) error
	DeleteByDocID(ctx context.Context, docID string) error
	FindByDocID(ctx context.Context, docID string) ([]model.DocumentChunk, error)
	Count(ctx context.Context) (int64, error)
	// Match 返回包含原始查询（1.0）或任一关键词（0.7）的分块，按分数降序、chunk_index 升序。
	Match(ctx context.Context, q ChunkQuery) ([]model.ScoredChunk, error)
	// Leading 返回指定文档按 (doc_id, chunk_index) 排序的前 limit 个分块，分数固定为 0.45。
	Leading(ctx context.Context, docIDs []string, limit int) ([]model.ScoredChunk, error)
}

type chunkRepository struct {
	db *gorm.DB
}

// NewChunkRepository 创建一个新的 ChunkRepository 实例。
func NewChunkRepository(db *gorm.DB) ChunkRepository {
	return &chunkRepository{db: db}
}

func (r *chunkRepository) Upsert(ctx context.Context, docID string, chunks []model.DocumentChunk) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(chunks) > 0 {
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "doc_id"}, {Name: "chunk_index"}},
				DoUpdates: clause.AssignmentColumns([]string{"content", "metadata", "created_at"}),
			}).CreateInBatches(&chunks, 100).Error
			if err != nil {
				return err
			}
		}
		return tx.Where("doc_id = ? AND chunk_index >= ?", docID, len(chunks)).
			Delete(&model.DocumentChunk{}).Error
	})
}

func (r *chunkRepository) DeleteByDocID(ctx context.Context, docID string) error {
	return r.db.WithContext(ctx).Where("doc_id = ?", docID).Delete(&model.DocumentChunk{}).Error
}

func (r *chunkRepository) FindByDocID(ctx context.Context, docID string) ([]model.DocumentChunk, error) {
	var chunks []model.DocumentChunk
	err := r.db.WithContext(ctx).Where("doc_id = ?", docID).Order("chunk_index ASC").Find(&chunks).Error
	return chunks, err
}

func (r *chunkRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.DocumentChunk{}).Count(&n).Error
	return n, err
}

func (r *chunkRepository) Match(ctx context.Context, q ChunkQuery) ([]model.ScoredChunk, error) {
	var rows []model.ScoredChunk
	err := r.matchStatement(ctx, q).Find(&rows).Error
	return rows, err
}

func (r *chunkRepository) matchStatement(ctx context.Context, q ChunkQuery) *gorm.DB {
	pattern := likePattern(q.Query)

	// 原始查询子串命中，或任一关键词命中
	cond := r.db.Where("LOWER(c.content) LIKE ?", pattern)
	for _, term := range q.Terms {
		cond = cond.Or("LOWER(c.content) LIKE ?", likePattern(term))
	}

	tx := r.db.WithContext(ctx).
		Table("document_chunks AS c").
		Select("c.doc_id, c.chunk_index, c.content, d.filename, "+
			"CASE WHEN LOWER(c.content) LIKE ? THEN ? ELSE ? END AS score",
			pattern, ScoreExactMatch, ScoreTermMatch).
		Joins("JOIN documents AS d ON d.id = c.doc_id").
		Where(cond)
	if q.Scoped {
		tx = tx.Where("c.doc_id IN ?", q.DocIDs)
	}
	return tx.Order("score DESC").Order("c.chunk_index ASC").Limit(q.Limit)
}

func (r *chunkRepository) Leading(ctx context.Context, docIDs []string, limit int) ([]model.ScoredChunk, error) {
	var rows []model.ScoredChunk
	err := r.leadingStatement(ctx, docIDs, limit).Find(&rows).Error
	return rows, err
}

func (r *chunkRepository) leadingStatement(ctx context.Context, docIDs []string, limit int) *gorm.DB {
	return r.db.WithContext(ctx).
		Table("document_chunks AS c").
		Select("c.doc_id, c.chunk_index, c.content, d.filename, ? AS score", ScoreFallback).
		Joins("JOIN documents AS d ON d.id = c.doc_id").
		Where("c.doc_id IN ?", docIDs).
		Order("c.doc_id ASC").Order("c.chunk_index ASC").
		Limit(limit)
}

// likePattern 生成小写的 LIKE 子串匹配模式，并转义通配符。
func likePattern(s string) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	s = strings.ReplaceAll(s, "_", `\_`)
	return "%" + s + "%"
}
