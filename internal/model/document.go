// Package model 包含了应用的数据模型定义。
package model

import (
	"time"

	"gorm.io/datatypes"
)

// DocType 是文档的格式类型。
type DocType string

const (
	DocTypePDF      DocType = "pdf"
	DocTypeDOCX     DocType = "docx"
	DocTypeMarkdown DocType = "markdown"
	DocTypeText     DocType = "text"
	DocTypeHTML     DocType = "html"
)

// DocStatus 是文档的处理状态。
type DocStatus string

const (
	StatusPending    DocStatus = "pending"
	StatusProcessing DocStatus = "processing"
	StatusCompleted  DocStatus = "completed"
	StatusFailed     DocStatus = "failed"
)

// Terminal 表示该状态是否为终态。
func (s DocStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Document 对应 documents 表。
type Document struct {
	ID           string          `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Filename     string          `gorm:"type:varchar(1024);not null" json:"filename"`
	DocType      DocType         `gorm:"column:doc_type;type:varchar(20);not null" json:"doc_type"`
	Source       *string         `gorm:"type:varchar(2048)" json:"source"`
	Status       DocStatus       `gorm:"type:varchar(20);not null;default:pending;index" json:"status"`
	ChunkCount   int             `gorm:"not null;default:0" json:"chunk_count"`
	ErrorMessage *string         `gorm:"type:text" json:"error_message,omitempty"`
	ObjectKey    string          `gorm:"type:varchar(1024)" json:"-"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
	Chunks       []DocumentChunk `gorm:"foreignKey:DocID;references:ID;constraint:OnDelete:CASCADE" json:"-"`
}

func (Document) TableName() string {
	return "documents"
}

// ChunkMetadata 是分块的固定元数据，Extra 用于以后扩展字段。
type ChunkMetadata struct {
	DocID       string            `json:"doc_id"`
	Source      string            `json:"source"`
	DocType     DocType           `json:"doc_type"`
	ChunkIndex  int               `json:"chunk_index"`
	TotalChunks int               `json:"total_chunks"`
	ProcessedAt time.Time         `json:"processed_at"`
	Extra       map[string]string `json:"extra,omitempty"`
}

// DocumentChunk 对应 document_chunks 表，(doc_id, chunk_index) 唯一。
type DocumentChunk struct {
	ID         uint64                            `gorm:"primaryKey;autoIncrement" json:"id"`
	DocID      string                            `gorm:"type:varchar(36);not null;uniqueIndex:uk_doc_chunk,priority:1;index:idx_chunk_doc" json:"doc_id"`
	ChunkIndex int                               `gorm:"not null;uniqueIndex:uk_doc_chunk,priority:2" json:"chunk_index"`
	Content    string                            `gorm:"type:longtext;not null;index:idx_chunk_content,class:FULLTEXT" json:"content"`
	Metadata   datatypes.JSONType[ChunkMetadata] `gorm:"type:json" json:"metadata"`
	CreatedAt  time.Time                         `gorm:"autoCreateTime" json:"created_at"`
}

func (DocumentChunk) TableName() string {
	return "document_chunks"
}

// ScoredChunk 是检索查询返回的一行：分块内容、所属文档名与得分。
type ScoredChunk struct {
	DocID      string  `gorm:"column:doc_id"`
	ChunkIndex int     `gorm:"column:chunk_index"`
	Content    string  `gorm:"column:content"`
	Filename   string  `gorm:"column:filename"`
	Score      float64 `gorm:"column:score"`
}

// DocumentStats 是文档统计概览。
type DocumentStats struct {
	TotalDocuments  int64               `json:"total_documents"`
	TotalChunks     int64               `json:"total_chunks"`
	StatusBreakdown map[DocStatus]int64 `json:"status_breakdown"`
}
