package repository

import (
	"gorm.io/gorm"

	"qarag-go/internal/model"
)

// AutoMigrate 创建或更新 documents 与 document_chunks 表结构。
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&model.Document{}, &model.DocumentChunk{})
}
