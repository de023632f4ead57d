package model

import "fmt"

// EsChunk 定义了镜像到 Elasticsearch 中的分块文档结构。
type EsChunk struct {
	ChunkID      string `json:"chunk_id"` // docID_chunkIndex
	DocID        string `json:"doc_id"`
	ChunkIndex   int    `json:"chunk_index"`
	DocumentName string `json:"document_name"`
	Content      string `json:"content"`
}

// EsChunkID 返回分块在索引中的文档 ID。
func EsChunkID(docID string, chunkIndex int) string {
	return fmt.Sprintf("%s_%d", docID, chunkIndex)
}
