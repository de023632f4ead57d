// Package tasks defines document ingestion tasks and the queues that carry them.
package tasks

import (
	"context"
	"errors"
)

// Kind 区分上传文件与网页 URL 两类入库任务。
type Kind string

const (
	KindFile Kind = "file"
	KindURL  Kind = "url"
)

var (
	// ErrQueueClosed 表示队列已关闭，不再接收任务。
	ErrQueueClosed = errors.New("task queue closed")
	// ErrQueueFull 表示进程内队列没有空位。
	ErrQueueFull = errors.New("task queue full")
)

// IngestTask represents the data structure for a document ingestion job.
type IngestTask struct {
	DocID     string `json:"doc_id"`
	Kind      Kind   `json:"kind"`
	FileName  string `json:"file_name"`
	ObjectKey string `json:"object_key,omitempty"`
	URL       string `json:"url,omitempty"`
}

// Processor defines the interface for any service that can process a task.
// This decouples the queues from the concrete pipeline implementation.
type Processor interface {
	Process(ctx context.Context, task IngestTask) error
}

// Queue 是入库任务的投递端。
type Queue interface {
	Submit(ctx context.Context, task IngestTask) error
	Close() error
}
