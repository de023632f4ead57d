// Package storage 提供上传文件的对象存储，支持 MinIO 与本地文件系统。
package storage

import (
	"context"
	"errors"
	"path"
)

// ErrObjectNotFound 表示对象不存在。
var ErrObjectNotFound = errors.New("object not found")

// ObjectStore 是上传文件的存储接口。
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	// DeletePrefix 删除 prefix 下的所有对象，不存在时不报错。
	DeletePrefix(ctx context.Context, prefix string) error
}

// DocumentPrefix 返回某个文档的对象前缀。
func DocumentPrefix(docID string) string {
	return path.Join("documents", docID) + "/"
}

// DocumentKey 返回文档原始文件的对象名：documents/<docID>/<filename>。
func DocumentKey(docID, filename string) string {
	return path.Join("documents", docID, path.Base(filename))
}
