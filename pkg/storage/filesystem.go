package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// FileStore 把对象保存在文件系统（afero.Fs）的 root 目录下。
type FileStore struct {
	fs   afero.Fs
	root string
}

// NewFileStore 创建 FileStore。生产环境传入 afero.NewOsFs()，测试可用 afero.NewMemMapFs()。
func NewFileStore(fs afero.Fs, root string) (*FileStore, error) {
	if err := fs.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("创建存储目录失败: %w", err)
	}
	return &FileStore{fs: fs, root: root}, nil
}

func (s *FileStore) path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

func (s *FileStore) Put(_ context.Context, key string, data []byte, _ string) error {
	p := s.path(key)
	if err := s.fs.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("创建目录失败: %w", err)
	}
	return afero.WriteFile(s.fs, p, data, 0o644)
}

func (s *FileStore) Get(_ context.Context, key string) ([]byte, error) {
	data, err := afero.ReadFile(s.fs, s.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrObjectNotFound
	}
	return data, err
}

func (s *FileStore) DeletePrefix(_ context.Context, prefix string) error {
	return s.fs.RemoveAll(s.path(prefix))
}
