package service

import "errors"

// 业务层错误，由 handler 映射为对应的 HTTP 状态码。
var (
	ErrNotFound     = errors.New("resource not found")
	ErrFileTooLarge = errors.New("file too large")
	ErrInvalidURL   = errors.New("invalid URL. Must start with http:// or https://")
	ErrEmptyFile    = errors.New("no file provided")
)
