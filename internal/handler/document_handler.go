package handler

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"

	"qarag-go/internal/service"
	"qarag-go/pkg/log"
)

// multipartOverhead 是 multipart 边界与表单头部允许占用的额外字节数。
const multipartOverhead = 64 << 10

// DocumentHandler 负责处理所有与文档管理相关的 API 请求。
type DocumentHandler struct {
	docService     service.DocumentService
	maxUploadBytes int64
}

// NewDocumentHandler 创建一个新的 DocumentHandler 实例。maxUploadBytes <= 0 表示不在入口处限制请求体。
func NewDocumentHandler(docService service.DocumentService, maxUploadBytes int64) *DocumentHandler {
	return &DocumentHandler{docService: docService, maxUploadBytes: maxUploadBytes}
}

// Upload 处理 multipart 文件上传，文件在后台解析入库。
// 超过大小限制的请求在读取文件内容之前就返回 413。
func (h *DocumentHandler) Upload(c *gin.Context) {
	if h.maxUploadBytes > 0 {
		limit := h.maxUploadBytes + multipartOverhead
		if c.Request.ContentLength > limit {
			log.Warnf("[DocumentHandler] 请求体过大, content_length: %d, limit: %d", c.Request.ContentLength, limit)
			respondError(c, h.tooLarge(c.Request.ContentLength))
			return
		}
		body := &limitedBody{ReadCloser: http.MaxBytesReader(c.Writer, c.Request.Body, limit)}
		c.Request.Body = body
		fileHeader, err := c.FormFile("file")
		if body.exceeded {
			respondError(c, h.tooLarge(limit+1))
			return
		}
		h.store(c, fileHeader, err)
		return
	}
	fileHeader, err := c.FormFile("file")
	h.store(c, fileHeader, err)
}

func (h *DocumentHandler) store(c *gin.Context, fileHeader *multipart.FileHeader, err error) {
	if err != nil {
		respondError(c, service.ErrEmptyFile)
		return
	}
	log.Infof("[DocumentHandler] 收到上传请求, filename: %s, size: %d", fileHeader.Filename, fileHeader.Size)
	if h.maxUploadBytes > 0 && fileHeader.Size > h.maxUploadBytes {
		respondError(c, h.tooLarge(fileHeader.Size))
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		respondError(c, err)
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		respondError(c, err)
		return
	}

	doc, err := h.docService.Upload(c.Request.Context(), fileHeader.Filename, data)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, "Document uploaded successfully. Processing in background.", doc)
}

// limitedBody 记录请求体是否触发了 MaxBytesReader 的上限。
type limitedBody struct {
	io.ReadCloser
	exceeded bool
}

func (b *limitedBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		b.exceeded = true
	}
	return n, err
}

func (h *DocumentHandler) tooLarge(size int64) error {
	return fmt.Errorf("%w: max size is %dMB, got %.1fMB", service.ErrFileTooLarge,
		h.maxUploadBytes/(1024*1024), float64(size)/(1024*1024))
}

// AddURL 处理表单字段 url，网页在后台抓取入库。
func (h *DocumentHandler) AddURL(c *gin.Context) {
	doc, err := h.docService.AddURL(c.Request.Context(), c.PostForm("url"))
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, "URL added successfully. Processing in background.", doc)
}

func (h *DocumentHandler) List(c *gin.Context) {
	docs, err := h.docService.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, "success", docs)
}

func (h *DocumentHandler) Get(c *gin.Context) {
	doc, err := h.docService.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, "success", doc)
}

func (h *DocumentHandler) Delete(c *gin.Context) {
	id := c.Param("id")
	if err := h.docService.Delete(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, "Document deleted successfully", gin.H{"document_id": id})
}

func (h *DocumentHandler) Stats(c *gin.Context) {
	stats, err := h.docService.Stats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, "success", stats)
}
