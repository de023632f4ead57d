package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"qarag-go/internal/service"
	"qarag-go/pkg/log"
)

const defaultSearchTopK = 10

// SearchHandler 结构体定义了搜索相关的处理器。
type SearchHandler struct {
	searchService service.SearchService
}

// NewSearchHandler 创建一个新的 SearchHandler 实例。
func NewSearchHandler(searchService service.SearchService) *SearchHandler {
	return &SearchHandler{
		searchService: searchService,
	}
}

// Search 直接执行文档检索，不经过规划与生成。
// doc_ids 为逗号分隔的文档 ID；未提供时在全部文档中检索。
func (h *SearchHandler) Search(c *gin.Context) {
	query := strings.TrimSpace(c.Query("query"))
	log.Infof("[SearchHandler] 收到检索请求, query: %s", query)

	if query == "" {
		log.Warnf("[SearchHandler] 检索请求失败: query 参数为空")
		respond(c, http.StatusBadRequest, "query is required", nil)
		return
	}
	topK, err := strconv.Atoi(c.DefaultQuery("top_k", strconv.Itoa(defaultSearchTopK)))
	if err != nil || topK <= 0 {
		topK = defaultSearchTopK
	}

	var docIDs []string
	if raw, ok := c.GetQuery("doc_ids"); ok {
		docIDs = []string{}
		for _, id := range strings.Split(raw, ",") {
			if id = strings.TrimSpace(id); id != "" {
				docIDs = append(docIDs, id)
			}
		}
	}

	results, err := h.searchService.Search(c.Request.Context(), query, topK, service.ScopeOf(docIDs))
	if err != nil {
		respondError(c, err)
		return
	}

	log.Infof("[SearchHandler] 检索成功, query: '%s', 返回 %d 条结果", query, len(results))
	respond(c, http.StatusOK, "success", results)
}
