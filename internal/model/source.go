package model

// SourceType 标识来源是内部文档还是网络。
type SourceType string

const (
	SourceInternal SourceType = "internal_document"
	SourceWeb      SourceType = "web_search"
)

// Source 是一次检索得到的带分数的结果，只在单次请求内有效，不持久化。
type Source struct {
	SourceType     SourceType `json:"source_type"`
	DocumentID     string     `json:"document_id,omitempty"`
	DocumentName   string     `json:"document_name,omitempty"`
	URL            string     `json:"url,omitempty"`
	Snippet        string     `json:"snippet"`
	RelevanceScore float64    `json:"relevance_score"`
}

// MaxSnippetLen 是 Source.Snippet 的最大字符数。
const MaxSnippetLen = 500
