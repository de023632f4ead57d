// Package es 提供了与 Elasticsearch 交互的客户端功能。
// 分块以 model.EsChunk 的形式镜像到索引中，用于可选的 ES 词法检索。
package es

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"qarag-go/internal/config"
	"qarag-go/internal/model"
	"qarag-go/pkg/log"
)

// 与 SQL 检索保持一致的打分常量。
const (
	scoreExactMatch = 1.0
	scoreTermMatch  = 0.7
)

const chunkMapping = `{
	"mappings": {
		"properties": {
			"chunk_id": { "type": "keyword" },
			"doc_id": { "type": "keyword" },
			"chunk_index": { "type": "integer" },
			"document_name": { "type": "keyword" },
			"content": {
				"type": "text",
				"fields": { "raw": { "type": "wildcard" } }
			}
		}
	}
}`

// ChunkIndex 封装了分块索引的读写操作。
type ChunkIndex struct {
	client    *elasticsearch.Client
	indexName string
}

// NewChunkIndex 初始化 Elasticsearch 客户端。索引需要调用 EnsureIndex 创建。
func NewChunkIndex(esCfg config.ElasticsearchConfig) (*ChunkIndex, error) {
	cfg := elasticsearch.Config{
		Addresses: strings.Split(esCfg.Addresses, ","),
		Username:  esCfg.Username,
		Password:  esCfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
	client, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return &ChunkIndex{client: client, indexName: esCfg.IndexName}, nil
}

// EnsureIndex 检查索引是否存在，如果不存在则创建它
func (ci *ChunkIndex) EnsureIndex(ctx context.Context) error {
	res, err := ci.client.Indices.Exists([]string{ci.indexName}, ci.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		log.Errorf("检查索引是否存在时出错: %v", err)
		return err
	}
	res.Body.Close()
	if res.StatusCode == http.StatusOK {
		log.Infof("索引 '%s' 已存在", ci.indexName)
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("检查索引是否存在时收到意外的状态码: %d", res.StatusCode)
	}

	res, err = ci.client.Indices.Create(
		ci.indexName,
		ci.client.Indices.Create.WithContext(ctx),
		ci.client.Indices.Create.WithBody(strings.NewReader(chunkMapping)),
	)
	if err != nil {
		log.Errorf("创建索引 '%s' 失败: %v", ci.indexName, err)
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		log.Errorf("创建索引 '%s' 时 Elasticsearch 返回错误: %s", ci.indexName, res.String())
		return errors.New("创建索引时 Elasticsearch 返回错误")
	}
	log.Infof("索引 '%s' 创建成功", ci.indexName)
	return nil
}

// IndexChunks 将一个文档的所有分块写入索引，写完后刷新一次。
func (ci *ChunkIndex) IndexChunks(ctx context.Context, chunks []model.EsChunk) error {
	for _, chunk := range chunks {
		body, err := json.Marshal(chunk)
		if err != nil {
			return err
		}
		req := esapi.IndexRequest{
			Index:      ci.indexName,
			DocumentID: chunk.ChunkID,
			Body:       bytes.NewReader(body),
		}
		res, err := req.Do(ctx, ci.client)
		if err != nil {
			return err
		}
		isErr := res.IsError()
		status := res.String()
		res.Body.Close()
		if isErr {
			log.Errorf("索引分块到 Elasticsearch 出错: %s", status)
			return fmt.Errorf("failed to index chunk %s", chunk.ChunkID)
		}
	}

	res, err := ci.client.Indices.Refresh(
		ci.client.Indices.Refresh.WithContext(ctx),
		ci.client.Indices.Refresh.WithIndex(ci.indexName),
	)
	if err != nil {
		return err
	}
	res.Body.Close()
	return nil
}

// DeleteByDoc 删除某个文档的全部分块。
func (ci *ChunkIndex) DeleteByDoc(ctx context.Context, docID string) error {
	query := map[string]interface{}{
		"query": map[string]interface{}{
			"term": map[string]interface{}{"doc_id": docID},
		},
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(query); err != nil {
		return err
	}
	res, err := ci.client.DeleteByQuery(
		[]string{ci.indexName},
		&buf,
		ci.client.DeleteByQuery.WithContext(ctx),
		ci.client.DeleteByQuery.WithRefresh(true),
	)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() && res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("elasticsearch delete_by_query failed: %s", res.String())
	}
	return nil
}

// SearchParams 描述一次词法检索。
type SearchParams struct {
	Query  string
	Terms  []string
	DocIDs []string
	Scoped bool
	Limit  int
}

// Search 执行词法检索：整句作为子串命中得 1.0，任一关键词作为子串命中得 0.7，均不区分大小写。
func (ci *ChunkIndex) Search(ctx context.Context, p SearchParams) ([]model.ScoredChunk, error) {
	if p.Scoped && len(p.DocIDs) == 0 {
		return nil, nil
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(buildSearchBody(p)); err != nil {
		return nil, fmt.Errorf("failed to encode es query: %w", err)
	}

	res, err := ci.client.Search(
		ci.client.Search.WithContext(ctx),
		ci.client.Search.WithIndex(ci.indexName),
		ci.client.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, fmt.Errorf("elasticsearch search failed: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		bodyBytes, _ := io.ReadAll(res.Body)
		return nil, fmt.Errorf("elasticsearch returned an error: %s %s", res.Status(), string(bodyBytes))
	}

	var esResponse struct {
		Hits struct {
			Hits []struct {
				Source model.EsChunk `json:"_source"`
				Score  float64       `json:"_score"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&esResponse); err != nil {
		return nil, fmt.Errorf("failed to decode es response: %w", err)
	}

	out := make([]model.ScoredChunk, 0, len(esResponse.Hits.Hits))
	for _, hit := range esResponse.Hits.Hits {
		out = append(out, model.ScoredChunk{
			DocID:      hit.Source.DocID,
			ChunkIndex: hit.Source.ChunkIndex,
			Content:    hit.Source.Content,
			Filename:   hit.Source.DocumentName,
			Score:      hit.Score,
		})
	}
	return out, nil
}

// containsField 是 content 的 wildcard 子字段，与数据库的 LIKE '%x%' 语义一致。
const containsField = "content.raw"

var wildcardEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`)

// containsQuery 构造不区分大小写的子串匹配。
func containsQuery(s string) map[string]interface{} {
	return map[string]interface{}{
		"wildcard": map[string]interface{}{
			containsField: map[string]interface{}{
				"value":            "*" + wildcardEscaper.Replace(s) + "*",
				"case_insensitive": true,
			},
		},
	}
}

func buildSearchBody(p SearchParams) map[string]interface{} {
	queries := []map[string]interface{}{
		{
			"constant_score": map[string]interface{}{
				"filter": containsQuery(p.Query),
				"boost":  scoreExactMatch,
			},
		},
	}
	if len(p.Terms) > 0 {
		should := make([]map[string]interface{}, 0, len(p.Terms))
		for _, term := range p.Terms {
			should = append(should, containsQuery(term))
		}
		queries = append(queries, map[string]interface{}{
			"constant_score": map[string]interface{}{
				"filter": map[string]interface{}{
					"bool": map[string]interface{}{
						"should":               should,
						"minimum_should_match": 1,
					},
				},
				"boost": scoreTermMatch,
			},
		})
	}

	boolQuery := map[string]interface{}{
		"must": map[string]interface{}{
			"dis_max": map[string]interface{}{"queries": queries},
		},
	}
	if p.Scoped {
		boolQuery["filter"] = map[string]interface{}{
			"terms": map[string]interface{}{"doc_id": p.DocIDs},
		}
	}

	return map[string]interface{}{
		"query": map[string]interface{}{"bool": boolQuery},
		"sort": []interface{}{
			map[string]interface{}{"_score": "desc"},
			map[string]interface{}{"chunk_index": "asc"},
		},
		"track_scores": true,
		"size":         p.Limit,
	}
}
