package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qarag-go/internal/model"
)

func internalSource(id string, score float64) model.Source {
	return model.Source{SourceType: model.SourceInternal, DocumentID: id, DocumentName: id + ".pdf", RelevanceScore: score}
}

func webSource(url string, score float64) model.Source {
	return model.Source{SourceType: model.SourceWeb, URL: url, RelevanceScore: score}
}

func scores(sources []model.Source) []float64 {
	out := make([]float64, 0, len(sources))
	for _, s := range sources {
		out = append(out, s.RelevanceScore)
	}
	return out
}

func TestDetectURLs(t *testing.T) {
	assert.Equal(t, []string{"https://go.dev/doc", "http://example.com/a?b=1"},
		DetectURLs("compare https://go.dev/doc with http://example.com/a?b=1 please"))
	assert.Empty(t, DetectURLs("no links here"))
}

func TestGather_URLTurnSkipsPlannerButSearchesDocuments(t *testing.T) {
	planner := &stubPlanner{plan: Plan{UseWeb: true}}
	search := &stubSearch{sources: []model.Source{internalSource("d1", 0.7), internalSource("d1", 0.3)}}
	web := &stubWeb{extractResults: []model.Source{webSource("https://go.dev/blog", 1.0)}}
	agg := NewAggregator(planner, search, web)

	got, err := agg.Gather(context.Background(), GatherRequest{
		Message:     "compare https://go.dev/blog with my notes",
		Scope:       ScopeOf([]string{"d1"}),
		MaxInternal: 5,
		MaxWeb:      3,
	})
	require.NoError(t, err)

	assert.Equal(t, 0, planner.calls)
	assert.Empty(t, web.queries)
	assert.Equal(t, [][]string{{"https://go.dev/blog"}}, web.extracted)
	require.Len(t, search.scopes, 1)
	assert.Equal(t, []string{"d1"}, search.scopes[0].DocIDs)
	assert.False(t, got.WebSearched)
	// 抽取不算网络搜索，文档阈值仍为 0.4
	assert.Equal(t, []float64{0.7}, scores(got.Internal))
	assert.Equal(t, []float64{1.0, 0.7}, scores(got.Sources))
	assert.Equal(t, []string{"https://go.dev/blog"}, got.URLs)
}

func TestGather_URLTurnWithEmptyScopeIsWebOnly(t *testing.T) {
	search := &stubSearch{}
	web := &stubWeb{extractResults: []model.Source{webSource("https://go.dev/blog", 1.0)}}
	agg := NewAggregator(&stubPlanner{}, search, web)

	got, err := agg.Gather(context.Background(), GatherRequest{
		Message:     "summarize https://go.dev/blog",
		Scope:       ScopeOf([]string{}),
		MaxInternal: 5,
		MaxWeb:      3,
	})
	require.NoError(t, err)

	require.Len(t, search.scopes, 1)
	assert.Empty(t, got.Internal)
	require.Len(t, got.Sources, 1)
	assert.Equal(t, model.SourceWeb, got.Sources[0].SourceType)
}

func TestGather_Thresholds(t *testing.T) {
	internal := []model.Source{
		internalSource("exact", 1.0),
		internalSource("term", 0.7),
		internalSource("fallback", 0.45),
		internalSource("weak", 0.3),
	}
	tests := []struct {
		name            string
		plan            Plan
		force           bool
		webResults      []model.Source
		wantInternal    []float64
		wantWeb         []float64
		wantWebSearched bool
		wantWebQueries  []string
	}{
		{
			name:         "不搜索网络时阈值 0.4",
			plan:         Plan{UseWeb: false},
			wantInternal: []float64{1.0, 0.7, 0.45},
			wantWeb:      []float64{},
		},
		{
			name:            "网络有结果时内部阈值 0.75",
			plan:            Plan{UseWeb: true, Query: "rewritten"},
			webResults:      []model.Source{webSource("https://a", 0.9), webSource("https://b", 0.3)},
			wantInternal:    []float64{1.0},
			wantWeb:         []float64{0.9},
			wantWebSearched: true,
			wantWebQueries:  []string{"rewritten"},
		},
		{
			name:           "网络无结果时仍使用 0.4",
			plan:           Plan{UseWeb: true, Query: "rewritten"},
			wantInternal:   []float64{1.0, 0.7, 0.45},
			wantWeb:        []float64{},
			wantWebQueries: []string{"rewritten"},
		},
		{
			name:            "强制搜索且规划语句为空时使用原消息",
			plan:            Plan{UseWeb: false},
			force:           true,
			webResults:      []model.Source{webSource("https://a", 0.5)},
			wantInternal:    []float64{1.0},
			wantWeb:         []float64{0.5},
			wantWebSearched: true,
			wantWebQueries:  []string{"how do retries work"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			web := &stubWeb{searchResults: tt.webResults}
			agg := NewAggregator(&stubPlanner{plan: tt.plan}, &stubSearch{sources: internal}, web)

			got, err := agg.Gather(context.Background(), GatherRequest{
				Message:     "how do retries work",
				Scope:       ScopeOf([]string{"d1"}),
				MaxInternal: 10,
				MaxWeb:      5,
				ForceWeb:    tt.force,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.wantInternal, scores(got.Internal))
			assert.Equal(t, tt.wantWeb, scores(got.Web))
			assert.Equal(t, tt.wantWebSearched, got.WebSearched)
			assert.Equal(t, tt.wantWebQueries, web.queries)
		})
	}
}

func TestGather_MergesAndCaps(t *testing.T) {
	search := &stubSearch{sources: []model.Source{
		internalSource("a", 1.0), internalSource("b", 1.0), internalSource("c", 1.0),
	}}
	web := &stubWeb{searchResults: []model.Source{
		webSource("https://x", 1.0), webSource("https://y", 0.95), webSource("https://z", 0.8),
	}}
	agg := NewAggregator(&stubPlanner{plan: Plan{UseWeb: true, Query: "q"}}, search, web)

	got, err := agg.Gather(context.Background(), GatherRequest{
		Message:     "q",
		Scope:       ScopeOf(nil),
		MaxInternal: 2,
		MaxWeb:      2,
	})
	require.NoError(t, err)

	assert.Equal(t, []int{2}, search.limits)
	require.Len(t, got.Sources, 4)
	// 同分时保持内部来源在前
	assert.Equal(t, "a", got.Sources[0].DocumentID)
	assert.Equal(t, "b", got.Sources[1].DocumentID)
	assert.Equal(t, "https://x", got.Sources[2].URL)
	assert.Equal(t, "https://y", got.Sources[3].URL)
}

func TestGather_PassesHasDocumentsToPlanner(t *testing.T) {
	planner := &stubPlanner{}
	agg := NewAggregator(planner, &stubSearch{}, &stubWeb{})

	_, err := agg.Gather(context.Background(), GatherRequest{Message: "q", Scope: ScopeOf([]string{})})
	require.NoError(t, err)
	_, err = agg.Gather(context.Background(), GatherRequest{Message: "q", Scope: ScopeOf([]string{"d1"})})
	require.NoError(t, err)

	assert.Equal(t, []bool{false, true}, planner.hasDocs)
}

func TestGather_SearchError(t *testing.T) {
	agg := NewAggregator(&stubPlanner{}, &stubSearch{err: errors.New("db down")}, &stubWeb{})
	_, err := agg.Gather(context.Background(), GatherRequest{Message: "q", MaxInternal: 5})
	assert.Error(t, err)
}

func TestConfidence(t *testing.T) {
	tests := []struct {
		name    string
		sources []model.Source
		want    float64
	}{
		{name: "没有来源", sources: nil, want: 0},
		{name: "内部与网络来源加权平均", sources: []model.Source{internalSource("a", 0.9), webSource("https://b", 0.5)}, want: 0.74},
		{name: "上限为 1", sources: []model.Source{internalSource("a", 0.9)}, want: 1.0},
		{name: "只有网络来源", sources: []model.Source{webSource("https://b", 1.0)}, want: 0.8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Confidence(tt.sources), 1e-9)
		})
	}
}
