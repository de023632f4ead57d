// Package chunker 把清洗后的文本切分成有重叠的、长度受限的分块。
package chunker

import (
	"strings"
	"unicode/utf8"
)

const (
	// DefaultChunkSize 是每个分块的目标最大字符数。
	DefaultChunkSize = 1000
	// DefaultChunkOverlap 是相邻分块之间的重叠字符数上限。
	DefaultChunkOverlap = 200
)

// DefaultSeparators 按优先级排列：段落、换行、句末标点、空格、单字符。
var DefaultSeparators = []string{"\n\n", "\n", ". ", "! ", "? ", " ", ""}

// Chunk 是一个带位置的分块。
type Chunk struct {
	Index   int
	Content string
}

// Splitter 是递归字符分块器。
type Splitter struct {
	size       int
	overlap    int
	separators []string
}

// Option 配置 Splitter。
type Option func(*Splitter)

// WithChunkSize 设置分块大小。
func WithChunkSize(size int) Option {
	return func(s *Splitter) {
		if size > 0 {
			s.size = size
		}
	}
}

// WithOverlap 设置重叠大小。
func WithOverlap(overlap int) Option {
	return func(s *Splitter) {
		if overlap >= 0 {
			s.overlap = overlap
		}
	}
}

// WithSeparators 覆盖默认的分隔符列表。
func WithSeparators(seps []string) Option {
	return func(s *Splitter) {
		if len(seps) > 0 {
			s.separators = seps
		}
	}
}

// New 创建一个 Splitter。overlap 不小于 size 时会被截到 size/2。
func New(opts ...Option) *Splitter {
	s := &Splitter{
		size:       DefaultChunkSize,
		overlap:    DefaultChunkOverlap,
		separators: DefaultSeparators,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.overlap >= s.size {
		s.overlap = s.size / 2
	}
	return s
}

// Split 切分 text，返回按顺序编号的分块；空文本返回 nil。
// 每次调用都重新计算，结果可重复获取。
func (s *Splitter) Split(text string) []Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	pieces := s.splitRecursive(text, s.separators)
	chunks := make([]Chunk, 0, len(pieces))
	for _, p := range pieces {
		chunks = append(chunks, Chunk{Index: len(chunks), Content: p})
	}
	return chunks
}

func (s *Splitter) splitRecursive(text string, separators []string) []string {
	// 选取文本中出现的第一个（最大的）分隔符
	separator := separators[len(separators)-1]
	var rest []string
	for i, sep := range separators {
		if sep == "" {
			separator = ""
			break
		}
		if strings.Contains(text, sep) {
			separator = sep
			rest = separators[i+1:]
			break
		}
	}

	var (
		final []string
		good  []string
	)
	for _, piece := range splitKeepSeparator(text, separator) {
		if runeLen(piece) < s.size {
			good = append(good, piece)
			continue
		}
		if len(good) > 0 {
			final = append(final, s.merge(good)...)
			good = nil
		}
		if len(rest) == 0 {
			final = append(final, piece)
		} else {
			final = append(final, s.splitRecursive(piece, rest)...)
		}
	}
	if len(good) > 0 {
		final = append(final, s.merge(good)...)
	}
	return final
}

// merge 把小片段拼接到不超过 size，并把上一块末尾不超过 overlap 的片段带入下一块。
// 分隔符已保留在片段开头，因此直接拼接。
func (s *Splitter) merge(pieces []string) []string {
	var (
		docs    []string
		current []string
		total   int
	)
	for _, p := range pieces {
		n := runeLen(p)
		if total+n > s.size && len(current) > 0 {
			if doc := strings.TrimSpace(strings.Join(current, "")); doc != "" {
				docs = append(docs, doc)
			}
			for total > s.overlap || (total+n > s.size && total > 0) {
				total -= runeLen(current[0])
				current = current[1:]
			}
		}
		current = append(current, p)
		total += n
	}
	if doc := strings.TrimSpace(strings.Join(current, "")); doc != "" {
		docs = append(docs, doc)
	}
	return docs
}

// splitKeepSeparator 按 sep 切分，分隔符保留在后一个片段的开头，丢弃空片段。
func splitKeepSeparator(text, sep string) []string {
	if sep == "" {
		out := make([]string, 0, len(text))
		for _, r := range text {
			out = append(out, string(r))
		}
		return out
	}
	parts := strings.Split(text, sep)
	out := make([]string, 0, len(parts))
	if parts[0] != "" {
		out = append(out, parts[0])
	}
	for _, p := range parts[1:] {
		out = append(out, sep+p)
	}
	return out
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
