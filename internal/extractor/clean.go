package extractor

import (
	"regexp"
	"strings"
)

var (
	controlChars     = regexp.MustCompile(`[\x00-\x08\x0B\x0C\x0E-\x1F]`)
	horizontalSpaces = regexp.MustCompile(`[^\S\n]+`)
	spaceAroundBreak = regexp.MustCompile(` ?\n ?`)
	blankLines       = regexp.MustCompile(`\n{2,}`)
)

// Clean 规范化提取出的文本：去掉控制字符，行内空白压缩为单个空格，
// 多个空行合并为一个空行，并去掉首尾空白。
func Clean(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = controlChars.ReplaceAllString(text, "")
	text = horizontalSpaces.ReplaceAllString(text, " ")
	text = spaceAroundBreak.ReplaceAllString(text, "\n")
	text = blankLines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
