package extractor

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// xmlNode 是 word/document.xml 的通用节点，保留子元素的文档顺序。
type xmlNode struct {
	XMLName xml.Name
	Content string    `xml:",chardata"`
	Nodes   []xmlNode `xml:",any"`
}

// extractDOCX 先输出正文段落，再输出表格：每行非空单元格以 " | " 连接。
func extractDOCX(data []byte) (string, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("failed to open docx: %w", err)
	}

	var raw []byte
	for _, f := range reader.File {
		if f.Name != "word/document.xml" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", fmt.Errorf("failed to open document.xml: %w", err)
		}
		raw, err = io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return "", fmt.Errorf("failed to read document.xml: %w", err)
		}
		break
	}
	if raw == nil {
		return "", errors.New("docx has no word/document.xml")
	}

	var root xmlNode
	if err := xml.Unmarshal(raw, &root); err != nil {
		return "", fmt.Errorf("failed to parse document.xml: %w", err)
	}
	body := findChild(root, "body")
	if body == nil {
		return "", nil
	}

	var parts []string
	var tables []xmlNode
	for _, n := range body.Nodes {
		switch n.XMLName.Local {
		case "p":
			if t := strings.TrimSpace(paragraphText(n)); t != "" {
				parts = append(parts, t)
			}
		case "tbl":
			tables = append(tables, n)
		}
	}
	for _, tbl := range tables {
		for _, row := range childrenNamed(tbl, "tr") {
			var cells []string
			for _, cell := range childrenNamed(row, "tc") {
				var paras []string
				for _, p := range childrenNamed(cell, "p") {
					paras = append(paras, paragraphText(p))
				}
				if t := strings.TrimSpace(strings.Join(paras, "\n")); t != "" {
					cells = append(cells, t)
				}
			}
			if len(cells) > 0 {
				parts = append(parts, strings.Join(cells, " | "))
			}
		}
	}
	return strings.Join(parts, "\n\n"), nil
}

func paragraphText(n xmlNode) string {
	var sb strings.Builder
	var walk func(xmlNode)
	walk = func(n xmlNode) {
		switch n.XMLName.Local {
		case "t":
			sb.WriteString(n.Content)
			return
		case "tab":
			sb.WriteString("\t")
			return
		case "br", "cr":
			sb.WriteString("\n")
			return
		}
		for _, c := range n.Nodes {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

func findChild(n xmlNode, local string) *xmlNode {
	for i := range n.Nodes {
		if n.Nodes[i].XMLName.Local == local {
			return &n.Nodes[i]
		}
	}
	return nil
}

func childrenNamed(n xmlNode, local string) []xmlNode {
	var out []xmlNode
	for _, c := range n.Nodes {
		if c.XMLName.Local == local {
			out = append(out, c)
		}
	}
	return out
}
