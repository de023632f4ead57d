package extractor

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// DecodeText 依次尝试 UTF-8、UTF-16（需要 BOM）、ASCII、Latin-1，最后做有损 UTF-8 解码。
func DecodeText(data []byte) string {
	if utf8.Valid(data) {
		return string(bytes.TrimPrefix(data, utf8BOM))
	}
	if hasUTF16BOM(data) {
		dec := unicode.UTF16(unicode.BigEndian, unicode.ExpectBOM).NewDecoder()
		if out, err := dec.Bytes(data); err == nil {
			return string(out)
		}
	}
	if isASCII(data) {
		return string(data)
	}
	if out, err := charmap.ISO8859_1.NewDecoder().Bytes(data); err == nil {
		return string(out)
	}
	return strings.ToValidUTF8(string(data), "�")
}

func hasUTF16BOM(data []byte) bool {
	if len(data) < 2 || len(data)%2 != 0 {
		return false
	}
	return (data[0] == 0xFE && data[1] == 0xFF) || (data[0] == 0xFF && data[1] == 0xFE)
}

func isASCII(data []byte) bool {
	for _, b := range data {
		if b >= 0x80 {
			return false
		}
	}
	return true
}
