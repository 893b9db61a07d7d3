package normalize

import (
	"strings"

	_ "github.com/emersion/go-message/charset"
	"golang.org/x/text/encoding/htmlindex"
)

// decodeCharset converts data from the named charset to UTF-8. Unknown
// charsets fall back to UTF-8; invalid bytes become U+FFFD either way.
func decodeCharset(label string, data []byte) string {
	label = strings.ToLower(strings.TrimSpace(label))
	if label != "" && label != "utf-8" && label != "utf8" && label != "us-ascii" {
		if enc, err := htmlindex.Get(label); err == nil {
			if out, err := enc.NewDecoder().Bytes(data); err == nil {
				data = out
			}
		}
	}
	return strings.ToValidUTF8(string(data), "\uFFFD")
}
