package normalize

import (
	"regexp"
	"sort"
	"strings"

	"github.com/samber/lo"
)

// urlPattern matches http(s) URLs: scheme, optional userinfo, host (name,
// IPv4 or bracketed IPv6), optional port, optional path and query.
var urlPattern = regexp.MustCompile(
	`(?i)\bhttps?://` +
		`(?:[^\s/?#@<>"']+@)?` +
		`(?:[a-z0-9](?:[a-z0-9-]*[a-z0-9])?(?:\.[a-z0-9](?:[a-z0-9-]*[a-z0-9])?)*` +
		`|\d{1,3}(?:\.\d{1,3}){3}` +
		`|\[[0-9a-f:.]+\])` +
		`(?::\d{1,5})?` +
		`(?:[/?#][^\s<>"']*)?`,
)

const trailingPunct = `.,;:!?)]}'"`

// ExtractURLs returns the distinct http(s) URLs found in body, sorted
func ExtractURLs(body string) []string {
	matches := urlPattern.FindAllString(body, -1)
	if len(matches) == 0 {
		return []string{}
	}
	for i, m := range matches {
		matches[i] = strings.TrimRight(m, trailingPunct)
	}
	urls := lo.Uniq(matches)
	sort.Strings(urls)
	return urls
}
