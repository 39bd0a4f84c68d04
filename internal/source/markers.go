package source

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// blockMarkers are lower-cased phrases shown by verification or anti-bot
// interstitials instead of real content.
var blockMarkers = []string{
	"проверка пользователя",
	"user verification",
	"kill-bot",
	"killbot",
	"captcha",
	"access denied",
	"доступ запрещен",
	"доступ запрещён",
	"are you a robot",
	"вы робот",
}

// IsBlockPage reports whether the title or the visible text of doc carries a
// verification marker. Scripts and styles are ignored so inline bundles do
// not trip it.
func IsBlockPage(doc *goquery.Document) bool {
	if doc == nil {
		return false
	}
	if ContainsAny(doc.Find("title").Text(), blockMarkers) {
		return true
	}
	if doc.Find(`script[src*="kill-bot"], iframe[src*="captcha"], [class*="captcha"]`).Length() > 0 {
		return true
	}
	return ContainsAny(VisibleText(doc.Selection), blockMarkers)
}

// nonVisible matches markup that never renders: code, templates and nodes
// hidden through attributes or inline style.
const nonVisible = `script, style, noscript, template, [hidden], [aria-hidden="true"],
[style*="display:none"], [style*="display: none"]`

// VisibleText returns the text of sel without script, template or hidden
// content, with whitespace collapsed.
func VisibleText(sel *goquery.Selection) string {
	clone := sel.Clone()
	clone.Find(nonVisible).Remove()
	return CollapseSpace(clone.Text())
}

// ContainsAny reports whether haystack contains any of the lower-cased
// needles, ignoring case.
func ContainsAny(haystack string, needles []string) bool {
	if haystack == "" {
		return false
	}
	lower := strings.ToLower(haystack)
	for _, n := range needles {
		if n != "" && strings.Contains(lower, n) {
			return true
		}
	}
	return false
}

// CollapseSpace squeezes runs of whitespace into single spaces.
func CollapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Snippet shortens s to at most limit runes for diagnostics.
func Snippet(s string, limit int) string {
	s = CollapseSpace(s)
	runes := []rune(s)
	if limit <= 0 || len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "…"
}
