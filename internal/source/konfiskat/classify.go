package konfiskat

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/carwatch/internal/source"
	"github.com/JakeFAU/carwatch/internal/vehicle"
)

const (
	listingSelector = ".property-listing:not([data-carwatch-stale])"
	recordSelector  = ".listing-content"
	detailLimit     = 300
)

// emptyMarkers are the phrases the registry prints for an empty search.
var emptyMarkers = []string{
	"ничего не найдено",
	"не найдено",
	"нет результатов",
	"no results",
}

// ClassifyHTML parses html and classifies it; unparsable markup is Blocked.
func ClassifyHTML(html string, q vehicle.Query) source.Verdict {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return source.Verdict{Status: source.StatusBlocked, Detail: fmt.Sprintf("parse page: %v", err)}
	}
	return Classify(doc, q)
}

// Classify decides what a Konfiskat search result page says about q.
// Listings left over from before the search was submitted are marked stale
// and ignored.
func Classify(doc *goquery.Document, q vehicle.Query) source.Verdict {
	if source.IsBlockPage(doc) {
		return source.Verdict{
			Status: source.StatusBlocked,
			Detail: fmt.Sprintf("verification page %q", source.Snippet(doc.Find("title").Text(), 80)),
			Final:  true,
		}
	}

	records := doc.Find(listingSelector).Find(recordSelector)
	var matched string
	records.EachWithBreak(func(_ int, rec *goquery.Selection) bool {
		text := source.VisibleText(rec)
		if q.Matches(text) {
			matched = text
			return false
		}
		return true
	})
	if matched != "" {
		return source.Verdict{Status: source.StatusMatched, Detail: source.Snippet(matched, detailLimit)}
	}
	if n := records.Length(); n > 0 {
		return source.Verdict{
			Status: source.StatusNoMatch,
			Detail: fmt.Sprintf("%d listing(s) returned, none mention the vehicle", n),
		}
	}

	body := source.VisibleText(doc.Find("body"))
	if source.ContainsAny(body, emptyMarkers) {
		return source.Verdict{Status: source.StatusNoMatch, Detail: "registry reported no results"}
	}
	return source.Verdict{
		Status: source.StatusBlocked,
		Detail: fmt.Sprintf("unrecognized page %q", source.Snippet(doc.Find("title").Text(), 80)),
	}
}
