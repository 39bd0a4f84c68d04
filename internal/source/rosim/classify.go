package rosim

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/carwatch/internal/source"
	"github.com/JakeFAU/carwatch/internal/vehicle"
)

const (
	resultsSelector = ".table__body"
	notFoundMessage = "объекты не найдены"
	detailLimit     = 300
)

// ClassifyHTML parses html and classifies it; unparsable markup is Blocked.
func ClassifyHTML(html string, q vehicle.Query) source.Verdict {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return source.Verdict{Status: source.StatusBlocked, Detail: fmt.Sprintf("parse page: %v", err)}
	}
	return Classify(doc, q)
}

// Classify reads the marketplace results table. The table is already
// filtered by VIN on the server, so rows that do not print the VIN still
// count as a match; Check rules out a table left over from before the
// filter was applied. A page without the table stays Blocked.
func Classify(doc *goquery.Document, q vehicle.Query) source.Verdict {
	if source.IsBlockPage(doc) {
		return source.Verdict{
			Status: source.StatusBlocked,
			Detail: fmt.Sprintf("verification page %q", source.Snippet(doc.Find("title").Text(), 80)),
			Final:  true,
		}
	}

	table := doc.Find(resultsSelector).First()
	if table.Length() == 0 {
		return source.Verdict{Status: source.StatusBlocked, Detail: "results table not rendered"}
	}
	text := resultText(doc)
	switch {
	case source.ContainsAny(text, []string{notFoundMessage}):
		return source.Verdict{Status: source.StatusNoMatch, Detail: "marketplace reported no objects for VIN"}
	case text == "":
		return source.Verdict{Status: source.StatusBlocked, Detail: "results table is empty"}
	case q.Matches(text):
		return source.Verdict{Status: source.StatusMatched, Detail: source.Snippet(text, detailLimit)}
	default:
		// Trust the server-side VIN filter.
		return source.Verdict{
			Status: source.StatusMatched,
			Detail: "listing(s) returned for VIN filter: " + source.Snippet(text, detailLimit),
		}
	}
}

func resultText(doc *goquery.Document) string {
	return source.VisibleText(doc.Find(resultsSelector).First())
}

func resultTextHTML(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	return resultText(doc)
}
