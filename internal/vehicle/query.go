// Package vehicle defines the lookup keys used to search for a car on the
// monitored registries.
package vehicle

import (
	"errors"
	"strings"
	"unicode"
)

// ErrEmptyQuery is returned when neither a VIN nor a plate was supplied.
var ErrEmptyQuery = errors.New("vin and plate are both empty")

// Query identifies the vehicle being watched. Either field may be empty, but
// not both.
type Query struct {
	VIN   string `json:"vin,omitempty"`
	Plate string `json:"plate,omitempty"`
}

// NewQuery trims both keys and returns the resulting Query.
func NewQuery(vin, plate string) Query {
	return Query{
		VIN:   strings.TrimSpace(vin),
		Plate: strings.TrimSpace(plate),
	}
}

// Validate reports ErrEmptyQuery when there is nothing to search for.
func (q Query) Validate() error {
	if strings.TrimSpace(q.VIN) == "" && strings.TrimSpace(q.Plate) == "" {
		return ErrEmptyQuery
	}
	return nil
}

// Terms returns the search strings in submission order: VIN first, then the
// plate unless it repeats the VIN.
func (q Query) Terms() []string {
	terms := make([]string, 0, 2)
	vin := strings.TrimSpace(q.VIN)
	plate := strings.TrimSpace(q.Plate)
	if vin != "" {
		terms = append(terms, vin)
	}
	if plate != "" && Normalize(plate) != Normalize(vin) {
		terms = append(terms, plate)
	}
	return terms
}

// Matches reports whether text mentions the VIN or the plate. Comparison
// ignores case, whitespace and Latin/Cyrillic look-alike letters.
func (q Query) Matches(text string) bool {
	haystack := Normalize(text)
	if haystack == "" {
		return false
	}
	for _, term := range q.Terms() {
		if needle := Normalize(term); needle != "" && strings.Contains(haystack, needle) {
			return true
		}
	}
	return false
}

// String renders the query for logs.
func (q Query) String() string {
	return "vin=" + orNone(q.VIN) + " plate=" + orNone(q.Plate)
}

// Cyrillic letters allowed on Russian plates mapped to their Latin twins.
var lookalikes = strings.NewReplacer(
	"А", "A", "В", "B", "Е", "E", "К", "K", "М", "M", "Н", "H",
	"О", "O", "Р", "P", "С", "C", "Т", "T", "У", "Y", "Х", "X",
)

// Normalize upper-cases s, drops whitespace and folds Cyrillic look-alikes to
// Latin so "н 777 хк190" and "H777XK190" compare equal.
func Normalize(s string) string {
	upper := strings.ToUpper(s)
	stripped := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, upper)
	return lookalikes.Replace(stripped)
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
