package manga

import (
	"cmp"
	"net/http"
	"slices"
	"strconv"
	"strings"
)

// Ref identifies a titled work on a single provider.
type Ref struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Source string `json:"source"`
}

// ChapterRef identifies one chapter of a work. Number is the display number
// the provider reports ("12", "12.5", "Extra").
type ChapterRef struct {
	ID     string `json:"id"`
	Number string `json:"number"`
	Title  string `json:"title"`
}

// Label is the human-readable chapter name used in filenames and notices.
func (c ChapterRef) Label() string {
	if n := strings.TrimSpace(c.Number); n != "" {
		return "Chapter " + n
	}
	return "Chapter " + c.ID
}

// Ordinal parses Number as a float. Providers occasionally use a decimal comma.
func (c ChapterRef) Ordinal() (float64, bool) {
	raw := strings.ReplaceAll(strings.TrimSpace(c.Number), ",", ".")
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// CompareChapters orders chapters by numeric display number. Chapters whose
// number does not parse sort after every numeric chapter and compare equal to
// each other.
func CompareChapters(a, b ChapterRef) int {
	av, aok := a.Ordinal()
	bv, bok := b.Ordinal()
	switch {
	case aok && bok:
		return cmp.Compare(av, bv)
	case aok:
		return -1
	case bok:
		return 1
	default:
		return 0
	}
}

// SortChapters sorts in place. Unparseable numbers stay trailing in both
// directions and keep their relative order.
func SortChapters(chapters []ChapterRef, descending bool) {
	slices.SortStableFunc(chapters, func(a, b ChapterRef) int {
		c := CompareChapters(a, b)
		if !descending {
			return c
		}
		_, aok := a.Ordinal()
		_, bok := b.Ordinal()
		if aok && bok {
			return -c
		}
		return c
	})
}

// ImageRef is one page of a chapter. Index is the position in the page list
// returned by the connector.
type ImageRef struct {
	Index  int
	URL    string
	Header http.Header
}
