// Package project reduces verbose agent responses to display-ready shapes.
// Everything here is a pure function: no state, no I/O.
package project

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/shoplens/stylist/internal/domain"
	"github.com/shoplens/stylist/internal/remote"
)

// longMessageThreshold is the rune count above which a non-search response is
// reduced to its final sentence, which is assumed to be the decision-relevant
// one (usually a question prompting the next turn).
const longMessageThreshold = 100

// numberedLine matches enumerated list lines ("1. ...", "2) ...") that belong
// in a detail panel, not the ambient status caption.
var numberedLine = regexp.MustCompile(`^\s*\d+[.)]`)

// TruncateAgentMessage returns the first line of a multi-line agent response
// with any trailing colon stripped. Remote responses front-load a one-line
// summary followed by an enumerated list; only the summary belongs in the
// status caption. Idempotent.
func TruncateAgentMessage(full string) string {
	s := strings.TrimSpace(full)
	if i := strings.IndexAny(s, "\r\n"); i >= 0 {
		s = s[:i]
	}
	return stripTrailingColon(strings.TrimSpace(s))
}

// SimplifyMessage reduces a full agent response to one display line.
// search_results responses drop their numbered list and join the intro line
// with the closing question; other long responses keep only their final
// sentence. An empty response falls back to fallback verbatim.
func SimplifyMessage(full, responseType, fallback string) string {
	text := strings.TrimSpace(full)
	if text == "" {
		return fallback
	}

	if responseType == remote.TypeSearchResults {
		return simplifySearchResults(text)
	}

	if utf8.RuneCountInString(text) > longMessageThreshold {
		return lastSentence(text)
	}
	return text
}

func simplifySearchResults(text string) string {
	var kept []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || numberedLine.MatchString(line) {
			continue
		}
		kept = append(kept, line)
	}
	if len(kept) == 0 {
		return text
	}

	intro := stripTrailingColon(kept[0])
	closing := kept[len(kept)-1]
	if len(kept) == 1 || intro == closing {
		return intro
	}
	return intro + ". " + closing
}

// lastSentence returns the final sentence of text, terminator included.
func lastSentence(text string) string {
	runes := []rune(text)

	// Skip trailing terminators and whitespace, then scan back to the
	// previous terminator.
	i := len(runes) - 1
	for i >= 0 && (isSentenceTerminator(runes[i]) || unicode.IsSpace(runes[i])) {
		i--
	}
	j := i
	for j >= 0 && !isSentenceTerminator(runes[j]) {
		j--
	}

	s := strings.TrimSpace(string(runes[j+1:]))
	if s == "" {
		return strings.TrimSpace(text)
	}
	return s
}

func isSentenceTerminator(r rune) bool {
	switch r {
	case '.', '!', '?', '。':
		return true
	}
	return false
}

// stripTrailingColon removes the whole trailing run of colons and blanks, so
// reapplying it is a no-op even for inputs like "요약: :".
func stripTrailingColon(s string) string {
	return strings.TrimRight(s, ": \t")
}

// ToDisplayCandidate converts any backend product record variant into the
// uniform candidate shape used by rendering. Fields absent in the source stay
// at their zero value; fallbackIndex is used when the record carries none.
func ToDisplayCandidate(rec remote.ProductRecord, fallbackIndex int) domain.DisplayCandidate {
	name := rec.Name
	if name == "" {
		name = rec.Title
	}
	imageURL := rec.ImageURL
	if imageURL == "" {
		imageURL = rec.ThumbnailURL
	}
	sourceURL := rec.SourceURL
	if sourceURL == "" {
		sourceURL = rec.ProductURL
	}
	index := fallbackIndex
	if rec.Index != nil {
		index = *rec.Index
	}

	return domain.DisplayCandidate{
		Brand:      rec.Brand,
		Name:       name,
		Price:      rec.Price,
		ImageURL:   imageURL,
		SourceURL:  sourceURL,
		Sizes:      rec.Sizes,
		MatchScore: rec.MatchScore,
		Index:      index,
	}
}
