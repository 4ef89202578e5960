package text

import (
	"strings"
	"unicode"
)

const (
	DefaultMinChunkChars = 800
	DefaultMaxChunkChars = 1200

	// How far past the hard cutoff we search for a natural boundary.
	boundaryLookahead = 100
)

// Fragment is one retrieval-sized slice of a document's text. StartChar and
// EndChar are offsets into the newline-normalized source, so a chunk can be
// traced back to the passage it came from.
type Fragment struct {
	Content   string
	StartChar int
	EndChar   int
}

// Splitter cuts text into fragments between Min and Max characters, preferring
// to end a fragment on a natural boundary rather than mid-sentence.
type Splitter struct {
	Min int
	Max int
}

func NewSplitter(min, max int) Splitter {
	if min <= 0 || max <= min {
		return Splitter{Min: DefaultMinChunkChars, Max: DefaultMaxChunkChars}
	}
	return Splitter{Min: min, Max: max}
}

// Split returns fragments using the default window.
func Split(text string) []Fragment {
	return NewSplitter(DefaultMinChunkChars, DefaultMaxChunkChars).Split(text)
}

// Split walks the text with a greedy window: tentatively end at cursor+Max,
// then snap to the best boundary found up to 100 characters further on.
// Boundary priority: blank-line paragraph break, sentence-ending period+space,
// plain space. A boundary is only honored if it lands at or after Min
// characters into the window; otherwise the hard cutoff at Max stands.
func (s Splitter) Split(text string) []Fragment {
	text = normalizeNewlines(text)
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var frags []Fragment
	n := len(text)
	cursor := 0

	for cursor < n {
		end := cursor + s.Max
		if end >= n {
			end = n
		} else {
			end = s.snapToBoundary(text, cursor, end)
		}

		raw := text[cursor:end]
		content := strings.TrimSpace(raw)
		if content != "" {
			lead := len(raw) - len(strings.TrimLeftFunc(raw, unicode.IsSpace))
			start := cursor + lead
			frags = append(frags, Fragment{
				Content:   content,
				StartChar: start,
				EndChar:   start + len(content),
			})
		}

		cursor = end
	}

	return frags
}

func (s Splitter) snapToBoundary(text string, cursor, hardEnd int) int {
	limit := hardEnd + boundaryLookahead
	if limit > len(text) {
		limit = len(text)
	}
	window := text[cursor:limit]

	if i := strings.LastIndex(window, "\n\n"); i >= s.Min {
		return cursor + i
	}
	// Keep the period with the fragment it ends.
	if i := strings.LastIndex(window, ". "); i >= s.Min {
		return cursor + i + 1
	}
	if i := strings.LastIndex(window, " "); i >= s.Min {
		return cursor + i
	}
	return hardEnd
}

func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}
