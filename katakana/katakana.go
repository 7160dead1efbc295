// Package katakana finds runs of Japanese katakana in text.
//
// Both alphabet variants are recognised: the full-width block (U+30A0–U+30FF,
// including the combining voiced and semi-voiced sound marks U+3099/U+309A)
// and the half-width forms (U+FF65–U+FF9F). A run is a start character,
// any number of body characters, and an end character; a lone character is
// not a run.
package katakana

import (
	"iter"
	"unicode/utf8"
)

// Span is a maximal katakana run inside one string.
type Span struct {
	// Text is the matched run. Never empty.
	Text string
	// Start is the byte offset of Text in the matched string.
	Start int
}

// End returns the byte offset just past the span.
func (s Span) End() int {
	return s.Start + len(s.Text)
}

// alphabet describes one variant of the script as three rune classes.
type alphabet struct {
	start func(rune) bool
	body  func(rune) bool
	end   func(rune) bool
}

var fullWidth = alphabet{
	start: func(r rune) bool {
		return (r >= 0x30A1 && r <= 0x30FA) || (r >= 0x30FD && r <= 0x30FF)
	},
	body: func(r rune) bool {
		return r == 0x3099 || r == 0x309A || (r >= 0x30A1 && r <= 0x30FF)
	},
	end: func(r rune) bool {
		return r == 0x3099 || r == 0x309A || (r >= 0x30A1 && r <= 0x30FA) || (r >= 0x30FC && r <= 0x30FF)
	},
}

var halfWidth = alphabet{
	start: func(r rune) bool {
		return (r >= 0xFF66 && r <= 0xFF6F) || (r >= 0xFF71 && r <= 0xFF9D)
	},
	body: func(r rune) bool {
		return r >= 0xFF65 && r <= 0xFF9F
	},
	end: func(r rune) bool {
		return r >= 0xFF66 && r <= 0xFF9F
	},
}

// Match returns the first katakana run in text. The run is the longest one
// beginning at the leftmost position where a run can begin.
func Match(text string) (Span, bool) {
	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		for _, a := range [...]alphabet{fullWidth, halfWidth} {
			if !a.start(r) {
				continue
			}
			if end := a.extend(text, i+size); end > 0 {
				return Span{Text: text[i:end], Start: i}, true
			}
		}
		i += size
	}
	return Span{}, false
}

// extend consumes body characters from pos and returns the offset just past
// the last consumed character that may close a run, or 0 if none can.
func (a alphabet) extend(text string, pos int) int {
	last := 0
	for pos < len(text) {
		r, size := utf8.DecodeRuneInString(text[pos:])
		if !a.body(r) {
			break
		}
		pos += size
		if a.end(r) {
			last = pos
		}
	}
	return last
}

// Spans yields every disjoint run in text from left to right. Offsets are
// relative to text.
func Spans(text string) iter.Seq[Span] {
	return func(yield func(Span) bool) {
		offset := 0
		for offset < len(text) {
			s, ok := Match(text[offset:])
			if !ok {
				return
			}
			s.Start += offset
			if !yield(s) {
				return
			}
			offset = s.End()
		}
	}
}

// Contains reports whether text holds at least one run.
func Contains(text string) bool {
	_, ok := Match(text)
	return ok
}
