package voice

import (
	"strings"
	"unicode/utf8"
)

// minSegmentRunes is the shortest segment worth synthesizing. Shorter
// flushes ("!", "Ok") are discarded.
const minSegmentRunes = 3

// Segment is one speakable unit of a reply, numbered in flush order.
type Segment struct {
	Index int
	Text  string
}

// Segmenter accumulates model fragments and cuts them into segments at
// terminal punctuation or line breaks. It is not safe for concurrent use.
type Segmenter struct {
	buf  strings.Builder
	next int
}

const terminators = ".!?\n"

// Push appends token and, when token carries a sentence terminator, flushes
// the buffer up to and including the last terminator. Text after it stays
// buffered for the next segment.
func (s *Segmenter) Push(token string) (Segment, bool) {
	s.buf.WriteString(token)
	if !strings.ContainsAny(token, terminators) {
		return Segment{}, false
	}
	buffered := s.buf.String()
	cut := strings.LastIndexAny(buffered, terminators) + 1
	s.buf.Reset()
	s.buf.WriteString(buffered[cut:])
	return s.emit(buffered[:cut])
}

// Finish flushes whatever is left once the stream has ended.
func (s *Segmenter) Finish() (Segment, bool) {
	rest := s.buf.String()
	s.buf.Reset()
	return s.emit(rest)
}

// Count is the number of segments flushed so far.
func (s *Segmenter) Count() int { return s.next }

func (s *Segmenter) emit(raw string) (Segment, bool) {
	text := strings.TrimSpace(raw)
	if utf8.RuneCountInString(text) < minSegmentRunes {
		return Segment{}, false
	}
	seg := Segment{Index: s.next, Text: text}
	s.next++
	return seg, true
}
