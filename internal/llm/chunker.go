package llm

import (
	"strings"
	"unicode/utf8"
)

const defaultReplayMinChars = 24

// phraseChunker splits a complete answer into phrase-sized fragments so a
// non-streaming backend feeds the pipeline the same way a streaming one does.
// The first fragment is kept short to get speech going quickly.
type phraseChunker struct {
	minChars int
	firstMin int

	pending string
	emitted bool
}

func newPhraseChunker(minChars int) *phraseChunker {
	if minChars <= 0 {
		minChars = defaultReplayMinChars
	}
	firstMin := minChars / 4
	if firstMin < 2 {
		firstMin = 2
	}
	if firstMin > minChars {
		firstMin = minChars
	}
	return &phraseChunker{minChars: minChars, firstMin: firstMin}
}

func (c *phraseChunker) Consume(text string) []string {
	if text == "" {
		return nil
	}
	c.pending += text
	return c.flush(false)
}

func (c *phraseChunker) Finalize() []string {
	return c.flush(true)
}

func (c *phraseChunker) flush(force bool) []string {
	var out []string
	for {
		threshold := c.minChars
		if !c.emitted {
			threshold = c.firstMin
		}
		segment, rest, ok := nextPhrase(c.pending, threshold, force)
		if !ok {
			break
		}
		c.pending = rest
		if segment == "" {
			continue
		}
		out = append(out, segment)
		c.emitted = true
	}
	return out
}

// nextPhrase cuts after the first terminal mark at or past minChars bytes, or
// on whitespace once twice that much text is pending without punctuation.
func nextPhrase(input string, minChars int, force bool) (segment, rest string, ok bool) {
	if input == "" {
		return "", "", false
	}
	if idx := boundaryAfterMin(input, minChars); idx >= 0 {
		return input[:idx+1], input[idx+1:], true
	}
	if len(input) >= minChars*2 {
		cut := whitespaceCut(input, minChars)
		return input[:cut], input[cut:], true
	}
	if force {
		return input, "", true
	}
	return "", input, false
}

func boundaryAfterMin(input string, minChars int) int {
	if minChars < 1 {
		minChars = 1
	}
	for i := minChars - 1; i < len(input); i++ {
		switch input[i] {
		case '.', '!', '?', '\n':
			return i
		}
	}
	return -1
}

func whitespaceCut(input string, minChars int) int {
	if minChars < 1 {
		minChars = 1
	}
	if len(input) <= minChars {
		return len(input)
	}
	limit := minChars + 20
	if limit > len(input) {
		limit = len(input)
	}
	if i := strings.IndexAny(input[minChars:limit], " \t\r\n"); i >= 0 {
		return minChars + i
	}
	cut := minChars
	for cut < len(input) && !utf8.RuneStart(input[cut]) {
		cut++
	}
	return cut
}
