package voice

import (
	"regexp"
	"strings"
	"unicode"
)

// Segments arrive a sentence or a line at a time, so markdown shows up as a
// line prefix ("- ", "2) ", "## ", "> ") or as a fence line of its own.
var (
	linePrefix = regexp.MustCompile(`^(?:#{1,6}\s+|>\s*|[-*+•]\s+|\d{1,3}[.)]\s+)+`)
	inlineCode = regexp.MustCompile("`+[^`]*`+")
	mdLink     = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	bareURL    = regexp.MustCompile(`(?i)\b(?:https?://|www\.)\S+`)
)

// spokenPunctuation survives into the synthesizer input; it drives prosody.
const spokenPunctuation = ".,!?:;'\"-()«»—…"

// speechFilter turns reply segments into synthesizer input. It remembers
// whether the reply is inside a fenced code block, since a block usually
// spans several segments. One filter serves one cycle and is not safe for
// concurrent use.
type speechFilter struct {
	inCode bool
}

// speakable returns what should be read aloud for segment, or "" when
// nothing is. The text shown to the client is left untouched.
func (f *speechFilter) speakable(segment string) string {
	var spoken []string
	for _, line := range strings.Split(segment, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "```") {
			f.inCode = !f.inCode
			// "```code```" on one line opens and closes.
			if len(line) > 3 && strings.HasSuffix(line, "```") {
				f.inCode = !f.inCode
			}
			continue
		}
		if f.inCode {
			continue
		}
		if s := speakableLine(line); s != "" {
			spoken = append(spoken, s)
		}
	}
	return strings.Join(spoken, " ")
}

func speakableLine(line string) string {
	line = linePrefix.ReplaceAllString(line, "")
	line = mdLink.ReplaceAllString(line, "$1")
	line = bareURL.ReplaceAllString(line, " ")
	line = inlineCode.ReplaceAllString(line, " ")
	line = strings.Join(strings.Fields(strings.Map(speechRune, line)), " ")
	if strings.IndexFunc(line, isSpoken) < 0 {
		return ""
	}
	return line
}

// speechRune keeps letters, digits and prosody punctuation, turns other
// marks and emoji into word breaks and drops invisible joiners.
func speechRune(r rune) rune {
	switch {
	case unicode.IsLetter(r), unicode.IsDigit(r), strings.ContainsRune(spokenPunctuation, r):
		return r
	case unicode.Is(unicode.Variation_Selector, r), unicode.Is(unicode.Join_Control, r):
		return -1
	case unicode.Is(unicode.Mn, r):
		return r
	case unicode.IsSpace(r), unicode.IsPunct(r), unicode.IsSymbol(r):
		return ' '
	default:
		return -1
	}
}

func isSpoken(r rune) bool { return unicode.IsLetter(r) || unicode.IsDigit(r) }
