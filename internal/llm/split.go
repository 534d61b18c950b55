package llm

import (
	"strings"

	"github.com/dlclark/regexp2"
)

var (
	speechTagRe  = regexp2.MustCompile(`<speech>(.*?)</speech>`, regexp2.Singleline)
	displayTagRe = regexp2.MustCompile(`<display>(.*?)</display>`, regexp2.Singleline)
)

const speechFallbackChars = 500

// SplitResponse carries the two output channels of a reply: what gets
// spoken aloud and what gets written on the whiteboard.
type SplitResponse struct {
	Speech  string
	Display string
}

// SplitSpeechDisplay extracts the <speech> and <display> tagged regions
// from raw model output.
//
//   - both tags present: trimmed inner contents, verbatim
//   - only <display>: speech is the first 500 characters of display
//   - only <speech>: display mirrors speech
//   - neither: both channels carry the full raw text
func SplitSpeechDisplay(text string) SplitResponse {
	speech, hasSpeech := matchTag(speechTagRe, text)
	display, hasDisplay := matchTag(displayTagRe, text)

	switch {
	case hasSpeech && hasDisplay:
		return SplitResponse{Speech: speech, Display: display}
	case hasDisplay:
		return SplitResponse{Speech: truncateRunes(display, speechFallbackChars), Display: display}
	case hasSpeech:
		return SplitResponse{Speech: speech, Display: speech}
	default:
		return SplitResponse{Speech: text, Display: text}
	}
}

func matchTag(re *regexp2.Regexp, text string) (string, bool) {
	m, err := re.FindStringMatch(text)
	if err != nil || m == nil {
		return "", false
	}
	return strings.TrimSpace(m.GroupByNumber(1).String()), true
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
