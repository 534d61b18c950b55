package llm

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

// countTokens estimates the token cost of text. When the BPE encoding
// cannot be loaded it falls back to a bytes/4 heuristic.
func countTokens(text string) int {
	encodingOnce.Do(func() {
		encoding, _ = tiktoken.GetEncoding("cl100k_base")
	})
	if encoding == nil {
		return (len(text) + 3) / 4
	}
	return len(encoding.Encode(text, nil, nil))
}

// trimToBudget drops the oldest non-system turns until the sequence fits
// the token budget. The system turn (index 0) and the newest turn are
// never dropped. A budget of zero disables trimming.
func trimToBudget(turns []Turn, budget int) []Turn {
	if budget <= 0 || len(turns) <= 2 {
		return turns
	}

	total := 0
	for _, t := range turns {
		total += countTokens(t.Content)
	}

	for total > budget && len(turns) > 2 {
		total -= countTokens(turns[1].Content)
		turns = append(turns[:1], turns[2:]...)
	}
	return turns
}
