package llm

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Cache encodings to avoid repeated initialization; loading a
// tiktoken vocabulary is expensive.
var (
	encodingCache = make(map[string]*tiktoken.Tiktoken)
	cacheMu       sync.RWMutex
)

// TokenCounter estimates token usage for providers that do not return
// usage data. Counts are tokenizer-accurate for OpenAI models and an
// approximation for everything else; when no vocabulary can be loaded
// at all it degrades to a length/4 estimate.
type TokenCounter struct{}

// NewTokenCounter returns a token counter.
func NewTokenCounter() *TokenCounter {
	return &TokenCounter{}
}

func encodingFor(model string) *tiktoken.Tiktoken {
	cacheMu.RLock()
	cached, ok := encodingCache[model]
	cacheMu.RUnlock()
	if ok {
		return cached
	}

	encoding, err := tiktoken.EncodingForModel(model)
	if err != nil {
		// cl100k_base approximates non-OpenAI tokenizers well enough
		// for accounting purposes.
		encoding, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil
		}
	}

	cacheMu.Lock()
	encodingCache[model] = encoding
	cacheMu.Unlock()
	return encoding
}

func countWith(encoding *tiktoken.Tiktoken, text string) int {
	if encoding != nil {
		return len(encoding.Encode(text, nil, nil))
	}
	if text == "" {
		return 0
	}
	if n := len(text) / 4; n > 0 {
		return n
	}
	return 1
}

// Count returns the token count of text under the model's encoding.
func (tc *TokenCounter) Count(model, text string) int {
	return countWith(encodingFor(model), text)
}

// CountMessages counts tokens across a message list including the
// per-message role overhead and the reply priming, per OpenAI's
// published counting scheme.
func (tc *TokenCounter) CountMessages(model string, messages []Message) int {
	encoding := encodingFor(model)

	const tokensPerMessage = 3

	total := 0
	for _, msg := range messages {
		total += tokensPerMessage
		total += countWith(encoding, string(msg.Role))
		total += countWith(encoding, msg.Content)
	}

	// Every reply is primed with <|start|>assistant<|message|>.
	total += 3
	return total
}
