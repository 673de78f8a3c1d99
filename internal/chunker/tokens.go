package chunker

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter counts tokens in a piece of text.
type TokenCounter interface {
	CountTokens(text string) int
}

// TiktokenCounter counts tokens with the cl100k_base encoding.
// Encoding load happens lazily on first use; if it fails, the counter
// degrades to the length/4 estimate so chunking keeps working offline.
type TiktokenCounter struct {
	once sync.Once
	enc  *tiktoken.Tiktoken
}

// NewTiktokenCounter creates a TiktokenCounter.
func NewTiktokenCounter() *TiktokenCounter {
	return &TiktokenCounter{}
}

// CountTokens returns the token count for text.
func (c *TiktokenCounter) CountTokens(text string) int {
	c.once.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			c.enc = enc
		}
	})
	if c.enc == nil {
		return EstimateTokens(text)
	}
	return len(c.enc.Encode(text, nil, nil))
}

// EstimateTokens approximates the token count as len(text)/4.
// Rough but cheap; used as the fallback when no encoding is available.
func EstimateTokens(text string) int {
	return len(text) / 4
}

// estimateCounter is the zero-dependency fallback counter.
type estimateCounter struct{}

func (estimateCounter) CountTokens(text string) int {
	return EstimateTokens(text)
}
