// Package chunker splits email bodies into token-bounded chunks for
// embedding.
//
// Splitting happens at sentence boundaries so a chunk never ends
// mid-thought. A chunk holds as many consecutive sentences as fit under
// the token ceiling; when overlap is enabled, the last sentence of a
// chunk is repeated as the first sentence of the next one to preserve
// context across the boundary.
package chunker

import (
	"fmt"
	"strings"
)

const (
	// DefaultMaxTokens is the token ceiling per chunk.
	DefaultMaxTokens = 512

	// DefaultOverlap is the approximate token overlap between chunks.
	// Any value > 0 enables the single-sentence sliding overlap.
	DefaultOverlap = 50
)

// Config holds chunker settings.
type Config struct {
	// MaxTokens is the token ceiling per chunk. Default: 512.
	MaxTokens int `koanf:"max_tokens"`

	// Overlap enables sentence overlap between consecutive chunks
	// when > 0. Default: 50.
	Overlap int `koanf:"overlap"`
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.MaxTokens == 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if c.Overlap == 0 {
		c.Overlap = DefaultOverlap
	}
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.MaxTokens < 0 {
		return fmt.Errorf("max tokens must be >= 0, got %d", c.MaxTokens)
	}
	if c.Overlap < 0 {
		return fmt.Errorf("overlap must be >= 0, got %d", c.Overlap)
	}
	return nil
}

// Chunk is one embeddable slice of a document body.
type Chunk struct {
	// Index is the zero-based position of this chunk within the
	// document. Contiguous: 0, 1, 2, ...
	Index int

	// Text is the chunk content.
	Text string

	// TokenCount is the counted size of Text.
	TokenCount int
}

// Chunker splits text into token-bounded, sentence-aligned chunks.
type Chunker struct {
	config  Config
	counter TokenCounter
}

// New creates a Chunker. A nil counter falls back to the length/4
// estimate.
func New(config Config, counter TokenCounter) (*Chunker, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if counter == nil {
		counter = estimateCounter{}
	}
	return &Chunker{config: config, counter: counter}, nil
}

// Split chunks text at sentence boundaries.
//
// Empty or whitespace-only input yields zero chunks. A single sentence
// larger than the ceiling still becomes its own chunk; splitting never
// happens inside a sentence.
func (c *Chunker) Split(text string) []Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	// Newlines terminate sentences in email bodies just as ". " does;
	// fold them into spaces so ".\n" boundaries split too.
	normalized := strings.ReplaceAll(text, "\n", " ")

	var sentences []string
	for _, s := range strings.Split(normalized, ". ") {
		if s = strings.TrimSpace(s); s != "" {
			sentences = append(sentences, s)
		}
	}
	if len(sentences) == 0 {
		return nil
	}

	var (
		chunks        []Chunk
		current       []string
		currentTokens int
	)

	flush := func() {
		if len(current) == 0 {
			return
		}
		body := joinSentences(current)
		chunks = append(chunks, Chunk{
			Index:      len(chunks),
			Text:       body,
			TokenCount: c.counter.CountTokens(body),
		})
		if c.config.Overlap > 0 && len(current) > 1 {
			// Carry the last sentence into the next chunk.
			last := current[len(current)-1]
			current = []string{last}
			currentTokens = c.counter.CountTokens(last)
		} else {
			current = nil
			currentTokens = 0
		}
	}

	for _, sentence := range sentences {
		tokens := c.counter.CountTokens(sentence)
		if currentTokens+tokens > c.config.MaxTokens && len(current) > 0 {
			flush()
		}
		current = append(current, sentence)
		currentTokens += tokens
	}

	if len(current) > 0 {
		body := joinSentences(current)
		chunks = append(chunks, Chunk{
			Index:      len(chunks),
			Text:       body,
			TokenCount: c.counter.CountTokens(body),
		})
	}

	return chunks
}

// joinSentences rebuilds chunk text from its sentences. The terminal
// period restores what the ". " split consumed; Split relies on this
// exact shape so consecutive chunks read naturally when concatenated.
func joinSentences(sentences []string) string {
	joined := strings.Join(sentences, ". ")
	if !strings.HasSuffix(joined, ".") {
		joined += "."
	}
	return joined
}
