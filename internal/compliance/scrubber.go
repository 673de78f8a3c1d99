package compliance

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// Scrubber redacts PII from content.
type Scrubber interface {
	// Scrub replaces detected PII with typed placeholders and reports
	// what was found.
	Scrub(content string) *Result
}

// Redactor is the rule-based Scrubber implementation.
type Redactor struct {
	config *Config
	logger *zap.Logger
}

// span marks a region of content claimed by a rule.
type span struct {
	start int
	end   int
	rule  *compiledRule
}

// NewRedactor creates a redactor from a validated config.
func NewRedactor(config *Config, logger *zap.Logger) (*Redactor, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid compliance config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Redactor{config: config, logger: logger}, nil
}

// Scrub replaces PII with [REDACTED-<TYPE>] placeholders. Overlapping
// matches are merged; the earliest match's type wins the placeholder.
func (r *Redactor) Scrub(content string) *Result {
	if !r.config.Enabled || content == "" {
		return &Result{Scrubbed: content}
	}

	var spans []span
	for _, rule := range r.config.compiledRules {
		if !r.keywordsPresent(rule, content) {
			continue
		}
		for _, loc := range rule.pattern.FindAllStringIndex(content, -1) {
			if r.allowed(content[loc[0]:loc[1]]) {
				continue
			}
			spans = append(spans, span{start: loc[0], end: loc[1], rule: rule})
		}
	}

	if len(spans) == 0 {
		return &Result{Scrubbed: content}
	}

	merged := mergeSpans(spans)

	var b strings.Builder
	counts := make(map[string]*Finding)
	prev := 0
	for _, s := range merged {
		b.WriteString(content[prev:s.start])
		b.WriteString("[REDACTED-" + s.rule.Type + "]")
		prev = s.end

		f, ok := counts[s.rule.ID]
		if !ok {
			f = &Finding{RuleID: s.rule.ID, Type: s.rule.Type, Severity: s.rule.Severity}
			counts[s.rule.ID] = f
		}
		f.Count++
	}
	b.WriteString(content[prev:])

	result := &Result{Scrubbed: b.String(), TotalFindings: len(merged)}
	for _, rule := range r.config.compiledRules {
		if f, ok := counts[rule.ID]; ok {
			result.Findings = append(result.Findings, *f)
		}
	}

	r.logger.Debug("scrubbed content",
		zap.Int("findings", result.TotalFindings),
		zap.Any("by_type", result.ByType()))

	return result
}

// keywordsPresent reports whether the rule's context keywords appear in
// the content. Rules without keywords always apply.
func (r *Redactor) keywordsPresent(rule *compiledRule, content string) bool {
	if len(rule.keywords) == 0 {
		return true
	}
	for _, kw := range rule.keywords {
		if kw.MatchString(content) {
			return true
		}
	}
	return false
}

func (r *Redactor) allowed(match string) bool {
	for _, pattern := range r.config.compiledAllowList {
		if pattern.MatchString(match) {
			return true
		}
	}
	return false
}

// mergeSpans sorts spans by position and collapses overlaps so the
// output never contains nested placeholders.
func mergeSpans(spans []span) []span {
	sort.Slice(spans, func(i, j int) bool {
		if spans[i].start != spans[j].start {
			return spans[i].start < spans[j].start
		}
		return spans[i].end > spans[j].end
	})

	merged := spans[:1]
	for _, s := range spans[1:] {
		last := &merged[len(merged)-1]
		if s.start < last.end {
			if s.end > last.end {
				last.end = s.end
			}
			continue
		}
		merged = append(merged, s)
	}
	return merged
}

// NoopScrubber passes content through unchanged. Used when compliance
// review is disabled in configuration.
type NoopScrubber struct{}

// Scrub returns the content as-is with no findings.
func (NoopScrubber) Scrub(content string) *Result {
	return &Result{Scrubbed: content}
}
