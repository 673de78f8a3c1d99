package compliance

// Finding describes one category of PII found during a scrub.
type Finding struct {
	// RuleID identifies the rule that matched.
	RuleID string `json:"rule_id"`

	// Type is the PII category (SSN, PHONE, ...).
	Type string `json:"type"`

	// Severity mirrors the matching rule's severity.
	Severity string `json:"severity"`

	// Count is the number of occurrences redacted.
	Count int `json:"count"`
}

// Result holds the outcome of a scrub operation.
type Result struct {
	// Scrubbed is the content with PII replaced by typed placeholders.
	Scrubbed string `json:"scrubbed"`

	// Findings lists the categories detected, one entry per rule.
	Findings []Finding `json:"findings,omitempty"`

	// TotalFindings is the total number of redacted spans.
	TotalFindings int `json:"total_findings"`
}

// HasFindings reports whether anything was redacted.
func (r *Result) HasFindings() bool {
	return r.TotalFindings > 0
}

// ByType returns redaction counts keyed by PII category.
func (r *Result) ByType() map[string]int {
	if len(r.Findings) == 0 {
		return nil
	}
	byType := make(map[string]int, len(r.Findings))
	for _, f := range r.Findings {
		byType[f.Type] += f.Count
	}
	return byType
}
