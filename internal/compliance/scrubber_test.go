package compliance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedactor(t *testing.T, config *Config) *Redactor {
	t.Helper()
	r, err := NewRedactor(config, nil)
	require.NoError(t, err)
	return r
}

func TestScrubSSN(t *testing.T) {
	r := newTestRedactor(t, nil)

	result := r.Scrub("My SSN is 123-45-6789, please keep it safe.")

	assert.Equal(t, "My SSN is [REDACTED-SSN], please keep it safe.", result.Scrubbed)
	assert.Equal(t, 1, result.TotalFindings)
	require.Len(t, result.Findings, 1)
	assert.Equal(t, "ssn", result.Findings[0].RuleID)
	assert.Equal(t, "high", result.Findings[0].Severity)
}

func TestScrubUndashedSSNRequiresKeyword(t *testing.T) {
	r := newTestRedactor(t, nil)

	// Nine bare digits could be anything; without an SSN keyword the
	// number stays untouched.
	result := r.Scrub("Tracking number 123456789 shipped today.")
	assert.Zero(t, result.TotalFindings)

	result = r.Scrub("Her SSN is 123456789 per the onboarding form.")
	assert.Equal(t, "Her SSN is [REDACTED-SSN] per the onboarding form.", result.Scrubbed)
	require.Len(t, result.Findings, 1)
	assert.Equal(t, "ssn-undashed", result.Findings[0].RuleID)
}

func TestScrubCreditCard(t *testing.T) {
	r := newTestRedactor(t, nil)

	result := r.Scrub("Card: 4111 1111 1111 1111 expires 12/27.")

	assert.Contains(t, result.Scrubbed, "[REDACTED-CREDIT-CARD]")
	assert.NotContains(t, result.Scrubbed, "4111")
}

func TestScrubPhoneRequiresKeyword(t *testing.T) {
	r := newTestRedactor(t, nil)

	// An order number shaped like a phone number stays untouched when
	// no phone keyword appears.
	result := r.Scrub("Reference 555-123-4567 for the invoice.")
	assert.Zero(t, result.TotalFindings)

	result = r.Scrub("Call me at 555-123-4567 tomorrow.")
	assert.Equal(t, "Call me at [REDACTED-PHONE] tomorrow.", result.Scrubbed)
}

func TestScrubDOBRequiresKeyword(t *testing.T) {
	r := newTestRedactor(t, nil)

	result := r.Scrub("The meeting moved to 4/15/2024.")
	assert.Zero(t, result.TotalFindings)

	result = r.Scrub("She was born 4/15/1985 in Ohio.")
	assert.Equal(t, "She was born [REDACTED-DOB] in Ohio.", result.Scrubbed)
}

func TestScrubPassport(t *testing.T) {
	r := newTestRedactor(t, nil)

	result := r.Scrub("Passport number K1234567 attached.")
	assert.Equal(t, "Passport number [REDACTED-PASSPORT] attached.", result.Scrubbed)
}

func TestScrubEmailAddress(t *testing.T) {
	r := newTestRedactor(t, nil)

	result := r.Scrub("Forward this to jane.doe@example.com today.")
	assert.Equal(t, "Forward this to [REDACTED-EMAIL] today.", result.Scrubbed)
	require.Len(t, result.Findings, 1)
	assert.Equal(t, "EMAIL", result.Findings[0].Type)
}

func TestScrubAllowList(t *testing.T) {
	config := DefaultConfig()
	config.AllowList = []string{`800-555-0199`}
	r := newTestRedactor(t, config)

	result := r.Scrub("Call support at 800-555-0199 or call 555-123-4567.")

	assert.Contains(t, result.Scrubbed, "800-555-0199")
	assert.Contains(t, result.Scrubbed, "[REDACTED-PHONE]")
	assert.Equal(t, 1, result.TotalFindings)
}

func TestScrubMultipleCategories(t *testing.T) {
	r := newTestRedactor(t, nil)

	result := r.Scrub("SSN 123-45-6789, email bob@corp.test.")

	assert.NotContains(t, result.Scrubbed, "123-45-6789")
	assert.NotContains(t, result.Scrubbed, "bob@corp.test")
	assert.Equal(t, 2, result.TotalFindings)

	byType := result.ByType()
	assert.Equal(t, 1, byType["SSN"])
	assert.Equal(t, 1, byType["EMAIL"])
}

func TestScrubEmptyAndClean(t *testing.T) {
	r := newTestRedactor(t, nil)

	result := r.Scrub("")
	assert.Empty(t, result.Scrubbed)
	assert.False(t, result.HasFindings())

	result = r.Scrub("The quarterly budget was approved on Tuesday.")
	assert.Equal(t, "The quarterly budget was approved on Tuesday.", result.Scrubbed)
	assert.False(t, result.HasFindings())
}

func TestScrubDisabledPassesThrough(t *testing.T) {
	r := newTestRedactor(t, &Config{Enabled: false})

	result := r.Scrub("SSN 123-45-6789")
	assert.Equal(t, "SSN 123-45-6789", result.Scrubbed)
	assert.Zero(t, result.TotalFindings)
}

func TestMergeSpansCollapsesOverlaps(t *testing.T) {
	a := &compiledRule{Rule: Rule{ID: "a", Type: "A"}}
	b := &compiledRule{Rule: Rule{ID: "b", Type: "B"}}

	merged := mergeSpans([]span{
		{start: 10, end: 20, rule: b},
		{start: 0, end: 12, rule: a},
		{start: 30, end: 35, rule: b},
	})

	require.Len(t, merged, 2)
	assert.Equal(t, 0, merged[0].start)
	assert.Equal(t, 20, merged[0].end)
	assert.Equal(t, "a", merged[0].rule.ID, "earliest match keeps the placeholder type")
	assert.Equal(t, 30, merged[1].start)
}

func TestConfigValidateRejectsBadRules(t *testing.T) {
	config := &Config{Enabled: true, Rules: []Rule{{ID: "bad", Type: "BAD", Pattern: `[`}}}
	assert.Error(t, config.Validate())

	config = &Config{Enabled: true, Rules: []Rule{{ID: "x", Pattern: `a`}}}
	assert.Error(t, config.Validate(), "type is required")
}

func TestNoopScrubber(t *testing.T) {
	result := NoopScrubber{}.Scrub("SSN 123-45-6789")
	assert.Equal(t, "SSN 123-45-6789", result.Scrubbed)
	assert.False(t, result.HasFindings())
}
