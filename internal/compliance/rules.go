package compliance

// DefaultRules returns the built-in PII detection rules.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID:          "ssn",
			Type:        "SSN",
			Description: "US Social Security number",
			Pattern:     `\b\d{3}-\d{2}-\d{4}\b`,
			Severity:    "high",
		},
		{
			ID:          "ssn-undashed",
			Type:        "SSN",
			Description: "Bare nine-digit Social Security number near an SSN keyword",
			Pattern:     `\b\d{9}\b`,
			Keywords:    []string{"ssn", "social security"},
			Severity:    "high",
		},
		{
			ID:          "credit-card",
			Type:        "CREDIT-CARD",
			Description: "Payment card number, with or without separators",
			Pattern:     `\b(?:\d[ -]?){12,15}\d\b`,
			Severity:    "high",
		},
		{
			ID:          "passport",
			Type:        "PASSPORT",
			Description: "Passport number near a passport keyword",
			Pattern:     `\b[A-Z]{1,2}\d{6,9}\b`,
			Keywords:    []string{"passport"},
			Severity:    "high",
		},
		{
			ID:          "phone",
			Type:        "PHONE",
			Description: "US phone number",
			Pattern:     `\b(?:\+?1[ .-]?)?\(?\d{3}\)?[ .-]?\d{3}[ .-]?\d{4}\b`,
			Keywords:    []string{"phone", "call", "cell", "mobile", "tel", "reach"},
			Severity:    "medium",
		},
		{
			ID:          "dob",
			Type:        "DOB",
			Description: "Date of birth near a birth keyword",
			Pattern:     `\b\d{1,2}/\d{1,2}/\d{2,4}\b`,
			Keywords:    []string{"dob", "date of birth", "born", "birthday"},
			Severity:    "medium",
		},
		{
			ID:          "email-address",
			Type:        "EMAIL",
			Description: "Email address inside body text",
			Pattern:     `\b[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}\b`,
			Severity:    "low",
		},
	}
}
