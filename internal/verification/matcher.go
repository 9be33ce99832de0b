package verification

import (
	"strings"
	"time"
	"unicode/utf8"
)

// MatchPolicy controls how claimed values are compared with extracted text
type MatchPolicy struct {
	CaseSensitive      bool    `mapstructure:"case_sensitive"`
	NameFoundThreshold float64 `mapstructure:"name_found_threshold"`
}

// DefaultMatchPolicy compares case-insensitively and requires more than 70%
// of the holder name tokens to be present.
func DefaultMatchPolicy() MatchPolicy {
	return MatchPolicy{
		CaseSensitive:      false,
		NameFoundThreshold: 70,
	}
}

// Contains reports whether value occurs in text under the policy
func (p MatchPolicy) Contains(text, value string) bool {
	if value == "" || text == "" {
		return false
	}
	if p.CaseSensitive {
		return strings.Contains(text, value)
	}
	return strings.Contains(strings.ToLower(text), strings.ToLower(value))
}

// Matcher checks claimed metadata fields against OCR text
type Matcher struct {
	policy MatchPolicy
}

// NewMatcher creates a new field matcher
func NewMatcher(policy MatchPolicy) *Matcher {
	return &Matcher{policy: policy}
}

// Policy returns the matcher's comparison policy
func (m *Matcher) Policy() MatchPolicy {
	return m.policy
}

// Match produces one result per claimed field, in AllFields order.
// Fields that were not claimed are skipped entirely.
func (m *Matcher) Match(text string, claimed ClaimedMetadata) []FieldMatchResult {
	results := make([]FieldMatchResult, 0, len(AllFields))

	for _, field := range AllFields {
		value := claimed.Value(field)
		if value == "" {
			continue
		}

		switch field {
		case FieldIssueDate:
			results = append(results, FieldMatchResult{Field: field, Found: m.MatchDate(text, value)})
		case FieldCredentialURL:
			results = append(results, FieldMatchResult{Field: field, Found: m.MatchURL(text, value)})
		case FieldHolderName:
			confidence := m.NameConfidence(text, value)
			results = append(results, FieldMatchResult{
				Field:      field,
				Found:      confidence > m.policy.NameFoundThreshold,
				Confidence: &confidence,
			})
		default:
			results = append(results, FieldMatchResult{Field: field, Found: m.policy.Contains(text, value)})
		}
	}

	return results
}

// MatchDate reports whether any rendering of the claimed date occurs in text
func (m *Matcher) MatchDate(text, claimedDate string) bool {
	for _, candidate := range DateCandidates(claimedDate) {
		if m.policy.Contains(text, candidate) {
			return true
		}
	}
	return false
}

// MatchURL reports whether the claimed URL or its domain occurs in text
func (m *Matcher) MatchURL(text, claimedURL string) bool {
	domain := URLDomain(claimedURL)
	return m.policy.Contains(text, domain) || m.policy.Contains(text, claimedURL)
}

// NameConfidence scores the holder name against text on a 0-100 scale.
// An exact occurrence scores 100; otherwise the share of name tokens longer
// than one character that occur in text.
func (m *Matcher) NameConfidence(text, name string) float64 {
	if m.policy.Contains(text, name) {
		return 100
	}

	var total, matched int
	for _, token := range strings.Fields(name) {
		if utf8.RuneCountInString(token) <= 1 {
			continue
		}
		total++
		if m.policy.Contains(text, token) {
			matched++
		}
	}

	if total == 0 {
		return 0
	}
	return float64(matched) / float64(total) * 100
}

var claimedDateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
}

// DateCandidates renders a claimed date in ISO, US, UK and long form.
// An unparseable date yields the raw value as its only candidate.
func DateCandidates(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	for _, layout := range claimedDateLayouts {
		t, err := time.Parse(layout, raw)
		if err != nil {
			continue
		}
		return []string{
			t.Format("2006-01-02"),
			t.Format("01/02/2006"),
			t.Format("02/01/2006"),
			t.Format("January 2, 2006"),
		}
	}

	return []string{raw}
}

// URLDomain strips the scheme and returns everything up to the first slash
func URLDomain(raw string) string {
	u := strings.TrimSpace(raw)
	if i := strings.Index(u, "://"); i >= 0 {
		u = u[i+3:]
	}
	if i := strings.Index(u, "/"); i >= 0 {
		u = u[:i]
	}
	return u
}
