package verification

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// EscalationBand is the open interval of basic confidence scores that are
// ambiguous enough to be escalated
type EscalationBand struct {
	Lower int `mapstructure:"lower"`
	Upper int `mapstructure:"upper"`
}

// DefaultEscalationBand escalates scores strictly between 20 and 90
var DefaultEscalationBand = EscalationBand{Lower: 20, Upper: 90}

// Contains reports whether a basic score should be escalated
func (b EscalationBand) Contains(score int) bool {
	return score > b.Lower && score < b.Upper
}

// EscalationRequest is the structured input handed to a Judge
type EscalationRequest struct {
	ExtractedText string          `json:"extractedText"`
	Claimed       ClaimedMetadata `json:"claimedMetadata"`
	ImageAnalysis *ImageAnalysis  `json:"imageAnalysis,omitempty"`
	BasicScore    int             `json:"basicScore"`
	BasicDecision Decision        `json:"basicDecision"`
}

// Judgment is a judge's second opinion on an ambiguous verification
type Judgment struct {
	Decision        Decision `json:"decision"`
	ConfidenceScore int      `json:"confidenceScore"`
	Reasoning       []string `json:"reasoning"`
	RedFlags        []string `json:"redFlags"`
	Source          string   `json:"source"`
}

// Judge re-scores ambiguous verifications. The heuristic judge below is the
// default; a model-backed judge can be swapped in without touching callers.
type Judge interface {
	Judge(ctx context.Context, req *EscalationRequest) (*Judgment, error)
}

// JudgeFunc adapts a function to the Judge interface
type JudgeFunc func(ctx context.Context, req *EscalationRequest) (*Judgment, error)

// Judge calls f(ctx, req)
func (f JudgeFunc) Judge(ctx context.Context, req *EscalationRequest) (*Judgment, error) {
	return f(ctx, req)
}

var (
	certificateKeywords = regexp.MustCompile(`(?i)\b(certificat\w*|certif(?:y|ies|ied)|diploma|credential\w*|completion|achievement|awarded|course|accredit\w*)\b`)
	congratulatoryTerms = regexp.MustCompile(`(?i)(congratulation|successfully completed|has successfully|hereby award|in recognition of|proudly presented|is awarded to)`)
	templateTerms       = regexp.MustCompile(`(?i)\b(template|sample|example)\b`)
)

// HeuristicJudge approximates a reviewer using textual signals only
type HeuristicJudge struct {
	Policy                 MatchPolicy
	Thresholds             Thresholds
	MinTextLength          int
	ProfessionalTextLength int
}

// NewHeuristicJudge creates a heuristic judge with the escalated thresholds
func NewHeuristicJudge(policy MatchPolicy) *HeuristicJudge {
	return &HeuristicJudge{
		Policy:                 policy,
		Thresholds:             EscalatedThresholds,
		MinTextLength:          100,
		ProfessionalTextLength: 200,
	}
}

// Judge re-scores the request starting from its basic score
func (h *HeuristicJudge) Judge(ctx context.Context, req *EscalationRequest) (*Judgment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	text := req.ExtractedText
	hasKeywords := certificateKeywords.MatchString(text)
	seemsProfessional := len(text) > h.ProfessionalTextLength && hasKeywords && congratulatoryTerms.MatchString(text)

	// These re-check the claim directly instead of reusing the matcher output.
	keyMatches := map[FieldName]bool{
		FieldTitle:        req.Claimed.Has(FieldTitle) && h.Policy.Contains(text, req.Claimed.Value(FieldTitle)),
		FieldIssuer:       req.Claimed.Has(FieldIssuer) && h.Policy.Contains(text, req.Claimed.Value(FieldIssuer)),
		FieldIssueDate:    req.Claimed.Has(FieldIssueDate) && h.dateFound(text, req.Claimed.Value(FieldIssueDate)),
		FieldCredentialID: req.Claimed.Has(FieldCredentialID) && h.Policy.Contains(text, req.Claimed.Value(FieldCredentialID)),
		FieldHolderName:   req.Claimed.Has(FieldHolderName) && h.Policy.Contains(text, req.Claimed.Value(FieldHolderName)),
	}
	matches := 0
	for _, ok := range keyMatches {
		if ok {
			matches++
		}
	}

	redFlags := []string{}
	if n := len(strings.TrimSpace(text)); n < h.MinTextLength {
		redFlags = append(redFlags, fmt.Sprintf("Extracted text is unusually short (%d characters)", n))
	}
	if !hasKeywords {
		redFlags = append(redFlags, "No certificate-related terminology found in document")
	}
	for _, field := range []FieldName{FieldTitle, FieldIssuer, FieldIssueDate, FieldCredentialID, FieldHolderName} {
		if req.Claimed.Has(field) && !keyMatches[field] {
			redFlags = append(redFlags, fmt.Sprintf("Claimed %s not found in document text", strings.ToLower(FieldLabel(field))))
		}
	}
	if templateTerms.MatchString(text) {
		redFlags = append(redFlags, "Document contains template or sample wording")
	}

	score := req.BasicScore
	reasoning := []string{}

	if seemsProfessional {
		score += 10
		reasoning = append(reasoning, "Document uses professional certificate language")
	}

	switch {
	case matches >= 4:
		score += 15
		reasoning = append(reasoning, fmt.Sprintf("%d of 5 key details matched the document", matches))
	case matches <= 1:
		score -= 20
		reasoning = append(reasoning, fmt.Sprintf("Only %d of 5 key details matched the document", matches))
	default:
		reasoning = append(reasoning, fmt.Sprintf("%d of 5 key details matched the document", matches))
	}

	switch {
	case len(redFlags) >= 3:
		score -= 25
		reasoning = append(reasoning, fmt.Sprintf("Multiple red flags detected (%d)", len(redFlags)))
	case len(redFlags) == 0:
		score += 10
		reasoning = append(reasoning, "No red flags detected")
	}

	score = clampScore(score)
	reasoning = append(reasoning, fmt.Sprintf("Enhanced review adjusted confidence from %d to %d", req.BasicScore, score))

	return &Judgment{
		Decision:        h.Thresholds.Classify(score),
		ConfidenceScore: score,
		Reasoning:       reasoning,
		RedFlags:        redFlags,
		Source:          "heuristic",
	}, nil
}

func (h *HeuristicJudge) dateFound(text, claimed string) bool {
	for _, candidate := range DateCandidates(claimed) {
		if h.Policy.Contains(text, candidate) {
			return true
		}
	}
	return false
}
