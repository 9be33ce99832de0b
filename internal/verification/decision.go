package verification

import (
	"fmt"
	"math"
)

// Thresholds maps a confidence score to a decision
type Thresholds struct {
	Verified int `mapstructure:"verified"`
	Rejected int `mapstructure:"rejected"`
}

var (
	// BasicThresholds classify the outcome of the basic pipeline
	BasicThresholds = Thresholds{Verified: 85, Rejected: 40}

	// EscalatedThresholds classify the outcome of the escalation stage
	EscalatedThresholds = Thresholds{Verified: 75, Rejected: 40}
)

// Classify returns the decision for a score
func (t Thresholds) Classify(score int) Decision {
	switch {
	case score >= t.Verified:
		return DecisionVerified
	case score <= t.Rejected:
		return DecisionRejected
	default:
		return DecisionNeedsReview
	}
}

// BlendWeights weight the text match and image integrity scores
type BlendWeights struct {
	Text  float64 `mapstructure:"text"`
	Image float64 `mapstructure:"image"`
}

// DefaultBlend is the 70/30 text/image blend
var DefaultBlend = BlendWeights{Text: 0.7, Image: 0.3}

// Blend returns the confidence score. Without an image score the text
// match score is used unchanged.
func (b BlendWeights) Blend(textScore int, imageScore *int) int {
	if imageScore == nil {
		return clampScore(textScore)
	}
	blended := float64(textScore)*b.Text + float64(*imageScore)*b.Image
	return clampScore(int(math.Round(blended)))
}

var fieldLabels = map[FieldName]string{
	FieldTitle:         "Certificate title",
	FieldIssuer:        "Issuer",
	FieldIssueDate:     "Issue date",
	FieldCredentialID:  "Credential ID",
	FieldCredentialURL: "Credential URL",
	FieldHolderName:    "Holder name",
}

// FieldLabel returns the human readable name of a field
func FieldLabel(field FieldName) string {
	if label, ok := fieldLabels[field]; ok {
		return label
	}
	return string(field)
}

// decisionReasons explain a decision when no field-specific reason applies
var decisionReasons = map[Decision]string{
	DecisionVerified:    "All provided certificate details match the document",
	DecisionRejected:    "Certificate details could not be matched against the document",
	DecisionNeedsReview: "Certificate partially matches the document and requires manual review",
}

func isDecisionReason(reason string) bool {
	for _, r := range decisionReasons {
		if r == reason {
			return true
		}
	}
	return false
}

// explain builds the reasoning and red flags for a basic outcome
func explain(results []FieldMatchResult, image *ImageAnalysis, decision Decision, imageWarning int) ([]string, []string) {
	reasoning := []string{}
	redFlags := []string{}

	for _, r := range results {
		if r.Field == FieldHolderName {
			if !r.Found && r.Confidence != nil {
				reasoning = append(reasoning, fmt.Sprintf("Holder name match confidence is low (%.0f%%)", *r.Confidence))
			}
			continue
		}
		if !r.Found {
			reasoning = append(reasoning, fmt.Sprintf("%s not found in document", FieldLabel(r.Field)))
			if r.Field == FieldCredentialID {
				redFlags = append(redFlags, "Claimed credential ID does not appear on the certificate")
			}
		}
	}

	if image != nil {
		if image.IntegrityScore < imageWarning {
			reasoning = append(reasoning, fmt.Sprintf("Image integrity score is low (%d/100); the document may have been altered", image.IntegrityScore))
		}
		if image.Error != "" {
			redFlags = append(redFlags, "Image analysis failed: "+image.Error)
		}
		redFlags = append(redFlags, image.Issues...)
	}

	if len(reasoning) == 0 {
		reasoning = append(reasoning, decisionReasons[decision])
	}

	return reasoning, redFlags
}
