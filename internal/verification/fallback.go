package verification

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"
)

// Fallback values returned when the AI check cannot complete. Submission
// must never be blocked by a failure in this check.
const (
	FallbackScore          = 0.7
	FallbackIssuerVerified = true
)

// AIResult is the outcome of the submission-time AI check. Degraded is set
// when the values are the fail-open fallback rather than a computed result.
type AIResult struct {
	Score          float64            `json:"score"`
	Consistency    float64            `json:"consistency"`
	IssuerVerified bool               `json:"issuerVerified"`
	IssuerCheck    *IssuerCheckResult `json:"issuerCheck,omitempty"`
	Degraded       bool               `json:"degraded"`
	Reason         string             `json:"reason,omitempty"`
}

// AIVerifier combines a text consistency check with the issuer cross-check
type AIVerifier struct {
	policy  MatchPolicy
	issuers IssuerChecker
	logger  *zap.Logger
}

// NewAIVerifier creates a new AI verifier
func NewAIVerifier(policy MatchPolicy, issuers IssuerChecker, logger *zap.Logger) *AIVerifier {
	return &AIVerifier{
		policy:  policy,
		issuers: issuers,
		logger:  logger,
	}
}

// VerifyWithAI scores how consistent the claim is with the extracted text.
// Errors and panics produce the degraded fallback instead of an error.
func (a *AIVerifier) VerifyWithAI(ctx context.Context, text string, claimed ClaimedMetadata) (result AIResult) {
	defer func() {
		if r := recover(); r != nil {
			result = a.degraded(fmt.Errorf("panic: %v", r))
		}
	}()

	if err := ctx.Err(); err != nil {
		return a.degraded(err)
	}

	consistency := a.Consistency(text, claimed)

	issuerComponent := 0.5
	var check *IssuerCheckResult
	if a.issuers != nil {
		check = a.issuers.Check(claimed)
		switch {
		case check == nil || !check.DatabaseChecked:
			issuerComponent = 0.5
		case check.IssuerVerified:
			issuerComponent = 1
		default:
			issuerComponent = 0
		}
	}

	score := math.Round((consistency*0.7+issuerComponent*0.3)*100) / 100

	return AIResult{
		Score:          score,
		Consistency:    consistency,
		IssuerVerified: check != nil && check.IssuerVerified,
		IssuerCheck:    check,
	}
}

// Consistency returns the share of claimed fields found in text, 0..1
func (a *AIVerifier) Consistency(text string, claimed ClaimedMetadata) float64 {
	var claimedCount, found int
	for _, field := range AllFields {
		value := claimed.Value(field)
		if value == "" {
			continue
		}
		claimedCount++

		switch field {
		case FieldIssueDate:
			for _, candidate := range DateCandidates(value) {
				if a.policy.Contains(text, candidate) {
					found++
					break
				}
			}
		case FieldCredentialURL:
			if a.policy.Contains(text, URLDomain(value)) || a.policy.Contains(text, value) {
				found++
			}
		default:
			if a.policy.Contains(text, value) {
				found++
			}
		}
	}

	if claimedCount == 0 {
		return 0
	}
	return float64(found) / float64(claimedCount)
}

func (a *AIVerifier) degraded(err error) AIResult {
	a.logger.Warn("AI verification failed, using fallback result", zap.Error(err))
	return AIResult{
		Score:          FallbackScore,
		IssuerVerified: FallbackIssuerVerified,
		Degraded:       true,
		Reason:         err.Error(),
	}
}
