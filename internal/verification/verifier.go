package verification

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Config holds the scoring configuration of the verifier
type Config struct {
	Matching              MatchPolicy    `mapstructure:"matching"`
	Weights               WeightTable    `mapstructure:"weights"`
	Blend                 BlendWeights   `mapstructure:"blend"`
	BasicThresholds       Thresholds     `mapstructure:"basic_thresholds"`
	EscalatedThresholds   Thresholds     `mapstructure:"escalated_thresholds"`
	EscalationBand        EscalationBand `mapstructure:"escalation_band"`
	EnableEscalation      bool           `mapstructure:"enable_escalation"`
	ImageWarningThreshold int            `mapstructure:"image_warning_threshold"`
}

// DefaultConfig returns the standard scoring configuration
func DefaultConfig() Config {
	return Config{
		Matching:              DefaultMatchPolicy(),
		Weights:               DefaultWeights(),
		Blend:                 DefaultBlend,
		BasicThresholds:       BasicThresholds,
		EscalatedThresholds:   EscalatedThresholds,
		EscalationBand:        DefaultEscalationBand,
		EnableEscalation:      true,
		ImageWarningThreshold: 60,
	}
}

// IssuerChecker cross-checks the claimed issuer against known issuers
type IssuerChecker interface {
	Check(claimed ClaimedMetadata) *IssuerCheckResult
}

// Verifier runs the certificate verification pipeline. It holds no
// per-call state and is safe for concurrent use.
type Verifier struct {
	config  Config
	matcher *Matcher
	judge   Judge
	issuers IssuerChecker
	logger  *zap.Logger
	now     func() time.Time
}

// Option customises a Verifier
type Option func(*Verifier)

// WithJudge sets the escalation judge
func WithJudge(judge Judge) Option {
	return func(v *Verifier) { v.judge = judge }
}

// WithIssuerChecker sets the issuer cross-check merged into the summary
func WithIssuerChecker(checker IssuerChecker) Option {
	return func(v *Verifier) { v.issuers = checker }
}

// WithClock overrides the verification timestamp source
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) { v.now = now }
}

// NewVerifier creates a new verifier. Without WithJudge the heuristic judge
// is used for escalation.
func NewVerifier(cfg Config, logger *zap.Logger, opts ...Option) *Verifier {
	v := &Verifier{
		config:  cfg,
		matcher: NewMatcher(cfg.Matching),
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.judge == nil {
		judge := NewHeuristicJudge(cfg.Matching)
		judge.Thresholds = cfg.EscalatedThresholds
		v.judge = judge
	}
	return v
}

// Config returns the verifier configuration
func (v *Verifier) Config() Config {
	return v.config
}

// Assess runs the deterministic part of the pipeline: field matching,
// aggregation and the basic decision. It never escalates.
func (v *Verifier) Assess(input VerificationInput) *VerificationOutcome {
	results := v.matcher.Match(input.ExtractedText, input.Claimed)
	agg := v.config.Weights.Aggregate(results)

	var imageScore *int
	if input.ImageAnalysis != nil {
		score := clampScore(input.ImageAnalysis.IntegrityScore)
		imageScore = &score
	}

	confidence := v.config.Blend.Blend(agg.Score, imageScore)
	decision := v.config.BasicThresholds.Classify(confidence)
	reasoning, redFlags := explain(results, input.ImageAnalysis, decision, v.config.ImageWarningThreshold)

	return &VerificationOutcome{
		TextMatchScore:      agg.Score,
		ImageIntegrityScore: imageScore,
		ConfidenceScore:     confidence,
		AIDecision:          decision,
		Reasoning:           reasoning,
		RedFlags:            redFlags,
		VerificationDetails: buildDetails(results),
		VerificationDate:    v.now(),
	}
}

// VerifyCertificate runs the full pipeline. Ambiguous scores are escalated
// to the judge; a failing judge leaves the basic outcome in place.
func (v *Verifier) VerifyCertificate(ctx context.Context, input VerificationInput) (*VerificationOutcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	outcome := v.Assess(input)

	if v.config.EnableEscalation && v.config.EscalationBand.Contains(outcome.ConfidenceScore) {
		judgment, err := v.judge.Judge(ctx, &EscalationRequest{
			ExtractedText: input.ExtractedText,
			Claimed:       input.Claimed,
			ImageAnalysis: input.ImageAnalysis,
			BasicScore:    outcome.ConfidenceScore,
			BasicDecision: outcome.AIDecision,
		})
		if err != nil {
			v.logger.Warn("Enhanced verification failed, keeping basic outcome",
				zap.Int("basic_score", outcome.ConfidenceScore),
				zap.Error(err))
		} else {
			v.applyJudgment(outcome, judgment)
		}
	}

	if v.issuers != nil {
		outcome.IssuerCheck = v.issuers.Check(input.Claimed)
	}
	outcome.Summary = summarize(outcome)

	return outcome, nil
}

// EnhancedVerification asks the judge directly, regardless of the basic score
func (v *Verifier) EnhancedVerification(ctx context.Context, input VerificationInput) (*Judgment, error) {
	if v.judge == nil {
		return nil, ErrJudgeUnavailable
	}

	basic := v.Assess(input)
	judgment, err := v.judge.Judge(ctx, &EscalationRequest{
		ExtractedText: input.ExtractedText,
		Claimed:       input.Claimed,
		ImageAnalysis: input.ImageAnalysis,
		BasicScore:    basic.ConfidenceScore,
		BasicDecision: basic.AIDecision,
	})
	if err != nil {
		return nil, fmt.Errorf("enhanced verification: %w", err)
	}
	if judgment == nil {
		return nil, ErrInvalidJudgment
	}

	judgment.ConfidenceScore = clampScore(judgment.ConfidenceScore)
	judgment.Decision = v.config.EscalatedThresholds.Classify(judgment.ConfidenceScore)
	return judgment, nil
}

func (v *Verifier) applyJudgment(outcome *VerificationOutcome, judgment *Judgment) {
	if judgment == nil {
		return
	}
	score := clampScore(judgment.ConfidenceScore)
	decision := v.config.EscalatedThresholds.Classify(score)

	if decision != outcome.AIDecision {
		kept := outcome.Reasoning[:0]
		for _, r := range outcome.Reasoning {
			if !isDecisionReason(r) {
				kept = append(kept, r)
			}
		}
		outcome.Reasoning = kept
	}

	outcome.ConfidenceScore = score
	outcome.AIDecision = decision
	outcome.EnhancedVerification = true
	outcome.Reasoning = append(outcome.Reasoning, judgment.Reasoning...)
	outcome.RedFlags = appendUnique(outcome.RedFlags, judgment.RedFlags...)
}

func buildDetails(results []FieldMatchResult) VerificationDetails {
	details := VerificationDetails{Fields: results}
	for _, r := range results {
		switch r.Field {
		case FieldTitle:
			details.TitleFound = r.Found
		case FieldIssuer:
			details.IssuerFound = r.Found
		case FieldIssueDate:
			details.DateFound = r.Found
		case FieldCredentialID:
			details.CredentialIDFound = r.Found
		case FieldCredentialURL:
			details.CredentialURLFound = r.Found
		case FieldHolderName:
			details.HolderNameFound = r.Found
			if r.Confidence != nil {
				details.NameMatchConfidence = *r.Confidence
			}
		}
	}
	return details
}

func summarize(outcome *VerificationOutcome) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Verification result: %s (confidence %d/100)", outcome.AIDecision, outcome.ConfidenceScore)
	if outcome.EnhancedVerification {
		b.WriteString(" after enhanced review")
	}
	b.WriteString(".")
	if outcome.IssuerCheck != nil && outcome.IssuerCheck.Summary != "" {
		b.WriteString(" ")
		b.WriteString(outcome.IssuerCheck.Summary)
	}
	return b.String()
}

func appendUnique(dst []string, values ...string) []string {
	seen := make(map[string]struct{}, len(dst))
	for _, s := range dst {
		seen[s] = struct{}{}
	}
	for _, s := range values {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		dst = append(dst, s)
	}
	return dst
}
