package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/certfolio/verification-engine/internal/verification"
)

const systemPrompt = `You review professional certificates for authenticity.
You receive OCR text extracted from a certificate, the metadata the holder claims,
optional image integrity signals and the score of an automated field match.
Reply with a single JSON object:
{"decision": "verified" | "rejected" | "needs_review",
 "confidenceScore": integer 0-100,
 "reasoning": [short sentences],
 "redFlags": [short sentences]}`

// maxPromptText bounds the OCR text sent to the model
const maxPromptText = 8000

// Judge escalates ambiguous verifications to a chat model.
// It implements verification.Judge.
type Judge struct {
	completer Completer
	source    string
	logger    *zap.Logger
}

type judgeReply struct {
	Decision        string   `json:"decision"`
	ConfidenceScore *float64 `json:"confidenceScore"`
	Reasoning       []string `json:"reasoning"`
	RedFlags        []string `json:"redFlags"`
}

// NewJudge creates a model-backed judge. source identifies the model in results.
func NewJudge(completer Completer, source string, logger *zap.Logger) *Judge {
	return &Judge{
		completer: completer,
		source:    source,
		logger:    logger,
	}
}

// Judge asks the model for a second opinion. The score it returns is
// clamped; the final decision is derived by the verifier from the score.
func (j *Judge) Judge(ctx context.Context, req *verification.EscalationRequest) (*verification.Judgment, error) {
	prompt, err := buildPrompt(req)
	if err != nil {
		return nil, err
	}

	reply, err := j.completer.Complete(ctx, []Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: prompt},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", verification.ErrJudgeUnavailable, err)
	}

	judgment, err := parseJudgment(reply)
	if err != nil {
		j.logger.Warn("Model returned an unusable judgment", zap.String("reply", truncate(reply, 500)), zap.Error(err))
		return nil, err
	}
	judgment.Source = j.source

	return judgment, nil
}

func buildPrompt(req *verification.EscalationRequest) (string, error) {
	claimed, err := json.Marshal(req.Claimed)
	if err != nil {
		return "", fmt.Errorf("failed to encode claimed metadata: %w", err)
	}

	var b strings.Builder
	b.WriteString("Extracted text:\n")
	b.WriteString(truncate(req.ExtractedText, maxPromptText))
	b.WriteString("\n\nClaimed metadata:\n")
	b.Write(claimed)
	if req.ImageAnalysis != nil {
		image, err := json.Marshal(req.ImageAnalysis)
		if err != nil {
			return "", fmt.Errorf("failed to encode image analysis: %w", err)
		}
		b.WriteString("\n\nImage analysis:\n")
		b.Write(image)
	}
	fmt.Fprintf(&b, "\n\nAutomated field match: %d/100 (%s)", req.BasicScore, req.BasicDecision)
	return b.String(), nil
}

// parseJudgment accepts a bare JSON object, optionally wrapped in a code fence or prose
func parseJudgment(reply string) (*verification.Judgment, error) {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start < 0 || end < start {
		return nil, fmt.Errorf("%w: no JSON object in reply", verification.ErrInvalidJudgment)
	}

	var parsed judgeReply
	if err := json.Unmarshal([]byte(reply[start:end+1]), &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", verification.ErrInvalidJudgment, err)
	}
	if parsed.ConfidenceScore == nil {
		return nil, fmt.Errorf("%w: missing confidenceScore", verification.ErrInvalidJudgment)
	}

	score := int(math.Round(*parsed.ConfidenceScore))
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	judgment := &verification.Judgment{
		Decision:        verification.Decision(strings.ToLower(strings.TrimSpace(parsed.Decision))),
		ConfidenceScore: score,
		Reasoning:       parsed.Reasoning,
		RedFlags:        parsed.RedFlags,
	}
	if judgment.Reasoning == nil {
		judgment.Reasoning = []string{}
	}
	if judgment.RedFlags == nil {
		judgment.RedFlags = []string{}
	}
	return judgment, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
