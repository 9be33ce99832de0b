package imaging

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"net/http"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/certfolio/verification-engine/internal/verification"
	"github.com/certfolio/verification-engine/internal/webclient"
)

var (
	ErrNoImage  = errors.New("no image supplied")
	ErrNoChecks = errors.New("no integrity checks configured")
)

// Config configures image acquisition and scoring
type Config struct {
	Enabled        bool                  `mapstructure:"enabled"`
	Timeout        time.Duration         `mapstructure:"timeout"`
	MaxBytes       int64                 `mapstructure:"max_bytes"`
	IssueThreshold float64               `mapstructure:"issue_threshold"`
	Retry          webclient.RetryPolicy `mapstructure:"retry"`
}

// DefaultConfig returns the standard analyzer configuration
func DefaultConfig() Config {
	return Config{
		Enabled:        true,
		Timeout:        15 * time.Second,
		MaxBytes:       10 << 20,
		IssueThreshold: 0.6,
		Retry:          webclient.RetryPolicy{Attempts: 2, InitialDelay: 500 * time.Millisecond},
	}
}

// Analyzer produces the image integrity score of a certificate
type Analyzer struct {
	config Config
	client *http.Client
	checks []Check
	logger *zap.Logger
}

// NewAnalyzer creates a new analyzer. Without checks DefaultChecks is used.
func NewAnalyzer(cfg Config, logger *zap.Logger, checks ...Check) *Analyzer {
	if len(checks) == 0 {
		checks = DefaultChecks()
	}
	return &Analyzer{
		config: cfg,
		client: webclient.NewDefault(cfg.Timeout),
		checks: checks,
		logger: logger,
	}
}

// AnalyzeURL downloads and analyzes the image at url. Failures are
// reported inside the result with a zero score, never as an error.
func (a *Analyzer) AnalyzeURL(ctx context.Context, url string) *verification.ImageAnalysis {
	if url == "" {
		return failed(ErrNoImage)
	}

	_, data, err := webclient.Do(ctx, a.client, a.config.Retry, webclient.Request{
		Method:       http.MethodGet,
		URL:          url,
		MaxBodyBytes: a.config.MaxBytes,
	})
	if err != nil {
		a.logger.Warn("Failed to download certificate image", zap.String("url", url), zap.Error(err))
		return failed(fmt.Errorf("download failed: %w", err))
	}

	return a.AnalyzeBytes(ctx, url, data)
}

// AnalyzeBytes decodes and analyzes raw image bytes
func (a *Analyzer) AnalyzeBytes(ctx context.Context, source string, data []byte) *verification.ImageAnalysis {
	if len(data) == 0 {
		return failed(ErrNoImage)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		a.logger.Warn("Failed to decode certificate image", zap.String("source", source), zap.Error(err))
		return failed(fmt.Errorf("decode failed: %w", err))
	}

	return a.Analyze(ctx, &Image{
		Source: source,
		Format: format,
		Width:  cfg.Width,
		Height: cfg.Height,
		Data:   data,
	})
}

// Analyze runs every check, averages the sub-scores and scales to 0-100.
// Each sub-score below the issue threshold adds an issue.
func (a *Analyzer) Analyze(ctx context.Context, img *Image) *verification.ImageAnalysis {
	if len(a.checks) == 0 {
		return failed(ErrNoChecks)
	}

	scores := make([]float64, 0, len(a.checks))
	byName := make(map[string]float64, len(a.checks))
	issues := []string{}

	for _, check := range a.checks {
		score, err := check.Evaluate(ctx, img)
		if err != nil {
			a.logger.Warn("Integrity check failed",
				zap.String("check", check.Name()),
				zap.String("source", img.Source),
				zap.Error(err))
			return failed(fmt.Errorf("%s check failed: %w", check.Name(), err))
		}
		score = math.Max(0, math.Min(1, score))
		scores = append(scores, score)
		byName[check.Name()] = score
		if score < a.config.IssueThreshold {
			issues = append(issues, issueFor(check.Name()))
		}
	}

	analysis := &verification.ImageAnalysis{
		IntegrityScore:         int(math.Round(stat.Mean(scores, nil) * 100)),
		MetadataConsistent:     a.passed(byName, CheckMetadata),
		CompressionArtifacts:   !a.passed(byName, CheckPixelManipulation),
		PixelPatternConsistent: a.passed(byName, CheckPixelManipulation),
		Issues:                 issues,
	}

	a.logger.Debug("Image analyzed",
		zap.String("source", img.Source),
		zap.String("format", img.Format),
		zap.Int("width", img.Width),
		zap.Int("height", img.Height),
		zap.Int("integrity_score", analysis.IntegrityScore))

	return analysis
}

// passed treats checks that were not configured as passing
func (a *Analyzer) passed(scores map[string]float64, name string) bool {
	score, ok := scores[name]
	return !ok || score >= a.config.IssueThreshold
}

func failed(err error) *verification.ImageAnalysis {
	return &verification.ImageAnalysis{
		IntegrityScore: 0,
		Issues:         []string{},
		Error:          err.Error(),
	}
}
