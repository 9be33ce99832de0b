package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/certfolio/verification-engine/internal/cache"
	"github.com/certfolio/verification-engine/internal/config"
	"github.com/certfolio/verification-engine/internal/database"
	"github.com/certfolio/verification-engine/internal/events"
	"github.com/certfolio/verification-engine/internal/issuers"
	"github.com/certfolio/verification-engine/internal/metrics"
	"github.com/certfolio/verification-engine/internal/ocr"
	"github.com/certfolio/verification-engine/internal/verification"
)

var (
	ErrInvalidRequest     = errors.New("invalid verification request")
	ErrExtractionFailed   = errors.New("text extraction failed")
	ErrStorageUnavailable = errors.New("verification storage is not configured")
	ErrEmptyBatch         = errors.New("bulk request contains no items")
	ErrBatchTooLarge      = errors.New("bulk request exceeds the item limit")
)

// Store persists verification records
type Store interface {
	Create(ctx context.Context, record *database.VerificationRecord) error
	ListByCertificate(ctx context.Context, certificateID string, limit int) ([]*database.VerificationRecord, error)
	DecisionCounts(ctx context.Context) (map[string]int64, error)
}

// OutcomeCache stores deterministic outcomes
type OutcomeCache interface {
	Get(ctx context.Context, key string) (*verification.VerificationOutcome, bool, error)
	Set(ctx context.Context, key string, outcome *verification.VerificationOutcome) error
}

// ImageAnalyzer produces image integrity signals for a certificate image
type ImageAnalyzer interface {
	AnalyzeURL(ctx context.Context, url string) *verification.ImageAnalysis
}

// Request is one certificate to verify
type Request struct {
	ID            string                       `json:"id,omitempty"`
	CertificateID string                       `json:"certificateId"`
	UserID        string                       `json:"userId,omitempty"`
	ExtractedText string                       `json:"extractedText,omitempty"`
	ImageURL      string                       `json:"imageUrl,omitempty"`
	Claimed       verification.ClaimedMetadata `json:"certificateData"`
}

// Validate rejects a request that carries neither a document nor claims.
// Claims without text are verified against empty text.
func (r Request) Validate() error {
	if strings.TrimSpace(r.ExtractedText) == "" && strings.TrimSpace(r.ImageURL) == "" && r.Claimed.Empty() {
		return fmt.Errorf("%w: extractedText, imageUrl or certificateData is required", ErrInvalidRequest)
	}
	return nil
}

// Result is the outcome of one verification plus bookkeeping
type Result struct {
	RecordID      string                            `json:"recordId,omitempty"`
	CertificateID string                            `json:"certificateId,omitempty"`
	Cached        bool                              `json:"cached"`
	Outcome       *verification.VerificationOutcome `json:"outcome"`
}

// HistoryEntry is a stored verification of a certificate
type HistoryEntry struct {
	RecordID      string                            `json:"recordId"`
	CertificateID string                            `json:"certificateId"`
	UserID        string                            `json:"userId,omitempty"`
	Outcome       *verification.VerificationOutcome `json:"outcome"`
}

// Dependencies are the collaborators of the service. Verifier and Issuers
// are required; the rest are optional.
type Dependencies struct {
	Verifier   *verification.Verifier
	AIVerifier *verification.AIVerifier
	Issuers    *issuers.CrossChecker
	Extractor  ocr.Extractor
	Analyzer   ImageAnalyzer
	Store      Store
	Cache      OutcomeCache
	Publisher  events.Publisher
	Metrics    *metrics.Collector
}

// Service orchestrates text extraction, image analysis, verification,
// persistence, caching and event publication
type Service struct {
	verifier   *verification.Verifier
	aiVerifier *verification.AIVerifier
	issuers    *issuers.CrossChecker
	extractor  ocr.Extractor
	analyzer   ImageAnalyzer
	store      Store
	cache      OutcomeCache
	publisher  events.Publisher
	metrics    *metrics.Collector
	bulk       config.BulkConfig
	logger     *zap.Logger
}

// New creates a new certificate service
func New(deps Dependencies, bulk config.BulkConfig, logger *zap.Logger) (*Service, error) {
	if deps.Verifier == nil {
		return nil, errors.New("verifier is required")
	}
	if deps.Issuers == nil {
		return nil, errors.New("issuer cross-checker is required")
	}

	s := &Service{
		verifier:   deps.Verifier,
		aiVerifier: deps.AIVerifier,
		issuers:    deps.Issuers,
		extractor:  deps.Extractor,
		analyzer:   deps.Analyzer,
		store:      deps.Store,
		cache:      deps.Cache,
		publisher:  deps.Publisher,
		metrics:    deps.Metrics,
		bulk:       bulk,
		logger:     logger,
	}
	if s.aiVerifier == nil {
		s.aiVerifier = verification.NewAIVerifier(deps.Verifier.Config().Matching, deps.Issuers, logger)
	}
	if s.extractor == nil {
		s.extractor = ocr.StaticExtractor{}
	}
	if s.publisher == nil {
		s.publisher = events.NopPublisher{}
	}
	if s.metrics == nil {
		s.metrics = metrics.NewCollector("certverify")
	}
	if s.bulk.Concurrency <= 0 {
		s.bulk.Concurrency = 1
	}
	return s, nil
}

// Verify runs the full verification of one certificate
func (s *Service) Verify(ctx context.Context, req Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()

	text, err := s.extractText(ctx, req)
	if err != nil {
		return nil, err
	}

	input := verification.VerificationInput{
		ExtractedText: text,
		Claimed:       req.Claimed,
	}

	key, err := cache.Key(input, req.ImageURL)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		outcome, hit, err := s.cache.Get(ctx, key)
		if err != nil {
			s.logger.Warn("Outcome cache read failed", zap.Error(err))
		}
		if hit {
			s.metrics.CacheHits.Inc()
			return &Result{CertificateID: req.CertificateID, Cached: true, Outcome: outcome}, nil
		}
		s.metrics.CacheMisses.Inc()
	}

	if req.ImageURL != "" && s.analyzer != nil {
		input.ImageAnalysis = s.analyzer.AnalyzeURL(ctx, req.ImageURL)
		if input.ImageAnalysis != nil && input.ImageAnalysis.Error != "" {
			s.metrics.ImageAnalysisErrors.Inc()
		}
	}

	outcome, err := s.verifier.VerifyCertificate(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("verification failed: %w", err)
	}

	result := &Result{CertificateID: req.CertificateID, Outcome: outcome}

	if s.cache != nil && cacheable(input, outcome) {
		if err := s.cache.Set(ctx, key, outcome); err != nil {
			s.logger.Warn("Outcome cache write failed", zap.Error(err))
		}
	}

	if s.store != nil && req.CertificateID != "" {
		result.RecordID = s.persist(ctx, req, key, outcome)
	}

	if req.CertificateID != "" {
		event := events.NewVerificationEvent(req.CertificateID, req.UserID, outcome)
		if err := s.publisher.PublishVerification(ctx, event); err != nil {
			s.metrics.PublishErrors.Inc()
			s.logger.Warn("Failed to publish verification event",
				zap.String("certificate_id", req.CertificateID),
				zap.Error(err))
		}
	}

	s.metrics.RecordVerification(string(outcome.AIDecision), outcome.EnhancedVerification, outcome.ConfidenceScore, time.Since(start))

	s.logger.Info("Certificate verified",
		zap.String("certificate_id", req.CertificateID),
		zap.String("decision", string(outcome.AIDecision)),
		zap.Int("confidence", outcome.ConfidenceScore),
		zap.Bool("enhanced", outcome.EnhancedVerification),
		zap.Duration("duration", time.Since(start)))

	return result, nil
}

// cacheable excludes judged outcomes and outcomes whose image analysis
// failed, so a retry re-analyses the image
func cacheable(input verification.VerificationInput, outcome *verification.VerificationOutcome) bool {
	if outcome.EnhancedVerification {
		return false
	}
	return input.ImageAnalysis == nil || input.ImageAnalysis.Error == ""
}

// Enhanced runs the escalation judge directly on a request
func (s *Service) Enhanced(ctx context.Context, req Request) (*verification.Judgment, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	text, err := s.extractText(ctx, req)
	if err != nil {
		return nil, err
	}

	input := verification.VerificationInput{ExtractedText: text, Claimed: req.Claimed}
	if req.ImageURL != "" && s.analyzer != nil {
		input.ImageAnalysis = s.analyzer.AnalyzeURL(ctx, req.ImageURL)
	}

	return s.verifier.EnhancedVerification(ctx, input)
}

// Screen runs the fail-open submission check. It never returns an error.
func (s *Service) Screen(ctx context.Context, req Request) verification.AIResult {
	text, err := s.extractText(ctx, req)
	if err != nil {
		s.logger.Warn("Screening without extracted text", zap.Error(err))
		return verification.AIResult{
			Score:          verification.FallbackScore,
			IssuerVerified: verification.FallbackIssuerVerified,
			Degraded:       true,
			Reason:         err.Error(),
		}
	}
	return s.aiVerifier.VerifyWithAI(ctx, text, req.Claimed)
}

// CheckIssuer cross-checks the claimed metadata against known issuers
func (s *Service) CheckIssuer(claimed verification.ClaimedMetadata) *verification.IssuerCheckResult {
	return s.issuers.Check(claimed)
}

// ListIssuers returns the known issuers
func (s *Service) ListIssuers() []issuers.Issuer {
	return s.issuers.Registry().List()
}

// History returns the stored verifications of a certificate, newest first
func (s *Service) History(ctx context.Context, certificateID string, limit int) ([]HistoryEntry, error) {
	if s.store == nil {
		return nil, ErrStorageUnavailable
	}
	if certificateID == "" {
		return nil, fmt.Errorf("%w: certificate id is required", ErrInvalidRequest)
	}

	records, err := s.store.ListByCertificate(ctx, certificateID, limit)
	if err != nil {
		return nil, err
	}

	entries := make([]HistoryEntry, 0, len(records))
	for _, record := range records {
		outcome, err := record.Outcome()
		if err != nil {
			s.logger.Error("Skipping unreadable verification record",
				zap.String("record_id", record.ID.String()),
				zap.Error(err))
			continue
		}
		entries = append(entries, HistoryEntry{
			RecordID:      record.ID.String(),
			CertificateID: record.CertificateID,
			UserID:        record.UserID,
			Outcome:       outcome,
		})
	}
	return entries, nil
}

// Stats returns the number of stored verifications per decision
func (s *Service) Stats(ctx context.Context) (map[string]int64, error) {
	if s.store == nil {
		return nil, ErrStorageUnavailable
	}
	return s.store.DecisionCounts(ctx)
}

// extractText returns the supplied text or runs OCR on the image. An image
// with no readable text is verified against empty text.
func (s *Service) extractText(ctx context.Context, req Request) (string, error) {
	if strings.TrimSpace(req.ExtractedText) != "" {
		return req.ExtractedText, nil
	}

	text, err := s.extractor.Extract(ctx, ocr.Document{ImageURL: req.ImageURL})
	if errors.Is(err, ocr.ErrNoContent) {
		s.logger.Debug("No text extracted from certificate", zap.String("image_url", req.ImageURL))
		return "", nil
	}
	if err != nil {
		s.metrics.ExtractionErrors.Inc()
		return "", fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}
	return text, nil
}

func (s *Service) persist(ctx context.Context, req Request, inputHash string, outcome *verification.VerificationOutcome) string {
	record, err := database.NewVerificationRecord(req.CertificateID, req.UserID, inputHash, outcome)
	if err == nil {
		err = s.store.Create(ctx, record)
	}
	if err != nil {
		s.metrics.PersistenceErrors.Inc()
		s.logger.Error("Failed to persist verification",
			zap.String("certificate_id", req.CertificateID),
			zap.Error(err))
		return ""
	}
	return record.ID.String()
}

// InstrumentJudge counts escalations and judge failures
func InstrumentJudge(judge verification.Judge, m *metrics.Collector) verification.Judge {
	return verification.JudgeFunc(func(ctx context.Context, req *verification.EscalationRequest) (*verification.Judgment, error) {
		m.EscalationsTotal.Inc()
		judgment, err := judge.Judge(ctx, req)
		if err != nil {
			m.JudgeFailures.Inc()
		}
		return judgment, err
	})
}
