package ocr

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/certfolio/verification-engine/internal/webclient"
)

var (
	ErrNoContent     = errors.New("document has no text, image URL or data")
	ErrNotConfigured = errors.New("ocr endpoint not configured")
)

// Document is the certificate to extract text from. Text, when set, is
// already-extracted content and bypasses OCR.
type Document struct {
	Text        string `json:"text,omitempty"`
	ImageURL    string `json:"imageUrl,omitempty"`
	ContentType string `json:"contentType,omitempty"`
	Data        []byte `json:"-"`
}

// Extractor turns a certificate document into plain text
type Extractor interface {
	Extract(ctx context.Context, doc Document) (string, error)
}

// StaticExtractor returns text supplied by the caller
type StaticExtractor struct{}

// Extract returns doc.Text
func (StaticExtractor) Extract(_ context.Context, doc Document) (string, error) {
	if strings.TrimSpace(doc.Text) == "" {
		return "", ErrNoContent
	}
	return doc.Text, nil
}

// Config configures the HTTP OCR client
type Config struct {
	Endpoint     string                `mapstructure:"endpoint"`
	APIKey       string                `mapstructure:"api_key"`
	Timeout      time.Duration         `mapstructure:"timeout"`
	MaxTextBytes int64                 `mapstructure:"max_text_bytes"`
	Retry        webclient.RetryPolicy `mapstructure:"retry"`
}

// HTTPExtractor calls a remote OCR service over JSON
type HTTPExtractor struct {
	config Config
	client *http.Client
	logger *zap.Logger
}

type extractRequest struct {
	ImageURL    string `json:"imageUrl,omitempty"`
	Data        string `json:"data,omitempty"`
	ContentType string `json:"contentType,omitempty"`
}

type extractResponse struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// NewHTTPExtractor creates a new OCR client
func NewHTTPExtractor(cfg Config, logger *zap.Logger) (*HTTPExtractor, error) {
	if cfg.Endpoint == "" {
		return nil, ErrNotConfigured
	}
	if cfg.MaxTextBytes <= 0 {
		cfg.MaxTextBytes = 1 << 20
	}
	return &HTTPExtractor{
		config: cfg,
		client: webclient.NewDefault(cfg.Timeout),
		logger: logger,
	}, nil
}

// Extract returns doc.Text when present, otherwise asks the OCR service
func (e *HTTPExtractor) Extract(ctx context.Context, doc Document) (string, error) {
	if strings.TrimSpace(doc.Text) != "" {
		return doc.Text, nil
	}
	if doc.ImageURL == "" && len(doc.Data) == 0 {
		return "", ErrNoContent
	}

	payload := extractRequest{
		ImageURL:    doc.ImageURL,
		ContentType: doc.ContentType,
	}
	if len(doc.Data) > 0 {
		payload.Data = base64.StdEncoding.EncodeToString(doc.Data)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode ocr request: %w", err)
	}

	headers := map[string]string{"Content-Type": "application/json"}
	if e.config.APIKey != "" {
		headers["Authorization"] = "Bearer " + e.config.APIKey
	}

	start := time.Now()
	_, respBody, err := webclient.Do(ctx, e.client, e.config.Retry, webclient.Request{
		Method:       http.MethodPost,
		URL:          e.config.Endpoint,
		Headers:      headers,
		Body:         body,
		MaxBodyBytes: e.config.MaxTextBytes,
	})
	if err != nil {
		return "", fmt.Errorf("ocr request failed: %w", err)
	}

	var resp extractResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("failed to decode ocr response: %w", err)
	}

	e.logger.Debug("Text extracted",
		zap.Int("chars", len(resp.Text)),
		zap.Float64("ocr_confidence", resp.Confidence),
		zap.Duration("duration", time.Since(start)))

	return resp.Text, nil
}
