package imaging

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, x%h, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type failingCheck struct{}

func (failingCheck) Name() string { return "forensics" }

func (failingCheck) Evaluate(context.Context, *Image) (float64, error) {
	return 0, errors.New("forensics backend unavailable")
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Timeout = time.Second
	cfg.Retry.InitialDelay = time.Millisecond
	return cfg
}

func TestAnalyzer_Analyze(t *testing.T) {
	t.Run("DefaultChecks", func(t *testing.T) {
		analyzer := NewAnalyzer(testConfig(), zap.NewNop())

		result := analyzer.Analyze(context.Background(), &Image{Format: "png", Width: 800, Height: 600})
		assert.Equal(t, 85, result.IntegrityScore)
		assert.True(t, result.MetadataConsistent)
		assert.True(t, result.PixelPatternConsistent)
		assert.False(t, result.CompressionArtifacts)
		assert.Empty(t, result.Issues)
		assert.Empty(t, result.Error)
	})

	t.Run("LowSubScoresRaiseIssues", func(t *testing.T) {
		analyzer := NewAnalyzer(testConfig(), zap.NewNop(),
			ConstantCheck{CheckName: CheckTextConsistency, Score: 0.9},
			ConstantCheck{CheckName: CheckPixelManipulation, Score: 0.3},
			ConstantCheck{CheckName: CheckMetadata, Score: 0.6},
		)

		result := analyzer.Analyze(context.Background(), &Image{Width: 800, Height: 600})
		assert.Equal(t, 60, result.IntegrityScore)
		assert.Equal(t, []string{"Pixel patterns suggest possible manipulation"}, result.Issues)
		assert.False(t, result.PixelPatternConsistent)
		assert.True(t, result.CompressionArtifacts)
		assert.True(t, result.MetadataConsistent)
	})

	t.Run("SmallImagePenalized", func(t *testing.T) {
		analyzer := NewAnalyzer(testConfig(), zap.NewNop())

		result := analyzer.Analyze(context.Background(), &Image{Width: 16, Height: 16})
		// (0.85 + 0.9 + 0.5) / 3
		assert.Equal(t, 75, result.IntegrityScore)
		assert.False(t, result.MetadataConsistent)
		assert.Contains(t, result.Issues, "Image metadata is inconsistent with an original certificate")
	})

	t.Run("ScoresAreClamped", func(t *testing.T) {
		analyzer := NewAnalyzer(testConfig(), zap.NewNop(), ConstantCheck{CheckName: "custom", Score: 1.7})

		result := analyzer.Analyze(context.Background(), &Image{})
		assert.Equal(t, 100, result.IntegrityScore)
	})

	t.Run("CheckErrorDegrades", func(t *testing.T) {
		analyzer := NewAnalyzer(testConfig(), zap.NewNop(), failingCheck{})

		result := analyzer.Analyze(context.Background(), &Image{})
		assert.Equal(t, 0, result.IntegrityScore)
		assert.Contains(t, result.Error, "forensics backend unavailable")
	})
}

func TestAnalyzer_AnalyzeBytes(t *testing.T) {
	analyzer := NewAnalyzer(testConfig(), zap.NewNop())

	t.Run("DecodesPNG", func(t *testing.T) {
		result := analyzer.AnalyzeBytes(context.Background(), "upload", encodePNG(t, 120, 90))
		assert.Equal(t, 85, result.IntegrityScore)
		assert.Empty(t, result.Error)
	})

	t.Run("RejectsNonImage", func(t *testing.T) {
		result := analyzer.AnalyzeBytes(context.Background(), "upload", []byte("%PDF-1.7"))
		assert.Equal(t, 0, result.IntegrityScore)
		assert.Contains(t, result.Error, "decode failed")
	})

	t.Run("Empty", func(t *testing.T) {
		result := analyzer.AnalyzeBytes(context.Background(), "upload", nil)
		assert.Equal(t, ErrNoImage.Error(), result.Error)
	})
}

func TestAnalyzer_AnalyzeURL(t *testing.T) {
	pngData := encodePNG(t, 200, 150)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/cert.png":
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write(pngData)
		case "/huge.png":
			_, _ = w.Write(make([]byte, 4096))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	t.Run("Downloads", func(t *testing.T) {
		result := NewAnalyzer(testConfig(), zap.NewNop()).AnalyzeURL(context.Background(), srv.URL+"/cert.png")
		assert.Equal(t, 85, result.IntegrityScore)
		assert.Empty(t, result.Error)
	})

	t.Run("NotFound", func(t *testing.T) {
		result := NewAnalyzer(testConfig(), zap.NewNop()).AnalyzeURL(context.Background(), srv.URL+"/missing.png")
		assert.Equal(t, 0, result.IntegrityScore)
		assert.Contains(t, result.Error, "download failed")
	})

	t.Run("TooLarge", func(t *testing.T) {
		cfg := testConfig()
		cfg.MaxBytes = 1024
		result := NewAnalyzer(cfg, zap.NewNop()).AnalyzeURL(context.Background(), srv.URL+"/huge.png")
		assert.Equal(t, 0, result.IntegrityScore)
		assert.Contains(t, result.Error, "too large")
	})

	t.Run("EmptyURL", func(t *testing.T) {
		result := NewAnalyzer(testConfig(), zap.NewNop()).AnalyzeURL(context.Background(), "")
		assert.Equal(t, ErrNoImage.Error(), result.Error)
	})
}
