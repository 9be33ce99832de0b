package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/certfolio/verification-engine/internal/config"
	"github.com/certfolio/verification-engine/internal/service"
	"github.com/certfolio/verification-engine/internal/verification"
)

func loadConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Environment = "test"
	cfg.Imaging.Enabled = false
	return cfg
}

func TestNew_StandaloneServer(t *testing.T) {
	srv, err := New(loadConfig(t), zap.NewNop(), "test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	assert.Empty(t, srv.Health(context.Background()))

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	body, err := json.Marshal(service.Request{
		ExtractedText: "Certificate of Completion awarded to Jane Doe for Data Science by IBM",
		Claimed:       verification.ClaimedMetadata{Title: "Quantum Physics"},
	})
	require.NoError(t, err)

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/verifications", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result service.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 0, result.Outcome.TextMatchScore)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "certverify_verifications_total")
}

func TestNew_CustomIssuerRegistry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "issuers.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
issuers:
  - name: Certfolio Academy
    aliases: [CFA]
    domains: [academy.certfolio.io]
`), 0o600))

	cfg := loadConfig(t)
	cfg.Issuers.RegistryFile = path

	srv, err := New(cfg, zap.NewNop(), "test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	list := srv.Service().ListIssuers()
	require.Len(t, list, 1)
	assert.Equal(t, "Certfolio Academy", list[0].Name)
}

func TestNew_InvalidRegistryFile(t *testing.T) {
	cfg := loadConfig(t)
	cfg.Issuers.RegistryFile = filepath.Join(t.TempDir(), "missing.yaml")

	_, err := New(cfg, zap.NewNop(), "test")
	assert.ErrorContains(t, err, "failed to load issuer registry")
}

func TestNew_LLMWithoutKey(t *testing.T) {
	cfg := loadConfig(t)
	cfg.LLM.Enabled = true
	cfg.LLM.APIKey = ""

	_, err := New(cfg, zap.NewNop(), "test")
	assert.ErrorContains(t, err, "failed to create llm client")
}
