package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/certfolio/verification-engine/internal/config"
	"github.com/certfolio/verification-engine/internal/issuers"
	"github.com/certfolio/verification-engine/internal/metrics"
	"github.com/certfolio/verification-engine/internal/service"
	"github.com/certfolio/verification-engine/internal/verification"
)

const (
	testSecret = "test-secret"
	testIssuer = "certverify-test"
)

const courseraText = "This certifies that Jane Doe has completed Machine Learning issued by Coursera on 2024-07-31. " +
	"Credential ID ABC123XYZ9 https://coursera.org/verify/ABC123XYZ9"

var courseraClaim = verification.ClaimedMetadata{
	Title:         "Machine Learning",
	Issuer:        "Coursera",
	IssueDate:     "2024-07-31",
	CredentialID:  "ABC123XYZ9",
	CredentialURL: "https://coursera.org/verify/ABC123XYZ9",
	HolderName:    "Jane Doe",
}

type staticHealth map[string]error

func (s staticHealth) Health(context.Context) map[string]error { return s }

func init() {
	gin.SetMode(gin.TestMode)
}

func testConfig(auth bool) *config.Config {
	return &config.Config{
		Environment: "test",
		Server:      config.ServerConfig{EnableCORS: true, MaxBodyBytes: 1 << 20},
		Security:    config.SecurityConfig{EnableAuth: auth, JWTSecret: testSecret, JWTIssuer: testIssuer},
		Monitoring:  config.MonitoringConfig{Enabled: true, MetricsPath: "/metrics", Namespace: "test"},
	}
}

func newTestRouter(t *testing.T, auth bool, health HealthChecker) *gin.Engine {
	t.Helper()

	collector := metrics.NewCollector("test")
	checker := issuers.NewCrossChecker(issuers.NewDefaultRegistry(), zap.NewNop())
	svc, err := service.New(service.Dependencies{
		Verifier: verification.NewVerifier(verification.DefaultConfig(), zap.NewNop(), verification.WithIssuerChecker(checker)),
		Issuers:  checker,
		Metrics:  collector,
	}, config.BulkConfig{MaxItems: 3, Concurrency: 2}, zap.NewNop())
	require.NoError(t, err)

	handler := NewHandler(svc, health, "test", zap.NewNop())
	return SetupRouter(testConfig(auth), zap.NewNop(), handler, collector)
}

func doJSON(router http.Handler, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if s, ok := body.(string); ok {
		buf.WriteString(s)
	} else if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestVerifyEndpoint(t *testing.T) {
	router := newTestRouter(t, false, nil)

	t.Run("Verified", func(t *testing.T) {
		rec := doJSON(router, http.MethodPost, "/api/v1/verifications", service.Request{
			CertificateID: "cert-1",
			ExtractedText: courseraText,
			Claimed:       courseraClaim,
		}, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var result service.Result
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
		assert.Equal(t, verification.DecisionVerified, result.Outcome.AIDecision)
		assert.Equal(t, 100, result.Outcome.ConfidenceScore)
		assert.NotEmpty(t, rec.Header().Get(requestIDHeader))
	})

	t.Run("MalformedBody", func(t *testing.T) {
		rec := doJSON(router, http.MethodPost, "/api/v1/verifications", "{", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("NothingToVerify", func(t *testing.T) {
		rec := doJSON(router, http.MethodPost, "/api/v1/verifications", service.Request{CertificateID: "cert-1"}, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "extractedText, imageUrl or certificateData is required")
	})

	t.Run("RequestIDIsEchoed", func(t *testing.T) {
		rec := doJSON(router, http.MethodPost, "/api/v1/verifications", service.Request{
			ExtractedText: courseraText,
			Claimed:       courseraClaim,
		}, map[string]string{requestIDHeader: "req-42"})
		assert.Equal(t, "req-42", rec.Header().Get(requestIDHeader))
	})
}

func TestBulkEndpoint(t *testing.T) {
	router := newTestRouter(t, false, nil)

	rec := doJSON(router, http.MethodPost, "/api/v1/verifications/bulk", gin.H{"items": []service.Request{
		{ID: "ok", ExtractedText: courseraText, Claimed: courseraClaim},
		{ID: "bad"},
	}}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result service.BulkResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.Len(t, result.Items, 2)
	assert.True(t, result.Items[0].Success)
	assert.False(t, result.Items[1].Success)
	assert.Equal(t, 1, result.Stats.Failed)

	rec = doJSON(router, http.MethodPost, "/api/v1/verifications/bulk", gin.H{"items": make([]service.Request, 4)}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(router, http.MethodPost, "/api/v1/verifications/bulk", gin.H{"items": []service.Request{}}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEnhancedAndScreenEndpoints(t *testing.T) {
	router := newTestRouter(t, false, nil)
	body := service.Request{ExtractedText: courseraText, Claimed: courseraClaim}

	rec := doJSON(router, http.MethodPost, "/api/v1/verifications/enhanced", body, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var judgment verification.Judgment
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &judgment))
	assert.Equal(t, "heuristic", judgment.Source)

	rec = doJSON(router, http.MethodPost, "/api/v1/verifications/screen", body, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var screened verification.AIResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &screened))
	assert.False(t, screened.Degraded)
	assert.True(t, screened.IssuerVerified)
}

func TestIssuerEndpoints(t *testing.T) {
	router := newTestRouter(t, false, nil)

	rec := doJSON(router, http.MethodGet, "/api/v1/issuers", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Issuers []issuers.Issuer `json:"issuers"`
		Count   int              `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, len(issuers.DefaultIssuers()), list.Count)

	rec = doJSON(router, http.MethodPost, "/api/v1/issuers/check", courseraClaim, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var check verification.IssuerCheckResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &check))
	assert.True(t, check.DatabaseChecked)
	assert.True(t, check.IssuerVerified)
}

func TestHistoryEndpoint_WithoutStorage(t *testing.T) {
	router := newTestRouter(t, false, nil)

	rec := doJSON(router, http.MethodGet, "/api/v1/certificates/cert-1/verifications", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = doJSON(router, http.MethodGet, "/api/v1/certificates/cert-1/verifications?limit=abc", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(router, http.MethodGet, "/api/v1/verifications/stats", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAuthMiddleware(t *testing.T) {
	router := newTestRouter(t, true, nil)
	validator := NewTokenValidator(testSecret, testIssuer)

	rec := doJSON(router, http.MethodGet, "/api/v1/issuers", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(router, http.MethodGet, "/api/v1/issuers", nil, map[string]string{"Authorization": "Bearer nonsense"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	other := NewTokenValidator("other-secret", testIssuer)
	forged, err := other.GenerateToken("user-1", nil, time.Hour)
	require.NoError(t, err)
	rec = doJSON(router, http.MethodGet, "/api/v1/issuers", nil, map[string]string{"Authorization": "Bearer " + forged})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token, err := validator.GenerateToken("user-1", []string{"student"}, time.Hour)
	require.NoError(t, err)
	rec = doJSON(router, http.MethodGet, "/api/v1/issuers", nil, map[string]string{"Authorization": "Bearer " + token})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(router, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTokenValidator(t *testing.T) {
	validator := NewTokenValidator(testSecret, testIssuer)

	token, err := validator.GenerateToken("user-1", []string{"admin"}, time.Hour)
	require.NoError(t, err)

	claims, err := validator.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, []string{"admin"}, claims.Roles)

	expired, err := validator.GenerateToken("user-1", nil, -time.Minute)
	require.NoError(t, err)
	_, err = validator.ValidateToken(expired)
	assert.ErrorIs(t, err, ErrInvalidToken)

	wrongIssuer, err := NewTokenValidator(testSecret, "someone-else").GenerateToken("user-1", nil, time.Hour)
	require.NoError(t, err)
	_, err = validator.ValidateToken(wrongIssuer)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestHealthEndpoint(t *testing.T) {
	healthy := newTestRouter(t, false, staticHealth{"database": nil, "redis": nil})
	rec := doJSON(healthy, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)

	degraded := newTestRouter(t, false, staticHealth{"database": nil, "redis": errors.New("connection refused")})
	rec = doJSON(degraded, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}

func TestMetricsAndCORS(t *testing.T) {
	router := newTestRouter(t, false, nil)

	doJSON(router, http.MethodGet, "/api/v1/issuers", nil, nil)
	rec := doJSON(router, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `test_http_request_duration_seconds_count{method="GET",route="/api/v1/issuers",status="200"} 1`)

	rec = doJSON(router, http.MethodOptions, "/api/v1/verifications", nil, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusFor(service.ErrBatchTooLarge))
	assert.Equal(t, http.StatusBadGateway, statusFor(service.ErrExtractionFailed))
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(verification.ErrJudgeUnavailable))
	assert.Equal(t, http.StatusGatewayTimeout, statusFor(context.DeadlineExceeded))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("boom")))
}
