package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/certfolio/verification-engine/internal/verification"
	"github.com/certfolio/verification-engine/internal/webclient"
)

type completerFunc func(ctx context.Context, messages []Message) (string, error)

func (f completerFunc) Complete(ctx context.Context, messages []Message) (string, error) {
	return f(ctx, messages)
}

func TestNewClient(t *testing.T) {
	_, err := NewClient(Config{}, zap.NewNop())
	assert.ErrorIs(t, err, ErrMissingAPIKey)

	client, err := NewClient(Config{APIKey: "sk-test"}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", client.Model())
}

func TestClient_Complete(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

			var req chatRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "gpt-4o-mini", req.Model)
			assert.Len(t, req.Messages, 2)
			assert.Equal(t, "json_object", req.ResponseFormat["type"])

			_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"  {\"ok\":true}  "}}]}`))
		}))
		defer srv.Close()

		client, err := NewClient(Config{Endpoint: srv.URL, APIKey: "sk-test", Model: "gpt-4o-mini", Timeout: time.Second}, zap.NewNop())
		require.NoError(t, err)

		reply, err := client.Complete(context.Background(), []Message{{Role: "system", Content: "s"}, {Role: "user", Content: "u"}})
		require.NoError(t, err)
		assert.Equal(t, `{"ok":true}`, reply)
	})

	t.Run("NoChoices", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"choices":[]}`))
		}))
		defer srv.Close()

		client, err := NewClient(Config{Endpoint: srv.URL, APIKey: "sk-test"}, zap.NewNop())
		require.NoError(t, err)

		_, err = client.Complete(context.Background(), nil)
		assert.ErrorIs(t, err, ErrEmptyResponse)
	})

	t.Run("RateLimited", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer srv.Close()

		client, err := NewClient(Config{
			Endpoint: srv.URL,
			APIKey:   "sk-test",
			Retry:    webclient.RetryPolicy{Attempts: 2, InitialDelay: time.Millisecond},
		}, zap.NewNop())
		require.NoError(t, err)

		_, err = client.Complete(context.Background(), nil)
		assert.ErrorContains(t, err, "llm API error")
	})
}

func TestJudge_Judge(t *testing.T) {
	req := &verification.EscalationRequest{
		ExtractedText: "Certificate of Completion awarded to Jane Doe",
		Claimed:       verification.ClaimedMetadata{HolderName: "Jane Doe", Issuer: "Udemy"},
		ImageAnalysis: &verification.ImageAnalysis{IntegrityScore: 85},
		BasicScore:    55,
		BasicDecision: verification.DecisionNeedsReview,
	}

	t.Run("ParsesFencedReply", func(t *testing.T) {
		judge := NewJudge(completerFunc(func(_ context.Context, messages []Message) (string, error) {
			require.Len(t, messages, 2)
			assert.Contains(t, messages[1].Content, "Jane Doe")
			assert.Contains(t, messages[1].Content, "Automated field match: 55/100 (needs_review)")
			assert.Contains(t, messages[1].Content, `"integrityScore":85`)
			return "```json\n{\"decision\":\"Verified\",\"confidenceScore\":78.6,\"reasoning\":[\"Layout matches Udemy certificates\"]}\n```", nil
		}), "llm:gpt-4o", zap.NewNop())

		judgment, err := judge.Judge(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, verification.DecisionVerified, judgment.Decision)
		assert.Equal(t, 79, judgment.ConfidenceScore)
		assert.Equal(t, []string{"Layout matches Udemy certificates"}, judgment.Reasoning)
		assert.Empty(t, judgment.RedFlags)
		assert.Equal(t, "llm:gpt-4o", judgment.Source)
	})

	t.Run("ClampsScore", func(t *testing.T) {
		judge := NewJudge(completerFunc(func(context.Context, []Message) (string, error) {
			return `{"decision":"rejected","confidenceScore":-12}`, nil
		}), "llm", zap.NewNop())

		judgment, err := judge.Judge(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, 0, judgment.ConfidenceScore)
	})

	t.Run("MissingScore", func(t *testing.T) {
		judge := NewJudge(completerFunc(func(context.Context, []Message) (string, error) {
			return `{"decision":"verified"}`, nil
		}), "llm", zap.NewNop())

		_, err := judge.Judge(context.Background(), req)
		assert.ErrorIs(t, err, verification.ErrInvalidJudgment)
	})

	t.Run("NotJSON", func(t *testing.T) {
		judge := NewJudge(completerFunc(func(context.Context, []Message) (string, error) {
			return "I cannot help with that.", nil
		}), "llm", zap.NewNop())

		_, err := judge.Judge(context.Background(), req)
		assert.ErrorIs(t, err, verification.ErrInvalidJudgment)
	})

	t.Run("CompleterError", func(t *testing.T) {
		judge := NewJudge(completerFunc(func(context.Context, []Message) (string, error) {
			return "", errors.New("connection reset")
		}), "llm", zap.NewNop())

		_, err := judge.Judge(context.Background(), req)
		assert.ErrorIs(t, err, verification.ErrJudgeUnavailable)
	})

	t.Run("VerifierFallsBackWhenModelFails", func(t *testing.T) {
		judge := NewJudge(completerFunc(func(context.Context, []Message) (string, error) {
			return "", errors.New("timeout")
		}), "llm", zap.NewNop())
		v := verification.NewVerifier(verification.DefaultConfig(), zap.NewNop(), verification.WithJudge(judge))

		outcome, err := v.VerifyCertificate(context.Background(), verification.VerificationInput{
			ExtractedText: "Machine Learning by Coursera",
			Claimed:       verification.ClaimedMetadata{Title: "Machine Learning", Issuer: "Udemy"},
		})
		require.NoError(t, err)
		assert.False(t, outcome.EnhancedVerification)
		assert.Equal(t, 44, outcome.ConfidenceScore)
	})
}
