package issuers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/certfolio/verification-engine/internal/verification"
)

func TestCrossChecker_Check(t *testing.T) {
	checker := NewCrossChecker(NewDefaultRegistry(), zap.NewNop())

	t.Run("UnknownIssuer", func(t *testing.T) {
		result := checker.Check(verification.ClaimedMetadata{Issuer: "Acme Training Co", CredentialID: "ABC-123456789"})
		assert.False(t, result.IssuerVerified)
		assert.False(t, result.DatabaseChecked)
		assert.Contains(t, result.Summary, "not in the known issuer database")
	})

	t.Run("NoIssuerClaimed", func(t *testing.T) {
		result := checker.Check(verification.ClaimedMetadata{Title: "Go"})
		assert.False(t, result.IssuerVerified)
		assert.False(t, result.DatabaseChecked)
	})

	t.Run("CredentialIDValidated", func(t *testing.T) {
		result := checker.Check(verification.ClaimedMetadata{
			Issuer:        "Coursera",
			CredentialID:  "ABC-123456789",
			CredentialURL: "https://coursera.org/verify/ABC-123456789",
			HolderName:    "Samadhan Mane",
		})
		assert.True(t, result.IssuerVerified)
		assert.True(t, result.DatabaseChecked)
		assert.True(t, result.CredentialIDValid)
		assert.True(t, result.URLValid)
		assert.True(t, result.HolderNameValid)
		assert.False(t, result.LimitedInformation)
		assert.Equal(t, "Credential validated against known issuer Coursera.", result.Summary)
	})

	t.Run("ShortCredentialIDFails", func(t *testing.T) {
		result := checker.Check(verification.ClaimedMetadata{Issuer: "Udemy", CredentialID: "UC-1234"})
		assert.False(t, result.IssuerVerified)
		assert.True(t, result.DatabaseChecked)
		assert.Contains(t, result.Summary, "failed validation")
		assert.Contains(t, result.Summary, "credential ID format is invalid")
	})

	t.Run("ForeignURLFailsWithValidID", func(t *testing.T) {
		result := checker.Check(verification.ClaimedMetadata{
			Issuer:        "Udemy",
			CredentialID:  "UC-1234567890",
			CredentialURL: "https://evil.example.com/cert/UC-1234567890",
		})
		assert.True(t, result.CredentialIDValid)
		assert.False(t, result.URLValid)
		assert.False(t, result.IssuerVerified)
		assert.Contains(t, result.Summary, "credential URL does not belong to the issuer")
	})

	t.Run("URLOnly", func(t *testing.T) {
		result := checker.Check(verification.ClaimedMetadata{
			Issuer:        "Udemy",
			CredentialURL: "https://www.udemy.com/certificate/UC-1234567890/",
			HolderName:    "Jane Doe",
		})
		assert.True(t, result.IssuerVerified)
		assert.False(t, result.LimitedInformation)
	})

	t.Run("URLOnlyIgnoresShortHolder", func(t *testing.T) {
		result := checker.Check(verification.ClaimedMetadata{
			Issuer:        "Udemy",
			CredentialURL: "https://www.udemy.com/certificate/UC-1234567890/",
			HolderName:    "Jo",
		})
		assert.True(t, result.IssuerVerified)
		assert.True(t, result.URLValid)
		assert.False(t, result.HolderNameValid)
		assert.Equal(t, "Credential validated against known issuer Udemy.", result.Summary)
	})

	t.Run("URLOnlyForeignDomainFails", func(t *testing.T) {
		result := checker.Check(verification.ClaimedMetadata{
			Issuer:        "Udemy",
			CredentialURL: "https://example.com/certificate/UC-1234567890/",
			HolderName:    "Jo",
		})
		assert.False(t, result.IssuerVerified)
		assert.Contains(t, result.Summary, "credential URL does not belong to the issuer")
	})

	t.Run("LimitedInformation", func(t *testing.T) {
		result := checker.Check(verification.ClaimedMetadata{Issuer: "coursera inc", Title: "Machine Learning"})
		assert.True(t, result.IssuerVerified)
		assert.True(t, result.LimitedInformation)
		assert.Equal(t, "Coursera", result.Issuer)
		assert.Contains(t, result.Summary, "validated with limited information")
	})
}

func TestCrossChecker_ImplementsIssuerChecker(t *testing.T) {
	var checker verification.IssuerChecker = NewCrossChecker(NewDefaultRegistry(), zap.NewNop())
	require.NotNil(t, checker)
}

func TestValidCredentialID(t *testing.T) {
	assert.True(t, ValidCredentialID("ABC-123456789"))
	assert.True(t, ValidCredentialID("123456789"))
	assert.False(t, ValidCredentialID("12345678"))
	assert.False(t, ValidCredentialID("ABC_123456789"))
	assert.False(t, ValidCredentialID("ABC 123456789"))
	assert.False(t, ValidCredentialID(""))
}

func TestMatchesDomain(t *testing.T) {
	domains := []string{"coursera.org"}
	assert.True(t, MatchesDomain("https://WWW.Coursera.org/verify/X", domains))
	assert.False(t, MatchesDomain("https://udemy.com/x", domains))
	assert.False(t, MatchesDomain("", domains))
}
