package verification

import (
	"strings"
	"time"
)

// Decision is the categorical outcome of a verification
type Decision string

const (
	DecisionVerified    Decision = "verified"
	DecisionRejected    Decision = "rejected"
	DecisionNeedsReview Decision = "needs_review"
)

// FieldName identifies a claimed certificate field
type FieldName string

const (
	FieldTitle         FieldName = "title"
	FieldIssuer        FieldName = "issuer"
	FieldIssueDate     FieldName = "issueDate"
	FieldCredentialID  FieldName = "credentialID"
	FieldCredentialURL FieldName = "credentialURL"
	FieldHolderName    FieldName = "holderName"
)

// AllFields lists the claimable fields in matching order
var AllFields = []FieldName{
	FieldTitle,
	FieldIssuer,
	FieldIssueDate,
	FieldCredentialID,
	FieldCredentialURL,
	FieldHolderName,
}

// ClaimedMetadata is what the certificate holder says the document contains.
// Every field is optional; blank fields are skipped by every check.
type ClaimedMetadata struct {
	Title         string `json:"title,omitempty"`
	Issuer        string `json:"issuer,omitempty"`
	IssueDate     string `json:"issueDate,omitempty"`
	CredentialID  string `json:"credentialID,omitempty"`
	CredentialURL string `json:"credentialURL,omitempty"`
	HolderName    string `json:"holderName,omitempty"`
}

// Value returns the trimmed claimed value for a field
func (c ClaimedMetadata) Value(field FieldName) string {
	var v string
	switch field {
	case FieldTitle:
		v = c.Title
	case FieldIssuer:
		v = c.Issuer
	case FieldIssueDate:
		v = c.IssueDate
	case FieldCredentialID:
		v = c.CredentialID
	case FieldCredentialURL:
		v = c.CredentialURL
	case FieldHolderName:
		v = c.HolderName
	}
	return strings.TrimSpace(v)
}

// Has reports whether a field was claimed
func (c ClaimedMetadata) Has(field FieldName) bool {
	return c.Value(field) != ""
}

// Empty reports whether no field was claimed at all
func (c ClaimedMetadata) Empty() bool {
	for _, f := range AllFields {
		if c.Has(f) {
			return false
		}
	}
	return true
}

// ImageAnalysis carries the image integrity signals for one document
type ImageAnalysis struct {
	IntegrityScore         int      `json:"integrityScore"`
	MetadataConsistent     bool     `json:"metadataConsistent"`
	CompressionArtifacts   bool     `json:"compressionArtifacts"`
	PixelPatternConsistent bool     `json:"pixelPatternConsistent"`
	Issues                 []string `json:"issues,omitempty"`
	Error                  string   `json:"error,omitempty"`
}

// VerificationInput is the immutable input of one verification call
type VerificationInput struct {
	ExtractedText string          `json:"extractedText"`
	Claimed       ClaimedMetadata `json:"claimedMetadata"`
	ImageAnalysis *ImageAnalysis  `json:"imageAnalysis,omitempty"`
}

// FieldMatchResult is the match outcome for a single claimed field.
// Confidence is only populated for the holder name.
type FieldMatchResult struct {
	Field      FieldName `json:"field"`
	Found      bool      `json:"found"`
	Confidence *float64  `json:"confidence,omitempty"`
}

// VerificationDetails is the per-field breakdown persisted with an outcome
type VerificationDetails struct {
	TitleFound          bool               `json:"titleFound"`
	IssuerFound         bool               `json:"issuerFound"`
	DateFound           bool               `json:"dateFound"`
	CredentialIDFound   bool               `json:"credentialIDFound"`
	CredentialURLFound  bool               `json:"credentialURLFound"`
	HolderNameFound     bool               `json:"holderNameFound"`
	NameMatchConfidence float64            `json:"nameMatchConfidence"`
	Fields              []FieldMatchResult `json:"fields"`
}

// IssuerCheckResult is the outcome of the issuer cross-check
type IssuerCheckResult struct {
	Issuer             string `json:"issuer,omitempty"`
	IssuerVerified     bool   `json:"issuerVerified"`
	DatabaseChecked    bool   `json:"databaseChecked"`
	CredentialIDValid  bool   `json:"credentialIDValid"`
	URLValid           bool   `json:"urlValid"`
	HolderNameValid    bool   `json:"holderNameValid"`
	LimitedInformation bool   `json:"limitedInformation"`
	Summary            string `json:"summary"`
}

// VerificationOutcome is the result of the verification pipeline
type VerificationOutcome struct {
	TextMatchScore       int                 `json:"textMatchScore"`
	ImageIntegrityScore  *int                `json:"imageIntegrityScore"`
	ConfidenceScore      int                 `json:"confidenceScore"`
	AIDecision           Decision            `json:"aiDecision"`
	Reasoning            []string            `json:"reasoning"`
	RedFlags             []string            `json:"redFlags"`
	EnhancedVerification bool                `json:"enhancedVerification"`
	VerificationDetails  VerificationDetails `json:"verificationDetails"`
	VerificationDate     time.Time           `json:"verificationDate"`
	IssuerCheck          *IssuerCheckResult  `json:"issuerCheck,omitempty"`
	Summary              string              `json:"summary"`
}
