package database

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/certfolio/verification-engine/internal/verification"
)

// VerificationRecord is one persisted verification outcome for a certificate
type VerificationRecord struct {
	ID                   uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`
	CertificateID        string    `gorm:"not null;index" json:"certificateId"`
	UserID               string    `gorm:"index" json:"userId,omitempty"`
	Decision             string    `gorm:"not null;index" json:"decision"`
	ConfidenceScore      int       `gorm:"not null" json:"confidenceScore"`
	TextMatchScore       int       `gorm:"not null" json:"textMatchScore"`
	ImageIntegrityScore  *int      `json:"imageIntegrityScore,omitempty"`
	EnhancedVerification bool      `gorm:"default:false" json:"enhancedVerification"`
	IssuerVerified       *bool     `json:"issuerVerified,omitempty"`
	Reasoning            JSON      `gorm:"type:jsonb" json:"reasoning"`
	RedFlags             JSON      `gorm:"type:jsonb" json:"redFlags"`
	Details              JSON      `gorm:"type:jsonb" json:"verificationDetails"`
	IssuerCheck          JSON      `gorm:"type:jsonb" json:"issuerCheck,omitempty"`
	Summary              string    `json:"summary"`
	InputHash            string    `gorm:"index" json:"inputHash"`
	VerifiedAt           time.Time `gorm:"not null;index" json:"verifiedAt"`
	CreatedAt            time.Time `json:"createdAt"`
}

// TableName overrides the table name
func (VerificationRecord) TableName() string {
	return "certificate_verifications"
}

// BeforeCreate assigns an ID when none was set
func (r *VerificationRecord) BeforeCreate(*gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// NewVerificationRecord converts an outcome into a record
func NewVerificationRecord(certificateID, userID, inputHash string, outcome *verification.VerificationOutcome) (*VerificationRecord, error) {
	reasoning, err := json.Marshal(outcome.Reasoning)
	if err != nil {
		return nil, fmt.Errorf("failed to encode reasoning: %w", err)
	}
	redFlags, err := json.Marshal(outcome.RedFlags)
	if err != nil {
		return nil, fmt.Errorf("failed to encode red flags: %w", err)
	}
	details, err := json.Marshal(outcome.VerificationDetails)
	if err != nil {
		return nil, fmt.Errorf("failed to encode verification details: %w", err)
	}

	record := &VerificationRecord{
		ID:                   uuid.New(),
		CertificateID:        certificateID,
		UserID:               userID,
		Decision:             string(outcome.AIDecision),
		ConfidenceScore:      outcome.ConfidenceScore,
		TextMatchScore:       outcome.TextMatchScore,
		ImageIntegrityScore:  outcome.ImageIntegrityScore,
		EnhancedVerification: outcome.EnhancedVerification,
		Reasoning:            JSON(reasoning),
		RedFlags:             JSON(redFlags),
		Details:              JSON(details),
		Summary:              outcome.Summary,
		InputHash:            inputHash,
		VerifiedAt:           outcome.VerificationDate,
	}

	if outcome.IssuerCheck != nil {
		issuer, err := json.Marshal(outcome.IssuerCheck)
		if err != nil {
			return nil, fmt.Errorf("failed to encode issuer check: %w", err)
		}
		record.IssuerCheck = JSON(issuer)
		verified := outcome.IssuerCheck.IssuerVerified
		record.IssuerVerified = &verified
	}

	return record, nil
}

// Outcome rebuilds the verification outcome stored in the record
func (r *VerificationRecord) Outcome() (*verification.VerificationOutcome, error) {
	outcome := &verification.VerificationOutcome{
		TextMatchScore:       r.TextMatchScore,
		ImageIntegrityScore:  r.ImageIntegrityScore,
		ConfidenceScore:      r.ConfidenceScore,
		AIDecision:           verification.Decision(r.Decision),
		EnhancedVerification: r.EnhancedVerification,
		VerificationDate:     r.VerifiedAt,
		Summary:              r.Summary,
	}

	if err := r.Reasoning.decode(&outcome.Reasoning); err != nil {
		return nil, fmt.Errorf("failed to decode reasoning: %w", err)
	}
	if err := r.RedFlags.decode(&outcome.RedFlags); err != nil {
		return nil, fmt.Errorf("failed to decode red flags: %w", err)
	}
	if err := r.Details.decode(&outcome.VerificationDetails); err != nil {
		return nil, fmt.Errorf("failed to decode verification details: %w", err)
	}
	if len(r.IssuerCheck) > 0 {
		outcome.IssuerCheck = &verification.IssuerCheckResult{}
		if err := r.IssuerCheck.decode(outcome.IssuerCheck); err != nil {
			return nil, fmt.Errorf("failed to decode issuer check: %w", err)
		}
	}

	return outcome, nil
}

// JSON represents a JSON field for GORM
type JSON json.RawMessage

// Scan implements the Scanner interface for GORM
func (j *JSON) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*j = nil
	case []byte:
		*j = append(JSON(nil), v...)
	case string:
		*j = JSON(v)
	default:
		return fmt.Errorf("unsupported JSON column type %T", value)
	}
	return nil
}

// Value implements the driver.Valuer interface for GORM
func (j JSON) Value() (interface{}, error) {
	if j == nil {
		return nil, nil
	}
	return string(j), nil
}

// MarshalJSON implements the json.Marshaler interface
func (j JSON) MarshalJSON() ([]byte, error) {
	if j == nil {
		return []byte("null"), nil
	}
	return j, nil
}

// UnmarshalJSON implements the json.Unmarshaler interface
func (j *JSON) UnmarshalJSON(data []byte) error {
	*j = append((*j)[:0], data...)
	return nil
}

func (j JSON) decode(dst interface{}) error {
	if len(j) == 0 {
		return nil
	}
	return json.Unmarshal(j, dst)
}
