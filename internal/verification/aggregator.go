package verification

import "math"

// WeightTable holds the per-field weights of the text match score.
// Credential URL and holder name are weighted down when a credential ID
// was claimed, since the ID carries most of the evidence.
type WeightTable struct {
	Title               float64 `mapstructure:"title"`
	Issuer              float64 `mapstructure:"issuer"`
	IssueDate           float64 `mapstructure:"issue_date"`
	CredentialID        float64 `mapstructure:"credential_id"`
	CredentialURL       float64 `mapstructure:"credential_url"`
	CredentialURLWithID float64 `mapstructure:"credential_url_with_id"`
	HolderName          float64 `mapstructure:"holder_name"`
	HolderNameWithID    float64 `mapstructure:"holder_name_with_id"`
}

// DefaultWeights returns the standard weight table
func DefaultWeights() WeightTable {
	return WeightTable{
		Title:               20,
		Issuer:              25,
		IssueDate:           15,
		CredentialID:        30,
		CredentialURL:       20,
		CredentialURLWithID: 15,
		HolderName:          15,
		HolderNameWithID:    10,
	}
}

// WeightFor returns the weight of a field given whether a credential ID was claimed
func (w WeightTable) WeightFor(field FieldName, hasCredentialID bool) float64 {
	switch field {
	case FieldTitle:
		return w.Title
	case FieldIssuer:
		return w.Issuer
	case FieldIssueDate:
		return w.IssueDate
	case FieldCredentialID:
		return w.CredentialID
	case FieldCredentialURL:
		if hasCredentialID {
			return w.CredentialURLWithID
		}
		return w.CredentialURL
	case FieldHolderName:
		if hasCredentialID {
			return w.HolderNameWithID
		}
		return w.HolderName
	}
	return 0
}

// AggregateResult is the text match score together with its raw points
type AggregateResult struct {
	Score         int
	MatchedPoints float64
	TotalPoints   float64
}

// Aggregate combines field results into the 0-100 text match score.
// Only claimed fields contribute to the denominator; the holder name
// contributes in proportion to its confidence rather than all-or-nothing.
func (w WeightTable) Aggregate(results []FieldMatchResult) AggregateResult {
	hasCredentialID := false
	for _, r := range results {
		if r.Field == FieldCredentialID {
			hasCredentialID = true
			break
		}
	}

	var agg AggregateResult
	for _, r := range results {
		weight := w.WeightFor(r.Field, hasCredentialID)
		agg.TotalPoints += weight

		if r.Field == FieldHolderName && r.Confidence != nil {
			agg.MatchedPoints += (*r.Confidence / 100) * weight
			continue
		}
		if r.Found {
			agg.MatchedPoints += weight
		}
	}

	if agg.TotalPoints == 0 {
		return agg
	}

	agg.Score = clampScore(int(math.Round(agg.MatchedPoints / agg.TotalPoints * 100)))
	return agg
}

func clampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
