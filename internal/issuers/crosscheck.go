package issuers

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/certfolio/verification-engine/internal/verification"
)

var credentialIDPattern = regexp.MustCompile(`^[A-Za-z0-9-]+$`)

const (
	minCredentialIDLength = 9
	minHolderNameLength   = 4
)

// CrossChecker validates claimed credentials against the issuer registry.
// It implements verification.IssuerChecker.
type CrossChecker struct {
	registry *Registry
	logger   *zap.Logger
}

// NewCrossChecker creates a new issuer cross-checker
func NewCrossChecker(registry *Registry, logger *zap.Logger) *CrossChecker {
	return &CrossChecker{
		registry: registry,
		logger:   logger,
	}
}

// Registry returns the registry backing the checker
func (c *CrossChecker) Registry() *Registry {
	return c.registry
}

// Check looks the claimed issuer up and validates the credential fields
// that were claimed alongside it. Unknown issuers are reported as not
// checked rather than failed.
func (c *CrossChecker) Check(claimed verification.ClaimedMetadata) *verification.IssuerCheckResult {
	name := claimed.Value(verification.FieldIssuer)
	if name == "" {
		return &verification.IssuerCheckResult{
			Summary: "No issuer was claimed, so the credential could not be cross-checked.",
		}
	}

	match, ok := c.registry.Lookup(name)
	if !ok {
		c.logger.Debug("Issuer not found in registry", zap.String("issuer", name))
		return &verification.IssuerCheckResult{
			Issuer:  name,
			Summary: fmt.Sprintf("Issuer %q is not in the known issuer database and could not be cross-checked.", name),
		}
	}

	c.logger.Debug("Issuer resolved",
		zap.String("claimed", name),
		zap.String("issuer", match.Issuer.Name),
		zap.String("match", string(match.Kind)),
		zap.Float64("similarity", match.Similarity))

	id := claimed.Value(verification.FieldCredentialID)
	url := claimed.Value(verification.FieldCredentialURL)
	holder := claimed.Value(verification.FieldHolderName)

	result := &verification.IssuerCheckResult{
		Issuer:            match.Issuer.Name,
		DatabaseChecked:   true,
		CredentialIDValid: ValidCredentialID(id),
		URLValid:          MatchesDomain(url, match.Issuer.Domains),
		HolderNameValid:   utf8.RuneCountInString(holder) >= minHolderNameLength,
	}

	var problems []string
	if id != "" && !result.CredentialIDValid {
		problems = append(problems, "credential ID format is invalid")
	}
	if url != "" && !result.URLValid {
		problems = append(problems, "credential URL does not belong to the issuer")
	}
	if holder != "" && !result.HolderNameValid {
		problems = append(problems, "holder name is too short")
	}

	switch {
	case id != "":
		result.IssuerVerified = len(problems) == 0
	case url != "":
		// without a credential ID only the URL is decisive; holder validity is reported
		result.IssuerVerified = result.URLValid
		if result.URLValid {
			problems = nil
		}
	default:
		result.IssuerVerified = true
		result.LimitedInformation = true
	}

	switch {
	case result.LimitedInformation:
		result.Summary = fmt.Sprintf("%s is a known issuer; credential validated with limited information (no credential ID or URL provided).", match.Issuer.Name)
	case result.IssuerVerified:
		result.Summary = fmt.Sprintf("Credential validated against known issuer %s.", match.Issuer.Name)
	default:
		result.Summary = fmt.Sprintf("Credential failed validation against known issuer %s: %s.", match.Issuer.Name, strings.Join(problems, ", "))
	}

	return result
}

// ValidCredentialID reports whether id looks like a platform credential ID
func ValidCredentialID(id string) bool {
	return len(id) >= minCredentialIDLength && credentialIDPattern.MatchString(id)
}

// MatchesDomain reports whether rawURL contains one of the issuer domains
func MatchesDomain(rawURL string, domains []string) bool {
	if rawURL == "" {
		return false
	}
	lower := strings.ToLower(rawURL)
	for _, d := range domains {
		if strings.Contains(lower, d) {
			return true
		}
	}
	return false
}
