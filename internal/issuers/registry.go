package issuers

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"gopkg.in/yaml.v3"
)

// DefaultFuzzyThreshold is the minimum Levenshtein similarity for a fuzzy issuer match
const DefaultFuzzyThreshold = 0.85

var (
	ErrEmptyRegistry    = errors.New("issuer registry is empty")
	ErrInvalidIssuer    = errors.New("issuer has no name")
	ErrDuplicateIssuer  = errors.New("duplicate issuer name or alias")
	ErrInvalidThreshold = errors.New("fuzzy threshold must be within (0, 1]")
)

// Issuer is a known certificate platform
type Issuer struct {
	Name    string   `yaml:"name" json:"name"`
	Aliases []string `yaml:"aliases,omitempty" json:"aliases,omitempty"`
	Domains []string `yaml:"domains" json:"domains"`
}

// MatchKind describes how a claimed issuer resolved to a known one
type MatchKind string

const (
	MatchExact     MatchKind = "exact"
	MatchSubstring MatchKind = "substring"
	MatchFuzzy     MatchKind = "fuzzy"
)

// Match is the result of a registry lookup
type Match struct {
	Issuer     Issuer
	Kind       MatchKind
	Similarity float64
}

type registryFile struct {
	Issuers []Issuer `yaml:"issuers"`
}

// Registry is an immutable set of known issuers, safe for concurrent use
type Registry struct {
	issuers        []Issuer
	keys           []registryKey
	index          map[string]int
	fuzzyThreshold float64
}

type registryKey struct {
	key    string
	issuer int
}

// DefaultIssuers returns the built-in list of known platforms
func DefaultIssuers() []Issuer {
	return []Issuer{
		{Name: "Coursera", Domains: []string{"coursera.org"}},
		{Name: "Udemy", Domains: []string{"udemy.com", "ude.my"}},
		{Name: "edX", Domains: []string{"edx.org", "credentials.edx.org"}},
		{Name: "LinkedIn Learning", Aliases: []string{"LinkedIn", "Lynda"}, Domains: []string{"linkedin.com", "lynda.com"}},
		{Name: "Google", Aliases: []string{"Google Career Certificates", "Grow with Google"}, Domains: []string{"google.com", "grow.google", "coursera.org"}},
		{Name: "Microsoft", Aliases: []string{"Microsoft Learn"}, Domains: []string{"microsoft.com", "learn.microsoft.com"}},
		{Name: "Amazon Web Services", Aliases: []string{"AWS"}, Domains: []string{"aws.amazon.com", "credly.com"}},
		{Name: "Credly", Domains: []string{"credly.com", "youracclaim.com"}},
		{Name: "IBM", Domains: []string{"ibm.com", "credly.com"}},
		{Name: "Udacity", Domains: []string{"udacity.com", "confirm.udacity.com"}},
		{Name: "freeCodeCamp", Domains: []string{"freecodecamp.org"}},
		{Name: "HackerRank", Domains: []string{"hackerrank.com"}},
		{Name: "Cisco", Aliases: []string{"Cisco Networking Academy"}, Domains: []string{"cisco.com", "netacad.com", "credly.com"}},
		{Name: "Oracle", Aliases: []string{"Oracle University"}, Domains: []string{"oracle.com", "education.oracle.com"}},
		{Name: "DataCamp", Domains: []string{"datacamp.com"}},
		{Name: "Pluralsight", Domains: []string{"pluralsight.com"}},
		{Name: "Salesforce", Aliases: []string{"Trailhead"}, Domains: []string{"salesforce.com", "trailhead.com"}},
		{Name: "Meta", Aliases: []string{"Facebook"}, Domains: []string{"meta.com", "facebook.com", "coursera.org"}},
	}
}

// NewRegistry builds a registry from a list of issuers. Names and aliases
// are indexed case-insensitively and must be unique.
func NewRegistry(issuers []Issuer, fuzzyThreshold float64) (*Registry, error) {
	if len(issuers) == 0 {
		return nil, ErrEmptyRegistry
	}
	if fuzzyThreshold <= 0 || fuzzyThreshold > 1 {
		return nil, ErrInvalidThreshold
	}

	r := &Registry{
		issuers:        make([]Issuer, 0, len(issuers)),
		index:          make(map[string]int),
		fuzzyThreshold: fuzzyThreshold,
	}

	for _, iss := range issuers {
		name := normalize(iss.Name)
		if name == "" {
			return nil, ErrInvalidIssuer
		}

		pos := len(r.issuers)
		for _, key := range append([]string{iss.Name}, iss.Aliases...) {
			key = normalize(key)
			if key == "" {
				continue
			}
			if _, exists := r.index[key]; exists {
				return nil, fmt.Errorf("%w: %q", ErrDuplicateIssuer, key)
			}
			r.index[key] = pos
			r.keys = append(r.keys, registryKey{key: key, issuer: pos})
		}

		domains := make([]string, 0, len(iss.Domains))
		for _, d := range iss.Domains {
			if d = strings.ToLower(strings.TrimSpace(d)); d != "" {
				domains = append(domains, d)
			}
		}
		iss.Domains = domains
		r.issuers = append(r.issuers, iss)
	}

	return r, nil
}

// NewDefaultRegistry builds a registry from DefaultIssuers
func NewDefaultRegistry() *Registry {
	r, err := NewRegistry(DefaultIssuers(), DefaultFuzzyThreshold)
	if err != nil {
		panic(err)
	}
	return r
}

// LoadFile reads a YAML issuer list of the form `issuers: [{name, aliases, domains}]`
func LoadFile(path string, fuzzyThreshold float64) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read issuer registry: %w", err)
	}
	return Parse(data, fuzzyThreshold)
}

// Parse builds a registry from YAML
func Parse(data []byte, fuzzyThreshold float64) (*Registry, error) {
	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse issuer registry: %w", err)
	}
	return NewRegistry(file.Issuers, fuzzyThreshold)
}

// List returns a copy of the known issuers in registration order
func (r *Registry) List() []Issuer {
	out := make([]Issuer, len(r.issuers))
	for i, iss := range r.issuers {
		out[i] = Issuer{
			Name:    iss.Name,
			Aliases: append([]string(nil), iss.Aliases...),
			Domains: append([]string(nil), iss.Domains...),
		}
	}
	return out
}

// Len returns the number of known issuers
func (r *Registry) Len() int {
	return len(r.issuers)
}

// Lookup resolves a claimed issuer name. It tries an exact name or alias
// match, then the longest known name contained in the claim, then the
// closest name by Levenshtein similarity above the fuzzy threshold.
func (r *Registry) Lookup(name string) (Match, bool) {
	query := normalize(name)
	if query == "" {
		return Match{}, false
	}

	if pos, ok := r.index[query]; ok {
		return Match{Issuer: r.issuers[pos], Kind: MatchExact, Similarity: 1}, true
	}

	best := -1
	for i, k := range r.keys {
		if utf8.RuneCountInString(k.key) < 3 || !containsWord(query, k.key) {
			continue
		}
		if best < 0 || len(k.key) > len(r.keys[best].key) {
			best = i
		}
	}
	if best >= 0 {
		return Match{Issuer: r.issuers[r.keys[best].issuer], Kind: MatchSubstring, Similarity: 1}, true
	}

	bestScore := 0.0
	for i, k := range r.keys {
		if score := similarity(query, k.key); score > bestScore {
			best, bestScore = i, score
		}
	}
	if best >= 0 && bestScore >= r.fuzzyThreshold {
		return Match{Issuer: r.issuers[r.keys[best].issuer], Kind: MatchFuzzy, Similarity: bestScore}, true
	}

	return Match{}, false
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// containsWord reports whether key occurs in s on word boundaries
func containsWord(s, key string) bool {
	for offset := 0; ; {
		i := strings.Index(s[offset:], key)
		if i < 0 {
			return false
		}
		start := offset + i
		end := start + len(key)
		if (start == 0 || !isWordByte(s[start-1])) && (end == len(s) || !isWordByte(s[end])) {
			return true
		}
		offset = start + 1
	}
}

func isWordByte(b byte) bool {
	return b == '_' || b >= 'a' && b <= 'z' || b >= '0' && b <= '9'
}

func similarity(s1, s2 string) float64 {
	if s1 == "" || s2 == "" {
		return 0
	}
	distance := levenshtein.ComputeDistance(s1, s2)
	maxLen := math.Max(float64(utf8.RuneCountInString(s1)), float64(utf8.RuneCountInString(s2)))
	return 1 - float64(distance)/maxLen
}
