// Package institution matches OCR text against the registry of institutions
// whose cards are accepted.
package institution

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultThreshold is the minimum score for a match.
	DefaultThreshold = 75
	// DefaultSubstringBonus is added when the whole text occurs inside a name.
	DefaultSubstringBonus = 10
)

// DefaultNames is the registry used when none is configured.
var DefaultNames = []string{
	"JNTU Hyderabad",
	"NIT Warangal",
	"IIT Bombay",
}

// Registry is the read-only, ordered list of known institutions. Order
// decides ties.
type Registry struct {
	names []string
}

// NewRegistry builds a registry, dropping blanks and case-insensitive duplicates.
func NewRegistry(names []string) (*Registry, error) {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		key := strings.ToLower(n)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, n)
	}
	if len(out) == 0 {
		return nil, errors.New("institution registry is empty")
	}
	return &Registry{names: out}, nil
}

type registryFile struct {
	Institutions []string `yaml:"institutions"`
}

// LoadRegistryFile reads a YAML document of the form
//
//	institutions:
//	  - JNTU Hyderabad
//	  - NIT Warangal
//
// and appends its entries after extra.
func LoadRegistryFile(path string, extra []string) (*Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read institution registry: %w", err)
	}
	var f registryFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse institution registry %s: %w", path, err)
	}
	return NewRegistry(append(append([]string{}, extra...), f.Institutions...))
}

// Names returns a copy of the registry entries in order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.names...)
}

// Len returns the number of entries.
func (r *Registry) Len() int { return len(r.names) }

// Match is the best registry entry for a text.
type Match struct {
	Found bool    `json:"college_found"`
	Name  string  `json:"matched_college,omitempty"`
	Score float64 `json:"-"`
}

// Matcher scores text against a registry. It is safe for concurrent use.
type Matcher struct {
	registry  *Registry
	threshold float64
	bonus     float64
}

// NewMatcher builds a Matcher. A non-positive threshold uses DefaultThreshold
// and a negative bonus uses DefaultSubstringBonus.
func NewMatcher(registry *Registry, threshold, bonus float64) *Matcher {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if bonus < 0 {
		bonus = DefaultSubstringBonus
	}
	return &Matcher{registry: registry, threshold: threshold, bonus: bonus}
}

// Match returns the highest scoring institution for text. Ties keep the
// earlier registry entry. Scores below the threshold are reported as not
// found, which is a normal outcome.
func (m *Matcher) Match(text string) Match {
	text = strings.ToLower(strings.TrimSpace(text))

	var best Match
	for _, name := range m.registry.names {
		lower := strings.ToLower(name)
		score := TokenSetRatio(lower, text)
		if strings.Contains(lower, text) {
			score += m.bonus
		}
		if score > best.Score {
			best = Match{Name: name, Score: score}
		}
	}
	if best.Score >= m.threshold {
		best.Found = true
		return best
	}
	return Match{Score: best.Score}
}
