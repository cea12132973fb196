package catalog

import (
	"bytes"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"mercator-hq/lethe/pkg/lifecycle"
)

// File is the on-disk YAML form of a catalog version.
//
//	effective_date: 2026-01-01T00:00:00Z
//	categories:
//	  - name: kyc-status
//	    legal_basis: regulatory_required
//	    legal_basis_duration: 5y
type File struct {
	EffectiveDate time.Time  `yaml:"effective_date"`
	Categories    []FileRule `yaml:"categories"`
}

// FileRule is one category in a catalog file.
type FileRule struct {
	Name                      string                `yaml:"name"`
	ActiveLifespan            Duration              `yaml:"active_lifespan"`
	PostActiveRetention       Duration              `yaml:"post_active_retention"`
	LegalBasis                lifecycle.LegalBasis  `yaml:"legal_basis"`
	LegalBasisDuration        Duration              `yaml:"legal_basis_duration"`
	ConsentGracePeriod        Duration              `yaml:"consent_grace_period"`
	Anonymizable              bool                  `yaml:"anonymizable"`
	MinAggregationGranularity lifecycle.Granularity `yaml:"min_aggregation_granularity"`
	Sunset                    bool                  `yaml:"sunset"`
}

// Duration accepts Go duration syntax plus whole-day units: d (24h),
// w (7d) and y (365d).
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return FormatDuration(time.Duration(d)), nil
}

var dayUnits = map[byte]time.Duration{
	'd': 24 * time.Hour,
	'w': 7 * 24 * time.Hour,
	'y': 365 * 24 * time.Hour,
}

// ParseDuration parses "90d", "2w", "5y" or any time.ParseDuration string.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0" {
		return 0, nil
	}
	if unit, ok := dayUnits[s[len(s)-1]]; ok {
		n, err := strconv.ParseFloat(s[:len(s)-1], 64)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		return time.Duration(n * float64(unit)), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return d, nil
}

// FormatDuration renders d in the largest whole day unit, falling back to
// Go syntax.
func FormatDuration(d time.Duration) string {
	for _, u := range []byte{'y', 'w', 'd'} {
		unit := dayUnits[u]
		if d != 0 && d%unit == 0 {
			return strconv.FormatInt(int64(d/unit), 10) + string(u)
		}
	}
	return d.String()
}

// LoadFile reads and parses a catalog file.
func LoadFile(path string) (*Draft, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file %q: %w", path, err)
	}
	draft, err := ParseFile(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse catalog file %q: %w", path, err)
	}
	return draft, nil
}

// ParseFile parses catalog YAML. Unknown keys are rejected.
func ParseFile(data []byte) (*Draft, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil {
		return nil, err
	}

	draft := &Draft{EffectiveDate: f.EffectiveDate.UTC()}
	for _, r := range f.Categories {
		basis := r.LegalBasis
		if basis == "" {
			basis = lifecycle.LegalBasisNone
		}
		draft.Rules = append(draft.Rules, lifecycle.RetentionRule{
			Category:                  r.Name,
			ActiveLifespan:            time.Duration(r.ActiveLifespan),
			PostActiveRetention:       time.Duration(r.PostActiveRetention),
			LegalBasis:                basis,
			LegalBasisDuration:        time.Duration(r.LegalBasisDuration),
			ConsentGracePeriod:        time.Duration(r.ConsentGracePeriod),
			Anonymizable:              r.Anonymizable,
			MinAggregationGranularity: r.MinAggregationGranularity,
			Sunset:                    r.Sunset,
		})
	}
	return draft, nil
}

// ToFile renders a published version in file form.
func ToFile(v *lifecycle.CatalogVersion) *File {
	f := &File{EffectiveDate: v.EffectiveDate}
	for _, name := range sortedNames(v.Rules) {
		r := v.Rules[name]
		f.Categories = append(f.Categories, FileRule{
			Name:                      r.Category,
			ActiveLifespan:            Duration(r.ActiveLifespan),
			PostActiveRetention:       Duration(r.PostActiveRetention),
			LegalBasis:                r.LegalBasis,
			LegalBasisDuration:        Duration(r.LegalBasisDuration),
			ConsentGracePeriod:        Duration(r.ConsentGracePeriod),
			Anonymizable:              r.Anonymizable,
			MinAggregationGranularity: r.MinAggregationGranularity,
			Sunset:                    r.Sunset,
		})
	}
	return f
}

func sortedNames(rules map[string]lifecycle.RetentionRule) []string {
	names := make([]string, 0, len(rules))
	for name := range rules {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
