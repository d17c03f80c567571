package mapping

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"sort"

	"gopkg.in/yaml.v3"
)

// ErrProfileNotFound is returned by Profiles.Get for an unknown name.
var ErrProfileNotFound = errors.New("mapping profile not found")

// Composite fills a backend field by joining several headers. Blank parts are
// skipped.
type Composite struct {
	Headers []string `yaml:"headers" json:"headers"`
	Sep     string   `yaml:"sep" json:"sep"`
}

// Profile is a saved import setup: which header feeds which field, which
// fields are required and how composite fields are assembled.
type Profile struct {
	Mapping    Mapping              `yaml:"mapping" json:"mapping"`
	Required   []string             `yaml:"required,omitempty" json:"required,omitempty"`
	Headers    []string             `yaml:"headers,omitempty" json:"headers,omitempty"`
	Composites map[string]Composite `yaml:"composites,omitempty" json:"composites,omitempty"`
}

// ApplyTo narrows the profile to the headers present in a file. Composite
// parts that are missing from the file are dropped.
func (p Profile) ApplyTo(headers []string) Profile {
	present := make(map[string]bool, len(headers))
	for _, h := range headers {
		present[h] = true
	}

	out := Profile{
		Mapping:  make(Mapping, len(headers)),
		Required: slices.Clone(p.Required),
		Headers:  slices.Clone(headers),
	}
	for h, f := range p.Mapping {
		if present[h] {
			out.Mapping[h] = f
		}
	}
	for target, c := range p.Composites {
		var parts []string
		for _, h := range c.Headers {
			if present[h] {
				parts = append(parts, h)
			}
		}
		if len(parts) == 0 {
			continue
		}
		if out.Composites == nil {
			out.Composites = make(map[string]Composite)
		}
		out.Composites[target] = Composite{Headers: parts, Sep: c.Sep}
	}
	return out
}

// ValidationError lists what keeps a profile from being submitted.
type ValidationError struct {
	Missing    []string
	Duplicates []string
}

func (e *ValidationError) Error() string {
	switch {
	case len(e.Missing) > 0 && len(e.Duplicates) > 0:
		return fmt.Sprintf("unmapped required fields: %v; fields mapped more than once: %v", e.Missing, e.Duplicates)
	case len(e.Missing) > 0:
		return fmt.Sprintf("unmapped required fields: %v", e.Missing)
	default:
		return fmt.Sprintf("fields mapped more than once: %v", e.Duplicates)
	}
}

// Validate checks that every required field is fed by a header or composite
// and that no field is fed by two headers. Returns *ValidationError.
func (p Profile) Validate() error {
	targets := p.Mapping.Targets()

	var missing []string
	for _, f := range p.Required {
		if targets[f] {
			continue
		}
		if _, ok := p.Composites[f]; ok {
			continue
		}
		missing = append(missing, f)
	}

	counts := make(map[string]int, len(p.Mapping))
	for _, f := range p.Mapping {
		if f != "" {
			counts[f]++
		}
	}
	var dups []string
	for f, n := range counts {
		if n > 1 {
			dups = append(dups, f)
		}
	}
	sort.Strings(dups)

	if len(missing) == 0 && len(dups) == 0 {
		return nil
	}
	return &ValidationError{Missing: missing, Duplicates: dups}
}

// Profiles is the on-disk profile store.
type Profiles struct {
	Default  string             `yaml:"default,omitempty"`
	Profiles map[string]Profile `yaml:"profiles"`
}

// LoadProfiles reads a YAML profile file.
func LoadProfiles(path string) (*Profiles, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profiles: %w", err)
	}
	var ps Profiles
	if err := yaml.Unmarshal(data, &ps); err != nil {
		return nil, fmt.Errorf("parse profiles %s: %w", path, err)
	}
	if ps.Profiles == nil {
		ps.Profiles = make(map[string]Profile)
	}
	return &ps, nil
}

// Get returns the named profile, or the default one when name is empty.
func (ps *Profiles) Get(name string) (Profile, error) {
	if name == "" {
		name = ps.Default
	}
	p, ok := ps.Profiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %q", ErrProfileNotFound, name)
	}
	return p, nil
}

// Put stores p under name, replacing any previous profile.
func (ps *Profiles) Put(name string, p Profile) {
	if ps.Profiles == nil {
		ps.Profiles = make(map[string]Profile)
	}
	ps.Profiles[name] = p
}

// Names returns the profile names in sorted order.
func (ps *Profiles) Names() []string {
	names := make([]string, 0, len(ps.Profiles))
	for n := range ps.Profiles {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Save writes the store to path as YAML.
func (ps *Profiles) Save(path string) error {
	out, err := yaml.Marshal(ps)
	if err != nil {
		return fmt.Errorf("encode profiles: %w", err)
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("write profiles: %w", err)
	}
	return nil
}
