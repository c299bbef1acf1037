package classifier

import (
	"fmt"
	"os"
	"path"

	"gopkg.in/yaml.v3"

	"github.com/teemow/inboxpilot/internal/tools"
)

// Override assigns a category to tools whose name matches Match. Match is
// either an exact tool name or a path.Match glob such as "acme_*".
type Override struct {
	Match    string         `yaml:"match"`
	Category tools.Category `yaml:"category"`
}

type policyFile struct {
	Overrides []Override `yaml:"overrides"`
}

// Policy is a deployment override table. A Policy is immutable once built;
// reloads construct a new one.
type Policy struct {
	exact map[string]tools.Category
	globs []Override
}

// NewPolicy builds a policy from overrides. Exact names take precedence over
// globs; globs are tried in the given order.
func NewPolicy(overrides []Override) (*Policy, error) {
	p := &Policy{exact: make(map[string]tools.Category)}
	for i, o := range overrides {
		if o.Match == "" {
			return nil, fmt.Errorf("override %d: match is required", i)
		}
		if !o.Category.Valid() {
			return nil, fmt.Errorf("override %d (%s): unknown category %q", i, o.Match, o.Category)
		}
		if _, err := path.Match(o.Match, ""); err != nil {
			return nil, fmt.Errorf("override %d: bad pattern %q: %w", i, o.Match, err)
		}
		if isGlob(o.Match) {
			p.globs = append(p.globs, o)
			continue
		}
		if _, dup := p.exact[o.Match]; !dup {
			p.exact[o.Match] = o.Category
		}
	}
	return p, nil
}

// ParsePolicy parses a YAML policy document.
func ParsePolicy(data []byte) (*Policy, error) {
	var f policyFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse tool policy: %w", err)
	}
	return NewPolicy(f.Overrides)
}

// LoadPolicy reads and parses a YAML policy file.
func LoadPolicy(filename string) (*Policy, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read tool policy %s: %w", filename, err)
	}
	return ParsePolicy(data)
}

// Lookup returns the override category for name, if any.
func (p *Policy) Lookup(name string) (tools.Category, bool) {
	if p == nil {
		return "", false
	}
	if c, ok := p.exact[name]; ok {
		return c, true
	}
	for _, o := range p.globs {
		if ok, _ := path.Match(o.Match, name); ok {
			return o.Category, true
		}
	}
	return "", false
}

// Len returns the number of overrides in the policy.
func (p *Policy) Len() int {
	if p == nil {
		return 0
	}
	return len(p.exact) + len(p.globs)
}

func isGlob(s string) bool {
	for _, r := range s {
		switch r {
		case '*', '?', '[':
			return true
		}
	}
	return false
}
