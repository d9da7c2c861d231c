// Package registry resolves free-form questions to a known company and its
// crawl seeds.
package registry

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"
)

//go:embed companies.yaml
var defaultYAML []byte

// Company is one registry entry.
type Company struct {
	Name         string   `yaml:"name" json:"name"`
	Ticker       string   `yaml:"ticker" json:"ticker,omitempty"`
	Sector       string   `yaml:"sector" json:"sector,omitempty"`
	Aliases      []string `yaml:"aliases" json:"-"`
	Seeds        []string `yaml:"seeds" json:"-"`
	BootstrapPDF string   `yaml:"bootstrap_pdf" json:"-"`
}

type file struct {
	Companies []Company `yaml:"companies"`
}

type alias struct {
	needle  string
	company int
}

// Registry is an immutable list of companies.
type Registry struct {
	companies []Company
	aliases   []alias
}

// Default returns the embedded registry.
func Default() (*Registry, error) {
	return Parse(defaultYAML)
}

// Load reads a registry file, or the embedded registry when path is empty.
func Load(path string) (*Registry, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path) // #nosec G304 -- operator supplied path.
	if err != nil {
		return nil, fmt.Errorf("read registry: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates registry YAML.
func Parse(data []byte) (*Registry, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode registry: %w", err)
	}
	return New(f.Companies)
}

// New validates the companies and indexes their aliases. Each company's
// name and ticker count as aliases.
func New(companies []Company) (*Registry, error) {
	if len(companies) == 0 {
		return nil, fmt.Errorf("registry has no companies")
	}
	r := &Registry{companies: make([]Company, len(companies))}
	for i, c := range companies {
		if strings.TrimSpace(c.Name) == "" {
			return nil, fmt.Errorf("company %d: name is required", i)
		}
		if len(c.Seeds) == 0 {
			return nil, fmt.Errorf("company %q: at least one seed is required", c.Name)
		}
		c.Aliases = append([]string(nil), c.Aliases...)
		c.Seeds = append([]string(nil), c.Seeds...)
		r.companies[i] = c
		for _, a := range append([]string{c.Name, c.Ticker}, c.Aliases...) {
			if n := normalize(a); n != "" {
				r.aliases = append(r.aliases, alias{needle: n, company: i})
			}
		}
	}
	return r, nil
}

// Companies returns a copy of the entries in file order.
func (r *Registry) Companies() []Company {
	return append([]Company(nil), r.companies...)
}

// Resolve picks the company whose longest alias appears in the question as
// whole words, falling back to the first entry. The boolean reports whether
// an alias matched.
func (r *Registry) Resolve(question string) (Company, bool) {
	q := " " + normalize(question) + " "
	best, bestLen := -1, 0
	for _, a := range r.aliases {
		if len(a.needle) > bestLen && strings.Contains(q, " "+a.needle+" ") {
			best, bestLen = a.company, len(a.needle)
		}
	}
	if best < 0 {
		return r.companies[0], false
	}
	return r.companies[best], true
}

// Lookup finds a company by exact name or ticker, case-insensitively.
func (r *Registry) Lookup(nameOrTicker string) (Company, bool) {
	for _, c := range r.companies {
		if strings.EqualFold(c.Name, nameOrTicker) || (c.Ticker != "" && strings.EqualFold(c.Ticker, nameOrTicker)) {
			return c, true
		}
	}
	return Company{}, false
}

// normalize lowercases and turns every run of non letter/digit runes into a
// single space.
func normalize(s string) string {
	return strings.Join(strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && !unicode.In(r, unicode.Mn, unicode.Mc)
	}), " ")
}
