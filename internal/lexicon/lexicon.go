// Package lexicon holds the locale-indexed pattern tables used by relevance
// filtering, document ranking, and metric extraction. Tables are compiled once
// and never mutated afterwards.
package lexicon

import (
	_ "embed"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Kind names a financial metric.
type Kind string

// Metric kinds reported in a MetricBag.
const (
	Revenue   Kind = "revenue"
	NetProfit Kind = "net_profit"
	Expenses  Kind = "expenses"
	Debt      Kind = "debt"
	GrowthPct Kind = "growth_pct"
)

// Kinds lists every metric kind in report order.
var Kinds = []Kind{Revenue, NetProfit, Expenses, Debt, GrowthPct}

// AmountKinds lists the kinds parsed as currency amounts (everything but growth).
var AmountKinds = []Kind{Revenue, NetProfit, Expenses, Debt}

// Locale identifies a language table, e.g. "en" or "ne".
type Locale string

// Multiplier pairs a pattern with the factor it implies.
type Multiplier struct {
	Pattern *regexp.Regexp
	Factor  int64
}

// Table is an immutable compiled lexicon.
type Table struct {
	locales    []Locale
	anchors    map[Locale]map[Kind][]*regexp.Regexp
	currencies []string
	units      []UnitSpec
	scale      []Multiplier
	growth     []*regexp.Regexp
	headers    []*regexp.Regexp
	relevance  []*regexp.Regexp
	ranking    []*regexp.Regexp
}

// Spec is the serialized form of a Table.
type Spec struct {
	Locales map[Locale]LocaleSpec `yaml:"locales"`
}

// LocaleSpec holds the raw patterns for one locale.
type LocaleSpec struct {
	CaseInsensitive bool              `yaml:"case_insensitive"`
	Currencies      []string          `yaml:"currencies"`
	Units           []UnitSpec        `yaml:"units"`
	Scale           []UnitSpec        `yaml:"scale"`
	Anchors         map[Kind][]string `yaml:"anchors"`
	Growth          []string          `yaml:"growth"`
	Headers         []string          `yaml:"headers"`
	Relevance       []string          `yaml:"relevance"`
	Ranking         []string          `yaml:"ranking"`
}

// UnitSpec is a raw pattern with its multiplier.
type UnitSpec struct {
	Pattern    string `yaml:"pattern"`
	Multiplier int64  `yaml:"multiplier"`
}

//go:embed lexicon.yaml
var defaultYAML []byte

var (
	defaultOnce  sync.Once
	defaultTable *Table
	defaultErr   error
)

// Default returns the built-in English/Nepali table.
func Default() *Table {
	defaultOnce.Do(func() {
		defaultTable, defaultErr = Parse(defaultYAML)
	})
	if defaultErr != nil {
		panic(fmt.Sprintf("lexicon: embedded table invalid: %v", defaultErr))
	}
	return defaultTable
}

// Parse decodes and compiles a YAML lexicon.
func Parse(data []byte) (*Table, error) {
	var spec Spec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("decode lexicon: %w", err)
	}
	return New(spec)
}

// New compiles spec into a Table. Locales are applied in lexical order.
func New(spec Spec) (*Table, error) {
	if len(spec.Locales) == 0 {
		return nil, errors.New("lexicon: no locales")
	}
	t := &Table{anchors: make(map[Locale]map[Kind][]*regexp.Regexp)}
	for loc := range spec.Locales {
		t.locales = append(t.locales, loc)
	}
	sort.Slice(t.locales, func(i, j int) bool { return t.locales[i] < t.locales[j] })

	for _, loc := range t.locales {
		ls := spec.Locales[loc]
		c := compiler{locale: loc, fold: ls.CaseInsensitive}

		kinds := make(map[Kind][]*regexp.Regexp, len(ls.Anchors))
		for kind, patterns := range ls.Anchors {
			if !knownAmountKind(kind) {
				return nil, fmt.Errorf("lexicon %s: unknown anchor kind %q", loc, kind)
			}
			kinds[kind] = c.all(patterns)
		}
		t.anchors[loc] = kinds

		for _, u := range ls.Units {
			if u.Multiplier <= 0 {
				return nil, fmt.Errorf("lexicon %s: unit %q has non-positive multiplier", loc, u.Pattern)
			}
			c.one(u.Pattern)
			t.units = append(t.units, u)
		}
		for _, s := range ls.Scale {
			if s.Multiplier <= 0 {
				return nil, fmt.Errorf("lexicon %s: scale %q has non-positive multiplier", loc, s.Pattern)
			}
			t.scale = append(t.scale, Multiplier{Pattern: c.one(s.Pattern), Factor: s.Multiplier})
		}
		for _, cur := range ls.Currencies {
			c.one(cur)
			t.currencies = append(t.currencies, cur)
		}
		t.growth = append(t.growth, c.all(ls.Growth)...)
		t.headers = append(t.headers, c.all(ls.Headers)...)
		t.relevance = append(t.relevance, c.all(ls.Relevance)...)
		t.ranking = append(t.ranking, c.all(ls.Ranking)...)
		if c.err != nil {
			return nil, c.err
		}
	}
	return t, nil
}

type compiler struct {
	locale Locale
	fold   bool
	err    error
}

func (c *compiler) one(pattern string) *regexp.Regexp {
	if c.fold {
		pattern = "(?i)" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		if c.err == nil {
			c.err = fmt.Errorf("lexicon %s: compile %q: %w", c.locale, pattern, err)
		}
		return regexp.MustCompile(`$^`)
	}
	return re
}

func (c *compiler) all(patterns []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, c.one(p))
	}
	return out
}

func knownAmountKind(k Kind) bool {
	for _, known := range AmountKinds {
		if k == known {
			return true
		}
	}
	return false
}

// Locales returns the locales in application order.
func (t *Table) Locales() []Locale {
	return append([]Locale(nil), t.locales...)
}

// Anchors returns the anchor patterns for kind across all locales.
func (t *Table) Anchors(kind Kind) []*regexp.Regexp {
	var out []*regexp.Regexp
	for _, loc := range t.locales {
		out = append(out, t.anchors[loc][kind]...)
	}
	return out
}

// LocaleAnchors returns the anchor patterns for kind in one locale.
func (t *Table) LocaleAnchors(loc Locale, kind Kind) []*regexp.Regexp {
	return t.anchors[loc][kind]
}

// Scale returns the document-level scale cues in priority order.
func (t *Table) Scale() []Multiplier { return t.scale }

// Growth returns the growth/variance keyword patterns.
func (t *Table) Growth() []*regexp.Regexp { return t.growth }

// Headers returns financial-statement header patterns.
func (t *Table) Headers() []*regexp.Regexp { return t.headers }

// Relevance returns the positive cues counted by the relevance filter.
func (t *Table) Relevance() []*regexp.Regexp { return t.relevance }

// Ranking returns the text cues counted by the document ranker.
func (t *Table) Ranking() []*regexp.Regexp { return t.ranking }

// AmountPattern builds the case-insensitive amount matcher. Submatch 1 is the
// number, 2 a percent sign, and 3+i the i-th unit from Units.
func (t *Table) AmountPattern() *regexp.Regexp {
	var b strings.Builder
	b.WriteString(`(?i)`)
	if len(t.currencies) > 0 {
		b.WriteString(`(?:` + strings.Join(t.currencies, "|") + `)?`)
	}
	b.WriteString(`\s*(\(?-?\d[\d,]*(?:\.\d+)?\)?)\s*(?:(%)`)
	for _, u := range t.units {
		b.WriteString(`|(` + u.Pattern + `)`)
	}
	b.WriteString(`)?`)
	return regexp.MustCompile(b.String())
}

// Units returns the unit multipliers in AmountPattern submatch order.
func (t *Table) Units() []int64 {
	out := make([]int64, len(t.units))
	for i, u := range t.units {
		out[i] = u.Multiplier
	}
	return out
}
