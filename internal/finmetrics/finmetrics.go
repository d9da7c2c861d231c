// Package finmetrics mines bilingual numeric financial metrics from text chunks.
package finmetrics

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/JakeFAU/disclosure-miner/internal/lexicon"
)

const (
	// MaxValuesPerKind caps each MetricBag entry.
	MaxValuesPerKind = 5
	headerRadius     = 140
	defaultRadius    = 90
	growthRadius     = 40
)

// MetricBag maps each metric kind to at most MaxValuesPerKind values sorted by
// descending magnitude with no two equal at two-decimal precision.
type MetricBag map[lexicon.Kind][]float64

// NewMetricBag returns a bag with every kind present and empty.
func NewMetricBag() MetricBag {
	bag := make(MetricBag, len(lexicon.Kinds))
	for _, k := range lexicon.Kinds {
		bag[k] = []float64{}
	}
	return bag
}

// Empty reports whether no kind has any value.
func (b MetricBag) Empty() bool {
	for _, vals := range b {
		if len(vals) > 0 {
			return false
		}
	}
	return true
}

// Chunk is a unit of retrieved text.
type Chunk struct {
	URL  string
	Text string
}

// Extractor scans chunks for anchor phrases and nearby amounts.
type Extractor struct {
	table   *lexicon.Table
	amount  *regexp.Regexp
	units   []decimal.Decimal
	percent *regexp.Regexp
}

// New builds an Extractor over table. A nil table uses lexicon.Default().
func New(table *lexicon.Table) *Extractor {
	if table == nil {
		table = lexicon.Default()
	}
	units := make([]decimal.Decimal, 0, len(table.Units()))
	for _, u := range table.Units() {
		units = append(units, decimal.NewFromInt(u))
	}
	return &Extractor{
		table:   table,
		amount:  table.AmountPattern(),
		units:   units,
		percent: regexp.MustCompile(`[-+]?\d[\d,]*(?:\.\d+)?\s*%`),
	}
}

// Extract accumulates values across chunks and returns the ranked bag.
func (e *Extractor) Extract(chunks []Chunk) MetricBag {
	raw := make(map[lexicon.Kind][]decimal.Decimal, len(lexicon.Kinds))
	for _, ch := range chunks {
		text := Normalize(ch.Text)
		if strings.TrimSpace(text) == "" {
			continue
		}
		scale := e.DetectScale(text)
		radius := defaultRadius
		if matchesAny(e.table.Headers(), text) {
			radius = headerRadius
		}
		for _, kind := range lexicon.AmountKinds {
			raw[kind] = append(raw[kind], e.collect(text, e.table.Anchors(kind), radius, scale)...)
		}
		raw[lexicon.GrowthPct] = append(raw[lexicon.GrowthPct], e.collectGrowth(text)...)
	}

	bag := NewMetricBag()
	for _, kind := range lexicon.Kinds {
		bag[kind] = rank(raw[kind])
	}
	return bag
}

// DetectScale returns the document-level multiplier implied by cues such as
// "in '000" or "in millions", or 1 when none is present.
func (e *Extractor) DetectScale(text string) decimal.Decimal {
	for _, cue := range e.table.Scale() {
		if cue.Pattern.MatchString(text) {
			return decimal.NewFromInt(cue.Factor)
		}
	}
	return decimal.NewFromInt(1)
}

func (e *Extractor) collect(text string, anchors []*regexp.Regexp, radius int, scale decimal.Decimal) []decimal.Decimal {
	var out []decimal.Decimal
	for _, anchor := range anchors {
		for _, loc := range anchor.FindAllStringIndex(text, -1) {
			// Values follow their label in statements; the preceding text is
			// only consulted when nothing follows within the radius.
			after := e.amounts(text[loc[1]:forwardRunes(text, loc[1], radius)], scale)
			if len(after) > 0 {
				out = append(out, after[0])
				continue
			}
			before := e.amounts(text[backRunes(text, loc[0], radius):loc[0]], scale)
			if len(before) > 0 {
				out = append(out, before[len(before)-1])
			}
		}
	}
	return out
}

// amounts returns the plausible amounts in window in order of appearance.
// Percentages, digits glued to a preceding letter (Q3, FY2080), and either
// half of a fiscal year such as 2080/81 are not amounts.
func (e *Extractor) amounts(window string, scale decimal.Decimal) []decimal.Decimal {
	var out []decimal.Decimal
	for _, m := range e.amount.FindAllStringSubmatchIndex(window, -1) {
		numStart, numEnd := m[2], m[3]
		if m[4] >= 0 {
			continue
		}
		if m[0] == numStart && gluedBefore(window[:numStart]) {
			continue
		}
		if fiscalYearHead(window[numEnd:]) {
			continue
		}
		v, ok := parseNumber(window[numStart:numEnd])
		if !ok {
			continue
		}
		for i, unit := range e.units {
			if m[6+2*i] >= 0 {
				v = v.Mul(unit)
				break
			}
		}
		out = append(out, v.Mul(scale))
	}
	return out
}

// gluedBefore reports whether the text before a number ends in a letter, a
// digit, or a slash that follows a digit.
func gluedBefore(prefix string) bool {
	r, size := utf8.DecodeLastRuneInString(prefix)
	if size == 0 {
		return false
	}
	if unicode.IsLetter(r) || unicode.IsDigit(r) {
		return true
	}
	if r != '/' {
		return false
	}
	prev, _ := utf8.DecodeLastRuneInString(prefix[:len(prefix)-size])
	return unicode.IsDigit(prev)
}

// fiscalYearHead reports whether a number is followed by a slash and a digit.
func fiscalYearHead(suffix string) bool {
	r, size := utf8.DecodeRuneInString(suffix)
	if r != '/' {
		return false
	}
	next, _ := utf8.DecodeRuneInString(suffix[size:])
	return unicode.IsDigit(next)
}

// ParseAmount parses a single amount span such as "NPR (1,234.5) million",
// applying the unit and the given scale. Percent values are rejected.
func (e *Extractor) ParseAmount(span string, scale decimal.Decimal) (decimal.Decimal, bool) {
	found := e.amounts(Normalize(span), scale)
	if len(found) == 0 {
		return decimal.Zero, false
	}
	return found[0], true
}

func (e *Extractor) collectGrowth(text string) []decimal.Decimal {
	var out []decimal.Decimal
	for _, kw := range e.table.Growth() {
		for _, loc := range kw.FindAllStringIndex(text, -1) {
			window := text[backRunes(text, loc[0], growthRadius):forwardRunes(text, loc[1], growthRadius)]
			for _, pct := range e.percent.FindAllString(window, -1) {
				digits := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(pct), "%"))
				if v, err := decimal.NewFromString(strings.ReplaceAll(strings.TrimPrefix(digits, "+"), ",", "")); err == nil {
					out = append(out, v)
					break
				}
			}
		}
	}
	return out
}

func parseNumber(raw string) (decimal.Decimal, bool) {
	neg := strings.HasPrefix(raw, "-") || (strings.HasPrefix(raw, "(") && strings.HasSuffix(raw, ")"))
	clean := strings.NewReplacer(",", "", "(", "", ")", "", "-", "").Replace(raw)
	if clean == "" {
		return decimal.Zero, false
	}
	v, err := decimal.NewFromString(clean)
	if err != nil {
		return decimal.Zero, false
	}
	if neg {
		v = v.Abs().Neg()
	}
	return v, true
}

// rank dedups at two decimals (first occurrence wins), sorts by descending
// absolute value, and caps the list.
func rank(values []decimal.Decimal) []float64 {
	seen := make(map[string]struct{}, len(values))
	uniq := make([]decimal.Decimal, 0, len(values))
	for _, v := range values {
		key := v.Round(2).StringFixed(2)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		uniq = append(uniq, v)
	}
	sort.SliceStable(uniq, func(i, j int) bool {
		return uniq[i].Abs().GreaterThan(uniq[j].Abs())
	})
	if len(uniq) > MaxValuesPerKind {
		uniq = uniq[:MaxValuesPerKind]
	}
	out := make([]float64, len(uniq))
	for i, v := range uniq {
		out[i] = v.InexactFloat64()
	}
	return out
}

var devanagariDigits = strings.NewReplacer(
	"०", "0", "१", "1", "२", "2", "३", "3", "४", "4",
	"५", "5", "६", "6", "७", "7", "८", "8", "९", "9",
	"’", "'", "−", "-",
)

var horizontalSpace = regexp.MustCompile(`[ \t]+`)

// Normalize maps Devanagari digits to ASCII, straightens apostrophes and
// minus signs, and collapses horizontal whitespace.
func Normalize(s string) string {
	return horizontalSpace.ReplaceAllString(devanagariDigits.Replace(s), " ")
}

func matchesAny(patterns []*regexp.Regexp, s string) bool {
	for _, p := range patterns {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}

// backRunes returns the byte offset n runes before pos.
func backRunes(s string, pos, n int) int {
	for ; n > 0 && pos > 0; n-- {
		_, size := utf8.DecodeLastRuneInString(s[:pos])
		pos -= size
	}
	return pos
}

// forwardRunes returns the byte offset n runes after pos.
func forwardRunes(s string, pos, n int) int {
	for ; n > 0 && pos < len(s); n-- {
		_, size := utf8.DecodeRuneInString(s[pos:])
		pos += size
	}
	return pos
}
