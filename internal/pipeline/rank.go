package pipeline

import (
	"regexp"
	"sort"
	"strings"

	"github.com/JakeFAU/disclosure-miner/internal/crawler"
	"github.com/JakeFAU/disclosure-miner/internal/lexicon"
	"github.com/JakeFAU/disclosure-miner/internal/relevance"
)

// Ranking weights.
const (
	deniedScore  = -5
	pdfRankBonus = 3
	quarterBonus = 2
)

// rankDenyURL and rankAllowURL are the URL fragments the indexing order is
// based on. They overlap with, but are not, the relevance filter's lists.
var (
	rankDenyURL = []string{
		"mutual-fund", "monthly-nav", "dp-forms", "demat", "ipo-", "/ipo",
		"brochure", "prospectus", "news-and-events", "/downloads", "/forms",
		"corporate-advisory", "innovative-financial-solutions",
	}
	rankAllowURL = []string{
		"financial", "financials", "financial-report", "financial-reports",
		"result", "results", "quarter", "/q1", "/q2", "/q3", "/q4",
		"unaudited", "statement-of-profit", "profit-and-loss", "disclosure",
		"nabilbank", "company-reports",
	}
	quarterURL = regexp.MustCompile(`(?i)\bq[1-4]\b|\bquarter(?:ly)?\b`)
)

// Ranker orders kept documents so the most disclosure-like are indexed and
// cited first.
type Ranker struct {
	cues  []*regexp.Regexp
	deny  []string
	allow []string
}

// NewRanker builds a Ranker over the table's ranking cues.
func NewRanker(table *lexicon.Table) *Ranker {
	if table == nil {
		table = lexicon.Default()
	}
	return &Ranker{cues: table.Ranking(), deny: rankDenyURL, allow: rankAllowURL}
}

// Score computes the ranking score of one document: a deny-list URL scores
// -5 outright; otherwise URL allow hits, text cue hits, a PDF bonus, and a
// quarter bonus are summed.
func (r *Ranker) Score(d crawler.Document) int {
	url := strings.ToLower(d.URL)
	for _, k := range r.deny {
		if strings.Contains(url, k) {
			return deniedScore
		}
	}
	score := 0
	for _, k := range r.allow {
		if strings.Contains(url, k) {
			score++
		}
	}
	for _, cue := range r.cues {
		if cue.MatchString(d.Text) {
			score++
		}
	}
	if d.Type == crawler.DocTypePDF {
		score += pdfRankBonus
	}
	if quarterURL.MatchString(url) {
		score += quarterBonus
	}
	return score
}

// Rank sorts documents by descending score. Equal scores keep input order.
func (r *Ranker) Rank(kept []relevance.FilteredDocument) []crawler.Document {
	type scored struct {
		doc   crawler.Document
		score int
	}
	items := make([]scored, len(kept))
	for i, fd := range kept {
		items[i] = scored{doc: fd.Document, score: r.Score(fd.Document)}
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].score > items[j].score })
	out := make([]crawler.Document, len(items))
	for i, it := range items {
		out[i] = it.doc
	}
	return out
}
