// Package relevance partitions extracted documents into financially relevant
// and junk sets.
package relevance

import (
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/JakeFAU/disclosure-miner/internal/crawler"
	"github.com/JakeFAU/disclosure-miner/internal/lexicon"
	"github.com/JakeFAU/disclosure-miner/internal/metrics"
)

// DefaultAllowURL are URL fragments typical of financial disclosures.
var DefaultAllowURL = []string{
	"financial-statement", "financial-statements", "financials",
	"financial-reports", "results", "result", "quarter", "/q1", "/q2", "/q3", "/q4",
	"unaudited", "disclosure", "statement-of-profit", "profit-and-loss",
	"nabilbank",
}

// DefaultDenyURL are URL fragments of structurally unrelated content
// (mutual funds, forms, brochures, generic news).
var DefaultDenyURL = []string{
	"mutual-fund", "monthly-nav", "dp-forms", "demat", "ipo-", "/ipo",
	"brochure", "prospectus", "news-and-events", "/downloads", "/forms",
	"corporate-advisory", "innovative-financial-solutions",
	"merolagani.com/ipo", "merolagani.com/fund", "mf-", "nav",
}

// Decision is the outcome for one document.
type Decision string

// Decisions.
const (
	Kept    Decision = "kept"
	Dropped Decision = "dropped"
)

// Reason explains a decision.
type Reason string

// Reasons, in the order the rules are applied.
const (
	ReasonDeniedURL  Reason = "denied_url"
	ReasonScannedPDF Reason = "allowed_pdf_url"
	ReasonShortText  Reason = "short_text"
	ReasonScore      Reason = "score"
	ReasonBelowScore Reason = "below_score"
)

// Score is the composite relevance score.
type Score struct {
	KeywordHits int `json:"keyword_hits"`
	URLBonus    int `json:"url_bonus"`
	TypeBonus   int `json:"type_bonus"`
}

// Total sums the components.
func (s Score) Total() int { return s.KeywordHits + s.URLBonus + s.TypeBonus }

// FilteredDocument is a Document tagged with its decision and score.
type FilteredDocument struct {
	crawler.Document
	Decision Decision `json:"decision"`
	Reason   Reason   `json:"reason"`
	Score    Score    `json:"score"`
}

// Config holds the tunable thresholds.
type Config struct {
	MinText     int
	MinPositive int
	PDFBonus    int
	AllowURL    []string
	DenyURL     []string
}

// Filter applies the layered keep/drop policy.
type Filter struct {
	cfg    Config
	cues   *lexicon.Table
	logger *zap.Logger
}

// New builds a Filter. Zero thresholds take the defaults (200, 2, 2).
func New(cfg Config, table *lexicon.Table, logger *zap.Logger) *Filter {
	if cfg.MinText <= 0 {
		cfg.MinText = 200
	}
	if cfg.MinPositive <= 0 {
		cfg.MinPositive = 2
	}
	if cfg.PDFBonus < 0 {
		cfg.PDFBonus = 0
	} else if cfg.PDFBonus == 0 {
		cfg.PDFBonus = 2
	}
	if cfg.AllowURL == nil {
		cfg.AllowURL = DefaultAllowURL
	}
	if cfg.DenyURL == nil {
		cfg.DenyURL = DefaultDenyURL
	}
	if table == nil {
		table = lexicon.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Filter{cfg: cfg, cues: table, logger: logger}
}

// Partition splits docs into kept and dropped, preserving input order.
func (f *Filter) Partition(docs []crawler.Document) (kept, dropped []FilteredDocument) {
	for _, d := range docs {
		fd := f.Classify(d)
		metrics.ObserveDocument(string(d.Type), string(fd.Decision))
		if fd.Decision == Kept {
			kept = append(kept, fd)
		} else {
			f.logger.Debug("document dropped", zap.String("url", d.URL), zap.String("reason", string(fd.Reason)))
			dropped = append(dropped, fd)
		}
	}
	return kept, dropped
}

// Classify decides one document: deny list, then allowed PDF URL, then
// minimum text length, then the score threshold.
func (f *Filter) Classify(d crawler.Document) FilteredDocument {
	url := strings.ToLower(d.URL)
	fd := FilteredDocument{Document: d}
	switch {
	case containsAny(url, f.cfg.DenyURL):
		fd.Decision, fd.Reason = Dropped, ReasonDeniedURL
	case d.Type == crawler.DocTypePDF && containsAny(url, f.cfg.AllowURL):
		fd.Decision, fd.Reason = Kept, ReasonScannedPDF
	case utf8.RuneCountInString(d.Text) < f.cfg.MinText:
		fd.Decision, fd.Reason = Dropped, ReasonShortText
	default:
		fd.Score = f.Score(d)
		if fd.Score.Total() >= f.cfg.MinPositive {
			fd.Decision, fd.Reason = Kept, ReasonScore
		} else {
			fd.Decision, fd.Reason = Dropped, ReasonBelowScore
		}
	}
	return fd
}

// Score computes the keyword, URL, and type components for d.
func (f *Filter) Score(d crawler.Document) Score {
	var s Score
	for _, re := range f.cues.Relevance() {
		if re.MatchString(d.Text) {
			s.KeywordHits++
		}
	}
	url := strings.ToLower(d.URL)
	for _, k := range f.cfg.AllowURL {
		if strings.Contains(url, k) {
			s.URLBonus++
		}
	}
	if d.Type == crawler.DocTypePDF {
		s.TypeBonus = f.cfg.PDFBonus
	}
	return s
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if n != "" && strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}
