package pipeline

import (
	"fmt"
	"math"
	"time"

	"github.com/JakeFAU/disclosure-miner/internal/crawler"
	"github.com/JakeFAU/disclosure-miner/internal/finmetrics"
)

// Stage names a pipeline step in timings, logs, and degraded entries.
type Stage string

// Stages in execution order. Archive, publish, and cache are side effects
// that only appear in Degraded.
const (
	StageFetch    Stage = "fetch"
	StageExtract  Stage = "extract"
	StageIndex    Stage = "index"
	StageRetrieve Stage = "retrieve"
	StageMetrics  Stage = "metrics"
	StageArchive  Stage = "archive"
	StagePublish  Stage = "publish"
	StageCache    Stage = "cache"
)

// Run modes.
const (
	ModeAnswer  = "answer"
	ModeReindex = "reindex"
)

// StageError records a collaborator failure the pipeline absorbed.
type StageError struct {
	Stage   Stage  `json:"stage"`
	Message string `json:"error"`
	err     error
}

func newStageError(stage Stage, err error) StageError {
	return StageError{Stage: stage, Message: err.Error(), err: err}
}

func (e StageError) Error() string { return fmt.Sprintf("%s: %s", e.Stage, e.Message) }

// Unwrap exposes the underlying error when the StageError was built in-process.
func (e StageError) Unwrap() error { return e.err }

// Caps bound one crawl.
type Caps struct {
	MaxHTML int `json:"max_html"`
	MaxPDF  int `json:"max_pdf"`
}

// TypeCounts splits a document count by type.
type TypeCounts struct {
	Total int `json:"total"`
	HTML  int `json:"html"`
	PDF   int `json:"pdf"`
}

// Counts summarizes how many documents survived each step.
type Counts struct {
	Fetched   TypeCounts `json:"fetched"`
	Extracted TypeCounts `json:"extracted"`
	Kept      TypeCounts `json:"kept"`
	Dropped   TypeCounts `json:"dropped"`
}

// Timings holds per-stage wall-clock seconds rounded to milliseconds.
type Timings struct {
	Fetch    float64 `json:"fetch"`
	Extract  float64 `json:"extract"`
	Index    float64 `json:"index"`
	Retrieve float64 `json:"retrieve"`
	Metrics  float64 `json:"metrics"`
	Total    float64 `json:"total"`
}

// Seconds rounds d to three decimal places.
func Seconds(d time.Duration) float64 {
	return math.Round(d.Seconds()*1000) / 1000
}

// CompanyInfo is the resolved company echoed in results.
type CompanyInfo struct {
	Name       string `json:"name"`
	Ticker     string `json:"ticker,omitempty"`
	Sector     string `json:"sector,omitempty"`
	Collection string `json:"collection"`
	Matched    bool   `json:"matched"`
}

// Result is the full output of one pipeline run.
type Result struct {
	RunID        string               `json:"run_id"`
	Mode         string               `json:"mode"`
	Company      CompanyInfo          `json:"resolved_company"`
	Question     string               `json:"question"`
	Intent       string               `json:"intent"`
	Answer       string               `json:"answer"`
	Metrics      finmetrics.MetricBag `json:"metrics"`
	Citations    []string             `json:"citations"`
	VectorCount  int                  `json:"vector_count"`
	AddedChunks  int                  `json:"added_chunks"`
	Retrieved    int                  `json:"retrieved_chunks"`
	KeptURLs     []string             `json:"kept_urls"`
	HTMLCount    int                  `json:"html_count"`
	PDFCount     int                  `json:"pdf_count"`
	Counts       Counts               `json:"counts"`
	Crawl        crawler.CrawlStats   `json:"crawl"`
	Bootstrapped bool                 `json:"bootstrapped"`
	Archived     []string             `json:"archived,omitempty"`
	Timings      Timings              `json:"timings"`
	Degraded     []StageError         `json:"degraded,omitempty"`
	Cached       bool                 `json:"cached"`
}

// IsDegraded reports whether any collaborator failed during the run.
func (r Result) IsDegraded() bool { return len(r.Degraded) > 0 }

// ReindexSummary is the reduced shape returned by a reindex.
type ReindexSummary struct {
	RunID       string       `json:"run_id"`
	Company     string       `json:"resolved_company"`
	Collection  string       `json:"collection"`
	AddedChunks int          `json:"added_chunks"`
	VectorCount int          `json:"vector_count"`
	KeptURLs    []string     `json:"kept_urls"`
	HTMLCount   int          `json:"html_count"`
	PDFCount    int          `json:"pdf_count"`
	Timings     Timings      `json:"timings"`
	Degraded    []StageError `json:"degraded,omitempty"`
}

// Summary reduces a result to the reindex shape.
func (r Result) Summary() ReindexSummary {
	return ReindexSummary{
		RunID:       r.RunID,
		Company:     r.Company.Name,
		Collection:  r.Company.Collection,
		AddedChunks: r.AddedChunks,
		VectorCount: r.VectorCount,
		KeptURLs:    r.KeptURLs,
		HTMLCount:   r.HTMLCount,
		PDFCount:    r.PDFCount,
		Timings:     r.Timings,
		Degraded:    r.Degraded,
	}
}

// RunEvent is published after every run.
type RunEvent struct {
	RunID       string       `json:"run_id"`
	Mode        string       `json:"mode"`
	Company     string       `json:"company"`
	Collection  string       `json:"collection"`
	Counts      Counts       `json:"counts"`
	AddedChunks int          `json:"added_chunks"`
	VectorCount int          `json:"vector_count"`
	Citations   int          `json:"citations"`
	Timings     Timings      `json:"timings"`
	Degraded    []StageError `json:"degraded,omitempty"`
	FinishedAt  time.Time    `json:"finished_at"`
}

func countTypes(docs []crawler.Document) TypeCounts {
	tc := TypeCounts{Total: len(docs)}
	for _, d := range docs {
		if d.Type == crawler.DocTypePDF {
			tc.PDF++
		} else {
			tc.HTML++
		}
	}
	return tc
}

func countResults(results []crawler.FetchResult) TypeCounts {
	tc := TypeCounts{Total: len(results)}
	for _, r := range results {
		if r.IsPDF() {
			tc.PDF++
		} else {
			tc.HTML++
		}
	}
	return tc
}
