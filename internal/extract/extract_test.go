package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/disclosure-miner/internal/crawler"
	"github.com/JakeFAU/disclosure-miner/internal/ocr"
)

type fakeOCR struct {
	text  string
	err   error
	calls int
}

func (f *fakeOCR) Recognize(context.Context, []byte) (string, error) {
	f.calls++
	return f.text, f.err
}

func TestHTMLText(t *testing.T) {
	t.Parallel()

	body := `<html><head><title>Q1 Report</title><style>p{color:red}</style>
<script>var secret = "hidden";</script></head>
<body><p>Net   profit</p><p>NPR 1,234</p><noscript>enable js</noscript><!-- note --></body></html>`
	text, err := HTMLText([]byte(body))
	require.NoError(t, err)
	require.Equal(t, "Q1 Report Net profit NPR 1,234", text)
}

func TestPDFTextLayer(t *testing.T) {
	t.Parallel()

	text, err := PDFText(minimalPDF("Unaudited Financial Results Net profit 1234"))
	require.NoError(t, err)
	require.Contains(t, text, "Unaudited Financial Results")
}

func TestPDFTextMalformed(t *testing.T) {
	t.Parallel()

	text, err := PDFText([]byte("%PDF-1.4 this is not really a pdf"))
	require.Error(t, err)
	require.Empty(t, text)
}

func TestExtractBranchesOnType(t *testing.T) {
	t.Parallel()

	e := New(Config{}, ocr.Disabled("test"), nil)
	ctx := context.Background()

	doc, ok := e.Extract(ctx, crawler.FetchResult{
		URL: "https://bank.com.np/reports", OK: true, ContentType: "text/html", Body: []byte("<p>hello world</p>"),
	})
	require.True(t, ok)
	require.Equal(t, crawler.DocTypeHTML, doc.Type)
	require.Equal(t, "hello world", doc.Text)

	doc, ok = e.Extract(ctx, crawler.FetchResult{
		URL: "https://bank.com.np/q1.pdf", OK: true, ContentType: "application/octet-stream", Body: minimalPDF("Quarterly statement of profit or loss"),
	})
	require.True(t, ok)
	require.Equal(t, crawler.DocTypePDF, doc.Type)
	require.Contains(t, doc.Text, "Quarterly statement")

	_, ok = e.Extract(ctx, crawler.FetchResult{URL: "https://bank.com.np/empty", OK: true, ContentType: "text/html", Body: []byte("<script>x()</script>")})
	require.False(t, ok, "html without text is not a document")

	_, ok = e.Extract(ctx, crawler.FetchResult{URL: "https://bank.com.np/x", OK: true})
	require.False(t, ok)
}

func TestExtractScannedPDFKeptWithoutOCR(t *testing.T) {
	t.Parallel()

	e := New(Config{}, ocr.Disabled("test"), nil)
	doc, ok := e.Extract(context.Background(), crawler.FetchResult{
		URL: "https://bank.com.np/unaudited-q2.pdf", OK: true, ContentType: "application/pdf", Body: []byte("%PDF-1.4 scanned"),
	})
	require.True(t, ok)
	require.Equal(t, crawler.DocTypePDF, doc.Type)
	require.Empty(t, doc.Text)
}

func TestExtractFallsBackToOCR(t *testing.T) {
	t.Parallel()

	engine := &fakeOCR{text: "खुद नाफा रु १२ करोड and more recognized text"}
	e := New(Config{MinPDFText: 40}, ocr.Capability{Engine: engine, Available: true}, nil)

	doc, ok := e.Extract(context.Background(), crawler.FetchResult{
		URL: "https://bank.com.np/scan.pdf", OK: true, ContentType: "application/pdf", Body: minimalPDF("short"),
	})
	require.True(t, ok)
	require.Equal(t, engine.text, doc.Text)
	require.Equal(t, 1, engine.calls)

	// A long enough text layer skips OCR.
	long := "Statement of profit and loss for the quarter ended Ashad end"
	doc, _ = e.Extract(context.Background(), crawler.FetchResult{
		URL: "https://bank.com.np/text.pdf", OK: true, ContentType: "application/pdf", Body: minimalPDF(long),
	})
	require.Equal(t, long, doc.Text)
	require.Equal(t, 1, engine.calls)
}

func TestExtractKeepsLongerOnOCRFailure(t *testing.T) {
	t.Parallel()

	engine := &fakeOCR{err: errors.New("tesseract crashed")}
	e := New(Config{MinPDFText: 40}, ocr.Capability{Engine: engine, Available: true}, nil)
	doc, ok := e.Extract(context.Background(), crawler.FetchResult{
		URL: "https://bank.com.np/scan.pdf", OK: true, ContentType: "application/pdf", Body: minimalPDF("tiny"),
	})
	require.True(t, ok)
	require.Equal(t, "tiny", doc.Text)
}

func TestShortDevanagariTextLayerGoesToOCR(t *testing.T) {
	t.Parallel()

	// 15 characters but 41 bytes.
	layer := "खुद नाफा घट्यो।"
	require.Equal(t, 15, utf8.RuneCountInString(layer))
	require.Greater(t, len(layer), 40)

	engine := &fakeOCR{text: "Net profit Rs 12 crore"}
	e := New(Config{MinPDFText: 40}, ocr.Capability{Engine: engine, Available: true}, nil)

	got := e.withOCR(context.Background(), "https://bank.com.np/scan.pdf", layer, nil)
	require.Equal(t, 1, engine.calls)
	require.Equal(t, engine.text, got, "22 recognized characters beat a 15 character layer")

	long := strings.Repeat("खुद नाफा ", 5)
	require.Equal(t, long, e.withOCR(context.Background(), "https://bank.com.np/text.pdf", long, nil))
	require.Equal(t, 1, engine.calls)
}

func TestExtractAllPreservesOrder(t *testing.T) {
	t.Parallel()

	e := New(Config{Concurrency: 2}, ocr.Disabled("test"), nil)
	results := []crawler.FetchResult{
		{URL: "https://a.test/1", OK: true, ContentType: "text/html", Body: []byte("<p>one</p>")},
		{URL: "https://a.test/2", OK: false},
		{URL: "https://a.test/3.pdf", OK: true, ContentType: "application/pdf", Body: []byte("%PDF broken")},
		{URL: "https://a.test/4", OK: true, ContentType: "text/html", Body: []byte("<p>four</p>")},
	}
	docs := e.ExtractAll(context.Background(), results)
	require.Len(t, docs, 3)
	require.Equal(t, "https://a.test/1", docs[0].URL)
	require.Equal(t, "https://a.test/3.pdf", docs[1].URL)
	require.Equal(t, "https://a.test/4", docs[2].URL)
}

// minimalPDF builds a one-page PDF whose text layer contains text.
func minimalPDF(text string) []byte {
	content := fmt.Sprintf("BT /F1 12 Tf 72 712 Td (%s) Tj ET", text)
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents 4 0 R /Resources << /Font << /F1 5 0 R >> >> >>",
		fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>",
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(objects)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return buf.Bytes()
}
