package finmetrics

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/disclosure-miner/internal/lexicon"
)

func TestExtractRoundTrip(t *testing.T) {
	t.Parallel()

	bag := New(nil).Extract([]Chunk{{Text: "Net profit NPR 1,234.5 million"}})
	require.Equal(t, []float64{1234500000}, bag[lexicon.NetProfit])
}

func TestExtractAppliesDocumentScale(t *testing.T) {
	t.Parallel()

	text := "Statement of Profit and Loss (Amount in '000)\nNet profit NPR 1,234.5 million\nTotal income 820,000"
	bag := New(nil).Extract([]Chunk{{Text: text}})
	require.Equal(t, []float64{1234500000000}, bag[lexicon.NetProfit])
	require.Contains(t, bag[lexicon.Revenue], 820000000.0)
}

func TestExtractDedupAtTwoDecimals(t *testing.T) {
	t.Parallel()

	text := "Revenue was 500 this quarter. Elsewhere the revenue line shows 500.004 again."
	bag := New(nil).Extract([]Chunk{{Text: text}})
	require.Equal(t, []float64{500}, bag[lexicon.Revenue])
}

func TestExtractNepali(t *testing.T) {
	t.Parallel()

	text := "यस त्रैमासिकमा खुद नाफा रु ३.२ अर्ब र कुल आम्दानी रु १२ करोड रहेको छ।"
	bag := New(nil).Extract([]Chunk{{Text: text}})
	require.Equal(t, []float64{3200000000}, bag[lexicon.NetProfit])
	require.Contains(t, bag[lexicon.Revenue], 120000000.0)
}

func TestExtractNegativesAndSkips(t *testing.T) {
	t.Parallel()

	e := New(nil)
	bag := e.Extract([]Chunk{
		{Text: "Net profit for Q3 was (45.5) crore"},
		{Text: "Interest expenses -200 million"},
		{Text: "Revenue growth 12.5% YoY"},
		{Text: "   "},
		{Text: "Net profit for FY2080/81 stood at Rs 300 crore"},
		{Text: "Net profit of 2080/81: Rs 45 lakh"},
	})
	require.Equal(t, []float64{3000000000, -455000000, 4500000}, bag[lexicon.NetProfit])
	require.Equal(t, []float64{-200000000}, bag[lexicon.Expenses])
	require.Equal(t, []float64{12.5}, bag[lexicon.GrowthPct])
	require.Empty(t, bag[lexicon.Revenue], "percent values are not amounts")
	require.Empty(t, bag[lexicon.Debt])
}

func TestMetricBagInvariants(t *testing.T) {
	t.Parallel()

	text := "Borrowings 10, borrowings 200, borrowings 3,000, borrowings -40,000, " +
		"borrowings 5, borrowings 600, borrowings 10.001, borrowings 70"
	bag := New(nil).Extract([]Chunk{{Text: text}})
	for _, kind := range lexicon.Kinds {
		vals, ok := bag[kind]
		require.True(t, ok, "every kind is present")
		require.LessOrEqual(t, len(vals), MaxValuesPerKind)
		seen := map[string]bool{}
		for i, v := range vals {
			key := decimal.NewFromFloat(v).Round(2).StringFixed(2)
			require.False(t, seen[key], "duplicate %s", key)
			seen[key] = true
			if i > 0 {
				require.GreaterOrEqual(t, math.Abs(vals[i-1]), math.Abs(v))
			}
		}
	}
	require.Equal(t, []float64{-40000, 3000, 600, 200, 70}, bag[lexicon.Debt])
}

func TestExtractNoEvidence(t *testing.T) {
	t.Parallel()

	bag := New(nil).Extract(nil)
	require.True(t, bag.Empty())
	require.Len(t, bag, len(lexicon.Kinds))

	bag = New(nil).Extract([]Chunk{{Text: "Net profit improved materially this year."}})
	require.True(t, bag.Empty())
}

func TestDetectScale(t *testing.T) {
	t.Parallel()

	e := New(nil)
	cases := map[string]int64{
		"Figures in '000":         1000,
		"figures in ’000s":        1000,
		"Amounts in Millions":     1000000,
		"(in crores)":             10000000,
		"रकम रु हजारमा":           1000,
		"no scale mentioned here": 1,
	}
	for text, want := range cases {
		require.True(t, e.DetectScale(Normalize(text)).Equal(decimal.NewFromInt(want)), text)
	}
}

func TestParseAmount(t *testing.T) {
	t.Parallel()

	e := New(nil)
	one := decimal.NewFromInt(1)

	v, ok := e.ParseAmount("NRs. (1,000) lakh", one)
	require.True(t, ok)
	require.True(t, v.Equal(decimal.NewFromInt(-100000000)))

	v, ok = e.ParseAmount("२,५००", decimal.NewFromInt(1000))
	require.True(t, ok)
	require.True(t, v.Equal(decimal.NewFromInt(2500000)))

	v, ok = e.ParseAmount("NPR1,000", one)
	require.True(t, ok)
	require.True(t, v.Equal(decimal.NewFromInt(1000)))

	_, ok = e.ParseAmount("FY2080", one)
	require.False(t, ok)
	_, ok = e.ParseAmount("7.5%", one)
	require.False(t, ok)
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	require.Equal(t, "in '000 -> 1234", Normalize("in\t ’000  −> १२३४"))
	require.Equal(t, "a b\nc", Normalize("a \t b\nc"))
}
