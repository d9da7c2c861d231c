package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultRegistry(t *testing.T) {
	t.Parallel()

	r, err := Default()
	require.NoError(t, err)
	companies := r.Companies()
	require.GreaterOrEqual(t, len(companies), 3)
	require.Equal(t, "Nabil Bank", companies[0].Name)
	require.NotEmpty(t, companies[0].BootstrapPDF)
	for _, c := range companies {
		require.NotEmpty(t, c.Seeds, c.Name)
	}
}

func TestResolve(t *testing.T) {
	t.Parallel()

	r, err := Default()
	require.NoError(t, err)

	tests := []struct {
		question string
		want     string
		matched  bool
	}{
		{question: "What is Nabil Bank's net profit?", want: "Nabil Bank", matched: true},
		{question: "nabil invest quarterly results", want: "Nabil Invest", matched: true},
		{question: "Reindex NTC", want: "Nepal Telecom", matched: true},
		{question: "नेपाल टेलिकम को खुद नाफा", want: "Nepal Telecom", matched: true},
		{question: "Himalayan Distillery Limited revenue", want: "Himalayan Distillery", matched: true},
		{question: "latest numbers for some unknown co", want: "Nabil Bank", matched: false},
		{question: "contents of the ntcx file", want: "Nabil Bank", matched: false},
	}
	for _, tt := range tests {
		t.Run(tt.question, func(t *testing.T) {
			t.Parallel()
			got, ok := r.Resolve(tt.question)
			require.Equal(t, tt.want, got.Name)
			require.Equal(t, tt.matched, ok)
		})
	}
}

func TestLookup(t *testing.T) {
	t.Parallel()

	r, err := Default()
	require.NoError(t, err)
	c, ok := r.Lookup("hdl")
	require.True(t, ok)
	require.Equal(t, "Himalayan Distillery", c.Name)
	_, ok = r.Lookup("nope")
	require.False(t, ok)
}

func TestLoadAndValidate(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "companies.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
companies:
  - name: Acme
    ticker: ACME
    seeds: [https://acme.example/ir]
`), 0o600))
	r, err := Load(path)
	require.NoError(t, err)
	c, ok := r.Resolve("acme revenue")
	require.True(t, ok)
	require.Equal(t, []string{"https://acme.example/ir"}, c.Seeds)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
	_, err = Parse([]byte("companies: []"))
	require.Error(t, err)
	_, err = Parse([]byte("companies:\n  - name: NoSeeds\n"))
	require.Error(t, err)
	_, err = Parse([]byte("companies: ["))
	require.Error(t, err)
}
