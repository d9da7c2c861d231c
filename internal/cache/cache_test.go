package cache

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestKeyString(t *testing.T) {
	t.Parallel()

	a := Key{Collection: "Nabil_Bank", Question: "What is  Nabil's NET profit?", MaxHTML: 30, MaxPDF: 12}
	b := Key{Collection: "Nabil_Bank", Question: "what is nabil's net profit?", MaxHTML: 30, MaxPDF: 12}
	require.Equal(t, a.String(), b.String())
	require.True(t, strings.HasPrefix(a.String(), "miner:answer:v1:Nabil_Bank:30:12:"))

	c := b
	c.MaxHTML = 40
	require.NotEqual(t, b.String(), c.String())
}

func TestNop(t *testing.T) {
	t.Parallel()

	var c Cache = Nop{}
	require.NoError(t, c.Set(context.Background(), Key{}, []byte("x")))
	_, ok, err := c.Get(context.Background(), Key{})
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, c.Invalidate(context.Background(), "any"))
}

func TestMemoryTTL(t *testing.T) {
	t.Parallel()

	now := time.Unix(1700000000, 0)
	m := NewMemory(time.Minute, 4)
	m.now = func() time.Time { return now }
	ctx := context.Background()
	key := Key{Collection: "nabil", Question: "profit", MaxHTML: 30, MaxPDF: 12}

	require.NoError(t, m.Set(ctx, key, []byte("answer")))
	got, ok, err := m.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "answer", string(got))

	got[0] = 'X'
	again, _, _ := m.Get(ctx, key)
	require.Equal(t, "answer", string(again))

	now = now.Add(time.Minute)
	_, ok, err = m.Get(ctx, key)
	require.NoError(t, err)
	require.False(t, ok)
	require.Zero(t, m.Len())
}

func TestMemoryEvictsLeastRecentlyUsed(t *testing.T) {
	t.Parallel()

	m := NewMemory(0, 2)
	ctx := context.Background()
	k1 := Key{Collection: "a", Question: "one"}
	k2 := Key{Collection: "a", Question: "two"}
	k3 := Key{Collection: "b", Question: "three"}

	require.NoError(t, m.Set(ctx, k1, []byte("1")))
	require.NoError(t, m.Set(ctx, k2, []byte("2")))
	_, ok, _ := m.Get(ctx, k1)
	require.True(t, ok)
	require.NoError(t, m.Set(ctx, k3, []byte("3")))

	_, ok, _ = m.Get(ctx, k2)
	require.False(t, ok, "k2 was least recently used")
	_, ok, _ = m.Get(ctx, k1)
	require.True(t, ok)
	require.Equal(t, 2, m.Len())
}

func TestMemoryInvalidateCollection(t *testing.T) {
	t.Parallel()

	m := NewMemory(0, 0)
	ctx := context.Background()
	require.NoError(t, m.Set(ctx, Key{Collection: "a", Question: "one"}, []byte("1")))
	require.NoError(t, m.Set(ctx, Key{Collection: "a", Question: "two"}, []byte("2")))
	require.NoError(t, m.Set(ctx, Key{Collection: "b", Question: "one"}, []byte("3")))

	require.NoError(t, m.Invalidate(ctx, "a"))
	require.Equal(t, 1, m.Len())
	_, ok, _ := m.Get(ctx, Key{Collection: "b", Question: "one"})
	require.True(t, ok)
	require.NoError(t, m.Invalidate(ctx, "missing"))
}
