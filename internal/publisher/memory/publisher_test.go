package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "run.completed", map[string]string{"company": "nabil"})
	require.NoError(t, err)
	require.Equal(t, "memory-1", id1)
	id2, err := pub.Publish(context.Background(), "run.degraded", "payload")
	require.NoError(t, err)
	require.Equal(t, "memory-2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "run.completed", msgs[0].Event)
	require.Equal(t, "run.degraded", msgs[1].Event)

	msgs[0].Event = "modified"
	require.Equal(t, "run.completed", pub.Messages()[0].Event, "Messages() must return a copy")
}
