package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "result.ingested", map[string]string{"hall_ticket": "23XZ1A0501"})
	require.NoError(t, err)
	require.Equal(t, "memory-1", id1)
	id2, err := pub.Publish(context.Background(), "portal.updated", "payload")
	require.NoError(t, err)
	require.Equal(t, "memory-2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.Len(t, pub.Events("portal.updated"), 1)

	msgs[0].Event = "modified"
	require.Equal(t, "result.ingested", pub.Messages()[0].Event)
}
