package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/ecoles-crawler/internal/publisher"
)

func TestPublisherRecordsEvents(t *testing.T) {
	t.Parallel()

	p := New()
	id, err := p.Publish(context.Background(), publisher.DatasetReady{RunID: "run-1", Reviews: 3})
	require.NoError(t, err)
	assert.Equal(t, "memory-1", id)

	events := p.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "run-1", events[0].RunID)

	events[0].RunID = "mutated"
	assert.Equal(t, "run-1", p.Events()[0].RunID)
}
