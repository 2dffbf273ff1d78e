package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/leadharvest/orchestrator/internal/progress"
	pubmem "github.com/leadharvest/orchestrator/internal/publisher/memory"
)

// TestPublisherSinkPublishesTerminalEvents verifies only terminal stages are forwarded.
func TestPublisherSinkPublishesTerminalEvents(t *testing.T) {
	t.Parallel()

	pub := pubmem.New()
	sink := NewPublisherSink(pub, "scrape-events", nil)

	now := time.Now().UTC()
	batch := []progress.Event{
		{ProjectID: "p-1", TS: now, Stage: progress.StageProjectStart},
		{ProjectID: "p-1", TS: now, Stage: progress.StageUnits, ProcessedDelta: 3},
		{ProjectID: "p-1", TS: now, Stage: progress.StageProjectDone, Dur: time.Minute},
		{ProjectID: "p-2", TS: now, Stage: progress.StageProjectError, Note: "exhausted_retries"},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "scrape-events", msgs[0].Topic)

	done, ok := msgs[0].Payload.(Notification)
	require.True(t, ok)
	require.Equal(t, "p-1", done.ProjectID)
	require.Equal(t, "completed", done.Outcome)

	failed, ok := msgs[1].Payload.(Notification)
	require.True(t, ok)
	require.Equal(t, "error", failed.Outcome)
	require.Equal(t, "exhausted_retries", failed.Error)
}
