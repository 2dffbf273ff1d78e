package sinks

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/leadharvest/orchestrator/internal/progress"
	"github.com/leadharvest/orchestrator/internal/scrape"
)

// PublisherSink forwards terminal project events to an external topic so
// downstream consumers learn about completions without polling the API.
type PublisherSink struct {
	publisher scrape.Publisher
	topic     string
	logger    *zap.Logger
}

// NewPublisherSink constructs a PublisherSink for the topic.
func NewPublisherSink(publisher scrape.Publisher, topic string, logger *zap.Logger) *PublisherSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PublisherSink{publisher: publisher, topic: topic, logger: logger}
}

// Notification is the published payload for one terminal event.
type Notification struct {
	ProjectID  string    `json:"project_id"`
	Outcome    string    `json:"outcome"`
	Error      string    `json:"error,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
}

// Consume publishes one notification per terminal event in the batch.
func (s *PublisherSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.publisher == nil {
		return nil
	}
	for _, evt := range batch {
		var outcome string
		switch evt.Stage {
		case progress.StageProjectDone:
			outcome = "completed"
		case progress.StageProjectError:
			outcome = "error"
		default:
			continue
		}
		note := Notification{
			ProjectID:  evt.ProjectID,
			Outcome:    outcome,
			Error:      evt.Note,
			FinishedAt: evt.TS,
		}
		if _, err := s.publisher.Publish(ctx, s.topic, note); err != nil {
			return fmt.Errorf("publish %s notification for %s: %w", outcome, evt.ProjectID, err)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *PublisherSink) Close(context.Context) error {
	return nil
}
