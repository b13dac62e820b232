// Package pubsub publishes job notices to a Google Cloud Pub/Sub topic so
// other systems can react to downloads.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"

	"github.com/JakeFAU/chapterbox/internal/manga"
)

// Event is the JSON payload published for each notice.
type Event struct {
	Recipient string       `json:"recipient"`
	Notice    manga.Notice `json:"notice"`
	Text      string       `json:"text"`
}

// Notifier wraps a Pub/Sub topic.
type Notifier struct {
	topic *pubsub.Topic
}

// New creates a Notifier for the provided topic.
func New(topic *pubsub.Topic) *Notifier {
	return &Notifier{topic: topic}
}

// Notify marshals the notice and waits for the publish to be acknowledged.
func (n *Notifier) Notify(ctx context.Context, recipient string, notice manga.Notice) error {
	if n.topic == nil {
		return fmt.Errorf("pubsub topic is not configured")
	}
	data, err := json.Marshal(Event{Recipient: recipient, Notice: notice, Text: notice.Text()})
	if err != nil {
		return fmt.Errorf("marshal notice: %w", err)
	}
	result := n.topic.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"kind":   string(notice.Kind),
			"job_id": notice.JobID,
		},
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish notice: %w", err)
	}
	return nil
}

// Stop flushes pending messages.
func (n *Notifier) Stop() {
	if n.topic != nil {
		n.topic.Stop()
	}
}
