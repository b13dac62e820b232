package telegram

import (
	"context"
	"strings"

	"github.com/JakeFAU/chapterbox/internal/manga"
)

// Sink sends archives as documents to the chat named by the recipient.
type Sink struct {
	client *Client
}

// NewSink wraps client as a manga.Sink.
func NewSink(client *Client) *Sink {
	return &Sink{client: client}
}

// Send implements manga.Sink.
func (s *Sink) Send(ctx context.Context, recipient string, artifact manga.Artifact) error {
	caption := strings.TrimSuffix(artifact.Filename(), ".cbz")
	return Classify(s.client.SendDocument(ctx, recipient, caption, artifact))
}

// Notifier sends notices as chat messages.
type Notifier struct {
	client *Client
}

// NewNotifier wraps client as a manga.Notifier.
func NewNotifier(client *Client) *Notifier {
	return &Notifier{client: client}
}

// Notify implements manga.Notifier.
func (n *Notifier) Notify(ctx context.Context, recipient string, notice manga.Notice) error {
	return n.client.SendMessage(ctx, recipient, notice.Text())
}
