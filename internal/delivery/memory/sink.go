// Package memory keeps delivered artifacts in-memory for dry runs and tests.
package memory

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/JakeFAU/chapterbox/internal/manga"
)

// Delivery is one stored artifact.
type Delivery struct {
	Recipient string
	Filename  string
	Data      []byte
}

// Sink stores artifact copies in send order.
type Sink struct {
	mu         sync.RWMutex
	deliveries []Delivery
}

// New creates an empty sink.
func New() *Sink {
	return &Sink{}
}

// Send copies the artifact content.
func (s *Sink) Send(_ context.Context, recipient string, artifact manga.Artifact) error {
	data, err := io.ReadAll(artifact.Open())
	if err != nil {
		return fmt.Errorf("%w: read artifact: %v", manga.ErrPermanent, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliveries = append(s.deliveries, Delivery{
		Recipient: recipient,
		Filename:  artifact.Filename(),
		Data:      data,
	})
	return nil
}

// Deliveries returns a copy of everything sent so far.
func (s *Sink) Deliveries() []Delivery {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Delivery(nil), s.deliveries...)
}
