package progress

import "context"

// Sink consumes batches of events. Consume may be called repeatedly and must
// honour ctx deadlines.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter publishes single events without blocking.
type Emitter interface {
	Emit(evt Event)
}

// Discard is an Emitter that drops everything.
type Discard struct{}

// Emit implements Emitter.
func (Discard) Emit(Event) {}
