package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Config controls buffering and batching for the Hub. Zero values take the
// defaults below.
type Config struct {
	// BufferSize is the capacity of the event channel.
	BufferSize int
	// MaxBatchEvents flushes as soon as this many events are pending.
	MaxBatchEvents int
	// MaxBatchWait flushes a non-empty batch after this long.
	MaxBatchWait time.Duration
	// SinkTimeout bounds each Consume call.
	SinkTimeout time.Duration
	BaseContext context.Context
	Logger      *zap.Logger
}

const (
	defaultBufferSize     = 1024
	defaultMaxBatchEvents = 256
	defaultMaxBatchWait   = 250 * time.Millisecond
	defaultSinkTimeout    = 5 * time.Second
)

// Hub batches events and fans them out to sinks. Emit never blocks: when the
// buffer is full the event is dropped and counted.
type Hub struct {
	cfg     Config
	sinks   []Sink
	events  chan Event
	stop    chan struct{}
	done    chan struct{}
	logger  *zap.Logger
	dropLog rate.Sometimes
	dropped atomic.Int64
	closed  atomic.Bool

	closeOnce sync.Once
	closeCtx  context.Context
}

// NewHub starts the batching goroutine.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.MaxBatchEvents <= 0 {
		cfg.MaxBatchEvents = defaultMaxBatchEvents
	}
	if cfg.MaxBatchWait <= 0 {
		cfg.MaxBatchWait = defaultMaxBatchWait
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	h := &Hub{
		cfg:     cfg,
		events:  make(chan Event, cfg.BufferSize),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		logger:  cfg.Logger.Named("progress"),
		dropLog: rate.Sometimes{Interval: 5 * time.Second},
	}
	for _, s := range sinks {
		if s != nil {
			h.sinks = append(h.sinks, s)
		}
	}
	go h.loop()
	return h
}

// Emit queues evt for the next batch.
func (h *Hub) Emit(evt Event) {
	if h == nil || h.closed.Load() {
		return
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("discarding invalid progress event", zap.Error(err))
		return
	}
	select {
	case h.events <- evt:
	default:
		total := h.dropped.Add(1)
		h.dropLog.Do(func() {
			h.logger.Warn("progress events dropped due to backpressure", zap.Int64("dropped_total", total))
		})
	}
}

// Dropped reports how many events were discarded under backpressure.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// Close stops intake, flushes what is buffered, closes the sinks, and waits
// for the loop to exit or ctx to end.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		h.closeCtx = ctx
		close(h.stop)
	})
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress hub close wait: %w", ctx.Err())
	}
}

func (h *Hub) loop() {
	defer close(h.done)

	batch := make([]Event, 0, h.cfg.MaxBatchEvents)
	var (
		timer    *time.Timer
		deadline <-chan time.Time
	)
	disarm := func() {
		if timer != nil {
			timer.Stop()
		}
		deadline = nil
	}
	flush := func() {
		disarm()
		if len(batch) == 0 {
			return
		}
		h.deliver(batch)
		batch = batch[:0]
	}

	for {
		select {
		case evt := <-h.events:
			batch = append(batch, evt)
			switch {
			case len(batch) >= h.cfg.MaxBatchEvents:
				flush()
			case deadline == nil:
				if timer == nil {
					timer = time.NewTimer(h.cfg.MaxBatchWait)
				} else {
					timer.Reset(h.cfg.MaxBatchWait)
				}
				deadline = timer.C
			}
		case <-deadline:
			deadline = nil
			flush()
		case <-h.stop:
			for {
				select {
				case evt := <-h.events:
					batch = append(batch, evt)
					if len(batch) >= h.cfg.MaxBatchEvents {
						flush()
					}
					continue
				default:
				}
				break
			}
			flush()
			h.closeSinks()
			return
		}
	}
}

func (h *Hub) deliver(batch []Event) {
	snapshot := append([]Event(nil), batch...)
	for _, sink := range h.sinks {
		ctx, cancel := context.WithTimeout(h.cfg.BaseContext, h.cfg.SinkTimeout)
		if err := sink.Consume(ctx, snapshot); err != nil {
			h.logger.Warn("progress sink consume failed", zap.Error(err))
		}
		cancel()
	}
}

func (h *Hub) closeSinks() {
	for _, sink := range h.sinks {
		if err := sink.Close(h.closeCtx); err != nil {
			h.logger.Warn("progress sink close failed", zap.Error(err))
		}
	}
}
