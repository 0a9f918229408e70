package queue

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/iliyamo/recital-box-office/internal/logger"
)

// SeatEventSink delivers seat events, normally the Publisher.
type SeatEventSink interface {
	PublishSeatEvent(ctx context.Context, ev SeatEvent) error
}

// SeatEventBus decouples request handlers from the broker. Publish never
// blocks; when the buffer is full the event is dropped and counted.
type SeatEventBus struct {
	events  chan SeatEvent
	sink    SeatEventSink
	log     *logger.Logger
	dropped atomic.Int64
}

func NewSeatEventBus(size int, sink SeatEventSink, log *logger.Logger) *SeatEventBus {
	if size <= 0 {
		size = 256
	}
	if log == nil {
		log = logger.Nop()
	}
	return &SeatEventBus{events: make(chan SeatEvent, size), sink: sink, log: log}
}

func (b *SeatEventBus) Publish(ev SeatEvent) {
	if b == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	select {
	case b.events <- ev:
	default:
		b.dropped.Add(1)
	}
}

// Dropped reports how many events were discarded on a full buffer.
func (b *SeatEventBus) Dropped() int64 { return b.dropped.Load() }

// Run forwards buffered events to the sink until ctx is cancelled.
func (b *SeatEventBus) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-b.events:
			if b.sink == nil {
				continue
			}
			pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if err := b.sink.PublishSeatEvent(pctx, ev); err != nil {
				b.log.Warn(b.log.WithFields(ctx, map[string]any{"seat_id": ev.SeatID, "action": string(ev.Action), "error": err.Error()}), "seat event publish failed")
			}
			cancel()
		}
	}
}
