package queue

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu     sync.Mutex
	events []SeatEvent
	done   chan struct{}
}

func (s *recordingSink) PublishSeatEvent(_ context.Context, ev SeatEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	if len(s.events) == 2 {
		close(s.done)
	}
	return nil
}

func TestSeatEventBusForwardsInOrder(t *testing.T) {
	sink := &recordingSink{done: make(chan struct{})}
	bus := NewSeatEventBus(4, sink, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bus.Run(ctx)

	bus.Publish(SeatEvent{SeatID: 1, Action: SeatReserved})
	bus.Publish(SeatEvent{SeatID: 1, Action: SeatReleased})

	select {
	case <-sink.done:
	case <-time.After(2 * time.Second):
		t.Fatal("events not forwarded")
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Equal(t, SeatReserved, sink.events[0].Action)
	assert.Equal(t, SeatReleased, sink.events[1].Action)
	assert.False(t, sink.events[0].At.IsZero())
}

func TestSeatEventBusDropsWhenFull(t *testing.T) {
	bus := NewSeatEventBus(1, nil, nil)
	bus.Publish(SeatEvent{SeatID: 1})
	bus.Publish(SeatEvent{SeatID: 2})
	assert.EqualValues(t, 1, bus.Dropped())

	var nilBus *SeatEventBus
	nilBus.Publish(SeatEvent{SeatID: 3})
}

func TestConsumerHandleDecodesEvent(t *testing.T) {
	var got OrderConfirmedEvent
	c := NewConsumer("amqp://unused", func(_ context.Context, ev OrderConfirmedEvent) error {
		got = ev
		return nil
	}, nil)

	body, err := json.Marshal(OrderConfirmedEvent{OrderID: 12, CustomerEmail: "a@example.com", Seats: []string{"A15"}})
	require.NoError(t, err)
	require.NoError(t, c.Handle(context.Background(), body))
	assert.EqualValues(t, 12, got.OrderID)
	assert.Equal(t, []string{"A15"}, got.Seats)

	assert.Error(t, c.Handle(context.Background(), []byte("{")))
	assert.Error(t, c.Handle(context.Background(), []byte(`{"customer_email":"x"}`)))
}

// silentBroker accepts TCP connections and never answers the AMQP handshake.
func silentBroker(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var mu sync.Mutex
	var conns []net.Conn
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, c)
			mu.Unlock()
		}
	}()
	t.Cleanup(func() {
		_ = ln.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, c := range conns {
			_ = c.Close()
		}
	})
	return "amqp://guest:guest@" + ln.Addr().String() + "/"
}

func TestPublisherHonoursDeadlineOnWedgedBroker(t *testing.T) {
	p := NewPublisher(silentBroker(t), nil)
	defer p.Close()

	const callers = 3
	var wg sync.WaitGroup
	elapsed := make([]time.Duration, callers)
	errs := make([]error, callers)
	start := time.Now()
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
			defer cancel()
			began := time.Now()
			errs[i] = p.PublishOrderConfirmed(ctx, OrderConfirmedEvent{OrderID: uint64(i + 1)})
			elapsed[i] = time.Since(began)
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		assert.Error(t, errs[i])
		assert.Less(t, elapsed[i], 2*time.Second, "caller %d waited past its deadline", i)
	}
	assert.Less(t, time.Since(start), 2*time.Second, "callers were serialised behind one dial")
}

func TestPublisherDialWithoutDeadlineIsBounded(t *testing.T) {
	p := NewPublisher(silentBroker(t), nil)
	p.dialTimeout = 200 * time.Millisecond
	defer p.Close()

	began := time.Now()
	err := p.PublishSeatEvent(context.Background(), SeatEvent{SeatID: 1})
	require.Error(t, err)
	assert.Less(t, time.Since(began), 2*time.Second)
}
