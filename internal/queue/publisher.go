package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/iliyamo/recital-box-office/internal/logger"
)

// DefaultDialTimeout bounds a broker dial when the caller's context has
// no earlier deadline.
const DefaultDialTimeout = 5 * time.Second

// Publisher keeps one channel to the broker and re-dials after a failure.
// Publish errors are returned so callers can log and continue. The mutex
// only guards the cached channel; dials and publishes run outside it.
type Publisher struct {
	url         string
	dialTimeout time.Duration
	log         *logger.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewPublisher(url string, log *logger.Logger) *Publisher {
	if log == nil {
		log = logger.Nop()
	}
	return &Publisher{url: url, dialTimeout: DefaultDialTimeout, log: log}
}

type dialResult struct {
	conn *amqp.Connection
	ch   *amqp.Channel
	err  error
}

// channel returns an open channel with the order queue and seat exchange
// declared, dialing when none is cached. The dial gives up when ctx does.
func (p *Publisher) channel(ctx context.Context) (*amqp.Channel, error) {
	if ch := p.cached(); ch != nil {
		return ch, nil
	}
	timeout := p.dialTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("rabbitmq dial: %w", context.DeadlineExceeded)
	}

	done := make(chan dialResult, 1)
	go func() { done <- dial(p.url, timeout) }()
	select {
	case r := <-done:
		if r.err != nil {
			return nil, r.err
		}
		return p.install(r.conn, r.ch), nil
	case <-ctx.Done():
		go func() {
			if r := <-done; r.err == nil {
				_ = r.conn.Close()
			}
		}()
		return nil, fmt.Errorf("rabbitmq dial: %w", ctx.Err())
	}
}

func dial(url string, timeout time.Duration) dialResult {
	conn, err := amqp.DialConfig(url, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Dial:      amqp.DefaultDial(timeout),
	})
	if err != nil {
		return dialResult{err: fmt.Errorf("rabbitmq dial: %w", err)}
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return dialResult{err: fmt.Errorf("rabbitmq channel: %w", err)}
	}
	if _, err := ch.QueueDeclare(OrderConfirmedQueue, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return dialResult{err: fmt.Errorf("queue declare: %w", err)}
	}
	if err := ch.ExchangeDeclare(SeatEventsExchange, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return dialResult{err: fmt.Errorf("exchange declare: %w", err)}
	}
	return dialResult{conn: conn, ch: ch}
}

func (p *Publisher) cached() *amqp.Channel {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch
	}
	return nil
}

// install caches a freshly dialed channel. When a concurrent dial won, the
// new connection is closed and the cached channel is used instead.
func (p *Publisher) install(conn *amqp.Connection, ch *amqp.Channel) *amqp.Channel {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil && !p.ch.IsClosed() {
		_ = conn.Close()
		return p.ch
	}
	p.closeLocked()
	p.conn, p.ch = conn, ch
	return ch
}

// discard drops ch from the cache if it is still the cached channel.
func (p *Publisher) discard(ch *amqp.Channel) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == ch {
		p.closeLocked()
	}
}

func (p *Publisher) publish(ctx context.Context, exchange, key string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}

	ch, err := p.channel(ctx)
	if err != nil {
		return err
	}
	if err := ch.PublishWithContext(ctx, exchange, key, false, false, msg); err != nil {
		p.discard(ch)
		return fmt.Errorf("publish %s: %w", key, err)
	}
	return nil
}

// PublishOrderConfirmed queues an order confirmation for the worker.
func (p *Publisher) PublishOrderConfirmed(ctx context.Context, ev OrderConfirmedEvent) error {
	return p.publish(ctx, "", OrderConfirmedQueue, ev)
}

// PublishSeatEvent broadcasts a seat change on the fanout exchange.
func (p *Publisher) PublishSeatEvent(ctx context.Context, ev SeatEvent) error {
	return p.publish(ctx, SeatEventsExchange, "", ev)
}

func (p *Publisher) closeLocked() {
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}

func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeLocked()
}
