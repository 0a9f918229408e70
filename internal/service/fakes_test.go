package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iliyamo/recital-box-office/internal/mailer"
	"github.com/iliyamo/recital-box-office/internal/model"
	"github.com/iliyamo/recital-box-office/internal/payment"
	"github.com/iliyamo/recital-box-office/internal/queue"
	"github.com/iliyamo/recital-box-office/internal/repository/repotest"
)

var t0 = time.Date(2025, 5, 31, 10, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock(at time.Time) *testClock { return &testClock{now: at} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeProvider keeps intents in memory. ChargeFunc overrides Charge.
type fakeProvider struct {
	mu         sync.Mutex
	ChargeFunc func(req payment.ChargeRequest) (payment.Charge, error)
	charges    []payment.ChargeRequest
	intents    map[string]payment.Intent
	canceled   []string
	seq        int
}

func newProvider() *fakeProvider {
	return &fakeProvider{intents: map[string]payment.Intent{}}
}

func (p *fakeProvider) Charge(_ context.Context, req payment.ChargeRequest) (payment.Charge, error) {
	p.mu.Lock()
	p.charges = append(p.charges, req)
	p.seq++
	id := fmt.Sprintf("ch_%d", p.seq)
	fn := p.ChargeFunc
	p.mu.Unlock()
	if fn != nil {
		return fn(req)
	}
	return payment.Charge{ID: id, Status: "succeeded"}, nil
}

func (p *fakeProvider) CreateIntent(_ context.Context, req payment.IntentRequest) (payment.Intent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	id := fmt.Sprintf("pi_%d", p.seq)
	in := payment.Intent{
		ID:           id,
		Status:       "requires_payment_method",
		ClientSecret: id + "_secret",
		Amount:       req.Amount,
		Metadata:     req.Metadata,
	}
	p.intents[id] = in
	return in, nil
}

func (p *fakeProvider) GetIntent(_ context.Context, id string) (payment.Intent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	in, ok := p.intents[id]
	if !ok {
		return payment.Intent{}, errors.New("no such intent")
	}
	return in, nil
}

func (p *fakeProvider) CancelIntent(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	in, ok := p.intents[id]
	if !ok {
		return errors.New("no such intent")
	}
	in.Status = payment.IntentCanceled
	p.intents[id] = in
	p.canceled = append(p.canceled, id)
	return nil
}

// settle sets the status of an intent as the browser confirmation would.
func (p *fakeProvider) settle(id, status string) payment.Intent {
	p.mu.Lock()
	defer p.mu.Unlock()
	in := p.intents[id]
	in.Status = status
	p.intents[id] = in
	return in
}

func (p *fakeProvider) chargeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.charges)
}

type fakeMailer struct {
	mu      sync.Mutex
	SendErr error
	sent    []mailer.Message
	alerts  []string
}

func (m *fakeMailer) Send(_ context.Context, msg mailer.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SendErr != nil {
		return m.SendErr
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *fakeMailer) Alert(_ context.Context, subject, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, subject)
	return nil
}

func (m *fakeMailer) alertCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.alerts)
}

type fakeOrderEvents struct {
	mu     sync.Mutex
	events []queue.OrderConfirmedEvent
}

func (f *fakeOrderEvents) PublishOrderConfirmed(_ context.Context, ev queue.OrderConfirmedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

type fakeSeatEvents struct {
	mu     sync.Mutex
	events []queue.SeatEvent
}

func (f *fakeSeatEvents) Publish(ev queue.SeatEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
}

func (f *fakeSeatEvents) actions() []queue.SeatAction {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]queue.SeatAction, len(f.events))
	for i, ev := range f.events {
		out[i] = ev.Action
	}
	return out
}

// insertOrder writes an order row directly for access-code fixtures.
func insertOrder(t *testing.T, db *sql.DB, userID uint64, email, code string, digital int, media model.MediaStatus) uint64 {
	t.Helper()
	mediaType := model.MediaTypeFor(0, digital)
	var accessCode any
	if code != "" {
		accessCode = code
	}
	res, err := db.Exec(`INSERT INTO orders
		(user_id, customer_email, customer_name, total_amount, status, digital_download_count, media_type, media_status, access_code, source, created_at, updated_at)
		VALUES (?, ?, 'Pat Doe', ?, 'paid', ?, ?, ?, ?, 'checkout', ?, ?)`,
		userID, email, decimal.RequireFromString("25.00").String(), digital, string(mediaType), string(media), accessCode, t0, t0)
	if err != nil {
		t.Fatalf("insert order: %v", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		t.Fatalf("order id: %v", err)
	}
	return uint64(id)
}

func insertTicket(t *testing.T, db *sql.DB, orderID, seatID, eventID uint64) {
	t.Helper()
	if _, err := db.Exec(`INSERT INTO tickets (order_id, seat_id, event_id, created_at) VALUES (?, ?, ?, ?)`,
		orderID, seatID, eventID, t0); err != nil {
		t.Fatalf("insert ticket: %v", err)
	}
}

func openDB(t *testing.T) *sql.DB { return repotest.Open(t) }
