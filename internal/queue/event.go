// Package queue carries domain events over RabbitMQ: order confirmations
// on a durable work queue consumed by the worker, and seat state changes
// on a fanout exchange for live seat-map listeners.
package queue

import "time"

const (
	OrderConfirmedQueue = "order.confirmed"
	SeatEventsExchange  = "seat.events"
)

// OrderConfirmedEvent is published after an order is persisted. It holds
// everything the confirmation mail needs so the consumer does not have to
// query the database.
type OrderConfirmedEvent struct {
	OrderID       uint64    `json:"order_id"`
	Source        string    `json:"source"`
	UserID        uint64    `json:"user_id,omitempty"`
	CustomerEmail string    `json:"customer_email"`
	CustomerName  string    `json:"customer_name"`
	Total         string    `json:"total"`
	Seats         []string  `json:"seats,omitempty"`
	DVDs          int       `json:"dvds"`
	Digital       int       `json:"digital_downloads"`
	AccessCode    string    `json:"access_code,omitempty"`
	ConfirmedAt   time.Time `json:"confirmed_at"`
}

type SeatAction string

const (
	SeatReserved SeatAction = "reserved"
	SeatReleased SeatAction = "released"
	SeatExpired  SeatAction = "expired"
	SeatSold     SeatAction = "sold"
)

// SeatEvent announces a seat state change.
type SeatEvent struct {
	SeatID  uint64     `json:"seat_id"`
	EventID uint64     `json:"event_id,omitempty"`
	Action  SeatAction `json:"action"`
	UserID  uint64     `json:"user_id,omitempty"`
	At      time.Time  `json:"at"`
}
