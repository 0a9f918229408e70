package model

import "time"

// Ticket is one purchased seat. Created in the same transaction as its
// order and never modified afterwards.
type Ticket struct {
	ID        uint64    // tickets.id
	OrderID   uint64    // tickets.order_id
	SeatID    uint64    // tickets.seat_id (unique)
	EventID   uint64    // tickets.event_id
	CreatedAt time.Time // tickets.created_at
}

// TicketDetail joins a ticket with its seat and event for customer views.
type TicketDetail struct {
	Ticket
	OrderStatus OrderStatus
	EventTitle  string
	RecitalType RecitalType
	StartsAt    time.Time
	Section     string
	RowLabel    string
	SeatNumber  uint32
}
