package model

import "time"

// RecitalType identifies one of the two fixed showtimes. Entitlements to
// recorded video are expressed in the same terms.
type RecitalType string

const (
	RecitalMorning RecitalType = "morning"
	RecitalEvening RecitalType = "evening"
	// RecitalBoth is only used for entitlements, never stored on an event.
	RecitalBoth RecitalType = "both"
)

// Event is one recital showtime.
type Event struct {
	ID          uint64      // events.id
	Title       string      // events.title
	RecitalType RecitalType // events.recital_type
	StartsAt    time.Time   // events.starts_at
	CreatedAt   time.Time   // events.created_at
}

// EventStats is the seat and order split of one showtime. Held seats are
// soft-locked but not sold; AvailableSeats excludes both.
type EventStats struct {
	EventID        uint64
	TotalSeats     int
	SoldSeats      int
	HeldSeats      int
	AvailableSeats int
	TicketsSold    int
	Orders         int
}
