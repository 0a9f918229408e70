package model

import (
	"fmt"
	"time"
)

// Seat is a physical seat for one of the two recital showtimes. A seat is
// soft-locked while a customer decides (IsReserved) and hard-sold once an
// order allocates it (IsAvailable=false). Seats are generated during show
// setup and never deleted.
//
// Fields:
//  ID                   – primary key identifier.
//  EventID              – showtime the seat belongs to.
//  Section              – seating section (e.g. ORCH, BALC).
//  RowLabel             – row letter.
//  SeatNumber           – number within the row.
//  DisplayOrder         – ordering used by the seat picker.
//  IsAvailable          – true until sold.
//  IsReserved           – true while soft-locked.
//  ReservationTimestamp – when the soft-lock was taken; set iff IsReserved.
//  ReservedBy           – holder of the soft-lock; set iff IsReserved.
//  HandicapAccess       – accessible seating.
//  UpdatedAt            – last update timestamp.
type Seat struct {
	ID                   uint64     // seats.id
	EventID              uint64     // seats.event_id
	Section              string     // seats.section
	RowLabel             string     // seats.row_label
	SeatNumber           uint32     // seats.seat_number
	DisplayOrder         int        // seats.display_order
	IsAvailable          bool       // seats.is_available
	IsReserved           bool       // seats.is_reserved
	ReservationTimestamp *time.Time // seats.reservation_timestamp (nullable)
	ReservedBy           *uint64    // seats.reserved_by (nullable)
	HandicapAccess       bool       // seats.handicap_access
	UpdatedAt            time.Time  // seats.updated_at
}

// Label is the human-readable seat name used in mails and logs, e.g. A15.
func (s Seat) Label() string {
	return fmt.Sprintf("%s%d", s.RowLabel, s.SeatNumber)
}

// HeldBy reports whether the seat is soft-locked by the given user.
func (s Seat) HeldBy(userID uint64) bool {
	return s.IsReserved && s.ReservedBy != nil && *s.ReservedBy == userID
}
