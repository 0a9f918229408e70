package handler

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iliyamo/recital-box-office/internal/model"
)

// Response shapes. Models carry no JSON tags; each endpoint decides what
// leaves the process.

type userResp struct {
	ID    uint64 `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

type eventResp struct {
	ID          uint64            `json:"id"`
	Title       string            `json:"title"`
	RecitalType model.RecitalType `json:"recitalType"`
	StartsAt    time.Time         `json:"startsAt"`
}

func toEvent(e model.Event) eventResp {
	return eventResp{ID: e.ID, Title: e.Title, RecitalType: e.RecitalType, StartsAt: e.StartsAt}
}

type seatResp struct {
	ID                   uint64     `json:"id"`
	EventID              uint64     `json:"eventId"`
	Section              string     `json:"section"`
	Row                  string     `json:"row"`
	Number               uint32     `json:"number"`
	Label                string     `json:"label"`
	DisplayOrder         int        `json:"displayOrder"`
	IsAvailable          bool       `json:"isAvailable"`
	IsReserved           bool       `json:"isReserved"`
	ReservationTimestamp *time.Time `json:"reservationTimestamp,omitempty"`
	HandicapAccess       bool       `json:"handicapAccess"`
}

// toSeat hides who holds a lock; callers only learn that it is held.
func toSeat(s model.Seat) seatResp {
	return seatResp{
		ID:                   s.ID,
		EventID:              s.EventID,
		Section:              s.Section,
		Row:                  s.RowLabel,
		Number:               s.SeatNumber,
		Label:                s.Label(),
		DisplayOrder:         s.DisplayOrder,
		IsAvailable:          s.IsAvailable,
		IsReserved:           s.IsReserved,
		ReservationTimestamp: s.ReservationTimestamp,
		HandicapAccess:       s.HandicapAccess,
	}
}

type orderResp struct {
	ID                   uint64            `json:"id"`
	CustomerEmail        string            `json:"customerEmail"`
	CustomerName         string            `json:"customerName"`
	TotalAmount          decimal.Decimal   `json:"totalAmount"`
	Status               model.OrderStatus `json:"status"`
	DVDCount             int               `json:"dvdCount"`
	DigitalDownloadCount int               `json:"digitalDownloadCount"`
	MediaType            model.MediaType   `json:"mediaType"`
	MediaStatus          model.MediaStatus `json:"mediaStatus"`
	AccessCode           *string           `json:"accessCode,omitempty"`
	AccessCodeEmailed    bool              `json:"accessCodeEmailed"`
	PrintInfo            json.RawMessage   `json:"printInfo,omitempty"`
	Source               model.OrderSource `json:"source"`
	Notes                *string           `json:"notes,omitempty"`
	CreatedAt            time.Time         `json:"createdAt"`
}

func toOrder(o model.Order) orderResp {
	r := orderResp{
		ID:                   o.ID,
		CustomerEmail:        o.CustomerEmail,
		CustomerName:         o.CustomerName,
		TotalAmount:          o.TotalAmount,
		Status:               o.Status,
		DVDCount:             o.DVDCount,
		DigitalDownloadCount: o.DigitalDownloadCount,
		MediaType:            o.MediaType,
		MediaStatus:          o.MediaStatus,
		AccessCode:           o.AccessCode,
		AccessCodeEmailed:    o.AccessCodeEmailed,
		Source:               o.Source,
		Notes:                o.Notes,
		CreatedAt:            o.CreatedAt,
	}
	if len(o.PrintInfo) > 0 && json.Valid(o.PrintInfo) {
		r.PrintInfo = o.PrintInfo
	}
	return r
}

func toOrders(in []model.Order) []orderResp {
	out := make([]orderResp, 0, len(in))
	for _, o := range in {
		out = append(out, toOrder(o))
	}
	return out
}

type ticketResp struct {
	ID          uint64            `json:"id"`
	OrderID     uint64            `json:"orderId"`
	OrderStatus model.OrderStatus `json:"orderStatus"`
	EventID     uint64            `json:"eventId"`
	EventTitle  string            `json:"eventTitle"`
	RecitalType model.RecitalType `json:"recitalType"`
	StartsAt    time.Time         `json:"startsAt"`
	Section     string            `json:"section"`
	Seat        string            `json:"seat"`
}

func toTicket(t model.TicketDetail) ticketResp {
	return ticketResp{
		ID:          t.ID,
		OrderID:     t.OrderID,
		OrderStatus: t.OrderStatus,
		EventID:     t.EventID,
		EventTitle:  t.EventTitle,
		RecitalType: t.RecitalType,
		StartsAt:    t.StartsAt,
		Section:     t.Section,
		Seat:        model.Seat{RowLabel: t.RowLabel, SeatNumber: t.SeatNumber}.Label(),
	}
}

type linkResp struct {
	ID            uint64                  `json:"id"`
	Token         string                  `json:"token"`
	CustomerEmail string                  `json:"customerEmail"`
	CustomerName  string                  `json:"customerName"`
	Amount        decimal.Decimal         `json:"amount"`
	Status        model.PaymentLinkStatus `json:"status"`
	ExpiresAt     time.Time               `json:"expiresAt"`
	OrderID       *uint64                 `json:"orderId,omitempty"`
	Metadata      map[string]any          `json:"metadata,omitempty"`
	CreatedAt     time.Time               `json:"createdAt"`
	UpdatedAt     time.Time               `json:"updatedAt"`
}

func toLink(l model.PaymentLink) linkResp {
	return linkResp{
		ID:            l.ID,
		Token:         l.Token,
		CustomerEmail: l.CustomerEmail,
		CustomerName:  l.CustomerName,
		Amount:        l.Amount,
		Status:        l.Status,
		ExpiresAt:     l.ExpiresAt,
		OrderID:       l.OrderID,
		Metadata:      l.Metadata,
		CreatedAt:     l.CreatedAt,
		UpdatedAt:     l.UpdatedAt,
	}
}

type accessLogResp struct {
	ID            uint64             `json:"id"`
	PaymentLinkID *uint64            `json:"paymentLinkId,omitempty"`
	OrderID       *uint64            `json:"orderId,omitempty"`
	AccessCode    *string            `json:"accessCode,omitempty"`
	Action        model.AccessAction `json:"action"`
	IPAddress     string             `json:"ipAddress"`
	UserAgent     string             `json:"userAgent"`
	Details       map[string]any     `json:"details,omitempty"`
	AccessedAt    time.Time          `json:"accessedAt"`
}

func toAccessLogs(in []model.AccessLog) []accessLogResp {
	out := make([]accessLogResp, 0, len(in))
	for _, e := range in {
		out = append(out, accessLogResp{
			ID:            e.ID,
			PaymentLinkID: e.PaymentLinkID,
			OrderID:       e.OrderID,
			AccessCode:    e.AccessCode,
			Action:        e.Action,
			IPAddress:     e.IPAddress,
			UserAgent:     e.UserAgent,
			Details:       e.Details,
			AccessedAt:    e.AccessedAt,
		})
	}
	return out
}
