package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderPaid      OrderStatus = "paid"
	OrderCompleted OrderStatus = "completed"
	OrderFulfilled OrderStatus = "fulfilled"
	OrderFailed    OrderStatus = "failed"
)

type MediaType string

const (
	MediaNone    MediaType = "none"
	MediaDVD     MediaType = "dvd"
	MediaDigital MediaType = "digital"
	MediaBoth    MediaType = "both"
)

// MediaTypeFor derives the media type from the purchased quantities.
func MediaTypeFor(dvds, digital int) MediaType {
	switch {
	case dvds > 0 && digital > 0:
		return MediaBoth
	case dvds > 0:
		return MediaDVD
	case digital > 0:
		return MediaDigital
	default:
		return MediaNone
	}
}

type MediaStatus string

const (
	MediaStatusPending   MediaStatus = "pending"
	MediaStatusFulfilled MediaStatus = "fulfilled"
)

// OrderSource records which flow created the order.
type OrderSource string

const (
	SourceCheckout    OrderSource = "checkout"
	SourcePaymentLink OrderSource = "payment_link"
)

// Order is one payment transaction. AccessCode is set iff the order carries
// a digital entitlement, and only unlocks content once MediaStatus is
// fulfilled.
type Order struct {
	ID                   uint64          // orders.id
	UserID               *uint64         // orders.user_id (nullable for payment-link sales)
	CustomerEmail        string          // orders.customer_email
	CustomerName         string          // orders.customer_name
	TotalAmount          decimal.Decimal // orders.total_amount
	Status               OrderStatus     // orders.status
	StripePaymentID      *string         // orders.stripe_payment_id (unique)
	DVDCount             int             // orders.dvd_count
	DigitalDownloadCount int             // orders.digital_download_count
	MediaType            MediaType       // orders.media_type
	MediaStatus          MediaStatus     // orders.media_status
	AccessCode           *string         // orders.access_code (unique)
	AccessCodeEmailed    bool            // orders.access_code_emailed
	PrintInfo            []byte          // orders.print_info (JSON, nullable)
	FailureDetail        *string         // orders.failure_detail
	Source               OrderSource     // orders.source
	Notes                *string         // orders.notes
	CreatedAt            time.Time       // orders.created_at
	UpdatedAt            time.Time       // orders.updated_at
}

// HasDigitalEntitlement reports whether the order grants video access.
func (o Order) HasDigitalEntitlement() bool {
	return o.DigitalDownloadCount > 0 || o.MediaType == MediaDigital || o.MediaType == MediaBoth
}

// SalesTotals is the aggregate shown on the admin dashboard.
type SalesTotals struct {
	Revenue      decimal.Decimal `json:"revenue"`
	Orders       int64           `json:"orders"`
	TicketsSold  int64           `json:"ticketsSold"`
	DVDs         int64           `json:"dvds"`
	Digital      int64           `json:"digitalDownloads"`
	FailedOrders int64           `json:"failedOrders"`
	ComputedAt   time.Time       `json:"computedAt"`
}
