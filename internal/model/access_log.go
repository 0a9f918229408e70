package model

import "time"

type AccessAction string

const (
	ActionViewed           AccessAction = "viewed"
	ActionExpired          AccessAction = "expired"
	ActionPaymentAttempted AccessAction = "payment_attempted"
	ActionPaymentSucceeded AccessAction = "payment_succeeded"
	ActionPaymentFailed    AccessAction = "payment_failed"
	ActionCancelled        AccessAction = "cancelled"
	ActionResent           AccessAction = "resent"
	ActionCodeValidated    AccessAction = "code_validated"
	ActionCodeRejected     AccessAction = "code_rejected"
	ActionVideoURLsIssued  AccessAction = "video_urls_issued"
)

// AccessLog is an append-only audit row for payment-link and access-code
// activity. Rows are only removed by the retention job.
type AccessLog struct {
	ID            uint64         // access_logs.id
	PaymentLinkID *uint64        // access_logs.payment_link_id
	OrderID       *uint64        // access_logs.order_id
	AccessCode    *string        // access_logs.access_code
	Action        AccessAction   // access_logs.action
	IPAddress     string         // access_logs.ip_address
	UserAgent     string         // access_logs.user_agent
	Details       map[string]any // access_logs.details (JSON)
	AccessedAt    time.Time      // access_logs.accessed_at
}
