package idempotency

import "time"

// Status values for journal entries
const (
	StatusInProgress = "IN_PROGRESS"
	StatusDone       = "DONE"
	StatusFailed     = "FAILED"
)

// Delivery is one webhook delivery recorded in the journal table.
type Delivery struct {
	DeliveryKey string    `dynamodbav:"delivery_key"` // PK
	Status      string    `dynamodbav:"status"`
	OrderID     string    `dynamodbav:"order_id,omitempty"`
	Outcome     string    `dynamodbav:"outcome,omitempty"`
	Note        string    `dynamodbav:"note,omitempty"`
	StartedAt   int64     `dynamodbav:"started_at"` // epoch seconds
	CreatedAt   time.Time `dynamodbav:"created_at"`
	UpdatedAt   time.Time `dynamodbav:"updated_at"`
	ExpiresAt   int64     `dynamodbav:"expires_at"` // TTL epoch seconds
}
