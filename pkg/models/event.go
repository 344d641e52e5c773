package models

import (
	"time"
)

// Event is an immutable fact appended to the ledger before any external
// relay. Retention and compaction are an external concern; the hub never
// updates or deletes events.
type Event struct {
	ID            string                 `json:"id" db:"id"`
	Subject       string                 `json:"subject" db:"subject"`
	Origin        string                 `json:"origin" db:"origin"`
	CorrelationID string                 `json:"correlation_id" db:"correlation_id"`
	Payload       map[string]interface{} `json:"payload,omitempty" db:"payload"`
	Timestamp     time.Time              `json:"timestamp" db:"timestamp"`
}
