package rmsmodels

import (
	"time"
)

// QueueMessage is the durable queue envelope. It is owned by the queue while
// in flight; Attempts counts failed processing cycles and Error keeps the
// last failure description for DLQ inspection.
type QueueMessage struct {
	ID            string          `bson:"id" json:"id" msgpack:"id"`
	Data          EnrichedReading `bson:"data" json:"data" msgpack:"data"`
	Attempts      int             `bson:"attempts" json:"attempts" msgpack:"attempts"`
	CreatedAt     time.Time       `bson:"created_at" json:"created_at" msgpack:"created_at"`
	LastAttemptAt *time.Time      `bson:"last_attempt_at,omitempty" json:"last_attempt_at,omitempty" msgpack:"last_attempt_at,omitempty"`
	Error         string          `bson:"error,omitempty" json:"error,omitempty" msgpack:"error,omitempty"`
}
