package model

import "time"

const (
	UsageDocumentIngested = "document_ingested"
	UsageTurnCompleted    = "turn_completed"
)

// UsageEvent is the payload published to the usage queue. Events carry
// identifiers only; turn content never leaves the process through this
// path.
type UsageEvent struct {
	Kind           string    `json:"kind"`
	RecordID       uint      `json:"record_id"`
	ConversationID string    `json:"conversation_id"`
	Role           string    `json:"role,omitempty"`
	At             time.Time `json:"at"`
}
