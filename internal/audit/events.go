// Package audit defines the events the directory publishes about review
// actions, searches and record changes, and aggregates them for the audit
// service.
package audit

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventReview       EventType = "review"
	EventFilter       EventType = "filter"
	EventRecordChange EventType = "record_change"
)

// Review actions.
const (
	ActionVerify          = "verify"
	ActionReject          = "reject"
	ActionNotify          = "notify"
	ActionDelete          = "delete"
	ActionConditionUpdate = "condition_update"
	ActionAssetUpdate     = "asset_update"
)

// Outcomes of a review action.
const (
	OutcomeSuccess  = "success"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

// Envelope is decoded first to dispatch on Type.
type Envelope struct {
	Type EventType `json:"type"`
}

// ReviewEvent records one staff action against a record.
type ReviewEvent struct {
	Type       EventType `json:"type"`
	ID         string    `json:"id"`
	Action     string    `json:"action"`
	Collection string    `json:"collection"`
	RecordID   string    `json:"record_id"`
	ActorKeyID string    `json:"actor_key_id,omitempty"`
	ActorName  string    `json:"actor_name,omitempty"`
	Roles      []string  `json:"roles,omitempty"`
	Remarks    string    `json:"remarks,omitempty"`
	Condition  string    `json:"condition,omitempty"`
	AssetType  string    `json:"asset_type,omitempty"`
	Outcome    string    `json:"outcome"`
	Timestamp  time.Time `json:"timestamp"`
	RequestID  string    `json:"request_id,omitempty"`
}

// NewReviewEvent stamps a review event with a fresh id and the current time.
func NewReviewEvent(action, collection, recordID string) ReviewEvent {
	return ReviewEvent{
		Type:       EventReview,
		ID:         uuid.NewString(),
		Action:     action,
		Collection: collection,
		RecordID:   recordID,
		Outcome:    OutcomeSuccess,
		Timestamp:  time.Now().UTC(),
	}
}

// FilterEvent records one applied search. Fields lists the criteria keys
// that were applied, never their values.
type FilterEvent struct {
	Type       EventType `json:"type"`
	Collection string    `json:"collection"`
	Mode       string    `json:"mode"`
	State      string    `json:"state"`
	Fields     []string  `json:"fields"`
	Count      int       `json:"count"`
	LatencyMs  int64     `json:"latency_ms"`
	Timestamp  time.Time `json:"timestamp"`
	RequestID  string    `json:"request_id,omitempty"`
}

// RecordChangeEvent announces that a record was mutated, so cached lists of
// its collection are stale.
type RecordChangeEvent struct {
	Type       EventType `json:"type"`
	Collection string    `json:"collection"`
	RecordID   string    `json:"record_id"`
	Action     string    `json:"action"`
	Timestamp  time.Time `json:"timestamp"`
}

// NewRecordChange builds a RecordChangeEvent stamped now.
func NewRecordChange(collection, recordID, action string) RecordChangeEvent {
	return RecordChangeEvent{
		Type:       EventRecordChange,
		Collection: collection,
		RecordID:   recordID,
		Action:     action,
		Timestamp:  time.Now().UTC(),
	}
}
