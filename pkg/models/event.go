// Package models defines the domain types shared between the store, the
// watch engine, the background analyzers, and the HTTP API.
package models

import (
	"encoding/json"
	"time"
)

// EventKind identifies the type of a recorded event. The set is closed:
// the store rejects kinds outside this enum.
type EventKind string

// Event kinds.
const (
	KindFileChange    EventKind = "file_change"
	KindFileDeleted   EventKind = "file_deleted"
	KindFolderCreated EventKind = "folder_created"
	KindFolderDeleted EventKind = "folder_deleted"
	KindPrompt        EventKind = "prompt"
	KindCopilotChat   EventKind = "copilot_chat"
	KindError         EventKind = "error"
	KindSummary       EventKind = "summary"
	KindAIMatch       EventKind = "ai_match"
	KindImplications  EventKind = "implications_analysis"
)

// Valid reports whether k is a member of the closed kind enum.
func (k EventKind) Valid() bool {
	switch k {
	case KindFileChange, KindFileDeleted, KindFolderCreated, KindFolderDeleted,
		KindPrompt, KindCopilotChat, KindError, KindSummary, KindAIMatch,
		KindImplications:
		return true
	}
	return false
}

// Event is an immutable, typed, timestamped record. Events are append-only
// and ordered by strictly increasing id. The payload is the serialized form
// of one of the payload structs in payloads.go, keyed by Kind.
type Event struct {
	ID        int64           `json:"id"`
	Timestamp time.Time       `json:"ts"`
	Kind      EventKind       `json:"kind"`
	Path      string          `json:"path"`
	Payload   json.RawMessage `json:"payload"`
	ProjectID *int64          `json:"project_id"`
}

// EventFilter selects events for listing. Zero values mean "no filter";
// Limit must be positive.
type EventFilter struct {
	ProjectID *int64
	Kind      EventKind
	Search    string
	Offset    int
	Limit     int
}

// EventPage is the pagination envelope returned by event listing.
// Page is offset/limit+1 (integer division), TotalPages rounds up.
type EventPage struct {
	Items      []Event `json:"items"`
	Total      int     `json:"total"`
	Offset     int     `json:"offset"`
	Limit      int     `json:"limit"`
	Page       int     `json:"page"`
	TotalPages int     `json:"total_pages"`
}

// NewEventPage assembles the pagination envelope from a result set.
func NewEventPage(items []Event, total, offset, limit int) EventPage {
	page := EventPage{
		Items:  items,
		Total:  total,
		Offset: offset,
		Limit:  limit,
	}
	if limit > 0 {
		page.Page = offset/limit + 1
		page.TotalPages = (total + limit - 1) / limit
	}
	if page.Items == nil {
		page.Items = []Event{}
	}
	return page
}
