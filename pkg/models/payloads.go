package models

import (
	"encoding/json"
	"fmt"
)

// EventPayload is the closed tagged union over event kinds. Each payload
// struct reports the kind it belongs to; Marshal pairs the two so a payload
// can never be appended under the wrong kind.
type EventPayload interface {
	EventKind() EventKind
}

// MarshalPayload serializes a typed payload for storage.
func MarshalPayload(p EventPayload) (json.RawMessage, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", p.EventKind(), err)
	}
	return data, nil
}

// FileChangePayload accompanies file_change events.
// Baseline records where the previous content came from: "cache" for the
// observed-content cache (empty on a first sighting outside git), "head"
// for a first observation seeded from the git HEAD blob.
type FileChangePayload struct {
	Event    string `json:"event"` // "created" or "modified"
	Diff     string `json:"diff"`
	SHA      string `json:"sha"`
	Size     int    `json:"size"`
	Baseline string `json:"baseline"` // "cache" or "head"
}

func (FileChangePayload) EventKind() EventKind { return KindFileChange }

// FileDeletedPayload accompanies file_deleted events.
type FileDeletedPayload struct {
	Event string `json:"event"` // always "deleted"
}

func (FileDeletedPayload) EventKind() EventKind { return KindFileDeleted }

// FolderCreatedPayload accompanies folder_created events.
type FolderCreatedPayload struct {
	Event string `json:"event"` // always "created"
	Type  string `json:"type"`  // always "directory"
}

func (FolderCreatedPayload) EventKind() EventKind { return KindFolderCreated }

// FolderDeletedPayload accompanies folder_deleted events.
type FolderDeletedPayload struct {
	Event string `json:"event"` // always "deleted"
	Type  string `json:"type"`  // always "directory"
}

func (FolderDeletedPayload) EventKind() EventKind { return KindFolderDeleted }

// PromptPayload accompanies prompt events captured from editors and hooks.
type PromptPayload struct {
	Text   string `json:"text"`
	Source string `json:"source,omitempty"`
	Model  string `json:"model,omitempty"`
}

func (PromptPayload) EventKind() EventKind { return KindPrompt }

// CopilotChatPayload accompanies copilot_chat events.
type CopilotChatPayload struct {
	Prompt         string `json:"prompt"`
	Response       string `json:"response"`
	Source         string `json:"source,omitempty"`
	Model          string `json:"model,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
}

func (CopilotChatPayload) EventKind() EventKind { return KindCopilotChat }

// ErrorPayload accompanies error events, including watcher failures.
type ErrorPayload struct {
	Message string         `json:"message"`
	Context map[string]any `json:"context,omitempty"`
}

func (ErrorPayload) EventKind() EventKind { return KindError }

// SummaryPayload accompanies summary events produced by the LLM journaler.
type SummaryPayload struct {
	Content string `json:"content"`
	Model   string `json:"model,omitempty"`
}

func (SummaryPayload) EventKind() EventKind { return KindSummary }

// AIMatchPayload accompanies ai_match events appended after a correlation run.
type AIMatchPayload struct {
	PromptCount     int `json:"prompt_count"`
	CodeChangeCount int `json:"code_change_count"`
	MatchCount      int `json:"match_count"`
}

func (AIMatchPayload) EventKind() EventKind { return KindAIMatch }

// ImplicationsPayload accompanies implications_analysis events.
type ImplicationsPayload struct {
	Content    string `json:"content"`
	ProjectID  int64  `json:"project_id"`
	EventCount int    `json:"event_count"`
	Model      string `json:"model,omitempty"`
	Hours      int    `json:"hours,omitempty"`
}

func (ImplicationsPayload) EventKind() EventKind { return KindImplications }
