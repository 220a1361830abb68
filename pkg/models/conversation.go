package models

import "time"

// CodeSnippet is a fenced code block extracted from an AI response.
type CodeSnippet struct {
	Language  string `json:"language"`
	Text      string `json:"text"`
	LineCount int    `json:"line_count"`
}

// AIConversation is one prompt/response exchange with an external AI
// assistant. Multiple exchanges may share a SessionID. MatchedToEvents and
// ConfidenceScore are maintained by the correlator.
type AIConversation struct {
	ID               int64          `json:"id"`
	ProjectID        *int64         `json:"project_id"`
	SessionID        string         `json:"session_id"`
	Provider         string         `json:"ai_provider"`
	Model            string         `json:"ai_model,omitempty"`
	Timestamp        time.Time      `json:"timestamp"`
	ConversationType string         `json:"conversation_type"`
	UserPrompt       string         `json:"user_prompt"`
	AIResponse       string         `json:"ai_response"`
	ContextFiles     []string       `json:"context_files"`
	CodeSnippets     []CodeSnippet  `json:"code_snippets"`
	Metadata         map[string]any `json:"metadata"`
	MatchedToEvents  []int64        `json:"matched_to_events"`
	ConfidenceScore  float64        `json:"confidence_score"`
}

// ConversationFilter selects conversations for listing.
type ConversationFilter struct {
	ProjectID *int64
	Provider  string
	Offset    int
	Limit     int
}

// ConversationPage is the pagination envelope returned by conversation
// listing, with the same shape as EventPage.
type ConversationPage struct {
	Items      []AIConversation `json:"items"`
	Total      int              `json:"total"`
	Offset     int              `json:"offset"`
	Limit      int              `json:"limit"`
	Page       int              `json:"page"`
	TotalPages int              `json:"total_pages"`
}

// NewConversationPage assembles the pagination envelope from a result set.
func NewConversationPage(items []AIConversation, total, offset, limit int) ConversationPage {
	page := ConversationPage{
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
		page.Items = []AIConversation{}
	}
	return page
}

// Match categories. "direct" means the change implements the conversation's
// code, "related" means it touches the same area, "suggested" means the
// conversation plausibly prompted it.
const (
	MatchDirect    = "direct"
	MatchRelated   = "related"
	MatchSuggested = "suggested"
)

// ValidMatchType reports whether t is a known match category.
func ValidMatchType(t string) bool {
	return t == MatchDirect || t == MatchRelated || t == MatchSuggested
}

// AICodeMatch links a conversation to a file_change event. TimeDelta is the
// event instant minus the conversation instant, in seconds (signed).
type AICodeMatch struct {
	ID             int64     `json:"id"`
	ConversationID int64     `json:"conversation_id"`
	EventID        int64     `json:"event_id"`
	MatchType      string    `json:"match_type"`
	Confidence     float64   `json:"confidence"`
	Reasoning      string    `json:"reasoning"`
	FileOverlap    int       `json:"file_overlap"`
	TimeDelta      int64     `json:"time_delta"`
	CreatedAt      time.Time `json:"created_at"`
}

// MatchedChange is the joined view of a match and its event, returned by the
// conversation timeline. Diff is present only for file_change events.
type MatchedChange struct {
	EventID    int64   `json:"event_id"`
	Path       string  `json:"path"`
	MatchType  string  `json:"match_type"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
	TimeDelta  int64   `json:"time_delta_seconds"`
	Diff       string  `json:"diff,omitempty"`
}

// ConversationTimeline is a conversation with its matched changes, sorted by
// descending confidence.
type ConversationTimeline struct {
	Conversation   AIConversation  `json:"conversation"`
	MatchedChanges []MatchedChange `json:"matched_changes"`
}

// ProviderCount is one row of the per-provider conversation breakdown.
type ProviderCount struct {
	Provider string `json:"provider"`
	Count    int    `json:"count"`
}

// AIStats aggregates conversation counts for the stats endpoint.
type AIStats struct {
	TotalConversations     int             `json:"total_conversations"`
	MatchedConversations   int             `json:"matched_conversations"`
	UnmatchedConversations int             `json:"unmatched_conversations"`
	ByProvider             []ProviderCount `json:"by_provider"`
}
