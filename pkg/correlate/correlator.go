package correlate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/codetrail/codetrail/pkg/llm"
	"github.com/codetrail/codetrail/pkg/models"
)

// Prompt material is trimmed hard; candidate lists multiply fast and
// the scoring model only needs enough context to recognize a change.
const (
	maxPromptChars   = 500
	maxResponseChars = 1000
	maxDiffChars     = 300
	maxCandidates    = 50
)

// Store is the persistence surface the correlator needs.
type Store interface {
	GetConversation(ctx context.Context, id int64) (models.AIConversation, error)
	CodeChangeEventsInWindow(ctx context.Context, projectID *int64, from, to time.Time, limit int) ([]models.Event, error)
	DeleteMatches(ctx context.Context, conversationID int64) error
	InsertMatch(ctx context.Context, m models.AICodeMatch) (models.AICodeMatch, error)
	UpdateConversationMatches(ctx context.Context, id int64, eventIDs []int64, confidence float64) error
}

// Recorder appends and broadcasts an event.
type Recorder interface {
	Record(ctx context.Context, projectID *int64, kind models.EventKind, path string, payload models.EventPayload)
}

// Correlator matches one conversation at a time against file changes
// recorded within the match window around the conversation instant.
type Correlator struct {
	store    Store
	recorder Recorder
	client   llm.Client
	model    string
	window   time.Duration
	logger   *slog.Logger
}

func New(store Store, recorder Recorder, client llm.Client, matchingModel string, window time.Duration, logger *slog.Logger) *Correlator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Correlator{
		store:    store,
		recorder: recorder,
		client:   client,
		model:    matchingModel,
		window:   window,
		logger:   logger.With("component", "correlator"),
	}
}

// scoredMatch is the shape the scoring model must return per match.
type scoredMatch struct {
	EventID    int64   `json:"event_id"`
	MatchType  string  `json:"match_type"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// Run correlates a single conversation. Previous matches of the same
// conversation are replaced, so reruns are idempotent.
func (c *Correlator) Run(ctx context.Context, conversationID int64) error {
	conv, err := c.store.GetConversation(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("load conversation %d: %w", conversationID, err)
	}

	from := conv.Timestamp.Add(-c.window)
	to := conv.Timestamp.Add(c.window)
	candidates, err := c.store.CodeChangeEventsInWindow(ctx, conv.ProjectID, from, to, maxCandidates)
	if err != nil {
		return fmt.Errorf("load candidate changes: %w", err)
	}

	refs := conversationFileRefs(conv)

	var scored []scoredMatch
	if len(candidates) > 0 {
		if c.client.Enabled() {
			scored, err = c.scoreWithModel(ctx, conv, candidates)
			if err != nil {
				c.logger.Warn("Model scoring failed, falling back to file overlap",
					"conversation_id", conv.ID, "error", err)
				scored = overlapMatches(refs, candidates, conv.Timestamp)
			}
		} else {
			scored = overlapMatches(refs, candidates, conv.Timestamp)
		}
	}
	scored = validMatches(scored, candidates)

	if err := c.persist(ctx, conv, refs, scored, candidates); err != nil {
		return err
	}

	c.recorder.Record(ctx, conv.ProjectID, models.KindAIMatch, "", models.AIMatchPayload{
		PromptCount:     1,
		CodeChangeCount: len(candidates),
		MatchCount:      len(scored),
	})
	c.logger.Info("Conversation correlated",
		"conversation_id", conv.ID,
		"candidates", len(candidates),
		"matches", len(scored))
	return nil
}

func (c *Correlator) persist(ctx context.Context, conv models.AIConversation, refs []string, scored []scoredMatch, candidates []models.Event) error {
	if err := c.store.DeleteMatches(ctx, conv.ID); err != nil {
		return fmt.Errorf("clear previous matches: %w", err)
	}

	byID := make(map[int64]models.Event, len(candidates))
	for _, evt := range candidates {
		byID[evt.ID] = evt
	}

	eventIDs := make([]int64, 0, len(scored))
	var confidenceSum float64
	for _, m := range scored {
		evt := byID[m.EventID]
		overlap := 0
		if FileOverlap(refs, evt.Path) {
			overlap = 1
		}
		_, err := c.store.InsertMatch(ctx, models.AICodeMatch{
			ConversationID: conv.ID,
			EventID:        m.EventID,
			MatchType:      m.MatchType,
			Confidence:     m.Confidence,
			Reasoning:      m.Reasoning,
			FileOverlap:    overlap,
			TimeDelta:      int64(evt.Timestamp.Sub(conv.Timestamp).Seconds()),
		})
		if err != nil {
			return fmt.Errorf("insert match for event %d: %w", m.EventID, err)
		}
		eventIDs = append(eventIDs, m.EventID)
		confidenceSum += m.Confidence
	}

	// The conversation-level score is the mean over its matches; a
	// single lucky high-confidence match should not mask weak ones.
	var confidence float64
	if len(eventIDs) > 0 {
		confidence = confidenceSum / float64(len(eventIDs))
	}
	if err := c.store.UpdateConversationMatches(ctx, conv.ID, eventIDs, confidence); err != nil {
		return fmt.Errorf("update conversation matches: %w", err)
	}
	return nil
}

func (c *Correlator) scoreWithModel(ctx context.Context, conv models.AIConversation, candidates []models.Event) ([]scoredMatch, error) {
	out, err := c.client.Complete(ctx, llm.Request{
		Model:  c.model,
		System: matchingSystemPrompt,
		User:   buildMatchingPrompt(conv, candidates),
		JSON:   true,
	})
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Matches []scoredMatch `json:"matches"`
	}
	if err := json.Unmarshal([]byte(out), &parsed); err != nil {
		return nil, fmt.Errorf("parse matching response: %w", err)
	}
	return parsed.Matches, nil
}

const matchingSystemPrompt = `You link AI assistant conversations to file changes recorded around the same time.
Given one conversation and a list of candidate changes, decide which changes the conversation produced or influenced.
Respond with a JSON object: {"matches": [{"event_id": <id>, "match_type": "direct"|"related"|"suggested", "confidence": 0.0-1.0, "reasoning": "<short>"}]}.
Only include candidates you are reasonably confident about. An empty matches list is a valid answer.`

func buildMatchingPrompt(conv models.AIConversation, candidates []models.Event) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Conversation at %s:\n", conv.Timestamp.Format(time.RFC3339))
	fmt.Fprintf(&sb, "User prompt: %s\n", safeTrim(conv.UserPrompt, maxPromptChars))
	fmt.Fprintf(&sb, "AI response: %s\n", safeTrim(conv.AIResponse, maxResponseChars))
	if len(conv.ContextFiles) > 0 {
		fmt.Fprintf(&sb, "Context files: %s\n", strings.Join(conv.ContextFiles, ", "))
	}

	sb.WriteString("\nCandidate file changes:\n")
	for _, evt := range candidates {
		delta := int64(evt.Timestamp.Sub(conv.Timestamp).Seconds())
		fmt.Fprintf(&sb, "- event_id=%d path=%s delta_seconds=%+d\n", evt.ID, evt.Path, delta)
		var payload models.FileChangePayload
		if err := json.Unmarshal(evt.Payload, &payload); err == nil && payload.Diff != "" {
			fmt.Fprintf(&sb, "  diff: %s\n", safeTrim(payload.Diff, maxDiffChars))
		}
	}
	return sb.String()
}

// overlapMatches is the heuristic used when no model is available: a
// change whose path the conversation mentions is a related match.
func overlapMatches(refs []string, candidates []models.Event, _ time.Time) []scoredMatch {
	var out []scoredMatch
	for _, evt := range candidates {
		if !FileOverlap(refs, evt.Path) {
			continue
		}
		out = append(out, scoredMatch{
			EventID:    evt.ID,
			MatchType:  models.MatchRelated,
			Confidence: 0.5,
			Reasoning:  "file mentioned in conversation",
		})
	}
	return out
}

// validMatches drops hallucinated event ids, unknown match types, and
// clamps confidence into [0,1].
func validMatches(scored []scoredMatch, candidates []models.Event) []scoredMatch {
	known := make(map[int64]bool, len(candidates))
	for _, evt := range candidates {
		known[evt.ID] = true
	}

	out := scored[:0]
	seen := make(map[int64]bool)
	for _, m := range scored {
		if !known[m.EventID] || seen[m.EventID] {
			continue
		}
		if !models.ValidMatchType(m.MatchType) {
			m.MatchType = models.MatchRelated
		}
		if m.Confidence < 0 {
			m.Confidence = 0
		}
		if m.Confidence > 1 {
			m.Confidence = 1
		}
		seen[m.EventID] = true
		out = append(out, m)
	}
	return out
}

func conversationFileRefs(conv models.AIConversation) []string {
	refs := append([]string{}, conv.ContextFiles...)
	refs = append(refs, ExtractFileRefs(conv.UserPrompt)...)
	refs = append(refs, ExtractFileRefs(conv.AIResponse)...)
	return refs
}

// safeTrim truncates s to limit runes and notes how much was dropped.
func safeTrim(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	dropped := len(runes) - limit
	return string(runes[:limit]) + fmt.Sprintf("... [truncated %d chars]", dropped)
}
