package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/codetrail/codetrail/pkg/models"
)

type conversationRow struct {
	ID               int64         `db:"id"`
	ProjectID        sql.NullInt64 `db:"project_id"`
	SessionID        string        `db:"session_id"`
	Provider         string        `db:"ai_provider"`
	Model            string        `db:"ai_model"`
	TS               int64         `db:"ts"`
	ConversationType string        `db:"conversation_type"`
	UserPrompt       string        `db:"user_prompt"`
	AIResponse       string        `db:"ai_response"`
	ContextFiles     string        `db:"context_files"`
	CodeSnippets     string        `db:"code_snippets"`
	Metadata         string        `db:"metadata"`
	MatchedToEvents  string        `db:"matched_to_events"`
	ConfidenceScore  float64       `db:"confidence_score"`
}

const conversationColumns = `id, project_id, session_id, ai_provider, ai_model, ts,
	conversation_type, user_prompt, ai_response, context_files, code_snippets,
	metadata, matched_to_events, confidence_score`

func (r conversationRow) toModel() (models.AIConversation, error) {
	c := models.AIConversation{
		ID:               r.ID,
		SessionID:        r.SessionID,
		Provider:         r.Provider,
		Model:            r.Model,
		Timestamp:        time.Unix(r.TS, 0).UTC(),
		ConversationType: r.ConversationType,
		UserPrompt:       r.UserPrompt,
		AIResponse:       r.AIResponse,
		ConfidenceScore:  r.ConfidenceScore,
	}
	if r.ProjectID.Valid {
		id := r.ProjectID.Int64
		c.ProjectID = &id
	}

	for _, dec := range []struct {
		raw string
		def string
		dst any
	}{
		{r.ContextFiles, "[]", &c.ContextFiles},
		{r.CodeSnippets, "[]", &c.CodeSnippets},
		{r.Metadata, "{}", &c.Metadata},
		{r.MatchedToEvents, "[]", &c.MatchedToEvents},
	} {
		if err := json.Unmarshal([]byte(orDefault(dec.raw, dec.def)), dec.dst); err != nil {
			return c, fmt.Errorf("decode conversation %d: %w", r.ID, err)
		}
	}
	if c.ContextFiles == nil {
		c.ContextFiles = []string{}
	}
	if c.CodeSnippets == nil {
		c.CodeSnippets = []models.CodeSnippet{}
	}
	if c.MatchedToEvents == nil {
		c.MatchedToEvents = []int64{}
	}
	return c, nil
}

// InsertConversation stores a conversation and returns it with the assigned
// id. The caller is responsible for having filled SessionID, ContextFiles,
// and CodeSnippets (extraction happens in the service layer).
func (s *Store) InsertConversation(ctx context.Context, c models.AIConversation) (models.AIConversation, error) {
	if c.Provider == "" {
		return models.AIConversation{}, invalidf("ai_provider is required")
	}
	if c.UserPrompt == "" {
		return models.AIConversation{}, invalidf("user_prompt is required")
	}
	if c.ConversationType == "" {
		c.ConversationType = "chat"
	}
	if c.Timestamp.IsZero() {
		c.Timestamp = time.Now()
	}

	contextFiles, err := json.Marshal(emptyIfNil(c.ContextFiles))
	if err != nil {
		return models.AIConversation{}, fmt.Errorf("encode context files: %w", err)
	}
	snippets, err := json.Marshal(c.CodeSnippets)
	if err != nil {
		return models.AIConversation{}, fmt.Errorf("encode code snippets: %w", err)
	}
	if c.CodeSnippets == nil {
		snippets = []byte("[]")
	}
	meta, err := json.Marshal(c.Metadata)
	if err != nil {
		return models.AIConversation{}, fmt.Errorf("encode metadata: %w", err)
	}
	if c.Metadata == nil {
		meta = []byte("{}")
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO ai_conversations
			(project_id, session_id, ai_provider, ai_model, ts, conversation_type,
			 user_prompt, ai_response, context_files, code_snippets, metadata,
			 matched_to_events, confidence_score)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, '[]', 0)`,
		nullableID(c.ProjectID), c.SessionID, c.Provider, c.Model, c.Timestamp.Unix(),
		c.ConversationType, c.UserPrompt, c.AIResponse,
		string(contextFiles), string(snippets), string(meta))
	if err != nil {
		if isForeignKeyErr(err) {
			return models.AIConversation{}, fmt.Errorf("%w: project %v", ErrNotFound, c.ProjectID)
		}
		return models.AIConversation{}, fmt.Errorf("insert conversation: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return models.AIConversation{}, fmt.Errorf("read conversation id: %w", err)
	}

	c.ID = id
	c.Timestamp = time.Unix(c.Timestamp.Unix(), 0).UTC()
	c.MatchedToEvents = []int64{}
	return c, nil
}

// GetConversation reads a single conversation by id.
func (s *Store) GetConversation(ctx context.Context, id int64) (models.AIConversation, error) {
	var row conversationRow
	err := s.db.GetContext(ctx, &row,
		"SELECT "+conversationColumns+" FROM ai_conversations WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.AIConversation{}, fmt.Errorf("%w: conversation %d", ErrNotFound, id)
	}
	if err != nil {
		return models.AIConversation{}, fmt.Errorf("get conversation %d: %w", id, err)
	}
	return row.toModel()
}

// ListConversations returns one page of conversations, newest first, plus
// the total matching the same filters.
func (s *Store) ListConversations(ctx context.Context, filter models.ConversationFilter) ([]models.AIConversation, int, error) {
	if filter.Limit <= 0 || filter.Limit > maxListLimit {
		return nil, 0, invalidf("limit must be in [1,%d]", maxListLimit)
	}
	if filter.Offset < 0 {
		return nil, 0, invalidf("offset must be non-negative")
	}

	var conds []string
	var args []any
	if filter.ProjectID != nil {
		conds = append(conds, "project_id = ?")
		args = append(args, *filter.ProjectID)
	}
	if filter.Provider != "" {
		conds = append(conds, "ai_provider = ?")
		args = append(args, filter.Provider)
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := s.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM ai_conversations"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count conversations: %w", err)
	}

	var rows []conversationRow
	query := "SELECT " + conversationColumns + " FROM ai_conversations" + where +
		" ORDER BY ts DESC, id DESC LIMIT ? OFFSET ?"
	if err := s.db.SelectContext(ctx, &rows, query, append(args, filter.Limit, filter.Offset)...); err != nil {
		return nil, 0, fmt.Errorf("list conversations: %w", err)
	}

	out := make([]models.AIConversation, 0, len(rows))
	for _, row := range rows {
		c, err := row.toModel()
		if err != nil {
			return nil, 0, err
		}
		out = append(out, c)
	}
	return out, total, nil
}

// UpdateConversationMatches replaces matched_to_events and confidence_score.
// The correlator keeps the list equal to the set of event ids in the match
// rows for this conversation.
func (s *Store) UpdateConversationMatches(ctx context.Context, id int64, eventIDs []int64, confidence float64) error {
	if eventIDs == nil {
		eventIDs = []int64{}
	}
	matched, err := json.Marshal(eventIDs)
	if err != nil {
		return fmt.Errorf("encode matched events: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		"UPDATE ai_conversations SET matched_to_events = ?, confidence_score = ? WHERE id = ?",
		string(matched), confidence, id)
	if err != nil {
		return fmt.Errorf("update conversation matches: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: conversation %d", ErrNotFound, id)
	}
	return nil
}

// InsertMatch stores one conversation↔event match row.
func (s *Store) InsertMatch(ctx context.Context, m models.AICodeMatch) (models.AICodeMatch, error) {
	if !models.ValidMatchType(m.MatchType) {
		return models.AICodeMatch{}, invalidf("unknown match type %q", m.MatchType)
	}
	if m.Confidence < 0 || m.Confidence > 1 {
		return models.AICodeMatch{}, invalidf("confidence must be in [0,1]")
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO ai_code_matches
			(conversation_id, event_id, match_type, confidence, reasoning, file_overlap, time_delta, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ConversationID, m.EventID, m.MatchType, m.Confidence, m.Reasoning,
		m.FileOverlap, m.TimeDelta, m.CreatedAt.Unix())
	if err != nil {
		if isForeignKeyErr(err) {
			return models.AICodeMatch{}, fmt.Errorf("%w: conversation %d or event %d", ErrNotFound, m.ConversationID, m.EventID)
		}
		return models.AICodeMatch{}, fmt.Errorf("insert match: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return models.AICodeMatch{}, fmt.Errorf("read match id: %w", err)
	}
	m.ID = id
	m.CreatedAt = time.Unix(m.CreatedAt.Unix(), 0).UTC()
	return m, nil
}

// DeleteMatches removes all match rows for a conversation. A re-run of the
// correlator clears previous results first.
func (s *Store) DeleteMatches(ctx context.Context, conversationID int64) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM ai_code_matches WHERE conversation_id = ?", conversationID)
	if err != nil {
		return fmt.Errorf("delete matches of conversation %d: %w", conversationID, err)
	}
	return nil
}

type matchedChangeRow struct {
	EventID    int64          `db:"event_id"`
	MatchType  string         `db:"match_type"`
	Confidence float64        `db:"confidence"`
	Reasoning  string         `db:"reasoning"`
	TimeDelta  int64          `db:"time_delta"`
	Path       sql.NullString `db:"path"`
	Payload    sql.NullString `db:"payload"`
}

// MatchedChanges returns the joined match/event view for a conversation,
// sorted by descending confidence.
func (s *Store) MatchedChanges(ctx context.Context, conversationID int64) ([]models.MatchedChange, error) {
	var rows []matchedChangeRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT m.event_id, m.match_type, m.confidence, m.reasoning, m.time_delta,
		        e.path, e.payload
		 FROM ai_code_matches m
		 LEFT JOIN events e ON e.id = m.event_id
		 WHERE m.conversation_id = ?
		 ORDER BY m.confidence DESC, m.id ASC`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("matched changes of conversation %d: %w", conversationID, err)
	}

	out := make([]models.MatchedChange, 0, len(rows))
	for _, row := range rows {
		mc := models.MatchedChange{
			EventID:    row.EventID,
			MatchType:  row.MatchType,
			Confidence: row.Confidence,
			Reasoning:  row.Reasoning,
			TimeDelta:  row.TimeDelta,
		}
		if row.Path.Valid {
			mc.Path = row.Path.String
		}
		if row.Payload.Valid {
			var payload models.FileChangePayload
			if err := json.Unmarshal([]byte(row.Payload.String), &payload); err == nil {
				mc.Diff = payload.Diff
			}
		}
		out = append(out, mc)
	}
	return out, nil
}

// AIStats aggregates conversation counts, optionally scoped to a project.
func (s *Store) AIStats(ctx context.Context, projectID *int64) (models.AIStats, error) {
	where := ""
	var args []any
	if projectID != nil {
		where = " WHERE project_id = ?"
		args = append(args, *projectID)
	}

	var stats models.AIStats
	if err := s.db.GetContext(ctx, &stats.TotalConversations,
		"SELECT COUNT(*) FROM ai_conversations"+where, args...); err != nil {
		return stats, fmt.Errorf("count conversations: %w", err)
	}

	matchedWhere := where
	if matchedWhere == "" {
		matchedWhere = " WHERE matched_to_events != '[]'"
	} else {
		matchedWhere += " AND matched_to_events != '[]'"
	}
	if err := s.db.GetContext(ctx, &stats.MatchedConversations,
		"SELECT COUNT(*) FROM ai_conversations"+matchedWhere, args...); err != nil {
		return stats, fmt.Errorf("count matched conversations: %w", err)
	}
	stats.UnmatchedConversations = stats.TotalConversations - stats.MatchedConversations

	type providerRow struct {
		Provider string `db:"ai_provider"`
		Count    int    `db:"n"`
	}
	var providers []providerRow
	if err := s.db.SelectContext(ctx, &providers,
		"SELECT ai_provider, COUNT(*) AS n FROM ai_conversations"+where+
			" GROUP BY ai_provider ORDER BY n DESC", args...); err != nil {
		return stats, fmt.Errorf("provider breakdown: %w", err)
	}

	stats.ByProvider = make([]models.ProviderCount, len(providers))
	for i, p := range providers {
		stats.ByProvider[i] = models.ProviderCount{Provider: p.Provider, Count: p.Count}
	}
	return stats, nil
}
