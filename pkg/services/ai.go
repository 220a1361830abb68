package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/codetrail/codetrail/pkg/correlate"
	"github.com/codetrail/codetrail/pkg/models"
	"github.com/codetrail/codetrail/pkg/queue"
	"github.com/codetrail/codetrail/pkg/store"
)

// AIService ingests AI conversations and exposes their correlation
// results. Correlation itself runs on the worker pool; ingest returns
// as soon as the conversation is durable.
type AIService struct {
	store      *store.Store
	pool       *queue.Pool
	correlator *correlate.Correlator
	logger     *slog.Logger
}

func NewAIService(st *store.Store, pool *queue.Pool, correlator *correlate.Correlator, logger *slog.Logger) *AIService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AIService{
		store:      st,
		pool:       pool,
		correlator: correlator,
		logger:     logger.With("component", "ai_service"),
	}
}

// Ingest stores a conversation, generates a session id and derives code
// snippets and file references when the caller did not provide them,
// and schedules a correlation run.
func (s *AIService) Ingest(ctx context.Context, conv models.AIConversation) (models.AIConversation, error) {
	if conv.SessionID == "" {
		conv.SessionID = uuid.New().String()
	}
	if len(conv.CodeSnippets) == 0 {
		conv.CodeSnippets = correlate.ExtractCodeSnippets(conv.AIResponse)
	}
	if len(conv.ContextFiles) == 0 {
		refs := correlate.ExtractFileRefs(conv.UserPrompt)
		refs = append(refs, correlate.ExtractFileRefs(conv.AIResponse)...)
		conv.ContextFiles = dedup(refs)
	}

	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	inserted, err := s.store.InsertConversation(opCtx, conv)
	if err != nil {
		return models.AIConversation{}, err
	}

	if s.pool != nil && s.correlator != nil {
		id := inserted.ID
		if !s.pool.Submit(func(taskCtx context.Context) {
			if err := s.correlator.Run(taskCtx, id); err != nil {
				s.logger.Warn("Correlation failed", "conversation_id", id, "error", err)
			}
		}) {
			s.logger.Warn("Correlation not scheduled, pool saturated", "conversation_id", id)
		}
	}
	return inserted, nil
}

// Get returns a single conversation.
func (s *AIService) Get(ctx context.Context, id int64) (models.AIConversation, error) {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return s.store.GetConversation(opCtx, id)
}

// List returns one page of conversations, newest first.
func (s *AIService) List(ctx context.Context, filter models.ConversationFilter) (models.ConversationPage, error) {
	if filter.Limit <= 0 {
		filter.Limit = 50
	}

	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	items, total, err := s.store.ListConversations(opCtx, filter)
	if err != nil {
		return models.ConversationPage{}, err
	}
	return models.NewConversationPage(items, total, filter.Offset, filter.Limit), nil
}

// Timeline returns a conversation joined with its matched changes.
func (s *AIService) Timeline(ctx context.Context, id int64) (models.ConversationTimeline, error) {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	conv, err := s.store.GetConversation(opCtx, id)
	if err != nil {
		return models.ConversationTimeline{}, err
	}
	changes, err := s.store.MatchedChanges(opCtx, id)
	if err != nil {
		return models.ConversationTimeline{}, err
	}
	return models.ConversationTimeline{Conversation: conv, MatchedChanges: changes}, nil
}

// Stats returns conversation totals and the per-provider breakdown.
func (s *AIService) Stats(ctx context.Context, projectID *int64) (models.AIStats, error) {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return s.store.AIStats(opCtx, projectID)
}

// Rematch runs the correlator synchronously for one conversation and
// returns the refreshed timeline.
func (s *AIService) Rematch(ctx context.Context, id int64) (models.ConversationTimeline, error) {
	runCtx, cancel := context.WithTimeout(ctx, 90*time.Second)
	defer cancel()
	if err := s.correlator.Run(runCtx, id); err != nil {
		return models.ConversationTimeline{}, err
	}
	return s.Timeline(ctx, id)
}

func dedup(xs []string) []string {
	seen := make(map[string]bool, len(xs))
	var out []string
	for _, x := range xs {
		if !seen[x] {
			seen[x] = true
			out = append(out, x)
		}
	}
	return out
}
