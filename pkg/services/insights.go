package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"

	"github.com/codetrail/codetrail/pkg/llm"
	"github.com/codetrail/codetrail/pkg/models"
	"github.com/codetrail/codetrail/pkg/store"
)

// Digest truncation budgets. The summary digest is a flat text log of
// recent events; individual fields are trimmed so one huge diff cannot
// crowd out the rest.
const (
	digestDiffChars     = 400
	digestPromptChars   = 300
	digestSnippetChars  = 200
	implicationsLimit   = 100
	implicationsDiffCap = 500
)

// InsightService runs the on-demand LLM endpoints: activity summaries,
// single-change analysis, and implications digests.
type InsightService struct {
	store    *store.Store
	events   *EventService
	client   llm.Client
	model    string
	repoPath string

	eventLimit int
	charLimit  int
	logger     *slog.Logger
}

func NewInsightService(st *store.Store, eventSvc *EventService, client llm.Client, model, repoPath string, eventLimit, charLimit int, logger *slog.Logger) *InsightService {
	if logger == nil {
		logger = slog.Default()
	}
	return &InsightService{
		store:      st,
		events:     eventSvc,
		client:     client,
		model:      model,
		repoPath:   repoPath,
		eventLimit: eventLimit,
		charLimit:  charLimit,
		logger:     logger.With("component", "insight_service"),
	}
}

// RunSummary digests recent events, asks the model for a bullet
// summary, and records it as a summary event. Returns ErrDisabled when
// no API key is configured.
func (s *InsightService) RunSummary(ctx context.Context, projectID *int64) (string, error) {
	if !s.client.Enabled() {
		return "", llm.ErrDisabled
	}

	digest, err := s.buildDigest(ctx, projectID)
	if err != nil {
		return "", err
	}

	out, err := s.client.Complete(ctx, llm.Request{
		Model: s.model,
		System: "You are a diligent software project journaler. " +
			"Given recent repository events, produce a concise, bullet-style summary " +
			"covering changed areas, notable diffs, prompts/conversations, and errors. " +
			"Keep it under 200 words. If information is missing, state that briefly.",
		User:      digest,
		MaxTokens: 400,
	})
	if err != nil {
		return "", fmt.Errorf("generate summary: %w", err)
	}
	summary := strings.TrimSpace(out)

	s.events.Record(ctx, projectID, models.KindSummary, "", models.SummaryPayload{
		Content: summary,
		Model:   s.model,
	})
	return summary, nil
}

// LatestSummary returns the newest summary event.
func (s *InsightService) LatestSummary(ctx context.Context, projectID *int64) (models.Event, error) {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return s.store.LatestEventOfKind(opCtx, models.KindSummary, projectID)
}

// AnalyzeChange reviews one recorded diff. Events without a diff get a
// fixed message instead of a model call.
func (s *InsightService) AnalyzeChange(ctx context.Context, eventID int64) (analysis, path string, err error) {
	if !s.client.Enabled() {
		return "", "", llm.ErrDisabled
	}

	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	evt, err := s.store.GetEvent(opCtx, eventID)
	if err != nil {
		return "", "", err
	}

	var payload models.FileChangePayload
	if err := json.Unmarshal(evt.Payload, &payload); err != nil || payload.Diff == "" {
		return "No diff available for this event.", evt.Path, nil
	}

	out, err := s.client.Complete(ctx, llm.Request{
		Model: s.model,
		System: "You are a senior software engineer reviewing a code change. " +
			"Analyze the diff and explain:\n" +
			"1. What was changed and why\n" +
			"2. Potential impact and risks\n" +
			"3. Code quality observations\n" +
			"Keep it concise. Use markdown formatting.",
		User:      fmt.Sprintf("File: %s\n\n```diff\n%s\n```", evt.Path, trimRunes(payload.Diff, 3000)),
		MaxTokens: 500,
	})
	if err != nil {
		return "", "", fmt.Errorf("analyze change: %w", err)
	}
	return strings.TrimSpace(out), evt.Path, nil
}

// Implications digests the code changes of the last N hours, asks the
// model what they imply, and records an implications_analysis event.
func (s *InsightService) Implications(ctx context.Context, projectID *int64, hours int) (string, error) {
	if !s.client.Enabled() {
		return "", llm.ErrDisabled
	}
	if hours <= 0 {
		hours = 24
	}

	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	since := time.Now().Add(-time.Duration(hours) * time.Hour)
	evts, err := s.store.ChangeEventsSince(opCtx, projectID, since, implicationsLimit)
	if err != nil {
		return "", err
	}
	if len(evts) == 0 {
		return "", store.NotFoundf("no code changes in the last %d hours", hours)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Code changes of the last %d hours:\n", hours)
	for _, evt := range evts {
		fmt.Fprintf(&sb, "%s | %s | %s", evt.Timestamp.Format(time.RFC3339), evt.Kind, orDash(evt.Path))
		var payload models.FileChangePayload
		if err := json.Unmarshal(evt.Payload, &payload); err == nil && payload.Diff != "" {
			fmt.Fprintf(&sb, " | diff=%s", trimRunes(payload.Diff, implicationsDiffCap))
		}
		sb.WriteString("\n")
	}

	out, err := s.client.Complete(ctx, llm.Request{
		Model: s.model,
		System: "You are a software architect. Given a log of recent code changes, " +
			"describe the likely intent, the architectural implications, and any risks " +
			"worth flagging. Use markdown, keep it under 300 words.",
		User:      sb.String(),
		MaxTokens: 600,
	})
	if err != nil {
		return "", fmt.Errorf("analyze implications: %w", err)
	}
	content := strings.TrimSpace(out)

	var pid int64
	if projectID != nil {
		pid = *projectID
	}
	s.events.Record(ctx, projectID, models.KindImplications, "", models.ImplicationsPayload{
		Content:    content,
		ProjectID:  pid,
		EventCount: len(evts),
		Model:      s.model,
		Hours:      hours,
	})
	return content, nil
}

// buildDigest renders the recent-event log handed to the summary model.
func (s *InsightService) buildDigest(ctx context.Context, projectID *int64) (string, error) {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	evts, err := s.store.RecentEvents(opCtx, projectID, s.eventLimit)
	if err != nil {
		return "", err
	}

	var lines []string
	var size int
	for _, evt := range evts {
		line := fmt.Sprintf("%s | %s | %s | %s",
			evt.Timestamp.Format(time.RFC3339), evt.Kind, orDash(evt.Path), digestSnippet(evt))
		lines = append(lines, line)
		size += len(line)
		if size > s.charLimit {
			lines = append(lines, "...[truncated digest]")
			break
		}
	}

	header := []string{fmt.Sprintf("Repo: %s", s.repoPath)}
	if commit := s.latestCommitLine(); commit != "" {
		header = append(header, commit)
	}
	header = append(header, fmt.Sprintf("Recent events (limit %d):", s.eventLimit))

	return trimRunes(strings.Join(append(header, lines...), "\n"), s.charLimit), nil
}

func digestSnippet(evt models.Event) string {
	var data map[string]any
	if err := json.Unmarshal(evt.Payload, &data); err != nil {
		data = map[string]any{}
	}
	str := func(key string) string {
		v, _ := data[key].(string)
		return v
	}

	switch evt.Kind {
	case models.KindFileChange:
		return fmt.Sprintf("%s; diff=%s", str("event"), trimRunes(str("diff"), digestDiffChars))
	case models.KindFileDeleted:
		return "deleted"
	case models.KindFolderCreated:
		return "folder created"
	case models.KindFolderDeleted:
		return "folder deleted"
	case models.KindPrompt:
		return trimRunes(str("text"), digestPromptChars)
	case models.KindCopilotChat:
		return fmt.Sprintf("prompt=%s | reply=%s",
			trimRunes(str("prompt"), digestSnippetChars),
			trimRunes(str("response"), digestSnippetChars))
	case models.KindError:
		return trimRunes(str("message"), digestSnippetChars)
	case models.KindSummary, models.KindImplications:
		return trimRunes(str("content"), digestSnippetChars)
	default:
		return ""
	}
}

func (s *InsightService) latestCommitLine() string {
	if s.repoPath == "" {
		return ""
	}
	repo, err := git.PlainOpen(s.repoPath)
	if err != nil {
		return ""
	}
	head, err := repo.Head()
	if err != nil {
		return ""
	}
	commit, err := repo.CommitObject(head.Hash())
	if err != nil {
		return ""
	}
	summary, _, _ := strings.Cut(commit.Message, "\n")
	return fmt.Sprintf("Latest commit: %s %s", head.Hash().String()[:7], summary)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func trimRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	dropped := len(runes) - limit
	return string(runes[:limit]) + fmt.Sprintf("... [truncated %d chars]", dropped)
}
