package services

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codetrail/codetrail/pkg/arch"
	"github.com/codetrail/codetrail/pkg/correlate"
	"github.com/codetrail/codetrail/pkg/events"
	"github.com/codetrail/codetrail/pkg/llm"
	"github.com/codetrail/codetrail/pkg/models"
	"github.com/codetrail/codetrail/pkg/store"
	"github.com/codetrail/codetrail/pkg/watch"
)

type scriptedLLM struct {
	response string
	err      error
	calls    int
}

func (s *scriptedLLM) Complete(context.Context, llm.Request) (string, error) {
	s.calls++
	return s.response, s.err
}

func (s *scriptedLLM) Enabled() bool { return true }

type fixture struct {
	store  *store.Store
	hub    *events.Hub
	events *EventService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	hub := events.NewHub(16, nil)
	t.Cleanup(hub.Close)

	return &fixture{
		store:  st,
		hub:    hub,
		events: NewEventService(st, hub, nil, nil, nil),
	}
}

func (f *fixture) project(t *testing.T, name string) models.Project {
	t.Helper()
	p, err := f.store.CreateProject(context.Background(), models.Project{
		Name: name, Path: "/p/" + name, Active: true,
	})
	require.NoError(t, err)
	return p
}

func TestEventService_AppendPersistsAndBroadcasts(t *testing.T) {
	f := newFixture(t)
	sub := f.hub.Subscribe(nil)

	evt, err := f.events.Append(context.Background(), nil, "",
		models.PromptPayload{Text: "hello", Source: "manual"})
	require.NoError(t, err)
	assert.Positive(t, evt.ID)
	assert.Equal(t, models.KindPrompt, evt.Kind)

	select {
	case got := <-sub.C:
		assert.Equal(t, evt.ID, got.ID)
	case <-time.After(time.Second):
		t.Fatal("event was not broadcast")
	}

	stored, err := f.events.Get(context.Background(), evt.ID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"text":"hello","source":"manual"}`, string(stored.Payload))
}

func TestEventService_ListEnvelope(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 12; i++ {
		_, err := f.events.Append(ctx, nil, "", models.PromptPayload{Text: "x"})
		require.NoError(t, err)
	}

	page, err := f.events.List(ctx, models.EventFilter{Offset: 5, Limit: 5})
	require.NoError(t, err)
	assert.Equal(t, 12, page.Total)
	assert.Len(t, page.Items, 5)
	assert.Equal(t, 2, page.Page)
	assert.Equal(t, 3, page.TotalPages)
}

func TestEventService_ExportMarkdown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.project(t, "a")

	_, err := f.events.Append(ctx, &p.ID, "main.go",
		models.FileChangePayload{Event: "modified", Diff: "+x", SHA: "s", Size: 2, Baseline: "cache"})
	require.NoError(t, err)
	_, err = f.events.Append(ctx, &p.ID, "", models.PromptPayload{Text: "do a thing"})
	require.NoError(t, err)

	body, filename, contentType, err := f.events.Export(ctx, &p.ID, ExportMarkdown)
	require.NoError(t, err)
	assert.Equal(t, "codetrail-log.md", filename)
	assert.Equal(t, "text/markdown", contentType)
	assert.Contains(t, string(body), "file_change: main.go")
	assert.Contains(t, string(body), "```diff\n+x\n```")
	assert.Contains(t, string(body), "do a thing")

	_, filename, contentType, err = f.events.Export(ctx, &p.ID, ExportJSON)
	require.NoError(t, err)
	assert.Equal(t, "codetrail-log.json", filename)
	assert.Equal(t, "application/json", contentType)

	_, _, _, err = f.events.Export(ctx, nil, "xml")
	assert.ErrorIs(t, err, store.ErrInvalid)
}

func TestProjectService_ConfigRoundTrip(t *testing.T) {
	f := newFixture(t)
	svc := NewProjectService(f.store, nil, nil, nil)
	ctx := context.Background()

	created, err := svc.Create(ctx, models.Project{Name: "a", Path: t.TempDir(), Active: false})
	require.NoError(t, err)

	cfg, err := svc.GetConfig(ctx, created.ID)
	require.NoError(t, err)
	assert.Empty(t, cfg.IgnorePatterns)

	updated, err := svc.UpdateConfig(ctx, created.ID, models.ProjectConfig{
		IgnorePatterns: []string{"*.log"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"*.log"}, updated.IgnorePatterns)

	_, err = svc.TechnicalDoc(ctx, created.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestProjectService_CreateParsesArchitectureDoc(t *testing.T) {
	f := newFixture(t)
	tracker := arch.NewTracker(f.store, f.events, llm.Noop{}, "m", nil)
	svc := NewProjectService(f.store, nil, tracker, nil)
	ctx := context.Background()

	root := t.TempDir()
	doc := "# Overview\n\nA recorder.\n\n## Class Registry\n\n- Store: event log\n"
	require.NoError(t, os.WriteFile(filepath.Join(root, "ARCHITECTURE.md"), []byte(doc), 0o644))

	created, err := svc.Create(ctx, models.Project{
		Name: "docs", Path: root, DocPath: "ARCHITECTURE.md",
	})
	require.NoError(t, err)
	require.NotNil(t, created.Architecture)
	assert.Equal(t, "A recorder.", created.Architecture.Overview)

	// The parsed record is persisted, not only returned.
	rec, err := svc.TechnicalDoc(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "event log", rec.Classes["Store"])
}

func TestProjectService_CreateWithBadPathRecordsErrorEvent(t *testing.T) {
	f := newFixture(t)
	sup := watch.NewSupervisor(f.events, nil, 1<<20, 0, nil)
	t.Cleanup(sup.Shutdown)
	svc := NewProjectService(f.store, sup, nil, nil)
	ctx := context.Background()

	created, err := svc.Create(ctx, models.Project{
		Name: "bad", Path: "/does/not/exist", Active: true,
	})
	require.NoError(t, err, "creation succeeds even when the watcher cannot start")

	page, err := f.events.List(ctx, models.EventFilter{Kind: models.KindError, Limit: 10})
	require.NoError(t, err)
	require.Equal(t, 1, page.Total)
	assert.Contains(t, string(page.Items[0].Payload), "watcher failed")
	assert.Equal(t, created.ID, *page.Items[0].ProjectID)
}

func TestProjectService_DeleteCascades(t *testing.T) {
	f := newFixture(t)
	svc := NewProjectService(f.store, nil, nil, nil)
	ctx := context.Background()
	p := f.project(t, "gone")

	evt, err := f.events.Append(ctx, &p.ID, "x.go", models.FileDeletedPayload{Event: "deleted"})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, p.ID))
	_, err = f.events.Get(ctx, evt.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	assert.ErrorIs(t, svc.Delete(ctx, p.ID), store.ErrNotFound)
}

func TestAIService_IngestExtractsAndStores(t *testing.T) {
	f := newFixture(t)
	svc := NewAIService(f.store, nil, nil, nil)
	ctx := context.Background()

	conv, err := svc.Ingest(ctx, models.AIConversation{
		Provider:   "openai",
		UserPrompt: "fix pkg/store/events.go",
		AIResponse: "Here:\n```go\npackage store\n```\nalso touch pkg/api/server.go",
	})
	require.NoError(t, err)

	require.Len(t, conv.CodeSnippets, 1)
	assert.Equal(t, "go", conv.CodeSnippets[0].Language)
	assert.ElementsMatch(t, []string{"pkg/store/events.go", "pkg/api/server.go"}, conv.ContextFiles)

	got, err := svc.Get(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, conv.ContextFiles, got.ContextFiles)
	assert.Equal(t, "chat", got.ConversationType)
}

func TestAIService_IngestGeneratesSessionID(t *testing.T) {
	f := newFixture(t)
	svc := NewAIService(f.store, nil, nil, nil)
	ctx := context.Background()

	conv, err := svc.Ingest(ctx, models.AIConversation{
		Provider: "openai", UserPrompt: "q", AIResponse: "a",
	})
	require.NoError(t, err)
	require.NotEmpty(t, conv.SessionID)
	_, err = uuid.Parse(conv.SessionID)
	assert.NoError(t, err)

	// A caller-supplied id is kept as-is.
	kept, err := svc.Ingest(ctx, models.AIConversation{
		Provider: "openai", UserPrompt: "q", AIResponse: "a", SessionID: "session-7",
	})
	require.NoError(t, err)
	assert.Equal(t, "session-7", kept.SessionID)
}

func TestAIService_RematchBuildsTimeline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.project(t, "a")

	_, err := f.events.Append(ctx, &p.ID, "auth/token.go",
		models.FileChangePayload{Event: "modified", Diff: "+fix", SHA: "s", Size: 4, Baseline: "cache"})
	require.NoError(t, err)

	correlator := correlate.New(f.store, f.events, llm.Noop{}, "gpt-4o", 5*time.Minute, nil)
	svc := NewAIService(f.store, nil, correlator, nil)

	conv, err := svc.Ingest(ctx, models.AIConversation{
		ProjectID:  &p.ID,
		Provider:   "openai",
		UserPrompt: "fix auth/token.go please",
		AIResponse: "done",
	})
	require.NoError(t, err)

	timeline, err := svc.Rematch(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, timeline.MatchedChanges, 1)
	assert.Equal(t, "auth/token.go", timeline.MatchedChanges[0].Path)
	assert.Equal(t, models.MatchRelated, timeline.MatchedChanges[0].MatchType)
	assert.InDelta(t, 0.5, timeline.Conversation.ConfidenceScore, 1e-9)

	// The correlation run appended an ai_match event.
	page, err := f.events.List(ctx, models.EventFilter{Kind: models.KindAIMatch, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
}

func TestAIService_StatsAndListEnvelope(t *testing.T) {
	f := newFixture(t)
	svc := NewAIService(f.store, nil, nil, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := svc.Ingest(ctx, models.AIConversation{
			Provider: "openai", UserPrompt: "q", AIResponse: "a",
		})
		require.NoError(t, err)
	}

	page, err := svc.List(ctx, models.ConversationFilter{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	assert.Len(t, page.Items, 2)
	assert.Equal(t, 2, page.TotalPages)

	stats, err := svc.Stats(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalConversations)
	assert.Equal(t, 3, stats.UnmatchedConversations)
}

func TestInsightService_SummaryLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	model := &scriptedLLM{response: "- did things\n- fixed stuff"}
	svc := NewInsightService(f.store, f.events, model, "gpt-4o-mini", "", 50, 6000, nil)

	_, err := svc.LatestSummary(ctx, nil)
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = f.events.Append(ctx, nil, "a.go",
		models.FileChangePayload{Event: "modified", Diff: "+x", SHA: "s", Size: 2, Baseline: "cache"})
	require.NoError(t, err)

	summary, err := svc.RunSummary(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "- did things\n- fixed stuff", summary)
	assert.Equal(t, 1, model.calls)

	latest, err := svc.LatestSummary(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, models.KindSummary, latest.Kind)
	assert.Contains(t, string(latest.Payload), "did things")
}

func TestInsightService_DisabledLLM(t *testing.T) {
	f := newFixture(t)
	svc := NewInsightService(f.store, f.events, llm.Noop{}, "m", "", 50, 6000, nil)

	_, err := svc.RunSummary(context.Background(), nil)
	assert.ErrorIs(t, err, llm.ErrDisabled)
	_, _, err = svc.AnalyzeChange(context.Background(), 1)
	assert.ErrorIs(t, err, llm.ErrDisabled)
	_, err = svc.Implications(context.Background(), nil, 24)
	assert.ErrorIs(t, err, llm.ErrDisabled)
}

func TestInsightService_AnalyzeChange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	model := &scriptedLLM{response: "looks fine"}
	svc := NewInsightService(f.store, f.events, model, "m", "", 50, 6000, nil)

	evt, err := f.events.Append(ctx, nil, "main.go",
		models.FileChangePayload{Event: "modified", Diff: "+x", SHA: "s", Size: 2, Baseline: "cache"})
	require.NoError(t, err)

	analysis, path, err := svc.AnalyzeChange(ctx, evt.ID)
	require.NoError(t, err)
	assert.Equal(t, "looks fine", analysis)
	assert.Equal(t, "main.go", path)

	// Events without a diff short-circuit without a model call.
	noDiff, err := f.events.Append(ctx, nil, "", models.PromptPayload{Text: "q"})
	require.NoError(t, err)
	analysis, _, err = svc.AnalyzeChange(ctx, noDiff.ID)
	require.NoError(t, err)
	assert.Equal(t, "No diff available for this event.", analysis)
	assert.Equal(t, 1, model.calls)

	_, _, err = svc.AnalyzeChange(ctx, 9999)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestInsightService_Implications(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.project(t, "a")
	model := &scriptedLLM{response: "refactoring toward a cleaner store"}
	svc := NewInsightService(f.store, f.events, model, "m", "", 50, 6000, nil)

	_, err := svc.Implications(ctx, &p.ID, 24)
	assert.ErrorIs(t, err, store.ErrNotFound, "no changes yet")

	_, err = f.events.Append(ctx, &p.ID, "a.go",
		models.FileChangePayload{Event: "modified", Diff: "+x", SHA: "s", Size: 2, Baseline: "cache"})
	require.NoError(t, err)

	content, err := svc.Implications(ctx, &p.ID, 24)
	require.NoError(t, err)
	assert.Equal(t, "refactoring toward a cleaner store", content)

	page, err := f.events.List(ctx, models.EventFilter{Kind: models.KindImplications, Limit: 10})
	require.NoError(t, err)
	require.Equal(t, 1, page.Total)
}
