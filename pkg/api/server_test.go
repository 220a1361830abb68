package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codetrail/codetrail/pkg/correlate"
	"github.com/codetrail/codetrail/pkg/events"
	"github.com/codetrail/codetrail/pkg/llm"
	"github.com/codetrail/codetrail/pkg/models"
	"github.com/codetrail/codetrail/pkg/services"
	"github.com/codetrail/codetrail/pkg/store"
)

type testAPI struct {
	server *Server
	store  *store.Store
	hub    *events.Hub
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	hub := events.NewHub(16, nil)
	t.Cleanup(hub.Close)

	eventSvc := services.NewEventService(st, hub, nil, nil, nil)
	projectSvc := services.NewProjectService(st, nil, nil, nil)
	correlator := correlate.New(st, eventSvc, llm.Noop{}, "gpt-4o", 5*time.Minute, nil)
	aiSvc := services.NewAIService(st, nil, correlator, nil)
	insightSvc := services.NewInsightService(st, eventSvc, llm.Noop{}, "gpt-4o-mini", "", 50, 6000, nil)

	server := NewServer(Config{Port: 0, CORSEnabled: true, CORSOrigins: []string{"*"}},
		st, projectSvc, eventSvc, aiSvc, insightSvc, nil)
	return &testAPI{server: server, store: st, hub: hub}
}

func (a *testAPI) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	a.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	a := newTestAPI(t)
	rec := a.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode[map[string]any](t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 0, body["events"])
}

func TestProjectLifecycle(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodPost, "/projects", body{
		"name": "demo", "path": t.TempDir(), "description": "a demo",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[models.Project](t, rec)
	assert.Positive(t, created.ID)
	assert.True(t, created.Active)

	rec = a.do(t, http.MethodGet, fmt.Sprintf("/projects/%d", created.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = a.do(t, http.MethodPatch, fmt.Sprintf("/projects/%d", created.ID), body{"active": false})
	require.Equal(t, http.StatusOK, rec.Code)
	updated := decode[models.Project](t, rec)
	assert.False(t, updated.Active)

	rec = a.do(t, http.MethodGet, "/projects", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[map[string]json.RawMessage](t, rec)
	var items []models.ProjectWithStats
	require.NoError(t, json.Unmarshal(list["items"], &items))
	require.Len(t, items, 1)

	rec = a.do(t, http.MethodDelete, fmt.Sprintf("/projects/%d", created.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = a.do(t, http.MethodGet, fmt.Sprintf("/projects/%d", created.ID), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProjectConfigRoundTrip(t *testing.T) {
	a := newTestAPI(t)
	p := a.createProject(t, "cfg")

	rec := a.do(t, http.MethodPut, fmt.Sprintf("/projects/%d/config", p.ID), body{
		"ignore_patterns":  []string{"*.log", "dist/**"},
		"feature_doc_path": "",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = a.do(t, http.MethodGet, fmt.Sprintf("/projects/%d/config", p.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cfg := decode[models.ProjectConfig](t, rec)
	assert.Equal(t, []string{"*.log", "dist/**"}, cfg.IgnorePatterns)
}

func TestTechnicalDocWithoutRecordIs404(t *testing.T) {
	a := newTestAPI(t)
	p := a.createProject(t, "nodoc")

	rec := a.do(t, http.MethodGet, fmt.Sprintf("/projects/%d/technical-doc", p.ID), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDuplicateProjectPathConflicts(t *testing.T) {
	a := newTestAPI(t)
	path := t.TempDir()

	rec := a.do(t, http.MethodPost, "/projects", body{"name": "one", "path": path})
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = a.do(t, http.MethodPost, "/projects", body{"name": "two", "path": path})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestPromptDefaults(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodPost, "/prompt", body{"text": "refactor the parser"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	evt := decode[models.Event](t, rec)
	assert.Equal(t, models.KindPrompt, evt.Kind)

	var payload models.PromptPayload
	require.NoError(t, json.Unmarshal(evt.Payload, &payload))
	assert.Equal(t, "manual", payload.Source)
	assert.Equal(t, "claude", payload.Model)

	rec = a.do(t, http.MethodPost, "/prompt", body{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCopilotDefaults(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodPost, "/copilot", body{"prompt": "q", "response": "a"})
	require.Equal(t, http.StatusCreated, rec.Code)
	evt := decode[models.Event](t, rec)

	var payload models.CopilotChatPayload
	require.NoError(t, json.Unmarshal(evt.Payload, &payload))
	assert.Equal(t, "copilot-chat", payload.Source)
	assert.Equal(t, "copilot", payload.Model)

	rec = a.do(t, http.MethodPost, "/copilot", body{"prompt": "q"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestErrorIngest(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodPost, "/error", body{
		"message": "compile failed",
		"context": body{"file": "main.go"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	evt := decode[models.Event](t, rec)
	assert.Equal(t, models.KindError, evt.Kind)

	rec = a.do(t, http.MethodPost, "/error", body{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListEventsFiltersAndEnvelope(t *testing.T) {
	a := newTestAPI(t)

	for i := 0; i < 3; i++ {
		rec := a.do(t, http.MethodPost, "/prompt", body{"text": fmt.Sprintf("prompt %d", i)})
		require.Equal(t, http.StatusCreated, rec.Code)
	}
	rec := a.do(t, http.MethodPost, "/error", body{"message": "boom"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = a.do(t, http.MethodGet, "/events?kind=prompt&limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[models.EventPage](t, rec)
	assert.Equal(t, 3, page.Total)
	assert.Len(t, page.Items, 2)
	assert.Equal(t, 2, page.TotalPages)

	rec = a.do(t, http.MethodGet, "/events?search=boom", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page = decode[models.EventPage](t, rec)
	assert.Equal(t, 1, page.Total)

	rec = a.do(t, http.MethodGet, "/events?kind=nonsense", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = a.do(t, http.MethodGet, "/events?limit=0", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = a.do(t, http.MethodGet, "/events?limit=501", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExportEvents(t *testing.T) {
	a := newTestAPI(t)
	rec := a.do(t, http.MethodPost, "/prompt", body{"text": "exported prompt"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = a.do(t, http.MethodGet, "/events/export", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "codetrail-log.md")
	assert.Contains(t, rec.Body.String(), "# Activity Log")
	assert.Contains(t, rec.Body.String(), "exported prompt")

	rec = a.do(t, http.MethodGet, "/events/export?format=json", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "codetrail-log.json")

	rec = a.do(t, http.MethodGet, "/events/export?format=xml", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestConversationIngestAndTimeline(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodPost, "/ai-chat", body{
		"ai_provider": "claude",
		"user_prompt": "please fix parser.go",
		"ai_response": "Edit parser.go like this:\n```go\nfunc Parse() {}\n```",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	conv := decode[models.AIConversation](t, rec)
	assert.Positive(t, conv.ID)
	assert.Contains(t, conv.ContextFiles, "parser.go")
	require.Len(t, conv.CodeSnippets, 1)
	assert.Equal(t, "go", conv.CodeSnippets[0].Language)

	rec = a.do(t, http.MethodGet, fmt.Sprintf("/ai-chat/%d", conv.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = a.do(t, http.MethodGet, fmt.Sprintf("/ai-chat/%d/timeline", conv.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	timeline := decode[models.ConversationTimeline](t, rec)
	assert.Equal(t, conv.ID, timeline.Conversation.ID)

	rec = a.do(t, http.MethodPost, "/ai-chat", body{"ai_provider": "claude"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// "stats" must be routed to the stats handler, never parsed as a
// conversation id.
func TestAIStatsRouteNotShadowed(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodPost, "/ai-chat", body{
		"ai_provider": "claude", "user_prompt": "hello",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = a.do(t, http.MethodGet, "/ai-chat/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	stats := decode[models.AIStats](t, rec)
	assert.Equal(t, 1, stats.TotalConversations)
	require.Len(t, stats.ByProvider, 1)
	assert.Equal(t, "claude", stats.ByProvider[0].Provider)
	assert.Equal(t, 1, stats.ByProvider[0].Count)
}

func TestListConversationsFilterByProvider(t *testing.T) {
	a := newTestAPI(t)

	for _, provider := range []string{"claude", "claude", "copilot"} {
		rec := a.do(t, http.MethodPost, "/ai-chat", body{
			"ai_provider": provider, "user_prompt": "p",
		})
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := a.do(t, http.MethodGet, "/ai-chat?ai_provider=claude", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[models.ConversationPage](t, rec)
	assert.Equal(t, 2, page.Total)
}

// The LLM is disabled in tests, so the insight endpoints report that
// the API key is missing.
func TestInsightEndpointsRequireKey(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodPost, "/summary/run", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "OPENAI_API_KEY")

	rec = a.do(t, http.MethodPost, "/analyze-change", body{"event_id": 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(t, http.MethodPost, "/implications", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLatestSummaryEmptyIs404(t *testing.T) {
	a := newTestAPI(t)
	rec := a.do(t, http.MethodGet, "/summary/latest", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestInvalidIDsAndQueries(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodGet, "/projects/abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = a.do(t, http.MethodGet, "/projects/0", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = a.do(t, http.MethodGet, "/events?project_id=x", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	a := newTestAPI(t)

	req := httptest.NewRequest(http.MethodOptions, "/events", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	a.server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")
}

func TestEventStreamDeliversOverWebsocket(t *testing.T) {
	a := newTestAPI(t)

	srv := httptest.NewServer(a.server.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/events/stream"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	// Subscription attaches during the upgrade; give the handler a
	// moment before publishing.
	require.Eventually(t, func() bool { return a.hub.SubscriberCount() == 1 },
		2*time.Second, 10*time.Millisecond)

	rec := a.do(t, http.MethodPost, "/prompt", body{"text": "streamed"})
	require.Equal(t, http.StatusCreated, rec.Code)

	_, frame, err := conn.Read(ctx)
	require.NoError(t, err)

	var evt models.Event
	require.NoError(t, json.Unmarshal(frame, &evt))
	assert.Equal(t, models.KindPrompt, evt.Kind)
}

func (a *testAPI) createProject(t *testing.T, name string) models.Project {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/projects", body{"name": name, "path": filepath.Join(t.TempDir(), name)})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[models.Project](t, rec)
}

// body mirrors gin.H for request bodies without importing gin into the
// test file.
type body = map[string]any
