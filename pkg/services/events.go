// Package services holds the application logic between the HTTP layer
// and the store: event recording and fan-out, project lifecycle, AI
// conversation ingest, and the LLM-backed insight endpoints.
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/codetrail/codetrail/pkg/arch"
	"github.com/codetrail/codetrail/pkg/events"
	"github.com/codetrail/codetrail/pkg/models"
	"github.com/codetrail/codetrail/pkg/queue"
	"github.com/codetrail/codetrail/pkg/store"
)

// opTimeout bounds a single store operation issued by a service.
const opTimeout = 5 * time.Second

// EventService records events: append to the store, broadcast to live
// subscribers, and hand file changes to the architecture tracker. It is
// the single write path for events, so ordering per source is append
// order.
type EventService struct {
	store   *store.Store
	hub     *events.Hub
	pool    *queue.Pool
	tracker *arch.Tracker // nil disables impact tracking
	logger  *slog.Logger
}

func NewEventService(st *store.Store, hub *events.Hub, pool *queue.Pool, tracker *arch.Tracker, logger *slog.Logger) *EventService {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventService{
		store:   st,
		hub:     hub,
		pool:    pool,
		tracker: tracker,
		logger:  logger.With("component", "event_service"),
	}
}

// AttachTracker wires the architecture tracker in after construction.
// The tracker itself records events through this service, so the two
// cannot be built in one step.
func (s *EventService) AttachTracker(tracker *arch.Tracker) {
	s.tracker = tracker
}

// Append records a typed payload and returns the stored event. The
// event is durable before it is broadcast.
func (s *EventService) Append(ctx context.Context, projectID *int64, path string, payload models.EventPayload) (models.Event, error) {
	raw, err := models.MarshalPayload(payload)
	if err != nil {
		return models.Event{}, err
	}

	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	evt, err := s.store.AppendEvent(opCtx, payload.EventKind(), projectID, path, raw)
	if err != nil {
		return models.Event{}, err
	}

	s.hub.Publish(evt)
	s.scheduleImpact(evt)
	return evt, nil
}

// Record is the fire-and-forget form used by watchers and background
// analysis; failures are logged, never propagated.
func (s *EventService) Record(ctx context.Context, projectID *int64, kind models.EventKind, path string, payload models.EventPayload) {
	if payload.EventKind() != kind {
		s.logger.Error("Payload kind mismatch", "kind", kind, "payload_kind", payload.EventKind())
		return
	}
	if _, err := s.Append(ctx, projectID, path, payload); err != nil {
		s.logger.Error("Could not record event", "kind", kind, "path", path, "error", err)
	}
}

func (s *EventService) scheduleImpact(evt models.Event) {
	if s.tracker == nil || s.pool == nil {
		return
	}
	if evt.Kind != models.KindFileChange || evt.ProjectID == nil {
		return
	}
	projectID := *evt.ProjectID
	s.pool.Submit(func(ctx context.Context) {
		s.tracker.TrackChange(ctx, projectID, evt)
	})
}

// List returns one page of events with the pagination envelope.
func (s *EventService) List(ctx context.Context, filter models.EventFilter) (models.EventPage, error) {
	if filter.Limit <= 0 {
		filter.Limit = 50
	}

	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	items, total, err := s.store.ListEvents(opCtx, filter)
	if err != nil {
		return models.EventPage{}, err
	}
	return models.NewEventPage(items, total, filter.Offset, filter.Limit), nil
}

// Get returns a single event.
func (s *EventService) Get(ctx context.Context, id int64) (models.Event, error) {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return s.store.GetEvent(opCtx, id)
}

// Subscribe attaches a live event stream subscriber.
func (s *EventService) Subscribe(projectID *int64) *events.Subscription {
	return s.hub.Subscribe(projectID)
}

// Unsubscribe detaches a subscriber.
func (s *EventService) Unsubscribe(id string) {
	s.hub.Unsubscribe(id)
}

// Export formats. JSON is the raw event list; markdown is a readable
// activity log with diffs fenced.
const (
	ExportJSON     = "json"
	ExportMarkdown = "markdown"
)

// Export renders the full (optionally project-scoped) event history,
// oldest first. Returns the body, filename, and content type.
func (s *EventService) Export(ctx context.Context, projectID *int64, format string) ([]byte, string, string, error) {
	if format == "" {
		format = ExportMarkdown
	}
	if format != ExportJSON && format != ExportMarkdown {
		return nil, "", "", fmt.Errorf("%w: unknown export format %q", store.ErrInvalid, format)
	}

	opCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	evts, err := s.store.ListEventsForExport(opCtx, projectID)
	if err != nil {
		return nil, "", "", err
	}

	if format == ExportJSON {
		body, err := json.MarshalIndent(evts, "", "  ")
		if err != nil {
			return nil, "", "", fmt.Errorf("encode export: %w", err)
		}
		return body, "codetrail-log.json", "application/json", nil
	}

	return renderMarkdownLog(evts), "codetrail-log.md", "text/markdown", nil
}

func renderMarkdownLog(evts []models.Event) []byte {
	var sb strings.Builder
	sb.WriteString("# Activity Log\n\n")
	fmt.Fprintf(&sb, "Exported: %s\n\n", time.Now().UTC().Format(time.RFC3339))

	for _, evt := range evts {
		path := evt.Path
		if path == "" {
			path = "-"
		}
		fmt.Fprintf(&sb, "## [%s] %s: %s\n\n", evt.Timestamp.Format(time.RFC3339), evt.Kind, path)

		var payload map[string]any
		if err := json.Unmarshal(evt.Payload, &payload); err != nil {
			continue
		}
		switch evt.Kind {
		case models.KindFileChange:
			if diff, _ := payload["diff"].(string); diff != "" {
				fmt.Fprintf(&sb, "```diff\n%s\n```\n\n", diff)
			}
		case models.KindPrompt:
			if text, _ := payload["text"].(string); text != "" {
				fmt.Fprintf(&sb, "%s\n\n", text)
			}
		case models.KindSummary, models.KindImplications:
			if content, _ := payload["content"].(string); content != "" {
				fmt.Fprintf(&sb, "%s\n\n", content)
			}
		case models.KindCopilotChat:
			prompt, _ := payload["prompt"].(string)
			response, _ := payload["response"].(string)
			fmt.Fprintf(&sb, "**Prompt:** %s\n\n**Response:** %s\n\n", prompt, response)
		case models.KindError:
			if msg, _ := payload["message"].(string); msg != "" {
				fmt.Fprintf(&sb, "Error: %s\n\n", msg)
			}
		}
	}
	return []byte(sb.String())
}
