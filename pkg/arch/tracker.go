package arch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/codetrail/codetrail/pkg/llm"
	"github.com/codetrail/codetrail/pkg/models"
)

const maxImpactDiffChars = 500

// Store is the persistence surface the tracker needs.
type Store interface {
	GetProject(ctx context.Context, id int64) (models.Project, error)
	UpdateProjectArchitecture(ctx context.Context, id int64, rec *models.ArchitectureRecord) error
}

// Recorder appends and broadcasts an event.
type Recorder interface {
	Record(ctx context.Context, projectID *int64, kind models.EventKind, path string, payload models.EventPayload)
}

// Tracker maintains per-project architecture records. Impact updates
// for the same project are serialized so the change log is never
// mutated concurrently; different projects proceed independently.
type Tracker struct {
	store    Store
	recorder Recorder
	client   llm.Client
	model    string
	logger   *slog.Logger

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func NewTracker(store Store, recorder Recorder, client llm.Client, model string, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		store:    store,
		recorder: recorder,
		client:   client,
		model:    model,
		logger:   logger.With("component", "arch_tracker"),
		locks:    make(map[int64]*sync.Mutex),
	}
}

func (t *Tracker) projectLock(projectID int64) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.locks[projectID]
	if !ok {
		l = &sync.Mutex{}
		t.locks[projectID] = l
	}
	return l
}

// Refresh re-parses the project's architecture document and stores the
// result, preserving the existing change log.
func (t *Tracker) Refresh(ctx context.Context, projectID int64) (*models.ArchitectureRecord, error) {
	lock := t.projectLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	p, err := t.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if p.DocPath == "" {
		return nil, fmt.Errorf("project %d has no architecture document configured", projectID)
	}

	rec, err := ParseDocument(p.Path, p.DocPath)
	if err != nil {
		return nil, err
	}
	if p.Architecture != nil {
		rec.ChangeLog = p.Architecture.ChangeLog
	}

	if err := t.store.UpdateProjectArchitecture(ctx, projectID, rec); err != nil {
		return nil, err
	}
	t.logger.Info("Architecture document refreshed",
		"project_id", projectID,
		"features", len(rec.Features),
		"classes", len(rec.Classes))
	return rec, nil
}

// impactAssessment is the strict shape the model must return.
type impactAssessment struct {
	AffectedFeatures    []string `json:"affected_features"`
	ModifiedClasses     []string `json:"modified_classes"`
	NewClasses          []string `json:"new_classes"`
	ArchitecturalChange bool     `json:"architectural_change"`
	ImpactLevel         string   `json:"impact_level"`
	Summary             string   `json:"summary"`
	Concerns            []string `json:"concerns"`
	Recommendations     []string `json:"recommendations"`
}

// TrackChange assesses a file_change event against the project's
// architecture record and prepends the result to the change log.
// Failures are logged and swallowed; impact tracking never disturbs the
// recorded event.
func (t *Tracker) TrackChange(ctx context.Context, projectID int64, evt models.Event) {
	lock := t.projectLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	p, err := t.store.GetProject(ctx, projectID)
	if err != nil {
		t.logger.Warn("Impact update skipped, project unavailable",
			"project_id", projectID, "error", err)
		return
	}
	if p.Architecture == nil {
		return
	}
	if !t.client.Enabled() {
		return
	}

	assessment, err := t.assess(ctx, p.Architecture, evt)
	if err != nil {
		t.logger.Warn("Impact assessment failed",
			"project_id", projectID, "event_id", evt.ID, "error", err)
		return
	}

	entry := models.ImpactEntry{
		EventID:             evt.ID,
		Timestamp:           evt.Timestamp,
		FilePath:            evt.Path,
		ChangeType:          changeType(evt),
		AffectedFeatures:    assessment.AffectedFeatures,
		ModifiedClasses:     assessment.ModifiedClasses,
		NewClasses:          assessment.NewClasses,
		ArchitecturalChange: assessment.ArchitecturalChange,
		ImpactLevel:         normalizeImpactLevel(assessment.ImpactLevel),
		Summary:             assessment.Summary,
		Concerns:            assessment.Concerns,
		Recommendations:     assessment.Recommendations,
	}
	p.Architecture.PrependImpact(entry)

	if err := t.store.UpdateProjectArchitecture(ctx, projectID, p.Architecture); err != nil {
		t.logger.Warn("Could not persist impact entry",
			"project_id", projectID, "event_id", evt.ID, "error", err)
		return
	}

	t.recorder.Record(ctx, &projectID, models.KindImplications, evt.Path, models.ImplicationsPayload{
		Content:    assessment.Summary,
		ProjectID:  projectID,
		EventCount: len(p.Architecture.ChangeLog),
		Model:      t.model,
	})
}

func (t *Tracker) assess(ctx context.Context, rec *models.ArchitectureRecord, evt models.Event) (impactAssessment, error) {
	out, err := t.client.Complete(ctx, llm.Request{
		Model:  t.model,
		System: impactSystemPrompt,
		User:   buildImpactPrompt(rec, evt),
		JSON:   true,
	})
	if err != nil {
		return impactAssessment{}, err
	}

	var assessment impactAssessment
	if err := json.Unmarshal([]byte(out), &assessment); err != nil {
		return impactAssessment{}, fmt.Errorf("parse impact response: %w", err)
	}
	return assessment, nil
}

const impactSystemPrompt = `You assess how one code change affects a documented software architecture.
Respond with a JSON object: {"affected_features": [], "modified_classes": [], "new_classes": [],
"architectural_change": false, "impact_level": "minor"|"moderate"|"major", "summary": "<one or two sentences>",
"concerns": [], "recommendations": []}.
Only name features and classes that appear in the provided architecture.`

func buildImpactPrompt(rec *models.ArchitectureRecord, evt models.Event) string {
	var sb strings.Builder
	sb.WriteString("Architecture:\n")
	if rec.Overview != "" {
		fmt.Fprintf(&sb, "Overview: %s\n", rec.Overview)
	}
	for _, f := range rec.Features {
		fmt.Fprintf(&sb, "Feature %q: classes=%s files=%s\n",
			f.Name, strings.Join(f.Classes, ","), strings.Join(f.Files, ","))
	}
	if len(rec.Classes) > 0 {
		sb.WriteString("Classes:\n")
		for name, desc := range rec.Classes {
			fmt.Fprintf(&sb, "- %s: %s\n", name, desc)
		}
	}

	fmt.Fprintf(&sb, "\nChange: %s %s\n", changeType(evt), evt.Path)
	var payload models.FileChangePayload
	if err := json.Unmarshal(evt.Payload, &payload); err == nil && payload.Diff != "" {
		fmt.Fprintf(&sb, "Diff:\n%s\n", trimTo(payload.Diff, maxImpactDiffChars))
	}
	return sb.String()
}

func changeType(evt models.Event) string {
	var payload struct {
		Event string `json:"event"`
	}
	if err := json.Unmarshal(evt.Payload, &payload); err == nil && payload.Event != "" {
		return payload.Event
	}
	return string(evt.Kind)
}

func normalizeImpactLevel(level string) string {
	switch level {
	case models.ImpactMinor, models.ImpactModerate, models.ImpactMajor:
		return level
	default:
		return models.ImpactMinor
	}
}

func trimTo(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	dropped := len(runes) - limit
	return string(runes[:limit]) + fmt.Sprintf("... [truncated %d chars]", dropped)
}
