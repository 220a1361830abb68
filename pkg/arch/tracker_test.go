package arch

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codetrail/codetrail/pkg/llm"
	"github.com/codetrail/codetrail/pkg/models"
)

type fakeStore struct {
	project models.Project
	saved   *models.ArchitectureRecord
	saveErr error
}

func (f *fakeStore) GetProject(_ context.Context, id int64) (models.Project, error) {
	if id != f.project.ID {
		return models.Project{}, errors.New("not found")
	}
	return f.project, nil
}

func (f *fakeStore) UpdateProjectArchitecture(_ context.Context, _ int64, rec *models.ArchitectureRecord) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = rec
	return nil
}

type fakeRecorder struct {
	kinds    []models.EventKind
	payloads []models.EventPayload
}

func (f *fakeRecorder) Record(_ context.Context, _ *int64, kind models.EventKind, _ string, payload models.EventPayload) {
	f.kinds = append(f.kinds, kind)
	f.payloads = append(f.payloads, payload)
}

type scriptedLLM struct {
	response string
	err      error
}

func (s *scriptedLLM) Complete(context.Context, llm.Request) (string, error) {
	return s.response, s.err
}

func (s *scriptedLLM) Enabled() bool { return true }

func changeEvent(id int64, path string) models.Event {
	payload, _ := json.Marshal(models.FileChangePayload{Event: "modified", Diff: "+x"})
	return models.Event{
		ID:        id,
		Timestamp: time.Now().UTC(),
		Kind:      models.KindFileChange,
		Path:      path,
		Payload:   payload,
	}
}

func archProject(id int64) models.Project {
	return models.Project{
		ID:   id,
		Name: "p",
		Path: "/p",
		Architecture: &models.ArchitectureRecord{
			SourcePath: "ARCHITECTURE.md",
			UpdatedAt:  time.Now().UTC(),
			Overview:   "service",
		},
	}
}

const goodAssessment = `{"affected_features":["Event Recording"],"modified_classes":["EventStore"],
"new_classes":[],"architectural_change":false,"impact_level":"moderate",
"summary":"store gained an index","concerns":[],"recommendations":["add a test"]}`

func TestTrackChange_AppendsImpactEntry(t *testing.T) {
	store := &fakeStore{project: archProject(1)}
	rec := &fakeRecorder{}
	tr := NewTracker(store, rec, &scriptedLLM{response: goodAssessment}, "gpt-4o-mini", nil)

	evt := changeEvent(77, "pkg/store/events.go")
	tr.TrackChange(context.Background(), 1, evt)

	require.NotNil(t, store.saved)
	require.Len(t, store.saved.ChangeLog, 1)
	entry := store.saved.ChangeLog[0]
	assert.Equal(t, int64(77), entry.EventID)
	assert.Equal(t, "pkg/store/events.go", entry.FilePath)
	assert.Equal(t, "modified", entry.ChangeType)
	assert.Equal(t, models.ImpactModerate, entry.ImpactLevel)
	assert.Equal(t, []string{"Event Recording"}, entry.AffectedFeatures)

	require.Len(t, rec.kinds, 1)
	assert.Equal(t, models.KindImplications, rec.kinds[0])
	p := rec.payloads[0].(models.ImplicationsPayload)
	assert.Equal(t, "store gained an index", p.Content)
	assert.Equal(t, 1, p.EventCount)
}

func TestTrackChange_PrependsNewestFirstAndEvicts(t *testing.T) {
	project := archProject(1)
	for i := 0; i < models.MaxChangeLogEntries; i++ {
		project.Architecture.ChangeLog = append(project.Architecture.ChangeLog,
			models.ImpactEntry{EventID: int64(i)})
	}
	store := &fakeStore{project: project}
	tr := NewTracker(store, &fakeRecorder{}, &scriptedLLM{response: goodAssessment}, "m", nil)

	tr.TrackChange(context.Background(), 1, changeEvent(999, "a.go"))

	require.NotNil(t, store.saved)
	assert.Len(t, store.saved.ChangeLog, models.MaxChangeLogEntries)
	assert.Equal(t, int64(999), store.saved.ChangeLog[0].EventID)
}

func TestTrackChange_SkipsWithoutArchitectureOrLLM(t *testing.T) {
	store := &fakeStore{project: models.Project{ID: 1, Path: "/p"}}
	tr := NewTracker(store, &fakeRecorder{}, &scriptedLLM{response: goodAssessment}, "m", nil)
	tr.TrackChange(context.Background(), 1, changeEvent(1, "a.go"))
	assert.Nil(t, store.saved, "no architecture record, nothing to update")

	store = &fakeStore{project: archProject(1)}
	tr = NewTracker(store, &fakeRecorder{}, llm.Noop{}, "m", nil)
	tr.TrackChange(context.Background(), 1, changeEvent(1, "a.go"))
	assert.Nil(t, store.saved, "disabled llm skips assessment")
}

func TestTrackChange_SwallowsModelFailures(t *testing.T) {
	store := &fakeStore{project: archProject(1)}
	rec := &fakeRecorder{}
	tr := NewTracker(store, rec, &scriptedLLM{err: errors.New("boom")}, "m", nil)

	tr.TrackChange(context.Background(), 1, changeEvent(1, "a.go"))

	assert.Nil(t, store.saved)
	assert.Empty(t, rec.kinds)
}

func TestTrackChange_NormalizesImpactLevel(t *testing.T) {
	store := &fakeStore{project: archProject(1)}
	response := `{"impact_level":"catastrophic","summary":"s"}`
	tr := NewTracker(store, &fakeRecorder{}, &scriptedLLM{response: response}, "m", nil)

	tr.TrackChange(context.Background(), 1, changeEvent(1, "a.go"))

	require.NotNil(t, store.saved)
	assert.Equal(t, models.ImpactMinor, store.saved.ChangeLog[0].ImpactLevel)
}

func TestRefresh_ParsesAndPreservesChangeLog(t *testing.T) {
	root := t.TempDir()
	doc := "# Overview\n\nthe system\n\n## Class Registry\n\n- A: thing\n"
	require.NoError(t, os.WriteFile(filepath.Join(root, "ARCHITECTURE.md"), []byte(doc), 0o644))

	project := models.Project{
		ID:      1,
		Path:    root,
		DocPath: "ARCHITECTURE.md",
		Architecture: &models.ArchitectureRecord{
			ChangeLog: []models.ImpactEntry{{EventID: 5, Summary: "old"}},
		},
	}
	store := &fakeStore{project: project}
	tr := NewTracker(store, &fakeRecorder{}, llm.Noop{}, "m", nil)

	rec, err := tr.Refresh(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, "the system", rec.Overview)
	assert.Equal(t, "thing", rec.Classes["A"])
	require.Len(t, rec.ChangeLog, 1, "refresh keeps the accumulated change log")
	assert.Equal(t, int64(5), rec.ChangeLog[0].EventID)
	assert.Same(t, rec, store.saved)
}

func TestRefresh_RequiresDocPath(t *testing.T) {
	store := &fakeStore{project: models.Project{ID: 1, Path: "/p"}}
	tr := NewTracker(store, &fakeRecorder{}, llm.Noop{}, "m", nil)

	_, err := tr.Refresh(context.Background(), 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no architecture document")
}

func TestProjectLocksAreIndependent(t *testing.T) {
	tr := NewTracker(&fakeStore{}, &fakeRecorder{}, llm.Noop{}, "m", nil)

	a := tr.projectLock(1)
	b := tr.projectLock(2)
	assert.NotSame(t, a, b)
	assert.Same(t, a, tr.projectLock(1))
}
