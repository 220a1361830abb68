package models

import "time"

// Project is a registered directory tree. Active projects have a live
// watcher; deactivation stops the watcher but preserves events.
type Project struct {
	ID             int64                `json:"id"`
	Name           string               `json:"name"`
	Path           string               `json:"path"`
	Description    string               `json:"description,omitempty"`
	CreatedAt      time.Time            `json:"created_at"`
	Active         bool                 `json:"active"`
	IgnorePatterns []string             `json:"ignore_patterns"`
	DocPath        string               `json:"feature_doc_path,omitempty"`
	Architecture   *ArchitectureRecord  `json:"architecture,omitempty"`
}

// ProjectStats is the derived per-project summary returned by project listing.
type ProjectStats struct {
	EventCount      int        `json:"event_count"`
	HasArchitecture bool       `json:"has_architecture"`
	ChangeLogSize   int        `json:"change_log_size"`
	LastUpdated     *time.Time `json:"last_updated,omitempty"`
}

// ProjectWithStats pairs a project with its derived stats for listing.
type ProjectWithStats struct {
	Project
	Stats ProjectStats `json:"stats"`
}

// ProjectConfig is the mutable configuration slice exchanged over
// GET/PUT /projects/{id}/config. A successful write restarts the watcher.
type ProjectConfig struct {
	IgnorePatterns []string `json:"ignore_patterns"`
	DocPath        string   `json:"feature_doc_path"`
}

// ProjectUpdate is a partial update; nil fields are left unchanged.
type ProjectUpdate struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	Active      *bool   `json:"active,omitempty"`
}

// MaxChangeLogEntries bounds ArchitectureRecord.ChangeLog; the oldest entry
// is evicted when a new one is prepended past this limit.
const MaxChangeLogEntries = 100

// ArchitectureRecord is the structured form of a project's architecture
// document plus the bounded, newest-first change log of impact entries.
type ArchitectureRecord struct {
	SourcePath   string           `json:"source_path"`
	UpdatedAt    time.Time        `json:"updated_at"`
	Overview     string           `json:"overview"`
	Features     []Feature        `json:"features"`
	Classes      map[string]string `json:"classes"`
	Dependencies DependencySet    `json:"dependencies"`
	ChangeLog    []ImpactEntry    `json:"change_log"`
}

// Feature is one "Feature:" section of the architecture document.
type Feature struct {
	Name         string   `json:"name"`
	Classes      []string `json:"classes"`
	Files        []string `json:"files"`
	Dependencies []string `json:"dependencies"`
}

// DependencySet separates production from development dependencies.
type DependencySet struct {
	Production  []string `json:"production"`
	Development []string `json:"development"`
}

// Impact levels for change-log entries.
const (
	ImpactMinor    = "minor"
	ImpactModerate = "moderate"
	ImpactMajor    = "major"
)

// ImpactEntry is one LLM-assessed change in the architecture change log.
type ImpactEntry struct {
	EventID             int64     `json:"event_id"`
	Timestamp           time.Time `json:"ts"`
	FilePath            string    `json:"file_path"`
	ChangeType          string    `json:"change_type"`
	AffectedFeatures    []string  `json:"affected_features"`
	ModifiedClasses     []string  `json:"modified_classes"`
	NewClasses          []string  `json:"new_classes"`
	ArchitecturalChange bool      `json:"architectural_change"`
	ImpactLevel         string    `json:"impact_level"`
	Summary             string    `json:"summary"`
	Concerns            []string  `json:"concerns,omitempty"`
	Recommendations     []string  `json:"recommendations,omitempty"`
}

// PrependImpact adds an entry at the head of the change log, evicting the
// oldest entries past MaxChangeLogEntries.
func (r *ArchitectureRecord) PrependImpact(entry ImpactEntry) {
	r.ChangeLog = append([]ImpactEntry{entry}, r.ChangeLog...)
	if len(r.ChangeLog) > MaxChangeLogEntries {
		r.ChangeLog = r.ChangeLog[:MaxChangeLogEntries]
	}
}
