// Package arch keeps a structured view of a project's architecture
// document and an LLM-maintained change log of how edits affect it.
package arch

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/codetrail/codetrail/pkg/models"
)

// ParseDocument reads a markdown architecture document and extracts the
// Overview, Feature Mapping, Class Registry, and Dependencies sections.
// The parser is tolerant: missing sections yield empty collections and
// unrecognized content is ignored.
func ParseDocument(root, docPath string) (*models.ArchitectureRecord, error) {
	abs := docPath
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(root, docPath)
	}
	f, err := os.Open(abs)
	if err != nil {
		return nil, fmt.Errorf("open architecture document: %w", err)
	}
	defer f.Close()

	rec := &models.ArchitectureRecord{
		SourcePath: docPath,
		UpdatedAt:  time.Now().UTC(),
		Classes:    make(map[string]string),
	}

	var (
		section  string // "overview", "classes", "dependencies", ""
		feature  *models.Feature
		overview []string
	)
	flushFeature := func() {
		if feature != nil {
			rec.Features = append(rec.Features, *feature)
			feature = nil
		}
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)

		if heading, level := parseHeading(trimmed); level > 0 {
			flushFeature()
			switch {
			case strings.HasPrefix(heading, "Feature:"):
				feature = &models.Feature{
					Name: strings.TrimSpace(strings.TrimPrefix(heading, "Feature:")),
				}
				section = ""
			case strings.EqualFold(heading, "Overview"):
				section = "overview"
			case strings.EqualFold(heading, "Class Registry"):
				section = "classes"
			case strings.EqualFold(heading, "Dependencies"):
				section = "dependencies"
			default:
				section = ""
			}
			continue
		}

		switch {
		case feature != nil:
			label, rest, ok := parseBullet(trimmed)
			if !ok {
				continue
			}
			switch strings.ToLower(label) {
			case "classes":
				feature.Classes = splitCommaList(rest)
			case "files":
				feature.Files = splitCommaList(rest)
			case "dependencies":
				feature.Dependencies = splitCommaList(rest)
			}
		case section == "overview":
			if trimmed != "" {
				overview = append(overview, trimmed)
			}
		case section == "classes":
			if name, desc, ok := parseBullet(trimmed); ok && name != "" {
				rec.Classes[name] = desc
			}
		case section == "dependencies":
			label, rest, ok := parseBullet(trimmed)
			if !ok {
				continue
			}
			switch strings.ToLower(label) {
			case "production":
				rec.Dependencies.Production = splitCommaList(rest)
			case "development":
				rec.Dependencies.Development = splitCommaList(rest)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read architecture document: %w", err)
	}
	flushFeature()

	rec.Overview = strings.Join(overview, "\n")
	return rec, nil
}

func parseHeading(line string) (text string, level int) {
	for level < len(line) && line[level] == '#' {
		level++
	}
	if level == 0 || level >= len(line) || line[level] != ' ' {
		return "", 0
	}
	return strings.TrimSpace(line[level:]), level
}

// parseBullet splits "- Label: rest" into its parts.
func parseBullet(line string) (label, rest string, ok bool) {
	if !strings.HasPrefix(line, "- ") && !strings.HasPrefix(line, "* ") {
		return "", "", false
	}
	body := strings.TrimSpace(line[2:])
	label, rest, found := strings.Cut(body, ":")
	if !found {
		return "", "", false
	}
	return strings.TrimSpace(label), strings.TrimSpace(rest), true
}

func splitCommaList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
