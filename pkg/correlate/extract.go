// Package correlate links AI conversations to the code changes they
// produced. Extraction is pure text analysis; the correlator combines
// it with an LLM scoring pass over nearby file_change events.
package correlate

import (
	"regexp"
	"strings"

	"github.com/codetrail/codetrail/pkg/models"
)

var (
	fenceRe = regexp.MustCompile("(?s)```([a-zA-Z0-9+#_-]*)\n?(.*?)```")

	// fileRefRe matches dotted paths like pkg/store/events.go or
	// main.py. The extension is 1 to 6 word characters, which keeps
	// plain prose and version numbers out.
	fileRefRe = regexp.MustCompile(`[A-Za-z0-9_][A-Za-z0-9_\-./]*\.[A-Za-z][A-Za-z0-9]{0,5}\b`)
)

// ExtractCodeSnippets returns the fenced code blocks of a response, in
// order of appearance.
func ExtractCodeSnippets(text string) []models.CodeSnippet {
	matches := fenceRe.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}

	snippets := make([]models.CodeSnippet, 0, len(matches))
	for _, m := range matches {
		body := strings.TrimRight(m[2], "\n")
		if strings.TrimSpace(body) == "" {
			continue
		}
		snippets = append(snippets, models.CodeSnippet{
			Language:  strings.ToLower(m[1]),
			Text:      body,
			LineCount: strings.Count(body, "\n") + 1,
		})
	}
	return snippets
}

// ExtractFileRefs returns file paths mentioned in prose, first
// occurrence order, deduplicated. Text inside code fences is skipped so
// identifiers like fmt.Println are not mistaken for paths; URLs are
// filtered too.
func ExtractFileRefs(text string) []string {
	prose := fenceRe.ReplaceAllString(text, " ")

	seen := make(map[string]bool)
	var refs []string
	for _, loc := range fileRefRe.FindAllStringIndex(prose, -1) {
		candidate := prose[loc[0]:loc[1]]
		if !plausibleFileRef(prose[:loc[0]], candidate) {
			continue
		}
		if seen[candidate] {
			continue
		}
		seen[candidate] = true
		refs = append(refs, candidate)
	}
	return refs
}

// plausibleFileRef filters a regex match using the text immediately
// before it. before is the prose up to the match start.
func plausibleFileRef(before, candidate string) bool {
	// A match right after a URL scheme or a www. prefix is a host plus
	// path, not a file reference.
	if strings.HasSuffix(before, "://") || strings.HasSuffix(before, "www.") {
		return false
	}

	ext := candidate[strings.LastIndex(candidate, ".")+1:]
	switch strings.ToLower(ext) {
	case "com", "org", "net", "io", "dev":
		// Bare domain names are not files; a slash means the TLD-like
		// token is a directory name.
		return strings.Contains(candidate, "/")
	}
	return true
}

// FileOverlap reports whether a changed path appears among the
// conversation's referenced files, by exact match or basename.
func FileOverlap(refs []string, changedPath string) bool {
	base := changedPath
	if i := strings.LastIndex(changedPath, "/"); i >= 0 {
		base = changedPath[i+1:]
	}
	for _, ref := range refs {
		if ref == changedPath || ref == base || strings.HasSuffix(changedPath, "/"+ref) {
			return true
		}
	}
	return false
}
