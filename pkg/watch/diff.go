package watch

import (
	"fmt"
	"unicode/utf8"

	"github.com/pmezard/go-difflib/difflib"
)

// BinaryPlaceholder replaces the diff body when either side of a change
// is not valid UTF-8 text.
const BinaryPlaceholder = "[binary file]"

// diffContextLines is the number of unchanged lines kept around each hunk.
const diffContextLines = 3

// UnifiedDiff renders a unified diff between two versions of a file.
// Binary content on either side yields BinaryPlaceholder instead of a
// byte-level diff.
func UnifiedDiff(oldText, newText string) (string, error) {
	if !utf8.ValidString(oldText) || !utf8.ValidString(newText) {
		return BinaryPlaceholder, nil
	}

	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(oldText),
		B:        difflib.SplitLines(newText),
		FromFile: "old",
		ToFile:   "new",
		Context:  diffContextLines,
	}
	out, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		return "", fmt.Errorf("render diff: %w", err)
	}
	return out, nil
}
