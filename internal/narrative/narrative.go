// Package narrative loads the patient-result narratives that drive a batch run.
package narrative

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ContentField is the item key holding the narrative text.
const ContentField = "content"

// ErrPathEmpty indicates that no input path was given.
var ErrPathEmpty = errors.New("narrative input path cannot be empty")

// Item is one entry of the input list. Index is 1-based.
type Item struct {
	Index  int
	Fields map[string]any
}

// Content returns the narrative text and whether it is usable, meaning a
// string with at least one non-whitespace character.
func (i Item) Content() (string, bool) {
	value, ok := i.Fields[ContentField].(string)
	if !ok || strings.TrimSpace(value) == "" {
		return "", false
	}

	return value, true
}

// String returns the named field when it holds a string.
func (i Item) String(field string) (string, bool) {
	value, ok := i.Fields[field].(string)

	return value, ok
}

// Load reads a JSON array of objects. A positive limit caps the number of items.
// Array entries that are not objects become items without fields, so they
// surface later as missing content instead of aborting the whole run.
func Load(path string, limit int) ([]Item, error) {
	if path == "" {
		return nil, ErrPathEmpty
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read narratives %s: %w", path, err)
	}

	return Parse(data, limit)
}

// Parse decodes narratives from raw JSON.
func Parse(data []byte, limit int) ([]Item, error) {
	var raw []json.RawMessage

	err := json.Unmarshal(data, &raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse narratives JSON: %w", err)
	}

	if limit > 0 && len(raw) > limit {
		raw = raw[:limit]
	}

	items := make([]Item, 0, len(raw))

	for index, entry := range raw {
		fields := map[string]any{}

		// Non-object entries keep an empty field set.
		_ = json.Unmarshal(entry, &fields)

		items = append(items, Item{Index: index + 1, Fields: fields})
	}

	return items, nil
}
