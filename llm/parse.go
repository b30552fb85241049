package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// parseSelectionResponse extracts and validates the JSON payload of a
// selection reply. The model may answer with any of three shapes, tried
// in order: a flat item list, the legacy fixed three-category object,
// or an object with arbitrary category keys. The first shape that
// validates wins.
func parseSelectionResponse(reply string) (map[string][]Item, error) {
	var payload, err = extractJSON(reply)
	if err != nil {
		return nil, err
	}

	// Shape 1: flat list. Items may carry their own category label.
	var flat []flatItem
	if err := json.Unmarshal(payload, &flat); err == nil {
		var out = make(map[string][]Item)
		for i, fi := range flat {
			if err := validateItem(fi.Item, fmt.Sprintf("[%d]", i)); err != nil {
				return nil, err
			}
			var category = fi.Category
			if category == "" {
				category = "general"
			}
			out[category] = append(out[category], fi.Item)
		}
		return out, nil
	}

	// Shapes 2 and 3: category-keyed object. The fixed three-category
	// variant is a special case of the dynamic one.
	var keyed map[string]json.RawMessage
	if err := json.Unmarshal(payload, &keyed); err != nil {
		return nil, fmt.Errorf("response is neither an item list nor a category object: %w", err)
	}
	var out = make(map[string][]Item)
	for category, raw := range keyed {
		var items []Item
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("category %q: expected item list: %w", category, err)
		}
		for i, it := range items {
			if err := validateItem(it, fmt.Sprintf("%s[%d]", category, i)); err != nil {
				return nil, err
			}
		}
		out[category] = items
	}
	return out, nil
}

type flatItem struct {
	Item
	Category string `json:"category"`
}

func validateItem(it Item, at string) error {
	if it.ID <= 0 {
		return fmt.Errorf("%s: missing or non-positive id", at)
	}
	if it.Score < 1 || it.Score > 10 {
		return fmt.Errorf("%s: score %d outside [1, 10]", at, it.Score)
	}
	return nil
}

// extractJSON pulls the first JSON object or array out of a model
// reply: markdown fences are stripped, then the reply is scanned for
// the first balanced object or array outside string literals.
func extractJSON(reply string) ([]byte, error) {
	var s = strings.TrimSpace(reply)

	if strings.HasPrefix(s, "```") {
		// ```json\n ... \n``` or bare ``` fences.
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			s = s[nl+1:]
		}
		if end := strings.LastIndex(s, "```"); end >= 0 {
			s = s[:end]
		}
		s = strings.TrimSpace(s)
	}

	if len(s) > 0 && (s[0] == '{' || s[0] == '[') {
		if balanced := scanBalanced(s); balanced != "" {
			return []byte(balanced), nil
		}
	}

	// Fall back to searching for an embedded object or array.
	for i := 0; i < len(s); i++ {
		if s[i] == '{' || s[i] == '[' {
			if balanced := scanBalanced(s[i:]); balanced != "" {
				return []byte(balanced), nil
			}
		}
	}
	return nil, fmt.Errorf("no JSON object or array in reply")
}

// scanBalanced returns the prefix of s forming one balanced JSON object
// or array, honoring string literals and escapes, or "".
func scanBalanced(s string) string {
	var depth int
	var inString, escaped bool
	for i := 0; i < len(s); i++ {
		var c = s[i]
		switch {
		case escaped:
			escaped = false
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{' || c == '[':
			depth++
		case c == '}' || c == ']':
			depth--
			if depth == 0 {
				return s[:i+1]
			}
			if depth < 0 {
				return ""
			}
		}
	}
	return ""
}
