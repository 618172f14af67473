package classify

import (
	"encoding/json"
	"strconv"
	"strings"
)

// labeling is the parsed shape of one backend answer.
type labeling struct {
	Category    string
	Subcategory string
	Confidence  int
	Explanation string
}

// parseLabeling decodes a backend completion. JSON is tried first, then
// line-delimited "key: value" pairs; anything unparseable collapses to
// category "unknown" with confidence 0. ok is false when no category
// could be recovered at all.
func parseLabeling(raw string) (labeling, bool) {
	out := labeling{Category: "unknown", Subcategory: "unknown"}

	if parsed, ok := parseJSONLabeling(raw); ok {
		return parsed, true
	}
	if parsed, ok := parseLineLabeling(raw); ok {
		return parsed, true
	}
	return out, false
}

type jsonLabeling struct {
	Category    string          `json:"category"`
	Subcategory string          `json:"subcategory"`
	Confidence  json.RawMessage `json:"confidence"`
	Explanation string          `json:"explanation"`
}

func parseJSONLabeling(raw string) (labeling, bool) {
	// Models wrap JSON in prose or code fences often enough that the
	// first object-looking span is worth carving out.
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return labeling{}, false
	}

	var decoded jsonLabeling
	if err := json.Unmarshal([]byte(raw[start:end+1]), &decoded); err != nil {
		return labeling{}, false
	}
	if strings.TrimSpace(decoded.Category) == "" {
		return labeling{}, false
	}
	return labeling{
		Category:    normalizeLabel(decoded.Category),
		Subcategory: normalizeLabel(decoded.Subcategory),
		Confidence:  parseConfidence(string(decoded.Confidence)),
		Explanation: strings.TrimSpace(decoded.Explanation),
	}, true
}

func parseLineLabeling(raw string) (labeling, bool) {
	out := labeling{Category: "unknown", Subcategory: "unknown"}
	found := false
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "-"))
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "category":
			out.Category = normalizeLabel(value)
			found = true
		case "subcategory":
			out.Subcategory = normalizeLabel(value)
		case "confidence":
			out.Confidence = parseConfidence(value)
		case "explanation":
			out.Explanation = value
		}
	}
	return out, found
}

func normalizeLabel(s string) string {
	s = strings.ToLower(strings.TrimSpace(strings.Trim(strings.TrimSpace(s), `"'`)))
	if s == "" {
		return "unknown"
	}
	return s
}

// parseConfidence clamps to the 0-10 scale; malformed values become 0.
func parseConfidence(s string) int {
	s = strings.TrimSpace(strings.Trim(strings.TrimSpace(s), `"'`))
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	if n < 0 {
		return 0
	}
	if n > 10 {
		return 10
	}
	return n
}
