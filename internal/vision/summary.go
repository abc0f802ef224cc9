package vision

import (
	"encoding/json"
	"strings"
)

// ExtractSummary condenses a frame description document into a short line
// used for continuity hints and synthesis input. Documents are usually JSON
// but providers sometimes wrap them in markdown fences or prose, so parsing
// is best-effort with a plain-text fallback.
func ExtractSummary(document string) string {
	var fields struct {
		ScreenType       string `json:"screen_type"`
		ModuleName       string `json:"module_name"`
		Summary          string `json:"summary"`
		AudioCorrelation string `json:"audio_correlation"`
	}
	if raw, ok := ExtractJSON(document); ok && json.Unmarshal([]byte(raw), &fields) == nil {
		var parts []string
		if fields.ScreenType != "" {
			parts = append(parts, "["+fields.ScreenType+"]")
		}
		if fields.ModuleName != "" {
			parts = append(parts, "Module: "+fields.ModuleName)
		}
		if fields.Summary != "" {
			parts = append(parts, truncate(fields.Summary, 250))
		}
		if fields.AudioCorrelation != "" {
			parts = append(parts, "Audio: "+truncate(fields.AudioCorrelation, 100))
		}
		if len(parts) > 0 {
			return truncate(strings.Join(parts, " | "), 500)
		}
	}
	return truncate(strings.Join(strings.Fields(document), " "), 400)
}

// ExtractJSON pulls the outermost JSON object out of a document that may be
// wrapped in markdown fences or surrounding prose.
func ExtractJSON(document string) (string, bool) {
	s := document
	if i := strings.Index(s, "```json"); i >= 0 {
		s = s[i+len("```json"):]
	} else if i := strings.Index(s, "```"); i >= 0 {
		s = s[i+3:]
	}
	if i := strings.Index(s, "```"); i >= 0 {
		s = s[:i]
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}
