package vision

import "strings"

// refusalMarkers are the phrases providers use when declining to analyze an
// image. Matching is case-insensitive substring search; anything matched
// gets the neutral retry rather than being surfaced as an error.
var refusalMarkers = []string{
	"i'm sorry",
	"i can't assist",
	"i'm unable",
	"cannot assist",
	"content policy",
	"i cannot",
	"i'm not able",
}

// LooksLikeRefusal reports whether text reads as a content-policy refusal
// rather than an analysis. Empty responses count as refusals.
func LooksLikeRefusal(text string) bool {
	t := strings.ToLower(strings.TrimSpace(text))
	if t == "" {
		return true
	}
	for _, marker := range refusalMarkers {
		if strings.Contains(t, marker) {
			return true
		}
	}
	return false
}
