package vision

import (
	"strings"
	"testing"
)

func TestExtractSummaryFromFencedJSON(t *testing.T) {
	t.Parallel()

	document := "Here is the analysis:\n```json\n" +
		`{
  "screen_type": "dashboard",
  "module_name": "Orders",
  "summary": "A dashboard listing open orders with totals per status.",
  "audio_correlation": "Narrator explains the status filter."
}` + "\n```\nLet me know if you need more."

	got := ExtractSummary(document)
	if !strings.HasPrefix(got, "[dashboard] | Module: Orders | ") {
		t.Fatalf("summary prefix wrong: %q", got)
	}
	if !strings.Contains(got, "Audio: Narrator explains the status filter.") {
		t.Fatalf("summary missing audio correlation: %q", got)
	}
	if strings.Contains(got, "```") {
		t.Fatalf("summary still carries markdown fences: %q", got)
	}
}

func TestExtractSummaryTruncatesLongFields(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("orders and payments flow together here ", 20)
	document := `{"screen_type": "payment", "summary": "` + long + `"}`

	got := ExtractSummary(document)
	if len(got) > 500 {
		t.Fatalf("summary is %d chars, want <= 500", len(got))
	}
	if !strings.HasPrefix(got, "[payment] | ") {
		t.Fatalf("summary prefix wrong: %q", got)
	}
}

func TestExtractSummaryPlainText(t *testing.T) {
	t.Parallel()

	document := "The screen shows\nan order list\n\nwith three filters applied.\n" +
		strings.Repeat("More detail follows here. ", 40)

	got := ExtractSummary(document)
	if strings.ContainsAny(got, "\n\t") {
		t.Fatalf("summary not collapsed to one line: %q", got)
	}
	if len(got) > 400 {
		t.Fatalf("summary is %d chars, want <= 400", len(got))
	}
	if !strings.HasPrefix(got, "The screen shows an order list with three filters applied.") {
		t.Fatalf("summary start wrong: %q", got)
	}
}

func TestExtractSummaryEmptyJSONFallsBackToText(t *testing.T) {
	t.Parallel()

	got := ExtractSummary(`{"unrelated": "fields"}`)
	if got != `{"unrelated": "fields"}` {
		t.Fatalf("got %q, want raw document", got)
	}
}
