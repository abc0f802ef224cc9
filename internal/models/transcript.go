package models

import (
	"fmt"
	"strings"
)

// WindowAround returns the narration temporally overlapping
// [ts-window, ts+window], joining overlapping segments with single spaces.
func (t Transcript) WindowAround(ts, window float64) string {
	start := ts - window
	if start < 0 {
		start = 0
	}
	end := ts + window

	var parts []string
	for _, seg := range t.Segments {
		if seg.Start <= end && seg.End >= start {
			text := strings.TrimSpace(seg.Text)
			if text != "" {
				parts = append(parts, text)
			}
		}
	}
	return strings.Join(parts, " ")
}

// TopicsAt returns the labels of topics active at ts. A topic with no end
// time is open-ended.
func (e Enrichment) TopicsAt(ts float64) []string {
	var active []string
	for _, tp := range e.Topics {
		if ts < tp.StartTime {
			continue
		}
		if tp.EndTime > 0 && ts > tp.EndTime {
			continue
		}
		active = append(active, tp.Topic)
	}
	return active
}

// FormatTimestamp renders seconds as M:SS, or H:MM:SS past the hour.
func FormatTimestamp(seconds float64) string {
	total := int(seconds)
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}
