package models

import (
	"reflect"
	"testing"
)

func TestWindowAround(t *testing.T) {
	t.Parallel()

	tr := Transcript{Segments: []Segment{
		{Start: 0, End: 4, Text: "intro words"},
		{Start: 4, End: 9, Text: "first screen"},
		{Start: 12, End: 18, Text: "second screen"},
		{Start: 30, End: 35, Text: "closing"},
	}}

	cases := []struct {
		name   string
		ts     float64
		window float64
		want   string
	}{
		{name: "overlaps two segments", ts: 8, window: 5.0, want: "intro words first screen second screen"},
		{name: "single segment", ts: 32, window: 1.0, want: "closing"},
		{name: "clamped at zero", ts: 1, window: 5.0, want: "intro words first screen"},
		{name: "gap between segments", ts: 24, window: 2.0, want: ""},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := tr.WindowAround(tc.ts, tc.window)
			if got != tc.want {
				t.Fatalf("window at %.0fs: got %q, want %q", tc.ts, got, tc.want)
			}
		})
	}
}

func TestTopicsAt(t *testing.T) {
	t.Parallel()

	e := Enrichment{Topics: []Topic{
		{Topic: "orders", StartTime: 0, EndTime: 20},
		{Topic: "payments", StartTime: 15, EndTime: 40},
		{Topic: "wrap-up", StartTime: 50},
	}}

	if got := e.TopicsAt(17); !reflect.DeepEqual(got, []string{"orders", "payments"}) {
		t.Fatalf("topics at 17s: got %v", got)
	}
	if got := e.TopicsAt(45); got != nil {
		t.Fatalf("topics at 45s: got %v, want none", got)
	}
	// Open-ended topic stays active past its start.
	if got := e.TopicsAt(500); !reflect.DeepEqual(got, []string{"wrap-up"}) {
		t.Fatalf("topics at 500s: got %v", got)
	}
}

func TestFormatTimestamp(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   float64
		want string
	}{
		{in: 0, want: "0:00"},
		{in: 65.4, want: "1:05"},
		{in: 600, want: "10:00"},
		{in: 3725, want: "1:02:05"},
	}
	for _, tc := range cases {
		if got := FormatTimestamp(tc.in); got != tc.want {
			t.Fatalf("FormatTimestamp(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
