package vision

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/M4n3kiNek0/ai-video-analyzer/internal/models"
)

type visionReply struct {
	text string
	err  error
}

type fakeCaller struct {
	replies []visionReply
	prompts []string
	paths   []string
}

func (f *fakeCaller) DescribeImage(_ context.Context, imagePath, prompt string) (string, error) {
	f.paths = append(f.paths, imagePath)
	f.prompts = append(f.prompts, prompt)
	if len(f.prompts) > len(f.replies) {
		return "", errors.New("call past scripted replies")
	}
	r := f.replies[len(f.prompts)-1]
	return r.text, r.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleFrame() models.SampledFrame {
	return models.SampledFrame{
		CandidateFrame: models.CandidateFrame{
			FrameIndex:       3,
			TimestampSeconds: 83,
			Image:            models.ImageRef{Path: "/tmp/frames/frame_x.jpg"},
			Method:           models.MethodUniform,
		},
		TranscriptWindow: "now we open the orders list and filter by status",
		TopicsInWindow:   []string{"orders"},
		ContinuityHint:   "[dashboard] | Module: Home",
	}
}

func jobContext() JobContext {
	return JobContext{
		Domain:   "warehouse management suite",
		Keywords: []string{"orders", "filters", "status"},
	}
}

const goodDocument = `{"screen_type": "order_management", "summary": "orders list with status filter"}`

func TestDescribeAcceptsPrimary(t *testing.T) {
	t.Parallel()

	caller := &fakeCaller{replies: []visionReply{{text: goodDocument}}}
	desc := NewMachine(caller, testLogger()).Describe(context.Background(), sampleFrame(), jobContext())

	if len(caller.prompts) != 1 {
		t.Fatalf("made %d calls, want 1", len(caller.prompts))
	}
	if desc.Fallback {
		t.Fatal("accepted result marked as fallback")
	}
	if desc.Document != goodDocument {
		t.Fatalf("document = %q, want provider text", desc.Document)
	}

	prompt := caller.prompts[0]
	for _, want := range []string{"1:23", "orders list and filter", "warehouse management suite", "Previous frame"} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("primary prompt missing %q:\n%s", want, prompt)
		}
	}
	if caller.paths[0] != "/tmp/frames/frame_x.jpg" {
		t.Fatalf("called with path %q", caller.paths[0])
	}
}

func TestDescribeRetriesAfterRefusal(t *testing.T) {
	t.Parallel()

	caller := &fakeCaller{replies: []visionReply{
		{text: "I'm sorry, I can't assist with that request."},
		{text: goodDocument},
	}}
	frame := sampleFrame()
	desc := NewMachine(caller, testLogger()).Describe(context.Background(), frame, jobContext())

	if len(caller.prompts) != 2 {
		t.Fatalf("made %d calls, want 2", len(caller.prompts))
	}
	if desc.Fallback || desc.Document != goodDocument {
		t.Fatalf("retry result not accepted: %+v", desc)
	}

	retry := caller.prompts[1]
	if !strings.Contains(retry, "Describe this application screenshot as JSON") {
		t.Fatalf("retry prompt not neutral:\n%s", retry)
	}
	if strings.Contains(retry, frame.TranscriptWindow) {
		t.Fatal("retry prompt still carries transcript context")
	}
	if strings.Contains(retry, "warehouse management suite") {
		t.Fatal("retry prompt still carries domain context")
	}
}

func TestDescribeRetriesAfterTransportError(t *testing.T) {
	t.Parallel()

	caller := &fakeCaller{replies: []visionReply{
		{err: errors.New("connection reset")},
		{text: goodDocument},
	}}
	desc := NewMachine(caller, testLogger()).Describe(context.Background(), sampleFrame(), jobContext())

	if len(caller.prompts) != 2 {
		t.Fatalf("made %d calls, want 2", len(caller.prompts))
	}
	if desc.Fallback || desc.Document != goodDocument {
		t.Fatalf("retry result not accepted: %+v", desc)
	}
}

func TestDescribeFallsBackAfterTwoRefusals(t *testing.T) {
	t.Parallel()

	caller := &fakeCaller{replies: []visionReply{
		{text: "I cannot assist with analyzing this image."},
		{text: "I'm unable to help with this."},
	}}
	desc := NewMachine(caller, testLogger()).Describe(context.Background(), sampleFrame(), jobContext())

	if len(caller.prompts) != 2 {
		t.Fatalf("made %d calls, want 2", len(caller.prompts))
	}
	if !desc.Fallback {
		t.Fatal("expected fallback description")
	}

	var doc map[string]any
	if err := json.Unmarshal([]byte(desc.Document), &doc); err != nil {
		t.Fatalf("fallback document is not JSON: %v", err)
	}
	if doc["fallback"] != true {
		t.Fatalf("fallback flag = %v, want true", doc["fallback"])
	}
	if doc["confidence"] != "low" {
		t.Fatalf("confidence = %v, want low", doc["confidence"])
	}
	if doc["screen_type"] != "order_management" {
		t.Fatalf("screen_type = %v, want order_management", doc["screen_type"])
	}
	if _, ok := doc["ocr_extracted_texts"].(map[string]any); !ok {
		t.Fatal("fallback document missing ocr_extracted_texts object")
	}
}

func TestDescribeCallBudget(t *testing.T) {
	t.Parallel()

	caller := &fakeCaller{replies: []visionReply{
		{err: errors.New("timeout")},
		{err: errors.New("timeout")},
	}}
	desc := NewMachine(caller, testLogger()).Describe(context.Background(), sampleFrame(), jobContext())

	if len(caller.prompts) != 2 {
		t.Fatalf("made %d calls, want exactly 2", len(caller.prompts))
	}
	if !desc.Fallback {
		t.Fatal("expected fallback description")
	}
	if desc.Document == "" {
		t.Fatal("fallback document is empty")
	}
}
