// Package vision wraps the external vision provider in a bounded retry
// machine. Every frame gets one fully contextualized attempt, at most one
// retry with a neutral prompt, and a locally synthesized fallback document
// when both fail, so callers always receive a usable description and the
// per-frame provider cost stays at one or two calls.
package vision

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/M4n3kiNek0/ai-video-analyzer/internal/models"
)

// Caller is the external vision capability the machine drives.
type Caller interface {
	DescribeImage(ctx context.Context, imagePath, prompt string) (string, error)
}

// JobContext carries the job-scoped signals woven into vision prompts.
type JobContext struct {
	// Domain is the operator-supplied description of the recorded system.
	Domain string
	// Keywords come from transcript enrichment, most relevant first.
	Keywords []string
}

// Machine runs the describe-retry-fallback sequence for single frames.
type Machine struct {
	caller Caller
	log    *slog.Logger
}

func NewMachine(caller Caller, log *slog.Logger) *Machine {
	return &Machine{caller: caller, log: log}
}

// Describe returns a description for the frame. It never fails: provider
// errors and content-policy refusals degrade through one simplified retry
// and then a local fallback marked as such.
func (m *Machine) Describe(ctx context.Context, frame models.SampledFrame, jc JobContext) models.FrameDescription {
	text, err := m.caller.DescribeImage(ctx, frame.Image.Path, buildPrompt(frame, jc))
	switch {
	case err != nil:
		m.log.Warn("vision call failed, retrying with neutral prompt",
			"frame", frame.FrameIndex, "error", err)
	case LooksLikeRefusal(text):
		m.log.Warn("vision response reads as refusal, retrying with neutral prompt",
			"frame", frame.FrameIndex)
	default:
		return models.FrameDescription{Document: text}
	}

	text, err = m.caller.DescribeImage(ctx, frame.Image.Path, buildRetryPrompt(frame))
	switch {
	case err != nil:
		m.log.Warn("vision retry failed, synthesizing fallback",
			"frame", frame.FrameIndex, "error", err)
	case LooksLikeRefusal(text):
		m.log.Warn("vision retry refused, synthesizing fallback",
			"frame", frame.FrameIndex)
	default:
		return models.FrameDescription{Document: text}
	}

	return Fallback(frame, jc)
}

const maxPromptKeywords = 10

func buildPrompt(frame models.SampledFrame, jc JobContext) string {
	var b strings.Builder
	b.WriteString("You are reverse engineering a business application from a screen recording.\n")
	b.WriteString("Analyze this screenshot and correlate it with the context below.\n\n")
	b.WriteString("Context:\n")
	fmt.Fprintf(&b, "- Video timestamp: %s\n", models.FormatTimestamp(frame.TimestampSeconds))
	if jc.Domain != "" {
		fmt.Fprintf(&b, "- Domain: %s\n", jc.Domain)
	}
	if frame.TranscriptWindow != "" {
		fmt.Fprintf(&b, "- Audio around this moment: %q\n", frame.TranscriptWindow)
	}
	if len(frame.TopicsInWindow) > 0 {
		fmt.Fprintf(&b, "- Active topics: %s\n", strings.Join(frame.TopicsInWindow, ", "))
	}
	if kw := jc.Keywords; len(kw) > 0 {
		if len(kw) > maxPromptKeywords {
			kw = kw[:maxPromptKeywords]
		}
		fmt.Fprintf(&b, "- Keywords: %s\n", strings.Join(kw, ", "))
	}
	if frame.ContinuityHint != "" {
		// The hint is the previous frame's full description document;
		// condense it so one verbose frame cannot crowd out the rest of
		// the prompt.
		fmt.Fprintf(&b, "- Previous frame: %s\n", ExtractSummary(frame.ContinuityHint))
	}
	b.WriteString("\nReturn ONLY a JSON object with these fields:\n")
	b.WriteString(promptSchema)
	return b.String()
}

// buildRetryPrompt drops all audio and domain context. Contextual prompts
// occasionally trip provider content filters on business recordings; the
// neutral wording usually passes.
func buildRetryPrompt(frame models.SampledFrame) string {
	return fmt.Sprintf("Describe this application screenshot as JSON.\n"+
		"Return ONLY a JSON object with fields: screen_type, module_name, summary, components, current_state, confidence.\n"+
		"Video timestamp: %s.", models.FormatTimestamp(frame.TimestampSeconds))
}

const promptSchema = `{
  "screen_type": "login|dashboard|order_management|payment|settings|form|list|detail|unknown",
  "module_name": "functional module shown",
  "summary": "what the screen shows and what the user is doing",
  "audio_correlation": "how the narration relates to what is on screen",
  "ocr_extracted_texts": {"headers": [], "buttons": [], "labels": [], "menu_items": [], "data_values": [], "messages": []},
  "layout_architecture": "structure of the page layout",
  "components": ["visible UI components"],
  "inferred_data_model": {"entities": [{"name": "", "fields": []}]},
  "inferred_api": {"get_endpoints": [], "post_endpoints": [], "put_endpoints": [], "delete_endpoints": []},
  "current_state": "state of the interface",
  "current_action": "action in progress",
  "technology_hints": ["framework or library clues"],
  "transition_from_previous": "what changed since the previous frame",
  "reconstruction_notes": "notes for rebuilding this screen",
  "detected_features": ["features this screen implies"],
  "confidence": "high|medium|low"
}`
