package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/M4n3kiNek0/ai-video-analyzer/internal/media"
	"github.com/M4n3kiNek0/ai-video-analyzer/internal/models"
	"github.com/M4n3kiNek0/ai-video-analyzer/internal/vision"
)

// Token budgets per completion kind.
const (
	enrichMaxTokens    = 2000
	inferMaxTokens     = 500
	synthesisMaxTokens = 4000
)

// Input caps keep synthesis prompts inside provider rate limits.
const (
	inferTranscriptChars  = 4000
	flowTranscriptChars   = 8000
	audioTranscriptChars  = 10000
	semanticSummaryChars  = 1500
	topicDescriptionChars = 150
	maxSynthesisFrames    = 15
	maxSynthesisTopics    = 10
	maxSynthesisKeywords  = 20
)

// Synthesis templates. Video sources always get the full-flow treatment;
// audio-only sources pick one of these by request or inference.
const (
	contentTypeReverseEngineering = "reverse_engineering"
	contentTypeMeeting            = "meeting"
	contentTypeDebrief            = "debrief"
	contentTypeBrainstorming      = "brainstorming"
	contentTypeNotes              = "notes"
)

var contentTypes = map[string]bool{
	contentTypeReverseEngineering: true,
	contentTypeMeeting:            true,
	contentTypeDebrief:            true,
	contentTypeBrainstorming:      true,
	contentTypeNotes:              true,
}

// enrich layers semantic analysis on the raw transcript. Best-effort: an
// empty transcript, a provider error, or an unparseable response all return
// an unenriched result and the pipeline continues.
func (p *Pipeline) enrich(ctx context.Context, payload models.JobPayload, transcript models.Transcript, duration float64) models.Enrichment {
	if strings.TrimSpace(transcript.FullText) == "" {
		return models.Enrichment{}
	}

	raw, err := p.deps.Analyzer.CompleteJSON(ctx, enrichSystem,
		buildEnrichPrompt(payload, transcript, duration), enrichMaxTokens)
	if err != nil {
		p.log.Warn("transcript enrichment failed", "job_id", payload.JobID, "error", err)
		return models.Enrichment{}
	}

	var parsed struct {
		SemanticSummary    string         `json:"semantic_summary"`
		Topics             []models.Topic `json:"topics"`
		Tone               string         `json:"tone"`
		SpeakingStyle      string         `json:"speaking_style"`
		SpeakersDetected   int            `json:"speakers_detected"`
		Keywords           []string       `json:"keywords"`
		VisualContextHints []string       `json:"visual_context_hints"`
		ActionPhrases      []string       `json:"action_phrases"`
	}
	doc, ok := vision.ExtractJSON(raw)
	if !ok || json.Unmarshal([]byte(doc), &parsed) != nil {
		p.log.Warn("enrichment response was not usable JSON", "job_id", payload.JobID)
		return models.Enrichment{}
	}

	return models.Enrichment{
		Enriched:           true,
		SemanticSummary:    parsed.SemanticSummary,
		Topics:             parsed.Topics,
		Tone:               parsed.Tone,
		SpeakingStyle:      parsed.SpeakingStyle,
		SpeakersDetected:   parsed.SpeakersDetected,
		Keywords:           parsed.Keywords,
		VisualContextHints: parsed.VisualContextHints,
		ActionPhrases:      parsed.ActionPhrases,
	}
}

// resolveContentType picks the synthesis template. Video jobs are always
// reverse engineered; audio-only jobs honor an explicit valid mode and infer
// from the transcript otherwise.
func (p *Pipeline) resolveContentType(ctx context.Context, payload models.JobPayload, transcript models.Transcript, hasVideo bool) string {
	if hasVideo {
		return contentTypeReverseEngineering
	}
	mode := strings.ToLower(strings.TrimSpace(payload.AnalysisMode))
	switch {
	case mode == "" || mode == "auto":
		return p.inferContentType(ctx, payload, transcript)
	case contentTypes[mode]:
		return mode
	default:
		p.log.Warn("unknown analysis mode, falling back to notes",
			"job_id", payload.JobID, "analysis_mode", payload.AnalysisMode)
		return contentTypeNotes
	}
}

// inferContentType classifies the transcript into one of the audio templates.
// Any failure falls back to notes, the template that fits everything.
func (p *Pipeline) inferContentType(ctx context.Context, payload models.JobPayload, transcript models.Transcript) string {
	raw, err := p.deps.Analyzer.CompleteJSON(ctx, inferSystem,
		buildInferPrompt(payload, transcript), inferMaxTokens)
	if err != nil {
		p.log.Warn("content type inference failed, using notes", "job_id", payload.JobID, "error", err)
		return contentTypeNotes
	}

	var parsed struct {
		ContentType string `json:"content_type"`
	}
	doc, ok := vision.ExtractJSON(raw)
	if !ok || json.Unmarshal([]byte(doc), &parsed) != nil || !contentTypes[parsed.ContentType] {
		p.log.Warn("content type inference returned no usable type, using notes", "job_id", payload.JobID)
		return contentTypeNotes
	}
	p.log.Info("content type inferred", "job_id", payload.JobID, "content_type", parsed.ContentType)
	return parsed.ContentType
}

// synthesize produces the job's final document. Unlike enrichment this is the
// primary deliverable, so a provider failure fails the stage.
func (p *Pipeline) synthesize(ctx context.Context, contentType string, payload models.JobPayload, transcript models.Transcript, enrichment models.Enrichment, summaries []frameSummary, info media.ProbeInfo) (string, error) {
	var system, prompt string
	if info.HasVideo {
		system = flowSystem
		prompt = buildFlowPrompt(payload, transcript, summaries, info.DurationSeconds)
	} else {
		system, prompt = buildAudioPrompt(contentType, payload, transcript, enrichment, info.DurationSeconds)
	}

	raw, err := p.deps.Analyzer.Complete(ctx, system, prompt, synthesisMaxTokens)
	if err != nil {
		return "", fmt.Errorf("synthesis completion: %w", err)
	}
	if doc, ok := vision.ExtractJSON(raw); ok {
		return doc, nil
	}
	return raw, nil
}

const enrichSystem = "You are an expert analyst of recorded narrations. You analyze transcripts and produce detailed semantic analyses as valid JSON."

func buildEnrichPrompt(payload models.JobPayload, transcript models.Transcript, duration float64) string {
	var b strings.Builder
	b.WriteString("Analyze this audio transcript from a recording of a software application.\n\n")
	fmt.Fprintf(&b, "Recording: %s\n", filepath.Base(payload.MediaPath))
	fmt.Fprintf(&b, "Duration: %.1f seconds\n", duration)
	if payload.Context != "" {
		fmt.Fprintf(&b, "Operator context: %s\n", payload.Context)
	}

	b.WriteString("\nFull transcript:\n")
	b.WriteString(transcript.FullText)

	b.WriteString("\n\nTimed segments:\n")
	for _, seg := range transcript.Segments {
		fmt.Fprintf(&b, "[%.1fs - %.1fs]: %s\n", seg.Start, seg.End, seg.Text)
	}

	b.WriteString("\nIdentify every topic discussed with its time span, extract keywords ")
	b.WriteString("useful for correlating narration with screen content, and note phrases ")
	b.WriteString("that cue visible actions.\n")
	b.WriteString("\nReturn ONLY a JSON object:\n")
	b.WriteString(enrichSchema)
	return b.String()
}

const enrichSchema = `{
  "semantic_summary": "3-5 sentence summary of what the recording covers and its overall context",
  "topics": [{"topic": "subject or feature discussed", "start_time": 0.0, "end_time": 30.0, "description": "what is said about it"}],
  "tone": "professional|informal|tutorial|presentation|conversation",
  "speaking_style": "how the narrator communicates",
  "speakers_detected": 1,
  "keywords": ["term1", "term2"],
  "visual_context_hints": ["things likely visible on screen while this is said"],
  "action_phrases": ["spoken phrases that signal a visible action, like clicking or opening something"]
}`

const inferSystem = "You are an expert classifier of audio and video content. You determine the content type from a transcript. You always respond with valid JSON."

func buildInferPrompt(payload models.JobPayload, transcript models.Transcript) string {
	var b strings.Builder
	b.WriteString("Classify this transcript into the content type that fits it best.\n\n")
	if payload.Context != "" {
		fmt.Fprintf(&b, "Operator context: %s\n\n", payload.Context)
	}
	b.WriteString("Transcript:\n")
	b.WriteString(truncateMarked(transcript.FullText, inferTranscriptChars))
	b.WriteString("\n\nTypes:\n")
	b.WriteString("- reverse_engineering: application demos, technical walkthroughs\n")
	b.WriteString("- meeting: structured meetings with action items and decisions\n")
	b.WriteString("- debrief: retrospectives and post-event analysis\n")
	b.WriteString("- brainstorming: creative idea sessions\n")
	b.WriteString("- notes: general notes, memos, anything else\n")
	b.WriteString("\nReturn ONLY a JSON object:\n")
	b.WriteString(`{"content_type": "reverse_engineering|meeting|debrief|brainstorming|notes", "confidence": "high|medium|low", "reasoning": "one sentence"}`)
	return b.String()
}

const flowSystem = "You are an expert software and UX analyst. You analyze application demo recordings and produce structured reports as valid JSON."

func buildFlowPrompt(payload models.JobPayload, transcript models.Transcript, summaries []frameSummary, duration float64) string {
	var b strings.Builder
	b.WriteString("You are reverse engineering an application from a screen recording. ")
	b.WriteString("Document what it does and how it is structured, in enough detail to rebuild it.\n\n")
	fmt.Fprintf(&b, "File: %s\n", filepath.Base(payload.MediaPath))
	if payload.Context != "" {
		fmt.Fprintf(&b, "Operator context: %s\n", payload.Context)
	}
	fmt.Fprintf(&b, "Duration: %.1f seconds\n", duration)

	b.WriteString("\n=== AUDIO TRANSCRIPT ===\n")
	if strings.TrimSpace(transcript.FullText) == "" {
		b.WriteString("(no transcript available)\n")
	} else {
		b.WriteString(truncateMarked(transcript.FullText, flowTranscriptChars))
		b.WriteString("\n")
	}

	b.WriteString("\n=== SCREEN ANALYSES (timestamped) ===\n")
	if len(summaries) == 0 {
		b.WriteString("(no screen analyses available)\n")
	} else {
		shown := summaries
		if len(shown) > maxSynthesisFrames {
			shown = shown[:maxSynthesisFrames]
		}
		for _, s := range shown {
			fmt.Fprintf(&b, "[%.0fs] %s\n", s.Timestamp, s.Summary)
		}
		if extra := len(summaries) - maxSynthesisFrames; extra > 0 {
			fmt.Fprintf(&b, "... [%d more frames not shown]\n", extra)
		}
	}

	b.WriteString("\nReturn ONLY a JSON object:\n")
	b.WriteString(flowSchema)
	return b.String()
}

const flowSchema = `{
  "app_name_short": "short name of the application",
  "summary": "4-5 sentence description covering purpose, target users, and main capabilities",
  "app_type": "web|mobile|desktop|hybrid",
  "app_category": "POS|ERP|CRM|e-commerce|dashboard|management|other",
  "architecture_overview": {"frontend_type": "SPA|MPA|mobile native|PWA", "estimated_complexity": "simple|medium|complex", "navigation_pattern": "tabs|sidebar|drawer|stack"},
  "modules": [{"name": "", "description": "", "purpose": "", "screens": [], "key_features": [], "crud_operations": [], "data_entities": []}],
  "data_model": {"entities": [{"name": "", "description": "", "fields": [{"name": "", "type": "string|number|boolean|date|enum|relation", "required": true}], "relationships": [{"type": "has_many|belongs_to|has_one", "target": ""}]}]},
  "user_flows": [{"name": "", "description": "", "trigger": "", "steps": [{"step": 1, "timestamp": "M:SS", "action": "", "ui_element": "", "system_response": ""}], "outcome": ""}],
  "issues_and_observations": ["UX or functional issues noticed in the recording"],
  "technology_hints": ["framework or library clues"],
  "recommendations": ["suggestions for a rebuild"],
  "confidence": "high|medium|low"
}`

// buildAudioPrompt assembles the synthesis prompt for sources without video,
// shaped by the resolved content type.
func buildAudioPrompt(contentType string, payload models.JobPayload, transcript models.Transcript, enrichment models.Enrichment, duration float64) (string, string) {
	system, goal, schema := audioPromptParts(contentType)

	speakers := enrichment.SpeakersDetected
	if speakers < 1 {
		speakers = 1
	}
	tone := enrichment.Tone
	if tone == "" {
		tone = "unknown"
	}

	var b strings.Builder
	b.WriteString(goal)
	b.WriteString("\n\n=== RECORDING ===\n")
	fmt.Fprintf(&b, "File: %s\n", filepath.Base(payload.MediaPath))
	fmt.Fprintf(&b, "Duration: %.1f seconds (%s)\n", duration, models.FormatTimestamp(duration))
	fmt.Fprintf(&b, "Speakers detected: %d\n", speakers)
	fmt.Fprintf(&b, "Tone: %s\n", tone)
	if payload.Context != "" {
		fmt.Fprintf(&b, "Operator context: %s\n", payload.Context)
	}

	if enrichment.SemanticSummary != "" {
		b.WriteString("\n=== SEMANTIC SUMMARY ===\n")
		b.WriteString(truncateMarked(enrichment.SemanticSummary, semanticSummaryChars))
		b.WriteString("\n")
	}

	b.WriteString("\n=== TOPICS ===\n")
	if len(enrichment.Topics) == 0 {
		b.WriteString("(no topics identified)\n")
	} else {
		shown := enrichment.Topics
		if len(shown) > maxSynthesisTopics {
			shown = shown[:maxSynthesisTopics]
		}
		for _, t := range shown {
			fmt.Fprintf(&b, "- [%.0fs - %.0fs] %s: %s\n",
				t.StartTime, t.EndTime, t.Topic, clip(t.Description, topicDescriptionChars))
		}
		if extra := len(enrichment.Topics) - maxSynthesisTopics; extra > 0 {
			fmt.Fprintf(&b, "... [%d more topics]\n", extra)
		}
	}

	if len(enrichment.Keywords) > 0 {
		kw := enrichment.Keywords
		if len(kw) > maxSynthesisKeywords {
			kw = kw[:maxSynthesisKeywords]
		}
		b.WriteString("\n=== KEYWORDS ===\n")
		b.WriteString(strings.Join(kw, ", "))
		b.WriteString("\n")
	}

	b.WriteString("\n=== TRANSCRIPT ===\n")
	if strings.TrimSpace(transcript.FullText) == "" {
		b.WriteString("(no transcript available)\n")
	} else {
		b.WriteString(truncateMarked(transcript.FullText, audioTranscriptChars))
		b.WriteString("\n")
	}

	b.WriteString("\nReturn ONLY a JSON object:\n")
	b.WriteString(schema)
	return system, b.String()
}

func audioPromptParts(contentType string) (system, goal, schema string) {
	switch contentType {
	case contentTypeMeeting:
		return "You are an expert meeting facilitator. You extract structured minutes from meeting recordings, focused on action items, decisions, and follow-ups. You always produce valid JSON.",
			"Analyze this meeting recording and produce complete structured minutes: participants, discussed topics, every action item with its owner, every decision, open issues, and concrete next steps.",
			meetingSchema
	case contentTypeDebrief:
		return "You are an expert facilitator of retrospectives and post-mortems. You extract lessons learned, successes, and areas to improve from debrief discussions. You always produce valid JSON.",
			"Analyze this debrief recording and produce a structured retrospective report: what went well, what to improve, lessons learned, and recommended actions.",
			debriefSchema
	case contentTypeBrainstorming:
		return "You are an expert facilitator of creative sessions. You collect, categorize, and assess the ideas raised in brainstorming recordings. You always produce valid JSON.",
			"Analyze this brainstorming session and collect every idea raised, grouped by theme and assessed for potential.",
			brainstormingSchema
	case contentTypeReverseEngineering:
		return "You are an expert analyst of audio content. You analyze recordings of meetings, interviews, podcasts, and conversations to extract structured insight. You always produce valid JSON.",
			"Analyze this audio recording and produce a complete structured report: executive summary, speakers, topics with timeline, action items, decisions, and recommendations.",
			audioReportSchema
	default:
		return "You are an expert at turning audio content into structured, easy to scan notes. You extract the key points and organize them clearly. You always produce valid JSON.",
			"Analyze this recording and produce clear, organized notes capturing the key points, topics, references, and follow-ups.",
			notesSchema
	}
}

const meetingSchema = `{
  "summary": "3-5 sentence executive summary",
  "meeting_type": "standup|planning|retrospective|decision|status_update|kickoff|review|other",
  "participants": [{"id": "speaker_1", "name": "name if mentioned", "role": "inferred role", "contributions": []}],
  "agenda_topics": [{"topic": "", "start_time": "M:SS", "summary": "", "key_points": []}],
  "action_items": [{"action": "", "owner": "", "due": "", "priority": "high|medium|low"}],
  "decisions": [{"decision": "", "rationale": "", "made_by": ""}],
  "open_issues": [],
  "next_steps": [],
  "tags": []
}`

const debriefSchema = `{
  "summary": "3-5 sentence executive summary",
  "subject": "what is being debriefed",
  "what_went_well": [],
  "what_to_improve": [],
  "lessons_learned": [{"lesson": "", "context": ""}],
  "action_items": [{"action": "", "owner": "", "priority": "high|medium|low"}],
  "recommendations": [],
  "tags": []
}`

const brainstormingSchema = `{
  "summary": "3-5 sentence executive summary",
  "session_goal": "what the session is trying to solve",
  "ideas": [{"idea": "", "proposed_by": "", "category": "", "potential": "high|medium|low"}],
  "themes": [{"theme": "", "related_ideas": []}],
  "standout_ideas": [],
  "next_steps": [],
  "tags": []
}`

const notesSchema = `{
  "summary": "3-5 sentence summary",
  "note_type": "memo|reminder|idea|reflection|instruction|other",
  "key_points": [],
  "topics": [{"topic": "", "details": []}],
  "references": ["people, dates, places, or tools mentioned"],
  "follow_ups": [],
  "tags": []
}`

const audioReportSchema = `{
  "summary": "5-7 sentence executive summary",
  "audio_type": "meeting|interview|podcast|presentation|voice_note|lecture|conversation",
  "speakers": [{"id": "speaker_1", "inferred_name": "", "role": "", "key_contributions": []}],
  "topics": [{"topic": "", "start_time": "M:SS", "summary": "", "key_points": []}],
  "action_items": [{"action": "", "owner": "", "due": ""}],
  "decisions": [],
  "ideas_and_proposals": [],
  "open_points": [],
  "recommendations": [],
  "tags": []
}`

// truncateMarked caps text at max bytes, cutting on a rune boundary and
// appending an explicit marker so the model knows the input was cut.
func truncateMarked(text string, max int) string {
	if len(text) <= max {
		return text
	}
	return clip(text, max) + "\n... [truncated]"
}

func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
