package vision

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/M4n3kiNek0/ai-video-analyzer/internal/models"
)

// fallbackDocument mirrors the schema vision providers are prompted for, so
// downstream consumers never branch on which path produced a description.
type fallbackDocument struct {
	Fallback               bool       `json:"fallback"`
	Error                  string     `json:"error"`
	ScreenType             string     `json:"screen_type"`
	ModuleName             string     `json:"module_name"`
	Summary                string     `json:"summary"`
	AudioCorrelation       string     `json:"audio_correlation"`
	OCRExtractedTexts      ocrTexts   `json:"ocr_extracted_texts"`
	LayoutArchitecture     string     `json:"layout_architecture"`
	Components             []string   `json:"components"`
	InferredDataModel      dataModel  `json:"inferred_data_model"`
	InferredAPI            apiSurface `json:"inferred_api"`
	CurrentState           string     `json:"current_state"`
	CurrentAction          string     `json:"current_action"`
	TechnologyHints        []string   `json:"technology_hints"`
	TransitionFromPrevious string     `json:"transition_from_previous"`
	ReconstructionNotes    string     `json:"reconstruction_notes"`
	DetectedFeatures       []string   `json:"detected_features"`
	Confidence             string     `json:"confidence"`
	AnalysisNotes          string     `json:"analysis_notes"`
}

type ocrTexts struct {
	Headers    []string `json:"headers"`
	Buttons    []string `json:"buttons"`
	Labels     []string `json:"labels"`
	MenuItems  []string `json:"menu_items"`
	DataValues []string `json:"data_values"`
	Messages   []string `json:"messages"`
}

type dataModel struct {
	Entities []string `json:"entities"`
}

type apiSurface struct {
	GetEndpoints    []string `json:"get_endpoints"`
	PostEndpoints   []string `json:"post_endpoints"`
	PutEndpoints    []string `json:"put_endpoints"`
	DeleteEndpoints []string `json:"delete_endpoints"`
}

// Fallback synthesizes a frame description from locally available signals
// only. No provider call is made. The document carries the full schema with
// fallback=true and confidence=low so provenance survives persistence.
func Fallback(frame models.SampledFrame, jc JobContext) models.FrameDescription {
	at := models.FormatTimestamp(frame.TimestampSeconds)

	summary := fmt.Sprintf("Screen captured at %s", at)
	if jc.Domain != "" {
		summary += "; context: " + jc.Domain
	}
	if frame.TranscriptWindow != "" {
		summary += "; audio: " + truncate(frame.TranscriptWindow, 100)
	}

	doc := fallbackDocument{
		Fallback:            true,
		Error:               "vision analysis unavailable after retry",
		ScreenType:          inferScreenType(jc.Domain + " " + frame.TranscriptWindow),
		Summary:             summary,
		AudioCorrelation:    truncate(frame.TranscriptWindow, 200),
		OCRExtractedTexts:   emptyOCR(),
		LayoutArchitecture:  "unknown",
		Components:          []string{},
		InferredDataModel:   dataModel{Entities: []string{}},
		InferredAPI:         emptyAPI(),
		CurrentState:        "unknown",
		CurrentAction:       "unknown",
		TechnologyHints:     []string{},
		ReconstructionNotes: "Vision analysis unavailable; reconstructed from audio transcript and timing only.",
		DetectedFeatures:    []string{},
		Confidence:          "low",
		AnalysisNotes:       fmt.Sprintf("Fallback document for frame at %s.", at),
	}

	out, _ := json.MarshalIndent(doc, "", "  ")
	return models.FrameDescription{Document: string(out), Fallback: true}
}

// inferScreenType makes a coarse guess from job context and nearby audio.
func inferScreenType(context string) string {
	c := strings.ToLower(context)
	switch {
	case strings.Contains(c, "order"):
		return "order_management"
	case strings.Contains(c, "payment"):
		return "payment"
	case strings.Contains(c, "dashboard"):
		return "dashboard"
	default:
		return "unknown"
	}
}

func emptyOCR() ocrTexts {
	return ocrTexts{
		Headers:    []string{},
		Buttons:    []string{},
		Labels:     []string{},
		MenuItems:  []string{},
		DataValues: []string{},
		Messages:   []string{},
	}
}

func emptyAPI() apiSurface {
	return apiSurface{
		GetEndpoints:    []string{},
		PostEndpoints:   []string{},
		PutEndpoints:    []string{},
		DeleteEndpoints: []string{},
	}
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
