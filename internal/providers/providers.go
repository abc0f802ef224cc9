// Package providers implements the external AI capabilities behind the
// pipeline: speech-to-text, text analysis, and vision. All variants speak
// the OpenAI-compatible API, so one client parameterized by base URL, key,
// and model names covers the whole set.
package providers

import (
	"fmt"
	"time"
)

// Variant selects which backend serves requests. The set is closed:
// spreading provider conditionals through the pipeline is what this type
// exists to prevent.
type Variant string

const (
	VariantOpenAI Variant = "openai"
	VariantGroq   Variant = "groq"
	VariantOllama Variant = "ollama"
)

// Settings configure a provider client. Zero-valued fields fall back to the
// variant's defaults.
type Settings struct {
	Variant        Variant
	APIKey         string
	BaseURL        string
	ChatModel      string
	VisionModel    string
	WhisperModel   string
	RequestTimeout time.Duration
}

type variantDefaults struct {
	baseURL      string
	chatModel    string
	visionModel  string
	whisperModel string
	needsKey     bool
}

func defaultsFor(v Variant) (variantDefaults, error) {
	switch v {
	case VariantOpenAI:
		return variantDefaults{
			chatModel:    "gpt-4o",
			visionModel:  "gpt-4o",
			whisperModel: "whisper-1",
			needsKey:     true,
		}, nil
	case VariantGroq:
		return variantDefaults{
			baseURL:      "https://api.groq.com/openai/v1",
			chatModel:    "llama-3.3-70b-versatile",
			visionModel:  "llama-3.2-90b-vision-preview",
			whisperModel: "whisper-large-v3",
			needsKey:     true,
		}, nil
	case VariantOllama:
		return variantDefaults{
			baseURL:      "http://localhost:11434/v1",
			chatModel:    "llama3.1",
			visionModel:  "llava",
			whisperModel: "whisper-1",
		}, nil
	default:
		return variantDefaults{}, fmt.Errorf("unknown provider variant %q (valid: openai, groq, ollama)", v)
	}
}

func (s *Settings) applyDefaults() error {
	d, err := defaultsFor(s.Variant)
	if err != nil {
		return err
	}
	if d.needsKey && s.APIKey == "" {
		return fmt.Errorf("provider %s requires an API key", s.Variant)
	}
	if s.BaseURL == "" {
		s.BaseURL = d.baseURL
	}
	if s.ChatModel == "" {
		s.ChatModel = d.chatModel
	}
	if s.VisionModel == "" {
		s.VisionModel = d.visionModel
	}
	if s.WhisperModel == "" {
		s.WhisperModel = d.whisperModel
	}
	if s.RequestTimeout <= 0 {
		s.RequestTimeout = 2 * time.Minute
	}
	return nil
}
