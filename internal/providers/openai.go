package providers

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/M4n3kiNek0/ai-video-analyzer/internal/models"
)

const (
	analysisTemperature = 0.3
	visionMaxTokens     = 3000
)

// Client talks to one configured OpenAI-compatible backend.
type Client struct {
	api     *openai.Client
	variant Variant
	chat    string
	vision  string
	whisper string
	timeout time.Duration
	log     *slog.Logger
}

// New builds a client for the configured variant. Unknown variants and
// missing credentials are configuration errors.
func New(s Settings, log *slog.Logger) (*Client, error) {
	if err := s.applyDefaults(); err != nil {
		return nil, err
	}

	cfg := openai.DefaultConfig(s.APIKey)
	if s.BaseURL != "" {
		cfg.BaseURL = s.BaseURL
	}

	log.Info("provider configured",
		"variant", s.Variant,
		"chat_model", s.ChatModel,
		"vision_model", s.VisionModel,
		"whisper_model", s.WhisperModel)

	return &Client{
		api:     openai.NewClientWithConfig(cfg),
		variant: s.Variant,
		chat:    s.ChatModel,
		vision:  s.VisionModel,
		whisper: s.WhisperModel,
		timeout: s.RequestTimeout,
		log:     log,
	}, nil
}

// Transcribe runs speech-to-text over the audio file and returns the full
// text plus timed segments. A silent recording yields an empty transcript,
// not an error.
func (c *Client) Transcribe(ctx context.Context, audioPath, language string) (models.Transcript, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	req := openai.AudioRequest{
		Model:    c.whisper,
		FilePath: audioPath,
		Format:   openai.AudioResponseFormatVerboseJSON,
	}
	if language != "" {
		req.Language = language
	}

	resp, err := c.api.CreateTranscription(ctx, req)
	if err != nil {
		return models.Transcript{}, fmt.Errorf("create transcription: %w", err)
	}

	t := models.Transcript{
		FullText: strings.TrimSpace(resp.Text),
		Language: resp.Language,
	}
	for _, s := range resp.Segments {
		t.Segments = append(t.Segments, models.Segment{
			Start: s.Start,
			End:   s.End,
			Text:  strings.TrimSpace(s.Text),
		})
	}
	return t, nil
}

// Complete runs a chat completion and returns the response text.
func (c *Client) Complete(ctx context.Context, system, user string, maxTokens int) (string, error) {
	return c.complete(ctx, system, user, maxTokens, nil)
}

// CompleteJSON runs a chat completion constrained to a JSON object response.
func (c *Client) CompleteJSON(ctx context.Context, system, user string, maxTokens int) (string, error) {
	format := &openai.ChatCompletionResponseFormat{
		Type: openai.ChatCompletionResponseFormatTypeJSONObject,
	}
	return c.complete(ctx, system, user, maxTokens, format)
}

func (c *Client) complete(ctx context.Context, system, user string, maxTokens int, format *openai.ChatCompletionResponseFormat) (string, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var messages []openai.ChatCompletionMessage
	if system != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: user,
	})

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:          c.chat,
		Messages:       messages,
		MaxTokens:      maxTokens,
		Temperature:    analysisTemperature,
		ResponseFormat: format,
	})
	if err != nil {
		return "", fmt.Errorf("create chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// DescribeImage sends the image inline as a base64 data URL alongside the
// prompt and returns the model's text.
func (c *Client) DescribeImage(ctx context.Context, imagePath, prompt string) (string, error) {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return "", fmt.Errorf("read frame image: %w", err)
	}
	dataURL := "data:" + mimeFor(imagePath) + ";base64," + base64.StdEncoding.EncodeToString(data)

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.vision,
		Messages: []openai.ChatCompletionMessage{{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: prompt},
				{
					Type: openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{
						URL:    dataURL,
						Detail: openai.ImageURLDetailHigh,
					},
				},
			},
		}},
		MaxTokens: visionMaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("create vision completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("vision completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

func mimeFor(path string) string {
	if strings.EqualFold(filepath.Ext(path), ".png") {
		return "image/png"
	}
	return "image/jpeg"
}
