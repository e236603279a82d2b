// Package llm adapts an OpenAI-compatible chat completion API to the
// engine's prompt and vision collaborators.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sashabaranov/go-openai"
)

const defaultTimeout = 30 * time.Second

var ErrEmptyResponse = errors.New("model returned no choices")

type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	VisionModel string
	Timeout     time.Duration
}

type Client struct {
	api         *openai.Client
	model       string
	visionModel string
	timeout     time.Duration
}

func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("llm api key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("llm model is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	// The HTTP client timeout backs up the per-call context deadline.
	clientConfig.HTTPClient = &http.Client{Timeout: timeout + 5*time.Second}

	visionModel := cfg.VisionModel
	if visionModel == "" {
		visionModel = cfg.Model
	}

	return &Client{
		api:         openai.NewClientWithConfig(clientConfig),
		model:       cfg.Model,
		visionModel: visionModel,
		timeout:     timeout,
	}, nil
}

// Complete sends a system and user message and returns the first choice's text.
func (c *Client) Complete(ctx context.Context, system, user string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature: 0.2,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}
	return c.send(ctx, req)
}

// PaletteFromImage asks the vision model for a six-role palette as JSON text.
// imageRef is an http(s) URL or a data: URL.
func (c *Client) PaletteFromImage(ctx context.Context, imageRef string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req := openai.ChatCompletionRequest{
		Model: c.visionModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: visionSystemPrompt},
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: "Extract the wallet palette from this image."},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    imageRef,
							Detail: openai.ImageURLDetailLow,
						},
					},
				},
			},
		},
		Temperature: 0.1,
	}
	return c.send(ctx, req)
}

func (c *Client) send(ctx context.Context, req openai.ChatCompletionRequest) (string, error) {
	start := time.Now()
	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	log.Ctx(ctx).Debug().
		Str("model", req.Model).
		Int("prompt_tokens", resp.Usage.PromptTokens).
		Int("completion_tokens", resp.Usage.CompletionTokens).
		Dur("duration", time.Since(start)).
		Msg("Model call completed")
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Message.Content, nil
}

const visionSystemPrompt = `You design color themes for a crypto wallet.
Look at the image and answer with a single JSON object and nothing else:
{"bg":"#RRGGBB","fg":"#RRGGBB","primary":"#RRGGBB","accent1":"#RRGGBB","accent2":"#RRGGBB","neutral":"#RRGGBB"}
bg is the dominant page background, fg is readable text on bg, primary is the main
call-to-action color, accent1 and accent2 are secondary highlights and neutral is a
card or surface color close to bg.`
