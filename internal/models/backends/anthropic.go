package backends

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/ejwhitmore/tweetvault/internal/models"
)

const defaultMaxTokens = 4096

// AnthropicBackend implements the Backend interface using Anthropic's API.
type AnthropicBackend struct {
	client *anthropic.Client
	models []models.ModelInfo
}

// NewAnthropicBackend creates an Anthropic backend with the given capability
// manifest.
func NewAnthropicBackend(apiKey string, manifest []models.ModelInfo) *AnthropicBackend {
	client := anthropic.NewClient(
		option.WithAPIKey(apiKey),
	)
	return &AnthropicBackend{
		client: &client,
		models: manifest,
	}
}

func (b *AnthropicBackend) Name() string {
	return "anthropic"
}

func (b *AnthropicBackend) Models() []models.ModelInfo {
	return b.models
}

// Ping sends a one-token probe to the first manifest model.
func (b *AnthropicBackend) Ping(ctx context.Context) error {
	if len(b.models) == 0 {
		return fmt.Errorf("anthropic: no models configured")
	}
	_, err := b.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(b.models[0].ID),
		MaxTokens: 1,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock("ping")),
		},
	})
	if err != nil {
		return fmt.Errorf("anthropic: ping failed: %w", err)
	}
	return nil
}

// GenerateText sends one prompt (optionally with an image) and returns the
// model's text response.
func (b *AnthropicBackend) GenerateText(ctx context.Context, req models.TextRequest) (string, error) {
	if err := models.ValidateTextParams(req.Params); err != nil {
		return "", fmt.Errorf("anthropic: %w", err)
	}

	maxTokens := req.MaxTokens
	if v, ok := models.IntParam(req.Params, "max_tokens"); ok {
		maxTokens = v
	}
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}

	blocks := []anthropic.ContentBlockParamUnion{}
	if req.Image != nil {
		encoded := base64.StdEncoding.EncodeToString(req.Image.Data)
		blocks = append(blocks, anthropic.NewImageBlockBase64(req.Image.MediaType, encoded))
	}
	blocks = append(blocks, anthropic.NewTextBlock(req.Prompt))

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(blocks...),
		},
	}
	if v, ok := models.FloatParam(req.Params, "temperature"); ok {
		params.Temperature = anthropic.Float(v)
	}
	if v, ok := models.FloatParam(req.Params, "top_p"); ok {
		params.TopP = anthropic.Float(v)
	}

	message, err := b.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic: %w", err)
	}

	var responseText string
	for _, block := range message.Content {
		if block.Type == "text" {
			responseText = block.Text
			break
		}
	}
	if responseText == "" {
		return "", fmt.Errorf("anthropic: model %s returned empty response", req.Model)
	}
	return responseText, nil
}

// Embed is unsupported; the manifest never advertises the embed capability
// for Anthropic models, so the router will not route embeddings here.
func (b *AnthropicBackend) Embed(ctx context.Context, model string, inputs []string) ([][]float32, error) {
	return nil, fmt.Errorf("anthropic: embeddings are not supported")
}
