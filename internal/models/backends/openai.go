package backends

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ejwhitmore/tweetvault/internal/models"
)

// OpenAIBackend implements the Backend interface against an OpenAI-compatible
// HTTP API. It is the embeddings provider and a text/vision fallback.
type OpenAIBackend struct {
	apiKey  string
	baseURL string
	client  *http.Client
	models  []models.ModelInfo
}

// NewOpenAIBackend creates an OpenAI-compatible backend with the given
// capability manifest.
func NewOpenAIBackend(apiKey, baseURL string, manifest []models.ModelInfo) *OpenAIBackend {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &OpenAIBackend{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: 120 * time.Second, // LLM calls can be slow
		},
		models: manifest,
	}
}

func (b *OpenAIBackend) Name() string {
	return "openai"
}

func (b *OpenAIBackend) Models() []models.ModelInfo {
	return b.models
}

type chatRequest struct {
	Model       string        `json:"model"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
	TopP        *float64      `json:"top_p,omitempty"`
	Messages    []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"` // string, or []contentPart for vision
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *apiError `json:"error,omitempty"`
}

type embeddingsRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingsResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *apiError `json:"error,omitempty"`
}

type apiError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Ping lists models, which exercises auth and connectivity without spending
// tokens.
func (b *OpenAIBackend) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/models", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+b.apiKey)

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("openai: ping failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("openai: ping returned status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// GenerateText sends one chat-completion request and returns the response
// text. An attached image is inlined as a base64 data URI.
func (b *OpenAIBackend) GenerateText(ctx context.Context, req models.TextRequest) (string, error) {
	if err := models.ValidateTextParams(req.Params); err != nil {
		return "", fmt.Errorf("openai: %w", err)
	}

	var content any = req.Prompt
	if req.Image != nil {
		dataURI := fmt.Sprintf("data:%s;base64,%s",
			req.Image.MediaType, base64.StdEncoding.EncodeToString(req.Image.Data))
		content = []contentPart{
			{Type: "text", Text: req.Prompt},
			{Type: "image_url", ImageURL: &imageURL{URL: dataURI}},
		}
	}

	body := chatRequest{
		Model:     req.Model,
		MaxTokens: req.MaxTokens,
		Messages:  []chatMessage{{Role: "user", Content: content}},
	}
	if v, ok := models.IntParam(req.Params, "max_tokens"); ok {
		body.MaxTokens = v
	}
	if v, ok := models.FloatParam(req.Params, "temperature"); ok {
		body.Temperature = &v
	}
	if v, ok := models.FloatParam(req.Params, "top_p"); ok {
		body.TopP = &v
	}

	var parsed chatResponse
	if err := b.post(ctx, "/chat/completions", body, &parsed); err != nil {
		return "", err
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("openai: %s - %s", parsed.Error.Type, parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 || parsed.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("openai: model %s returned empty response", req.Model)
	}
	return parsed.Choices[0].Message.Content, nil
}

// Embed returns one vector per input, in input order.
func (b *OpenAIBackend) Embed(ctx context.Context, model string, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, nil
	}

	var parsed embeddingsResponse
	if err := b.post(ctx, "/embeddings", embeddingsRequest{Model: model, Input: inputs}, &parsed); err != nil {
		return nil, err
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("openai: %s - %s", parsed.Error.Type, parsed.Error.Message)
	}
	if len(parsed.Data) != len(inputs) {
		return nil, fmt.Errorf("openai: expected %d embeddings, got %d", len(inputs), len(parsed.Data))
	}

	vectors := make([][]float32, len(inputs))
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, fmt.Errorf("openai: embedding index %d out of range", d.Index)
		}
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}

func (b *OpenAIBackend) post(ctx context.Context, path string, body, out any) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("openai: failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+path, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("openai: failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+b.apiKey)

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("openai: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("openai: failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("openai: status %d: %s", resp.StatusCode, string(respBody))
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("openai: failed to parse response: %w", err)
	}
	return nil
}
