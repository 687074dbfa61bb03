package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/elum-utils/gatekeeper/models"
)

const systemPrompt = "You are a content safety classifier. Return strict JSON only."

// OpenAIAdapter is an HTTP generator compatible with OpenAI-style chat
// completions (OpenAI, DeepSeek, Ollama, vLLM).
type OpenAIAdapter struct {
	name     string
	model    string
	client   *resty.Client
	endpoint string
}

// OpenAIOptions configures adapter.
type OpenAIOptions struct {
	// Name labels the provider in logs and metrics. Defaults to "openai".
	Name    string
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// NewOpenAIAdapter creates adapter instance.
func NewOpenAIAdapter(opt OpenAIOptions) (*OpenAIAdapter, error) {
	if strings.TrimSpace(opt.APIKey) == "" {
		return nil, errors.New("ai: API key is required")
	}
	if strings.TrimSpace(opt.BaseURL) == "" {
		opt.BaseURL = "https://api.deepseek.com"
	}
	if strings.TrimSpace(opt.Model) == "" {
		opt.Model = "deepseek-chat"
	}
	if strings.TrimSpace(opt.Name) == "" {
		opt.Name = "openai"
	}
	if opt.Timeout <= 0 {
		opt.Timeout = 15 * time.Second
	}
	base := strings.TrimRight(opt.BaseURL, "/")
	return &OpenAIAdapter{
		name:     opt.Name,
		model:    opt.Model,
		endpoint: buildChatCompletionsURL(base),
		client: resty.New().
			SetTimeout(opt.Timeout).
			SetBaseURL(base).
			SetAuthToken(opt.APIKey).
			SetHeader("Content-Type", "application/json"),
	}, nil
}

func (o *OpenAIAdapter) Name() string { return o.name }

// Generate sends prompt as the user message and returns the first choice.
func (o *OpenAIAdapter) Generate(ctx context.Context, prompt string) (string, error) {
	payload, err := o.buildPayload(prompt)
	if err != nil {
		return "", err
	}

	resp, err := o.client.R().
		SetContext(ctx).
		SetBody(payload).
		Post(o.endpoint)
	if err != nil {
		return "", &models.ClassifierUnavailableError{Provider: o.name, Err: err}
	}
	if resp.StatusCode() >= http.StatusMultipleChoices {
		return "", &models.ClassifierUnavailableError{
			Provider:   o.name,
			StatusCode: resp.StatusCode(),
			Err:        fmt.Errorf("ai: unexpected response: %s", truncate(resp.String(), 512)),
		}
	}

	content, err := extractContent(resp.Body())
	if err != nil {
		return "", &models.ClassifierUnavailableError{Provider: o.name, StatusCode: resp.StatusCode(), Err: err}
	}
	return content, nil
}

func (o *OpenAIAdapter) buildPayload(prompt string) ([]byte, error) {
	type responseFormat struct {
		Type string `json:"type"`
	}
	type requestMessage struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	type requestPayload struct {
		Model          string           `json:"model"`
		Messages       []requestMessage `json:"messages"`
		Temperature    float64          `json:"temperature"`
		Stream         bool             `json:"stream"`
		ResponseFormat responseFormat   `json:"response_format"`
	}

	body := requestPayload{
		Model: o.model,
		Messages: []requestMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature: 0,
		Stream:      false,
		ResponseFormat: responseFormat{
			Type: "json_object",
		},
	}
	return json.Marshal(body)
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func extractContent(body []byte) (string, error) {
	var resp chatCompletionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("ai: decode response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("ai: choices is empty")
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", errors.New("ai: response content is empty")
	}
	return content, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func buildChatCompletionsURL(base string) string {
	if base == "" {
		return "https://api.deepseek.com/chat/completions"
	}
	u, err := url.Parse(base)
	if err != nil {
		return strings.TrimRight(base, "/") + "/chat/completions"
	}
	u.Path = strings.TrimRight(u.Path, "/")
	switch u.Path {
	case "":
		u.Path = "/chat/completions"
	case "/v1":
		u.Path = "/v1/chat/completions"
	case "/chat/completions", "/v1/chat/completions":
		// keep as is
	default:
		u.Path = u.Path + "/chat/completions"
	}
	return u.String()
}
