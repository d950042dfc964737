package llm

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strings"
)

// OpenAIProvider is an OpenAI-compatible chat completions provider.
type OpenAIProvider struct {
	Model   string
	APIKey  string
	BaseURL string
	client  *http.Client
}

// NewOpenAIProvider reads the API key from the environment variable named
// by apiKeyEnv.
func NewOpenAIProvider(model, apiKeyEnv, baseURL string) *OpenAIProvider {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &OpenAIProvider{
		Model:   model,
		APIKey:  os.Getenv(apiKeyEnv),
		BaseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
	}
}

func (o *OpenAIProvider) Name() string { return "openai" }

func (o *OpenAIProvider) IsConfigured() bool {
	return o.APIKey != ""
}

type openAIChatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (o *OpenAIProvider) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if o.APIKey == "" {
		return "", errors.New("OpenAI API key not configured")
	}

	in := openAIChatRequest{
		Model:       o.Model,
		Messages:    userMessage(prompt),
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}
	header := http.Header{"Authorization": {"Bearer " + o.APIKey}}

	var out openAIChatResponse
	if err := doJSON(ctx, o.client, o.Name(), http.MethodPost, o.BaseURL+"/chat/completions", header, in, &out); err != nil {
		return "", err
	}
	if len(out.Choices) == 0 {
		return "", errors.New("no choices in OpenAI response")
	}
	return out.Choices[0].Message.Content, nil
}
