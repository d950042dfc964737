package llm

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// OllamaProvider talks to a local Ollama server.
type OllamaProvider struct {
	Model   string
	BaseURL string
	client  *http.Client
}

func NewOllamaProvider(model, baseURL string) *OllamaProvider {
	return &OllamaProvider{
		Model:   model,
		BaseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
	}
}

func (o *OllamaProvider) Name() string { return "ollama" }

type ollamaTags struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// IsConfigured reports whether the server answers and has the model pulled.
func (o *OllamaProvider) IsConfigured() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var tags ollamaTags
	if err := doJSON(ctx, o.client, o.Name(), http.MethodGet, o.BaseURL+"/api/tags", nil, nil, &tags); err != nil {
		logrus.Debugf("Ollama not reachable at %s: %v", o.BaseURL, err)
		return false
	}

	family, _, _ := strings.Cut(o.Model, ":")
	for _, m := range tags.Models {
		if strings.Contains(m.Name, family) {
			return true
		}
	}
	logrus.Warnf("Ollama model %q not found", o.Model)
	return false
}

type ollamaChatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  struct {
		NumPredict  int     `json:"num_predict"`
		Temperature float64 `json:"temperature"`
	} `json:"options"`
}

type ollamaChatResponse struct {
	Message chatMessage `json:"message"`
}

// Generate runs one non-streaming chat turn. The request is bounded by ctx
// only.
func (o *OllamaProvider) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	in := ollamaChatRequest{Model: o.Model, Messages: userMessage(prompt)}
	in.Options.NumPredict = maxTokens
	in.Options.Temperature = temperature

	var out ollamaChatResponse
	if err := doJSON(ctx, o.client, o.Name(), http.MethodPost, o.BaseURL+"/api/chat", nil, in, &out); err != nil {
		return "", err
	}
	return out.Message.Content, nil
}
