package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
)

// Provider is the interface for LLM providers.
type Provider interface {
	Generate(ctx context.Context, prompt string, maxTokens int) (string, error)
	IsConfigured() bool
	Name() string
}

// temperature keeps analyses close to deterministic across runs.
const temperature = 0.3

// maxErrorBody bounds how much of an error response ends up in messages.
const maxErrorBody = 512

// APIError is a non-200 answer from a provider's HTTP API.
type APIError struct {
	Provider string
	Status   int
	Body     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API returned %d: %s", e.Provider, e.Status, e.Body)
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func userMessage(prompt string) []chatMessage {
	return []chatMessage{{Role: "user", Content: prompt}}
}

// doJSON sends in (when non-nil) as the JSON body and decodes a 200
// response into out.
func doJSON(ctx context.Context, client *http.Client, provider, method, url string, header http.Header, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s API error: %w", provider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{Provider: provider, Status: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", provider, err)
	}
	return nil
}

// Options selects and configures a provider.
type Options struct {
	Provider        string
	Model           string
	OllamaURL       string
	OpenAIModel     string
	OpenAIBaseURL   string
	APIKeyEnv       string
	AnthropicModel  string
	AnthropicKeyEnv string
}

// CreateProvider creates an LLM provider based on configuration. The
// configured provider is preferred; Ollama falls back to OpenAI and then
// Anthropic when it is not reachable. It returns nil when nothing is usable,
// in which case analysis runs on offline heuristics.
func CreateProvider(opts Options) Provider {
	name := strings.ToLower(opts.Provider)
	if name == "none" {
		logrus.Info("LLM backend disabled by configuration")
		return nil
	}

	var candidates []Provider
	switch name {
	case "anthropic":
		candidates = append(candidates, NewAnthropicProvider(opts.AnthropicModel, opts.AnthropicKeyEnv))
	case "openai":
		candidates = append(candidates, NewOpenAIProvider(opts.OpenAIModel, opts.APIKeyEnv, opts.OpenAIBaseURL))
	default:
		candidates = append(candidates,
			NewOllamaProvider(opts.Model, opts.OllamaURL),
			NewOpenAIProvider(opts.OpenAIModel, opts.APIKeyEnv, opts.OpenAIBaseURL),
			NewAnthropicProvider(opts.AnthropicModel, opts.AnthropicKeyEnv),
		)
	}

	for i, p := range candidates {
		if p.IsConfigured() {
			logrus.Infof("Using %s for requirement analysis", p.Name())
			return p
		}
		if i+1 < len(candidates) {
			logrus.Infof("%s not available, trying %s...", p.Name(), candidates[i+1].Name())
		}
	}

	logrus.Warn("No LLM provider available. Check Ollama is running or set an API key.")
	return nil
}
