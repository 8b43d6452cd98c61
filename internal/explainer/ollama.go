package explainer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"
)

// ErrEmptyResponse is returned when the model answered with no text.
var ErrEmptyResponse = errors.New("empty response from ollama")

const promptTemplate = `You are a plant pathologist helping a home gardener.

A leaf photo was classified as: %s

In plain language, explain what this condition is, what causes it, and the
visible symptoms to look for. If the label indicates a healthy plant, say so
and give brief care advice. Keep it under 150 words. Do not use markdown.`

// Ollama asks a local Ollama server to explain a disease label.
type Ollama struct {
	client *api.Client
	model  string
}

// NewOllama creates an explainer talking to the server at ollamaURL.
// Any path on the URL is dropped.
func NewOllama(ollamaURL, model string, httpClient *http.Client) (*Ollama, error) {
	parsedURL, err := url.Parse(ollamaURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, fmt.Errorf("invalid URL %q: scheme and host required", ollamaURL)
	}

	baseURL := &url.URL{
		Scheme: parsedURL.Scheme,
		Host:   parsedURL.Host,
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Ollama{
		client: api.NewClient(baseURL, httpClient),
		model:  model,
	}, nil
}

// Model returns the configured model name.
func (o *Ollama) Model() string { return o.model }

// Explain returns a short free-text explanation for label.
func (o *Ollama) Explain(ctx context.Context, label string) (string, error) {
	streamFalse := false
	req := &api.ChatRequest{
		Model: o.model,
		Messages: []api.Message{
			{
				Role:    "user",
				Content: Prompt(label),
			},
		},
		Stream: &streamFalse,
	}

	var content strings.Builder
	err := o.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		content.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ollama chat error: %w", err)
	}

	explanation := strings.TrimSpace(content.String())
	if explanation == "" {
		return "", ErrEmptyResponse
	}
	return explanation, nil
}

// Ping reports whether the Ollama server is reachable.
func (o *Ollama) Ping(ctx context.Context) error {
	return o.client.Heartbeat(ctx)
}

// Prompt builds the question sent for label.
func Prompt(label string) string {
	return fmt.Sprintf(promptTemplate, HumanizeLabel(label))
}

// HumanizeLabel turns dataset labels such as "Tomato___Early_blight" or
// "Corn_(maize)___Common_rust_" into readable text.
func HumanizeLabel(label string) string {
	label = strings.ReplaceAll(label, "___", " - ")
	label = strings.ReplaceAll(label, "_", " ")
	return strings.Join(strings.Fields(label), " ")
}
