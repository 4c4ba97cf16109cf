// Package gemini implements llm.Brain on top of the Gemini API.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"

	"github.com/owulveryck/agentcore/internal/llm"
)

var ErrMissingCredentials = errors.New("gemini: an API key or a GCP project is required")

// Config selects the backend. When Project is set the client targets
// Vertex AI, otherwise the Gemini API with APIKey.
type Config struct {
	APIKey      string
	Project     string
	Location    string
	Model       string
	Temperature float32
	MaxTokens   int32
}

// WithDefaults fills the model and location.
func (c Config) WithDefaults() Config {
	if c.Model == "" {
		c.Model = "gemini-2.0-flash"
	}
	if c.Location == "" {
		c.Location = "us-central1"
	}
	if c.Temperature == 0 {
		c.Temperature = 0.7
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 1000
	}
	return c
}

// Client implements llm.Brain.
type Client struct {
	config Config
	client *genai.Client
	logger *slog.Logger
}

func NewClient(ctx context.Context, config Config, logger *slog.Logger) (*Client, error) {
	config = config.WithDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	cc := &genai.ClientConfig{APIKey: config.APIKey, Backend: genai.BackendGeminiAPI}
	switch {
	case config.Project != "":
		cc = &genai.ClientConfig{
			Project:  config.Project,
			Location: config.Location,
			Backend:  genai.BackendVertexAI,
		}
	case config.APIKey == "":
		return nil, ErrMissingCredentials
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &Client{
		config: config,
		client: client,
		logger: logger,
	}, nil
}

// Respond sends the conversation and returns the concatenated text parts of
// the first candidate. A backend status error is reported as
// *llm.StatusError.
func (c *Client) Respond(ctx context.Context, req llm.Request) (*llm.Response, error) {
	contents := buildContents(req.Conversation)
	config := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(c.config.Temperature),
		MaxOutputTokens: c.config.MaxTokens,
	}
	if req.Instructions != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.Instructions}},
		}
	}

	c.logger.DebugContext(ctx, "Sending request to Gemini",
		"model", c.config.Model,
		"turns", len(contents),
	)

	resp, err := c.client.Models.GenerateContent(ctx, c.config.Model, contents, config)
	if err != nil {
		return nil, mapError(err)
	}

	text, err := responseText(resp)
	if err != nil {
		return nil, err
	}

	out := &llm.Response{Text: text, Model: c.config.Model}
	if resp.UsageMetadata != nil {
		out.Usage = llm.Usage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
		}
	}

	c.logger.DebugContext(ctx, "Received response from Gemini",
		"response_length", len(text),
		"total_tokens", out.Usage.TotalTokens,
	)
	return out, nil
}

func buildContents(turns []llm.Turn) []*genai.Content {
	contents := make([]*genai.Content, 0, len(turns))
	for _, turn := range turns {
		role := string(llm.RoleUser)
		if turn.Role == llm.RoleModel {
			role = string(llm.RoleModel)
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: turn.Text}},
		})
	}
	return contents
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errors.New("empty response from Gemini")
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil {
			b.WriteString(part.Text)
		}
	}
	return b.String(), nil
}

func mapError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &llm.StatusError{Code: apiErr.Code, Body: apiErr.Message}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return &llm.StatusError{Code: apiErrPtr.Code, Body: apiErrPtr.Message}
	}
	return fmt.Errorf("gemini request failed: %w", err)
}
