package translate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const openAIDefaultModel = "gpt-4o-mini"

// OpenAIConfig configures the OpenAI translator.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string // optional, for compatible endpoints and tests
	Model      string
	Target     string
	Source     string
	MaxRetries int // SDK transport retries
}

// OpenAI translates with a chat completion that maps a JSON array of
// strings to a JSON array of translations.
type OpenAI struct {
	client openai.Client
	model  string
	target string
	source string
}

// NewOpenAI creates an OpenAI translator.
func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.Model == "" {
		cfg.Model = openAIDefaultModel
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAI{
		client: openai.NewClient(opts...),
		model:  cfg.Model,
		target: cfg.Target,
		source: cfg.Source,
	}
}

func (o *OpenAI) systemPrompt() string {
	from := "the source language"
	if o.source != "" {
		from = o.source
	}
	return fmt.Sprintf(
		"Translate every string of the JSON array from %s into %s. "+
			"Answer with a JSON array of strings only, with exactly as many items, in the same order. "+
			"Keep whitespace and punctuation at the edges of each item.",
		from, o.target)
}

// Translate implements Translator.
func (o *OpenAI) Translate(ctx context.Context, texts []string) ([]string, error) {
	if len(texts) == 0 {
		return []string{}, nil
	}

	input, err := json.Marshal(texts)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal input: %w", err)
	}

	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(o.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(o.systemPrompt()),
			openai.UserMessage(string(input)),
		},
		Temperature: openai.Float(0),
	})
	if err != nil {
		return nil, mapOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai: empty choices in response")
	}

	out, err := parseStringArray(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}
	if err := checkLength(len(texts), len(out)); err != nil {
		return nil, err
	}
	return out, nil
}

// parseStringArray reads a JSON array of strings, tolerating a markdown
// code fence around it.
func parseStringArray(content string) ([]string, error) {
	s := strings.TrimSpace(content)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	var out []string
	if err := json.Unmarshal([]byte(strings.TrimSpace(s)), &out); err != nil {
		return nil, fmt.Errorf("openai: response is not a JSON string array: %w", err)
	}
	return out, nil
}

func mapOpenAIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if apiErr.Message != "" {
			return fmt.Errorf("openai error (status %d): %s", apiErr.StatusCode, apiErr.Message)
		}
		return fmt.Errorf("openai error (status %d)", apiErr.StatusCode)
	}
	return err
}
