package classifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// DefaultOpenAIModel is the chat model used when none is configured.
const DefaultOpenAIModel = "gpt-4o-mini"

// OpenAIConfig holds settings for the chat-completions backend.
type OpenAIConfig struct {
	APIKey     string
	Model      string
	BaseURL    string
	MaxRetries int
}

// OpenAI classifies descriptions with a chat-completions request.
type OpenAI struct {
	client  openai.Client
	model   string
	catalog *Catalog
	logger  *slog.Logger
}

// NewOpenAI creates an OpenAI-backed classifier.
func NewOpenAI(cfg OpenAIConfig, catalog *Catalog, logger *slog.Logger) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai api key is required")
	}
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAI{
		client:  openai.NewClient(opts...),
		model:   cfg.Model,
		catalog: catalog,
		logger:  logger,
	}, nil
}

// Classify implements Classifier.
func (o *OpenAI) Classify(ctx context.Context, description string) (string, error) {
	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(o.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(Prompt(o.catalog, description)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyAnswer
	}

	raw := resp.Choices[0].Message.Content
	department, err := Normalize(o.catalog, raw)
	if err != nil {
		return "", err
	}
	o.logger.Debug("Complaint classified", "backend", "openai", "model", o.model, "raw", raw, "department", department)
	return department, nil
}
