package inference

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"
	"github.com/tidwall/gjson"

	"github.com/book-expert/ich-narrator/internal/config"
)

const reasoningField = "reasoning_content"

var (
	// ErrModelEmpty is returned when no served model name is configured.
	ErrModelEmpty = errors.New("llm model cannot be empty")
	// ErrNoChoices is returned for a completion without choices.
	ErrNoChoices = errors.New("chat completion returned no choices")
)

// Answer is one model reply. ReasoningContent is nil when the server did not
// return a thinking trace.
type Answer struct {
	ReasoningContent *string `json:"reasoning_content"`
	Content          string  `json:"content"`
}

// Completer sends a single-turn prompt to a chat model.
type Completer interface {
	Complete(ctx context.Context, prompt string) (Answer, error)
}

// Client talks to a vLLM server through its OpenAI-compatible API.
type Client struct {
	client oai.Client
	cfg    config.LLMConfig
}

// NewClient creates a chat client for the configured server.
func NewClient(cfg config.LLMConfig, timeout time.Duration) (*Client, error) {
	if cfg.Model == "" {
		return nil, ErrModelEmpty
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(cfg.BaseURL),
	}

	if timeout > 0 {
		opts = append(opts, option.WithHTTPClient(&http.Client{Timeout: timeout}))
	}

	return &Client{client: oai.NewClient(opts...), cfg: cfg}, nil
}

// Complete implements Completer. top_k and the thinking switch are vLLM
// extensions sent outside the standard parameter set.
func (c *Client) Complete(ctx context.Context, prompt string) (Answer, error) {
	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(c.cfg.Model),
		Messages: []oai.ChatCompletionMessageParamUnion{oai.UserMessage(prompt)},
	}

	if c.cfg.MaxTokens > 0 {
		params.MaxTokens = param.NewOpt(int64(c.cfg.MaxTokens))
	}

	params.Temperature = param.NewOpt(c.cfg.Temperature)
	params.TopP = param.NewOpt(c.cfg.TopP)

	resp, err := c.client.Chat.Completions.New(ctx, params,
		option.WithJSONSet("top_k", c.cfg.TopK),
		option.WithJSONSet("chat_template_kwargs", map[string]any{"enable_thinking": c.cfg.EnableThinking}),
	)
	if err != nil {
		return Answer{}, fmt.Errorf("chat completion failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return Answer{}, ErrNoChoices
	}

	message := resp.Choices[0].Message

	answer := Answer{Content: message.Content}

	if field, ok := message.JSON.ExtraFields[reasoningField]; ok {
		reasoning := gjson.Parse(field.Raw())
		if reasoning.Type == gjson.String {
			text := reasoning.String()
			answer.ReasoningContent = &text
		}
	}

	return answer, nil
}
