package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Anthropic generates text through the messages API.
type Anthropic struct {
	client *anthropic.Client
	model  string
}

// NewAnthropic creates a model using apiKey. SDK-level retries are disabled;
// callers own the retry policy. Extra options are appended, which lets tests
// point the client at a local server.
func NewAnthropic(apiKey, model string, opts ...option.RequestOption) *Anthropic {
	all := append([]option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}, opts...)
	c := anthropic.NewClient(all...)
	return &Anthropic{client: &c, model: model}
}

func (m *Anthropic) Complete(ctx context.Context, r Request) (string, error) {
	maxTokens := int64(r.MaxOutputTokens)
	if maxTokens <= 0 {
		maxTokens = 4000
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(m.model),
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(r.Input)),
		},
	}
	if r.Instructions != "" {
		params.System = []anthropic.TextBlockParam{{Text: r.Instructions}}
	}

	resp, err := m.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic messages: %w", err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return strings.TrimSpace(sb.String()), nil
}
