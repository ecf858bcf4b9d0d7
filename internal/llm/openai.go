package llm

import (
	"context"

	"github.com/rcliao/clip-memory/internal/openai"
)

// OpenAI generates text through the responses endpoint.
type OpenAI struct {
	client *openai.Client
	model  string
}

// NewOpenAI creates an OpenAI model bound to client.
func NewOpenAI(client *openai.Client, model string) *OpenAI {
	return &OpenAI{client: client, model: model}
}

func (m *OpenAI) Complete(ctx context.Context, r Request) (string, error) {
	return m.client.Respond(ctx, openai.ResponseRequest{
		Model:           m.model,
		Instructions:    r.Instructions,
		Input:           r.Input,
		MaxOutputTokens: r.MaxOutputTokens,
	})
}
