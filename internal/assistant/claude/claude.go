package claude

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/liushuangls/go-anthropic/v2"
)

const defaultMaxTokens = 1024

var errEmptyResponse = errors.New("claude returned no text")

type ClaudeAssistant struct {
	model     string
	maxTokens int
	client    *anthropic.Client
}

func NewClaudeAssistant(apiKey, model string) *ClaudeAssistant {
	return newClaudeAssistant(apiKey, model)
}

func newClaudeAssistant(apiKey, model string, opts ...anthropic.ClientOption) *ClaudeAssistant {
	return &ClaudeAssistant{
		model:     model,
		maxTokens: defaultMaxTokens,
		client:    anthropic.NewClient(apiKey, opts...),
	}
}

func (a *ClaudeAssistant) Suggest(ctx context.Context, prompt string) (string, error) {
	resp, err := a.client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model:     anthropic.Model(a.model),
		MaxTokens: a.maxTokens,
		Messages:  []anthropic.Message{anthropic.NewUserTextMessage(prompt)},
	})
	if err != nil {
		return "", fmt.Errorf("failed to call claude: %w", err)
	}

	var parts []string
	for _, c := range resp.Content {
		if c.Type == anthropic.MessagesContentTypeText {
			parts = append(parts, c.GetText())
		}
	}
	text := strings.TrimSpace(strings.Join(parts, "\n"))
	if text == "" {
		return "", errEmptyResponse
	}
	return text, nil
}
