package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const defaultModel = "gemini-1.5-flash"

var errEmptyResponse = errors.New("gemini returned no text")

type GeminiAssistant struct {
	client *genai.Client
	model  string
}

func NewGeminiAssistant(ctx context.Context, apiKey, model string) (*GeminiAssistant, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	if model == "" {
		model = defaultModel
	}
	return &GeminiAssistant{client: client, model: model}, nil
}

func (a *GeminiAssistant) Suggest(ctx context.Context, prompt string) (string, error) {
	resp, err := a.client.GenerativeModel(a.model).GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("failed to call gemini: %w", err)
	}
	text := responseText(resp)
	if text == "" {
		return "", errEmptyResponse
	}
	return text, nil
}

func (a *GeminiAssistant) Close() error {
	return a.client.Close()
}

// responseText joins the text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var parts []string
	for _, p := range resp.Candidates[0].Content.Parts {
		if t, ok := p.(genai.Text); ok {
			parts = append(parts, string(t))
		}
	}
	return strings.TrimSpace(strings.Join(parts, ""))
}
