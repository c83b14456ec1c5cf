// Package assistant turns the ingredients a user has on hand into a prompt
// for a recipe model. Nothing it returns flows back into stock.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

type Intent string

const (
	IntentSuggest  Intent = "suggest"
	IntentIdeas    Intent = "ideas"
	IntentQuestion Intent = "question"
)

var (
	ErrUnknownIntent = errors.New("unknown assistant intent")
	ErrEmptyQuestion = errors.New("question must not be empty")
)

// Assistant answers a fully built prompt with free text.
type Assistant interface {
	Suggest(ctx context.Context, prompt string) (string, error)
}

// Ingredient is an in-stock, unexpired item offered to the model.
type Ingredient struct {
	Name       string
	ExpiryDate *time.Time
}

func (i Ingredient) String() string {
	if i.ExpiryDate == nil {
		return i.Name
	}
	return fmt.Sprintf("%s (expires %s)", i.Name, i.ExpiryDate.Format("2006-01-02"))
}

// BuildPrompt renders the prompt for intent. question is only used by
// IntentQuestion.
func BuildPrompt(name string, ingredients []Ingredient, intent Intent, question string) (string, error) {
	parts := make([]string, len(ingredients))
	for i, ing := range ingredients {
		parts[i] = ing.String()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are a pantry assistant helping %s. ", name)
	fmt.Fprintf(&b, "The user has these unexpired items: %s.\n", strings.Join(parts, ", "))

	switch intent {
	case IntentSuggest, "":
		b.WriteString("Can you suggest a recipe with items that are about to expire or unexpired?")
	case IntentIdeas:
		b.WriteString("Give me recipe ideas that I can prepare based on these items.")
	case IntentQuestion:
		question = strings.TrimSpace(question)
		if question == "" {
			return "", ErrEmptyQuestion
		}
		fmt.Fprintf(&b, "User question: %s\n", question)
		b.WriteString("Respond in a helpful, friendly way.")
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownIntent, intent)
	}
	return b.String(), nil
}
