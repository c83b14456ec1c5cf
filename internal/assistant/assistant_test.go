package assistant

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildPrompt(t *testing.T) {
	exp := time.Date(2025, 5, 4, 0, 0, 0, 0, time.UTC)
	ingredients := []Ingredient{{Name: "Tomatoes", ExpiryDate: &exp}, {Name: "Rice"}}

	tests := []struct {
		intent   Intent
		question string
		want     string
	}{
		{IntentSuggest, "", "You are a pantry assistant helping Sam. The user has these unexpired items: Tomatoes (expires 2025-05-04), Rice.\n" +
			"Can you suggest a recipe with items that are about to expire or unexpired?"},
		{IntentIdeas, "", "You are a pantry assistant helping Sam. The user has these unexpired items: Tomatoes (expires 2025-05-04), Rice.\n" +
			"Give me recipe ideas that I can prepare based on these items."},
		{IntentQuestion, " What goes with rice? ", "You are a pantry assistant helping Sam. The user has these unexpired items: Tomatoes (expires 2025-05-04), Rice.\n" +
			"User question: What goes with rice?\nRespond in a helpful, friendly way."},
	}
	for _, tt := range tests {
		t.Run(string(tt.intent), func(t *testing.T) {
			got, err := BuildPrompt("Sam", ingredients, tt.intent, tt.question)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuildPrompt_Errors(t *testing.T) {
	_, err := BuildPrompt("Sam", nil, IntentQuestion, "  ")
	assert.ErrorIs(t, err, ErrEmptyQuestion)

	_, err = BuildPrompt("Sam", nil, "poem", "")
	assert.ErrorIs(t, err, ErrUnknownIntent)
}

func TestBuildPrompt_NoIngredients(t *testing.T) {
	got, err := BuildPrompt("Sam", nil, IntentSuggest, "")
	require.NoError(t, err)
	assert.Contains(t, got, "unexpired items: .\n")
}
