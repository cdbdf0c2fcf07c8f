package language

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// classifySystemPrompt constrains the model reply to a bare code.
const classifySystemPrompt = "Return ONLY the ISO 639-1 language code (two letters). If unsure, return 'und'. No extra text."

// GenAIClassifier implements Classifier with a single small
// general-purpose model call.
type GenAIClassifier struct {
	client *genai.Client
	model  string
}

// NewGenAIClassifier builds a classifier backed by the Gemini API. model
// may be empty to use a small default.
func NewGenAIClassifier(ctx context.Context, apiKey, model string) (*GenAIClassifier, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("language classifier: API key required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("language classifier: %w", err)
	}
	if model == "" {
		model = "gemini-2.0-flash-lite"
	}
	return &GenAIClassifier{client: client, model: model}, nil
}

// Classify asks the model for a two-letter code for the given sample.
func (c *GenAIClassifier) Classify(ctx context.Context, sample string) (string, error) {
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: classifySystemPrompt}},
		},
		MaxOutputTokens: 6,
	}
	resp, err := c.client.Models.GenerateContent(ctx, c.model,
		genai.Text("Text:\n"+sample), cfg)
	if err != nil {
		return "", fmt.Errorf("classify: %w", err)
	}
	return strings.TrimSpace(resp.Text()), nil
}
