package advisor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

const DefaultGeminiModel = "gemini-2.0-flash"

// Gemini asks a language model when to retry a throttled feed call. The
// answer is free text; the first integer found is read as seconds. Any
// API or parse failure surfaces as an error, never a panic.
type Gemini struct {
	client *genai.Client
	model  string
	logger *zap.Logger
}

func NewGemini(ctx context.Context, apiKey, model string, logger *zap.Logger) (*Gemini, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	if model == "" {
		model = DefaultGeminiModel
	}
	return &Gemini{client: client, model: model, logger: logger}, nil
}

func (g *Gemini) SuggestDelay(ctx context.Context, attempt int, nowLabel string) (time.Duration, error) {
	prompt := fmt.Sprintf(
		"I have attempted to retrieve data from a market data API %d times, and each attempt has "+
			"been throttled due to metering limits. Current time is %s. When should I retry to avoid "+
			"being throttled again? Please provide the suggested wait time in seconds.",
		attempt, nowLabel,
	)

	result, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), nil)
	if err != nil {
		return 0, fmt.Errorf("failed to generate retry suggestion: %w", err)
	}

	text, err := responseText(result)
	if err != nil {
		return 0, err
	}
	g.logger.Info("advisor suggested retry", zap.String("response", text))

	return ParseDelay(text)
}

func responseText(result *genai.GenerateContentResponse) (string, error) {
	if len(result.Candidates) == 0 || result.Candidates[0].Content == nil || len(result.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("no content generated")
	}

	text := ""
	for _, part := range result.Candidates[0].Content.Parts {
		if part.Text != "" {
			text += part.Text
		}
	}
	if text == "" {
		return "", fmt.Errorf("empty response text")
	}
	return text, nil
}
