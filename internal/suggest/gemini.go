// Package suggest generates answer suggestions and session notes with the
// Gemini API.
package suggest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/awender/crosstalk/internal/callout"
	"github.com/awender/crosstalk/internal/config"
	"github.com/awender/crosstalk/internal/transcribe"
)

const maxAttempts = 3

// Generator calls Gemini to draft answer suggestions and meeting notes.
type Generator struct {
	client *genai.Client
	model  string
	logger *slog.Logger
}

// NewGenerator builds a Generator from the suggest config. It fails when the
// API key environment variable is unset.
func NewGenerator(ctx context.Context, cfg config.SuggestConfig, logger *slog.Logger) (*Generator, error) {
	apiKey := os.Getenv(cfg.APIKeyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("suggest: %s is not set", cfg.APIKeyEnv)
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("suggest: create client: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{client: client, model: cfg.Model, logger: logger}, nil
}

// Suggest drafts an answer to a question the other party asked.
func (g *Generator) Suggest(ctx context.Context, question string, window []transcribe.Segment, excerpts []callout.Excerpt) (string, error) {
	return g.generate(ctx, buildSuggestPrompt(question, window, excerpts), 256)
}

// Notes summarizes a finished session's transcript as Markdown notes.
func (g *Generator) Notes(ctx context.Context, transcript string) (string, error) {
	if strings.TrimSpace(transcript) == "" {
		return "", fmt.Errorf("suggest: empty transcript")
	}
	return g.generate(ctx, buildNotesPrompt(transcript), 1024)
}

func (g *Generator) generate(ctx context.Context, prompt string, maxTokens int32) (string, error) {
	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}
	cfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(0.4)),
		MaxOutputTokens: maxTokens,
	}

	var response *genai.GenerateContentResponse
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		response, err = g.client.Models.GenerateContent(ctx, g.model, contents, cfg)
		if err == nil {
			break
		}
		g.logger.Warn("generation attempt failed", "attempt", attempt+1, "error", err)
		if attempt < maxAttempts-1 {
			select {
			case <-time.After(time.Duration(attempt+1) * time.Second):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
	}
	if err != nil {
		return "", fmt.Errorf("suggest: generate: %w", err)
	}
	if len(response.Candidates) == 0 || response.Candidates[0].Content == nil {
		return "", fmt.Errorf("suggest: no candidates returned")
	}

	var text strings.Builder
	for _, part := range response.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}
	out := strings.TrimSpace(text.String())
	if out == "" {
		return "", fmt.Errorf("suggest: empty response")
	}
	return out, nil
}
