// Package gemini implements domain.ResultRanker on the Gemini API.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"google.golang.org/genai"
)

const systemPrompt = "You are an assistant that selects the best music search results. Reply with JSON only."

// Ranker sends ranking prompts to a Gemini model.
type Ranker struct {
	client *genai.Client
	model  string
}

// Options configures a Ranker. BaseURL is empty in production.
type Options struct {
	APIKey  string
	Model   string
	BaseURL string
}

// New creates a Gemini ranker.
func New(ctx context.Context, opts Options) (*Ranker, error) {
	if opts.APIKey == "" {
		return nil, errors.New("gemini: missing API key")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      opts.APIKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{BaseURL: opts.BaseURL},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	model := opts.Model
	if model == "" {
		model = "gemini-2.5-flash"
	}
	return &Ranker{client: client, model: model}, nil
}

// Rank returns the model's text reply to prompt.
func (r *Ranker) Rank(ctx context.Context, prompt string) (string, error) {
	// Thinking tokens count against the output; ranking does not need them.
	cfg := &genai.GenerateContentConfig{
		Temperature:       genai.Ptr[float32](0),
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
		ThinkingConfig:    &genai.ThinkingConfig{ThinkingBudget: genai.Ptr[int32](0)},
	}
	resp, err := r.client.Models.GenerateContent(ctx, r.model, genai.Text(prompt), cfg)
	if err != nil {
		return "", err
	}

	// An empty reply is not an error; it ranks to no results.
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		log.Printf("gemini ranking response: empty (finish reason %s)", finishReason(resp))
		return "", nil
	}
	log.Printf("gemini ranking response: %s", short(text, 800))
	return text, nil
}

func finishReason(resp *genai.GenerateContentResponse) genai.FinishReason {
	if len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		return genai.FinishReasonUnspecified
	}
	return resp.Candidates[0].FinishReason
}

func short(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
