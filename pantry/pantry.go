// Package pantry extracts pantry ingredients from photos using a vision model.
package pantry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/plateful/plateful/channel"
	"github.com/plateful/plateful/job"
	"github.com/plateful/plateful/llm"
	"github.com/plateful/plateful/recipes"
)

const extractionPrompt = `You are looking at photos of a pantry, fridge, or groceries. List every distinct food ingredient you can identify.

Reply with ONLY a JSON array of ingredient name strings, lowercase, no quantities, no duplicates. Example: ["chicken breast", "basmati rice", "soy sauce"]`

// Payload is the ingredient_parse job payload.
type Payload struct {
	UserID    string   `json:"userId"`
	ImageURLs []string `json:"imageUrls"`
}

// Result is the ingredient_parse operation result.
type Result struct {
	Ingredients     []string `json:"ingredients"`
	IngredientCount int      `json:"ingredientCount"`
}

// Extractor runs ingredient extraction as a worker operation.
type Extractor struct {
	model  *llm.Client
	logger *slog.Logger
}

// NewExtractor creates an ingredient extractor backed by a vision-capable
// model.
func NewExtractor(model *llm.Client, logger *slog.Logger) (*Extractor, error) {
	if model == nil {
		return nil, fmt.Errorf("model client is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{model: model, logger: logger}, nil
}

func (e *Extractor) Type() job.Type { return job.TypeIngredientParse }

func (e *Extractor) ProgressChannel(jobID string) string { return channel.Pantry(jobID) }

// Execute sends the photos to the model and parses the ingredient list out of
// its answer.
func (e *Extractor) Execute(ctx context.Context, j job.Job, progress *job.Progress) (any, error) {
	var payload Payload
	if err := json.Unmarshal(j.Payload, &payload); err != nil {
		return nil, llm.NewFatalError(fmt.Errorf("invalid pantry payload: %w", err))
	}
	if len(payload.ImageURLs) == 0 {
		return nil, llm.NewFatalError(fmt.Errorf("no images to analyze"))
	}

	progress.Report(ctx, "analyzing", 10, "Analyzing your photos")

	resp, err := e.model.Complete(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: "system", Content: extractionPrompt},
			{Role: "user", Content: "What ingredients do you see?", ImageURLs: payload.ImageURLs},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("vision model: %w", err)
	}

	progress.Report(ctx, "extracting", 30, "Reading the ingredient list")

	ingredients, err := parseIngredients(resp.Content)
	if err != nil {
		return nil, llm.NewFatalError(fmt.Errorf("parsing model answer: %w", err))
	}

	e.logger.Info("ingredients extracted", "job_id", j.ID, "count", len(ingredients))
	return Result{Ingredients: ingredients, IngredientCount: len(ingredients)}, nil
}

// parseIngredients accepts either a bare JSON array or an object wrapping one
// under "ingredients", then dedupes case-insensitively preserving order.
func parseIngredients(content string) ([]string, error) {
	raw := llm.ExtractJSONArray(content)
	if raw == "" {
		if obj := llm.ExtractJSON(content); obj != "" {
			var wrapper struct {
				Ingredients []any `json:"ingredients"`
			}
			if err := json.Unmarshal([]byte(obj), &wrapper); err == nil && wrapper.Ingredients != nil {
				return dedupe(recipes.NormalizeIngredients(wrapper.Ingredients)), nil
			}
		}
		return nil, fmt.Errorf("no JSON array in answer")
	}

	var items []any
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, err
	}
	return dedupe(recipes.NormalizeIngredients(items)), nil
}

func dedupe(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		key := strings.ToLower(strings.TrimSpace(item))
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, strings.TrimSpace(item))
	}
	return out
}
