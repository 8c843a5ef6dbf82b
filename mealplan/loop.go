package mealplan

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

// Generator runs the meal-plan tool-calling loop as a worker operation.
type Generator struct {
	model  *llm.Client
	saved  recipes.SavedRecipeStore
	search recipes.VectorSearch
	cfg    Config
	logger *slog.Logger
}

// NewGenerator creates a meal-plan generator backed by the given model and
// recipe stores.
func NewGenerator(model *llm.Client, saved recipes.SavedRecipeStore, search recipes.VectorSearch, cfg Config, logger *slog.Logger) (*Generator, error) {
	if model == nil {
		return nil, fmt.Errorf("model client is required")
	}
	if saved == nil || search == nil {
		return nil, fmt.Errorf("saved recipe store and vector search are required")
	}
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = DefaultConfig().MaxRounds
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = DefaultConfig().MaxResults
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{model: model, saved: saved, search: search, cfg: cfg, logger: logger}, nil
}

func (g *Generator) Type() job.Type { return job.TypeMealplanGenerate }

func (g *Generator) ProgressChannel(jobID string) string { return channel.Mealplan(jobID) }

// loopState is the mutable state of one generation run. The cache is scoped
// to the job: every recipe the model saw this run, and nothing else, is
// available for hydration.
type loopState struct {
	round    int
	cache    map[string]recipes.Recipe
	messages []llm.Message
}

// Execute runs the bounded tool-calling loop and returns the hydrated plan.
func (g *Generator) Execute(ctx context.Context, j job.Job, progress *job.Progress) (any, error) {
	var payload Payload
	if err := json.Unmarshal(j.Payload, &payload); err != nil {
		return nil, llm.NewFatalError(fmt.Errorf("invalid mealplan payload: %w", err))
	}
	available := recipes.NormalizeIngredients(payload.AvailableIngredients)

	progress.Report(ctx, "searching_saved", 10, "Looking through your saved recipes")

	state := &loopState{
		cache: make(map[string]recipes.Recipe),
		messages: []llm.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt(available, payload.Preferences)},
		},
	}
	tools := toolDefinitions()

	for state.round = 1; state.round <= g.cfg.MaxRounds; state.round++ {
		resp, err := g.model.Complete(ctx, llm.Request{
			Messages: state.messages,
			Tools:    tools,
		})
		if err != nil {
			return nil, fmt.Errorf("model round %d: %w", state.round, err)
		}

		if len(resp.ToolCalls) > 0 {
			state.messages = append(state.messages, llm.Message{
				Role:      "assistant",
				Content:   resp.Content,
				ToolCalls: resp.ToolCalls,
			})
			for _, call := range resp.ToolCalls {
				result := g.runTool(ctx, call, payload.UserID, available, state.cache)
				state.messages = append(state.messages, llm.Message{
					Role:       "tool",
					ToolCallID: call.ID,
					Content:    result,
				})
			}
			progress.Report(ctx, "searching_all", searchProgress(state.round), "Searching for recipes")
			continue
		}

		doc, perr := g.parseAnswer(resp.Content)
		if perr != nil {
			g.logger.Debug("mealplan answer not parseable, re-prompting",
				"job_id", j.ID, "round", state.round, "error", perr)
			state.messages = append(state.messages,
				llm.Message{Role: "assistant", Content: resp.Content},
				llm.Message{Role: "user", Content: correctivePrompt},
			)
			continue
		}

		progress.Report(ctx, "planning", 80, "Putting your plan together")
		return Result{Plan: g.hydrate(doc, state.cache)}, nil
	}

	return nil, llm.NewFatalError(ErrMaxAttempts)
}

// searchProgress maps tool rounds onto the 20-70 progress band.
func searchProgress(round int) int {
	pct := 20 + (round-1)*10
	if pct > 70 {
		pct = 70
	}
	return pct
}

// parseAnswer extracts the first JSON object from the model's text and
// validates the three-slot shape.
func (g *Generator) parseAnswer(content string) (*planDoc, error) {
	raw := llm.ExtractJSON(content)
	if raw == "" {
		return nil, fmt.Errorf("no JSON object in answer")
	}
	return parsePlan(raw)
}

// hydrate fills each slot's display metadata from the per-job cache. Recipes
// the model invented, i.e. ids never returned by a tool, keep only the id and
// reasoning.
func (g *Generator) hydrate(doc *planDoc, cache map[string]recipes.Recipe) Plan {
	return Plan{
		Now:   hydrateSlot(doc.Now, cache),
		Next:  hydrateSlot(doc.Next, cache),
		Later: hydrateSlot(doc.Later, cache),
	}
}

func hydrateSlot(ps *planSlot, cache map[string]recipes.Recipe) Slot {
	slot := Slot{
		RecipeID:           ps.RecipeID,
		Reasoning:          ps.Reasoning,
		MatchedIngredients: ps.MatchedIngredients,
		MissingIngredients: ps.MissingIngredients,
	}
	if r, ok := cache[ps.RecipeID]; ok {
		slot.Title = r.Title
		slot.ImageURL = r.ImageURL
		slot.PrepTimeMinutes = r.PrepTimeMinutes
		slot.CookTimeMinutes = r.CookTimeMinutes
		slot.FromSavedRecipes = r.Saved
	}
	return slot
}

func userPrompt(available []string, preferences string) string {
	var b strings.Builder
	b.WriteString("Plan my next three meals.\n\nAvailable ingredients:\n")
	if len(available) == 0 {
		b.WriteString("(none listed)\n")
	}
	for _, ing := range available {
		b.WriteString("- ")
		b.WriteString(ing)
		b.WriteString("\n")
	}
	if preferences != "" {
		b.WriteString("\nPreferences: ")
		b.WriteString(preferences)
		b.WriteString("\n")
	}
	return b.String()
}
