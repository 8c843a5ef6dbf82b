package mealplan

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/plateful/plateful/llm"
	"github.com/plateful/plateful/recipes"
)

// searchArgs is the argument shape shared by both search tools.
type searchArgs struct {
	Query string `json:"query"`
}

func parseSearchArgs(raw json.RawMessage) (searchArgs, error) {
	var args searchArgs
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &args); err != nil {
			return args, fmt.Errorf("invalid tool arguments: %w", err)
		}
	}
	if strings.TrimSpace(args.Query) == "" {
		return args, fmt.Errorf("tool requires a non-empty query")
	}
	return args, nil
}

// toolDefinitions declares the two search tools to the model.
func toolDefinitions() []llm.ToolDefinition {
	queryParams := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "Search terms, e.g. cuisine, ingredient, or dish name",
			},
		},
		"required": []string{"query"},
	}
	return []llm.ToolDefinition{
		{
			Name:        ToolSearchSaved,
			Description: "Search the user's saved recipes. Results are ranked by how well the user's available ingredients cover each recipe.",
			Parameters:  queryParams,
		},
		{
			Name:        ToolSearchAll,
			Description: "Search the full recipe catalog by semantic similarity. Use when saved recipes do not cover a slot.",
			Parameters:  queryParams,
		},
	}
}

// recipeView is the compact recipe representation returned to the model.
// Full metadata stays in the cache for hydration.
type recipeView struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Summary     string   `json:"summary,omitempty"`
	Ingredients []string `json:"ingredients,omitempty"`
	MatchScore  float64  `json:"matchScore,omitempty"`
	Saved       bool     `json:"saved,omitempty"`
}

// runTool executes a single tool call and returns the JSON content for the
// tool turn. Unknown tools and bad arguments produce an error payload rather
// than failing the job: the model gets a chance to correct itself.
func (g *Generator) runTool(ctx context.Context, call llm.ToolCall, userID string, available []string, cache map[string]recipes.Recipe) string {
	args, err := parseSearchArgs(call.Arguments)
	if err != nil {
		return toolError(err)
	}

	var found []recipes.Recipe
	switch call.Name {
	case ToolSearchSaved:
		found, err = g.searchSaved(ctx, userID, args.Query, available)
	case ToolSearchAll:
		found, err = g.searchAll(ctx, args.Query)
	default:
		return toolError(fmt.Errorf("unknown tool %q", call.Name))
	}
	if err != nil {
		return toolError(err)
	}

	views := make([]recipeView, 0, len(found))
	for _, r := range found {
		// Saved entries win over catalog entries for the same recipe so
		// hydration keeps the richer metadata and the saved flag.
		if existing, ok := cache[r.ID]; !ok || !existing.Saved {
			cache[r.ID] = r
		}
		views = append(views, recipeView{
			ID:          r.ID,
			Title:       r.Title,
			Summary:     r.Summary,
			Ingredients: r.Ingredients,
			MatchScore:  r.MatchScore,
			Saved:       r.Saved,
		})
	}

	out, err := json.Marshal(map[string]any{"recipes": views, "count": len(views)})
	if err != nil {
		return toolError(err)
	}
	return string(out)
}

// searchSaved filters the user's saved recipes by token match and ranks them
// by ingredient coverage, best first.
func (g *Generator) searchSaved(ctx context.Context, userID, query string, available []string) ([]recipes.Recipe, error) {
	saved, err := g.saved.ListSaved(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing saved recipes: %w", err)
	}

	var matched []recipes.Recipe
	for _, r := range saved {
		if !recipes.TokenMatch(query, r) {
			continue
		}
		r.Saved = true
		r.MatchScore = recipes.MatchScore(available, r.Ingredients)
		matched = append(matched, r)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].MatchScore > matched[j].MatchScore
	})
	if len(matched) > g.cfg.MaxResults {
		matched = matched[:g.cfg.MaxResults]
	}
	return matched, nil
}

// searchAll queries the catalog by semantic similarity. Catalog results carry
// no ingredient coverage score.
func (g *Generator) searchAll(ctx context.Context, query string) ([]recipes.Recipe, error) {
	found, err := g.search.Search(ctx, query, g.cfg.MaxResults)
	if err != nil {
		return nil, fmt.Errorf("searching recipe catalog: %w", err)
	}
	for i := range found {
		found[i].Saved = false
		found[i].MatchScore = 0
	}
	return found, nil
}

func toolError(err error) string {
	out, merr := json.Marshal(map[string]string{"error": err.Error()})
	if merr != nil {
		return `{"error":"tool failed"}`
	}
	return string(out)
}
