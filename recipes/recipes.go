// Package recipes defines the recipe search collaborators consumed by the
// worker's job operations, plus ingredient normalization and scoring.
//
// Recipe storage and vector search internals live in the main application; this
// package only names the functions the pipeline calls.
package recipes

import "context"

// Recipe is the slice of recipe data the pipeline works with. Saved reflects
// which search surface returned the recipe, not a stored attribute.
type Recipe struct {
	ID              string   `json:"id"`
	Title           string   `json:"title"`
	Summary         string   `json:"summary,omitempty"`
	Ingredients     []string `json:"ingredients"`
	ImageURL        string   `json:"imageUrl,omitempty"`
	PrepTimeMinutes int      `json:"prepTimeMinutes,omitempty"`
	CookTimeMinutes int      `json:"cookTimeMinutes,omitempty"`
	Saved           bool     `json:"saved,omitempty"`

	// MatchScore is the ingredient match score computed for saved-recipe
	// search results. Global vector search results leave it at zero.
	MatchScore float64 `json:"matchScore,omitempty"`
}

// SavedRecipeStore lists a user's saved recipes.
type SavedRecipeStore interface {
	ListSaved(ctx context.Context, userID string) ([]Recipe, error)
}

// VectorSearch queries the global recipe catalog by semantic similarity.
type VectorSearch interface {
	Search(ctx context.Context, query string, limit int) ([]Recipe, error)
}
