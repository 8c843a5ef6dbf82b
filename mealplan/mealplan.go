// Package mealplan implements meal-plan generation as a bounded tool-calling
// loop: the model alternates between recipe search tools and reasoning until
// it produces a three-slot plan or the round cap is reached.
package mealplan

import (
	"encoding/json"
	"errors"
)

// ErrMaxAttempts is the fatal exhaustion error raised when the model never
// produces a parseable plan within the round cap. It is distinct from
// model/tool I/O errors and is never retried within the loop.
var ErrMaxAttempts = errors.New("Failed to generate meal plan after maximum attempts")

// Tool names declared to the model.
const (
	ToolSearchSaved = "search_saved_recipes"
	ToolSearchAll   = "search_all_recipes"
)

// Config bounds the tool-calling loop.
type Config struct {
	// MaxRounds caps model round trips. The cap is the loop's only
	// termination guarantee, so it must stay finite.
	MaxRounds int `yaml:"max_rounds"`

	// MaxResults caps recipes returned per tool call.
	MaxResults int `yaml:"max_results"`
}

// DefaultConfig returns the production loop bounds.
func DefaultConfig() Config {
	return Config{MaxRounds: 8, MaxResults: 5}
}

// Payload is the mealplan_generate job payload. AvailableIngredients accepts
// a JSON array, a JSON-encoded array string, or a newline-delimited string.
type Payload struct {
	UserID               string `json:"userId"`
	AvailableIngredients any    `json:"availableIngredients"`
	Preferences          string `json:"preferences,omitempty"`
}

// Slot is one planned recipe with the model's reasoning and the metadata
// hydrated from the per-job search cache.
type Slot struct {
	RecipeID           string   `json:"recipeId"`
	Title              string   `json:"title,omitempty"`
	Reasoning          string   `json:"reasoning,omitempty"`
	MatchedIngredients []string `json:"matchedIngredients,omitempty"`
	MissingIngredients []string `json:"missingIngredients,omitempty"`
	ImageURL           string   `json:"imageUrl,omitempty"`
	PrepTimeMinutes    int      `json:"prepTimeMinutes,omitempty"`
	CookTimeMinutes    int      `json:"cookTimeMinutes,omitempty"`
	FromSavedRecipes   bool     `json:"fromSavedRecipes"`
}

// Plan holds the three output slots.
type Plan struct {
	Now   Slot `json:"now"`
	Next  Slot `json:"next"`
	Later Slot `json:"later"`
}

// Result is the operation result embedded in the completed progress message
// and the terminal job event.
type Result struct {
	Plan Plan `json:"mealPlan"`
}

// planDoc is the shape parsed out of the model's final answer; hydration
// turns it into a Plan.
type planDoc struct {
	Now   *planSlot `json:"now"`
	Next  *planSlot `json:"next"`
	Later *planSlot `json:"later"`
}

type planSlot struct {
	RecipeID           string   `json:"recipeId"`
	Reasoning          string   `json:"reasoning"`
	MatchedIngredients []string `json:"matchedIngredients"`
	MissingIngredients []string `json:"missingIngredients"`
}

// parsePlan extracts and validates the three-slot answer from raw JSON.
func parsePlan(raw string) (*planDoc, error) {
	var doc planDoc
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, err
	}
	if doc.Now == nil || doc.Next == nil || doc.Later == nil {
		return nil, errors.New("plan is missing one of the now/next/later slots")
	}
	if doc.Now.RecipeID == "" || doc.Next.RecipeID == "" || doc.Later.RecipeID == "" {
		return nil, errors.New("plan slot is missing a recipeId")
	}
	return &doc, nil
}
