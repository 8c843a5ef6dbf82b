package recipes

import (
	"encoding/json"
	"strings"
)

// NormalizeIngredients converts an ingredient list into a clean string slice.
// Upstream clients deliver ingredient lists in three shapes: a real array, a
// JSON-encoded array string, or a newline-delimited string. All three normalize
// to trimmed, non-empty entries.
func NormalizeIngredients(v any) []string {
	switch val := v.(type) {
	case nil:
		return nil
	case []string:
		return cleanList(val)
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return cleanList(out)
	case string:
		trimmed := strings.TrimSpace(val)
		if trimmed == "" {
			return nil
		}
		if strings.HasPrefix(trimmed, "[") {
			var parsed []string
			if err := json.Unmarshal([]byte(trimmed), &parsed); err == nil {
				return cleanList(parsed)
			}
		}
		return cleanList(strings.Split(trimmed, "\n"))
	default:
		return nil
	}
}

func cleanList(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s := strings.TrimSpace(item); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// MatchScore returns the fraction of a recipe's ingredients satisfied by the
// available ingredients, in [0, 1]. An ingredient is satisfied when some
// available ingredient is a case-insensitive substring or superstring of it.
// A recipe with no ingredients scores 0.
func MatchScore(available, recipeIngredients []string) float64 {
	if len(recipeIngredients) == 0 {
		return 0
	}

	lowered := make([]string, 0, len(available))
	for _, a := range available {
		if s := strings.ToLower(strings.TrimSpace(a)); s != "" {
			lowered = append(lowered, s)
		}
	}

	matched := 0
	for _, ing := range recipeIngredients {
		ingLower := strings.ToLower(strings.TrimSpace(ing))
		if ingLower == "" {
			continue
		}
		for _, a := range lowered {
			if strings.Contains(ingLower, a) || strings.Contains(a, ingLower) {
				matched++
				break
			}
		}
	}

	return float64(matched) / float64(len(recipeIngredients))
}

// TokenMatch reports whether any whitespace token of query matches the recipe's
// title, ingredients, or summary, case-insensitively. An empty query matches
// everything.
func TokenMatch(query string, r Recipe) bool {
	tokens := strings.Fields(strings.ToLower(query))
	if len(tokens) == 0 {
		return true
	}

	haystack := strings.ToLower(r.Title + " " + r.Summary + " " + strings.Join(r.Ingredients, " "))
	for _, tok := range tokens {
		if strings.Contains(haystack, tok) {
			return true
		}
	}
	return false
}
