package recipes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// maxResponseSize bounds recipe API response bodies.
const maxResponseSize = 10 * 1024 * 1024 // 10MB

// HTTPClient calls the main application's internal recipe API. It implements
// both SavedRecipeStore and VectorSearch.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPClient creates a recipe API client rooted at baseURL.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// ListSaved fetches a user's saved recipes.
func (c *HTTPClient) ListSaved(ctx context.Context, userID string) ([]Recipe, error) {
	endpoint := fmt.Sprintf("%s/internal/users/%s/recipes", c.baseURL, url.PathEscape(userID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build saved-recipes request: %w", err)
	}

	return c.doRecipes(req)
}

// Search queries the global vector-similarity search.
func (c *HTTPClient) Search(ctx context.Context, query string, limit int) ([]Recipe, error) {
	body, err := json.Marshal(map[string]any{"query": query, "limit": limit})
	if err != nil {
		return nil, fmt.Errorf("marshal search request: %w", err)
	}

	endpoint := c.baseURL + "/internal/recipes/search?limit=" + strconv.Itoa(limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.doRecipes(req)
}

func (c *HTTPClient) doRecipes(req *http.Request) ([]Recipe, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("recipe API request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("read recipe API response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("recipe API returned %d: %s", resp.StatusCode, truncate(data, 200))
	}

	var recipes []Recipe
	if err := json.Unmarshal(data, &recipes); err != nil {
		return nil, fmt.Errorf("parse recipe API response: %w", err)
	}
	return recipes, nil
}

func truncate(data []byte, n int) string {
	if len(data) <= n {
		return string(data)
	}
	return string(data[:n]) + "..."
}
