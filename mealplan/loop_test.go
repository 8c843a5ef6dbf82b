package mealplan_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/plateful/plateful/channel"
	"github.com/plateful/plateful/job"
	"github.com/plateful/plateful/llm"
	_ "github.com/plateful/plateful/llm/providers" // Register providers
	"github.com/plateful/plateful/mealplan"
	"github.com/plateful/plateful/recipes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedModel serves one canned chat completion per request, in order.
type scriptedModel struct {
	t         *testing.T
	mu        sync.Mutex
	responses []map[string]any
	requests  []map[string]any
}

func (s *scriptedModel) handler(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var req map[string]any
	require.NoError(s.t, json.NewDecoder(r.Body).Decode(&req))
	s.requests = append(s.requests, req)

	require.Less(s.t, len(s.requests)-1, len(s.responses), "model called more times than scripted")
	resp := s.responses[len(s.requests)-1]
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (s *scriptedModel) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func textResponse(content string) map[string]any {
	return map[string]any{
		"id":    "chatcmpl-1",
		"model": "test-model",
		"choices": []map[string]any{
			{"index": 0, "message": map[string]any{"role": "assistant", "content": content}, "finish_reason": "stop"},
		},
	}
}

func toolCallResponse(callID, name, args string) map[string]any {
	return map[string]any{
		"id":    "chatcmpl-1",
		"model": "test-model",
		"choices": []map[string]any{
			{
				"index": 0,
				"message": map[string]any{
					"role": "assistant",
					"tool_calls": []map[string]any{
						{"id": callID, "type": "function", "function": map[string]any{"name": name, "arguments": args}},
					},
				},
				"finish_reason": "tool_calls",
			},
		},
	}
}

type fakeSavedStore struct {
	recipes []recipes.Recipe
	err     error
}

func (f *fakeSavedStore) ListSaved(_ context.Context, _ string) ([]recipes.Recipe, error) {
	return f.recipes, f.err
}

type fakeVectorSearch struct {
	recipes []recipes.Recipe
	err     error
}

func (f *fakeVectorSearch) Search(_ context.Context, _ string, limit int) ([]recipes.Recipe, error) {
	if f.err != nil {
		return nil, f.err
	}
	if len(f.recipes) > limit {
		return f.recipes[:limit], nil
	}
	return f.recipes, nil
}

type recordedMessage struct {
	ch      string
	payload []byte
}

type recordingPublisher struct {
	mu       sync.Mutex
	messages []recordedMessage
}

func (r *recordingPublisher) Publish(_ context.Context, ch string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, recordedMessage{ch: ch, payload: raw})
	return nil
}

func (r *recordingPublisher) progressOn(t *testing.T, ch string) []channel.ProgressMessage {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []channel.ProgressMessage
	for _, m := range r.messages {
		if m.ch != ch {
			continue
		}
		var pm channel.ProgressMessage
		require.NoError(t, json.Unmarshal(m.payload, &pm))
		out = append(out, pm)
	}
	return out
}

func (r *recordingPublisher) eventsOn(t *testing.T, ch string) []channel.JobEvent {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []channel.JobEvent
	for _, m := range r.messages {
		if m.ch != ch {
			continue
		}
		var ev channel.JobEvent
		require.NoError(t, json.Unmarshal(m.payload, &ev))
		out = append(out, ev)
	}
	return out
}

func newGenerator(t *testing.T, model *scriptedModel, saved recipes.SavedRecipeStore, search recipes.VectorSearch, cfg mealplan.Config) *mealplan.Generator {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(model.handler))
	t.Cleanup(server.Close)

	client, err := llm.NewClient(llm.Endpoint{Provider: "openai", BaseURL: server.URL, Model: "test-model"})
	require.NoError(t, err)

	gen, err := mealplan.NewGenerator(client, saved, search, cfg, nil)
	require.NoError(t, err)
	return gen
}

func mealplanJob(t *testing.T, id string, ingredients any) job.Job {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"userId":               "user-1",
		"availableIngredients": ingredients,
	})
	require.NoError(t, err)
	return job.Job{ID: id, Type: job.TypeMealplanGenerate, UserID: "user-1", Payload: payload}
}

func validPlanJSON(now, next, later string) string {
	return `{
		"now":   {"recipeId": "` + now + `", "reasoning": "uses what you have", "matchedIngredients": ["chicken"], "missingIngredients": []},
		"next":  {"recipeId": "` + next + `", "reasoning": "quick", "matchedIngredients": [], "missingIngredients": ["basil"]},
		"later": {"recipeId": "` + later + `", "reasoning": "weekend cook", "matchedIngredients": [], "missingIngredients": []}
	}`
}

func TestGenerator_ToolRoundsThenPlan(t *testing.T) {
	saved := &fakeSavedStore{recipes: []recipes.Recipe{
		{ID: "r-saved", Title: "Chicken Curry", Ingredients: []string{"chicken", "rice"},
			ImageURL: "https://img/curry.jpg", PrepTimeMinutes: 15, CookTimeMinutes: 30},
	}}
	catalog := &fakeVectorSearch{recipes: []recipes.Recipe{
		{ID: "r-cat-1", Title: "Pesto Pasta", Ingredients: []string{"pasta", "basil"}},
		{ID: "r-cat-2", Title: "Shakshuka", Ingredients: []string{"eggs", "tomato"}},
	}}
	model := &scriptedModel{t: t, responses: []map[string]any{
		toolCallResponse("call-1", mealplan.ToolSearchSaved, `{"query": "chicken"}`),
		toolCallResponse("call-2", mealplan.ToolSearchAll, `{"query": "vegetarian dinner"}`),
		textResponse(validPlanJSON("r-saved", "r-cat-1", "r-cat-2")),
	}}

	gen := newGenerator(t, model, saved, catalog, mealplan.Config{})
	pub := &recordingPublisher{}
	exec := job.NewExecutor(pub, nil, nil)

	j := mealplanJob(t, "job-plan-1", []string{"chicken", "rice"})
	require.NoError(t, exec.Run(context.Background(), gen, j))
	assert.Equal(t, 3, model.callCount())

	progress := pub.progressOn(t, channel.Mealplan("job-plan-1"))
	require.Len(t, progress, 5)
	assert.Equal(t, "searching_saved", progress[0].Stage)
	assert.Equal(t, 10, progress[0].Progress)
	assert.Equal(t, "searching_all", progress[1].Stage)
	assert.Equal(t, 20, progress[1].Progress)
	assert.Equal(t, "searching_all", progress[2].Stage)
	assert.Equal(t, 30, progress[2].Progress)
	assert.Equal(t, "planning", progress[3].Stage)
	assert.Equal(t, 80, progress[3].Progress)
	assert.Equal(t, channel.StageCompleted, progress[4].Stage)
	assert.Equal(t, 100, progress[4].Progress)

	events := pub.eventsOn(t, channel.Job("job-plan-1"))
	require.Len(t, events, 1)
	assert.Equal(t, channel.EventCompleted, events[0].EventType)

	var result mealplan.Result
	require.NoError(t, json.Unmarshal(events[0].Result, &result))
	assert.Equal(t, "r-saved", result.Plan.Now.RecipeID)
	assert.Equal(t, "Chicken Curry", result.Plan.Now.Title)
	assert.Equal(t, "https://img/curry.jpg", result.Plan.Now.ImageURL)
	assert.Equal(t, 15, result.Plan.Now.PrepTimeMinutes)
	assert.True(t, result.Plan.Now.FromSavedRecipes)
	assert.Equal(t, "Pesto Pasta", result.Plan.Next.Title)
	assert.False(t, result.Plan.Next.FromSavedRecipes)
}

func TestGenerator_CorrectiveRepromptOnNonJSON(t *testing.T) {
	model := &scriptedModel{t: t, responses: []map[string]any{
		toolCallResponse("call-1", mealplan.ToolSearchSaved, `{"query": "anything"}`),
		textResponse("Sure! Here is my thinking about your meals."),
		textResponse(validPlanJSON("r-1", "r-1", "r-1")),
	}}
	saved := &fakeSavedStore{recipes: []recipes.Recipe{{ID: "r-1", Title: "Anything Bowl", Ingredients: []string{"anything"}}}}

	gen := newGenerator(t, model, saved, &fakeVectorSearch{}, mealplan.Config{})
	pub := &recordingPublisher{}
	j := mealplanJob(t, "job-plan-2", "chicken\nrice")
	require.NoError(t, job.NewExecutor(pub, nil, nil).Run(context.Background(), gen, j))
	require.Equal(t, 3, model.callCount())

	// The third request must carry the corrective turn after the prose answer.
	last := model.requests[2]
	msgs, ok := last["messages"].([]any)
	require.True(t, ok)
	final, ok := msgs[len(msgs)-1].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "user", final["role"])
	assert.Contains(t, final["content"], "ONLY the JSON object")
}

func TestGenerator_ExhaustionRaisesMaxAttempts(t *testing.T) {
	model := &scriptedModel{t: t, responses: []map[string]any{
		textResponse("I am not going to answer in JSON."),
		textResponse("Still chatting instead of planning."),
	}}

	gen := newGenerator(t, model, &fakeSavedStore{}, &fakeVectorSearch{}, mealplan.Config{MaxRounds: 2})
	pub := &recordingPublisher{}
	j := mealplanJob(t, "job-plan-3", []string{"eggs"})

	err := job.NewExecutor(pub, nil, nil).Run(context.Background(), gen, j)
	require.Error(t, err)
	assert.ErrorIs(t, err, mealplan.ErrMaxAttempts)
	assert.True(t, llm.IsFatal(err))
	assert.Equal(t, 2, model.callCount())

	events := pub.eventsOn(t, channel.Job("job-plan-3"))
	require.Len(t, events, 1)
	assert.Equal(t, channel.EventFailed, events[0].EventType)
	assert.Contains(t, events[0].Error, "Failed to generate meal plan after maximum attempts")

	progress := pub.progressOn(t, channel.Mealplan("job-plan-3"))
	require.NotEmpty(t, progress)
	assert.Equal(t, channel.StageFailed, progress[len(progress)-1].Stage)
}

func TestGenerator_IncompletePlanReprompted(t *testing.T) {
	model := &scriptedModel{t: t, responses: []map[string]any{
		// Valid JSON but a slot is missing, so the loop must not accept it.
		textResponse(`{"now": {"recipeId": "r-1"}, "next": {"recipeId": "r-1"}}`),
		textResponse(validPlanJSON("r-1", "r-1", "r-1")),
	}}

	gen := newGenerator(t, model, &fakeSavedStore{}, &fakeVectorSearch{}, mealplan.Config{})
	pub := &recordingPublisher{}
	j := mealplanJob(t, "job-plan-4", []string{})
	require.NoError(t, job.NewExecutor(pub, nil, nil).Run(context.Background(), gen, j))
	assert.Equal(t, 2, model.callCount())

	// r-1 was never returned by a tool, so hydration leaves display fields empty.
	events := pub.eventsOn(t, channel.Job("job-plan-4"))
	require.Len(t, events, 1)
	var result mealplan.Result
	require.NoError(t, json.Unmarshal(events[0].Result, &result))
	assert.Equal(t, "r-1", result.Plan.Now.RecipeID)
	assert.Empty(t, result.Plan.Now.Title)
	assert.False(t, result.Plan.Now.FromSavedRecipes)
}

func TestGenerator_ToolErrorFedBackToModel(t *testing.T) {
	model := &scriptedModel{t: t, responses: []map[string]any{
		toolCallResponse("call-1", "search_unknown_tool", `{"query": "x"}`),
		textResponse(validPlanJSON("r-1", "r-1", "r-1")),
	}}

	gen := newGenerator(t, model, &fakeSavedStore{}, &fakeVectorSearch{}, mealplan.Config{})
	pub := &recordingPublisher{}
	j := mealplanJob(t, "job-plan-5", []string{"eggs"})
	require.NoError(t, job.NewExecutor(pub, nil, nil).Run(context.Background(), gen, j))

	// The second request carries a tool turn with the error payload.
	msgs, ok := model.requests[1]["messages"].([]any)
	require.True(t, ok)
	toolTurn, ok := msgs[len(msgs)-1].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "tool", toolTurn["role"])
	assert.Contains(t, toolTurn["content"], "unknown tool")
}
