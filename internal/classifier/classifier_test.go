package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/openai/openai-go/v3/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"veganagain/internal/config"
	"veganagain/internal/restaurants/types"
)

type fakeLLM struct {
	mu      sync.Mutex
	answers map[string]string
	calls   []string
}

func (f *fakeLLM) complete(_ context.Context, system, user string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, user)
	if system != SystemPrompt {
		return "", errors.New("unexpected system prompt")
	}
	answer, ok := f.answers[user]
	if !ok {
		return "", errors.New("model unavailable")
	}
	return answer, nil
}

func TestClassify(t *testing.T) {
	t.Parallel()
	llm := &fakeLLM{answers: map[string]string{
		"두부 비빔밥": `{"level":"vegan","confidence":0.93,"description":"두부와 채소"}`,
		"아메리카노":  `{"level":"others","confidence":0.4,"description":"음료"}`,
		"치즈 오믈렛": "```json\n{\"level\":\"lacto-ovo\",\"confidence\":1.7,\"description\":\"치즈와 달걀\"}\n```",
		"수상한 메뉴": `{"level":"carnivore","confidence":0.9,"description":"?"}`,
		"깨진 응답":  `not json`,
	}}
	c := &Classifier{llm: llm}

	tests := []struct {
		menu       string
		level      types.VegetarianLevel
		confidence float64
		wantErr    bool
	}{
		{menu: " 두부 비빔밥 ", level: types.LevelVegan, confidence: 0.93},
		{menu: "아메리카노", level: types.LevelUnset, confidence: 0.4},
		{menu: "치즈 오믈렛", level: types.LevelLactoOvo, confidence: 1},
		{menu: "수상한 메뉴", level: types.LevelUnset, confidence: 0.1},
		{menu: "깨진 응답", wantErr: true},
		{menu: "모르는 메뉴", wantErr: true},
		{menu: "  ", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.menu, func(t *testing.T) {
			t.Parallel()
			got, err := c.Classify(context.Background(), tt.menu)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.level, got.Level)
			assert.InDelta(t, tt.confidence, got.Confidence, 1e-9)
		})
	}
}

func TestClassifyAllKeepsOrder(t *testing.T) {
	t.Parallel()
	llm := &fakeLLM{answers: map[string]string{
		"a": `{"level":"vegan","confidence":0.9,"description":""}`,
		"c": `{"level":"pesco","confidence":0.8,"description":""}`,
	}}
	got := (&Classifier{llm: llm}).ClassifyAll(context.Background(), []string{"a", "b", "c"}, 2)
	require.Len(t, got, 3)
	assert.Equal(t, types.LevelVegan, got[0].Level)
	assert.Error(t, got[1].Err)
	assert.Equal(t, "b", got[1].Menu)
	assert.Equal(t, types.LevelPesco, got[2].Level)
	assert.Len(t, llm.calls, 3)
}

func TestAnswerSchema(t *testing.T) {
	t.Parallel()
	s := answerSchema()
	assert.Equal(t, "object", s["type"])
	assert.Equal(t, false, s["additionalProperties"])
	assert.ElementsMatch(t, []any{"level", "confidence", "description"}, s["required"])
	props, ok := s["properties"].(map[string]any)
	require.True(t, ok)
	level, ok := props["level"].(map[string]any)
	require.True(t, ok)
	assert.Len(t, level["enum"], len(Answers))
	assert.NotContains(t, s, "$schema")

	assert.Equal(t, Answers, geminiSchema().Properties["level"].Enum)
}

func TestOpenAIRequestsStructuredOutput(t *testing.T) {
	t.Parallel()
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		raw, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(raw, &body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1,
			"model": "gpt-4o-mini",
			"choices": [{"index": 0, "finish_reason": "stop",
				"message": {"role": "assistant", "content": "{\"level\":\"pollo\",\"confidence\":0.85,\"description\":\"닭가슴살\"}"}}]
		}`)
	}))
	t.Cleanup(srv.Close)

	llm := newOpenAI("test-key", "", option.WithBaseURL(srv.URL+"/"), option.WithMaxRetries(0))
	got, err := (&Classifier{llm: llm}).Classify(context.Background(), "닭가슴살 샐러드")
	require.NoError(t, err)
	assert.Equal(t, types.LevelPollo, got.Level)
	assert.Equal(t, "닭가슴살", got.Description)

	assert.Equal(t, defaultOpenAIModel, body["model"])
	format, ok := body["response_format"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "json_schema", format["type"])
	schema, ok := format["json_schema"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "menu_level", schema["name"])
	assert.Equal(t, true, schema["strict"])
}

func TestNewRequiresKey(t *testing.T) {
	t.Parallel()
	_, err := New(context.Background(), config.AIConfig{Provider: "openai"})
	assert.Error(t, err)
	_, err = New(context.Background(), config.AIConfig{Provider: "claude", APIKey: "k"})
	assert.Error(t, err)
	c, err := New(context.Background(), config.AIConfig{Provider: "openai", APIKey: "k"})
	require.NoError(t, err)
	assert.NotNil(t, c)
}
