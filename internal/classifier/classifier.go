// Package classifier assigns vegetarian levels to menu names with an LLM.
// The results feed the menus table the detail page reads from.
package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
	"golang.org/x/sync/errgroup"

	"veganagain/internal/config"
	"veganagain/internal/restaurants/types"
)

// Others is the model's answer when a name says too little. It normalizes to
// an unset level.
const Others = "others"

// Answers lists every value the model may return, in prompt order.
var Answers = []string{"vegan", "lacto", "ovo", "lacto-ovo", "pesco", "pollo", "flexitarian", Others}

// Answer is the structured output requested from the model.
type Answer struct {
	Level       string  `json:"level" jsonschema:"enum=vegan,enum=lacto,enum=ovo,enum=lacto-ovo,enum=pesco,enum=pollo,enum=flexitarian,enum=others"`
	Confidence  float64 `json:"confidence" jsonschema:"minimum=0,maximum=1"`
	Description string  `json:"description"`
}

type Classification struct {
	Menu        string                `json:"menu"`
	Level       types.VegetarianLevel `json:"level"`
	Confidence  float64               `json:"confidence"`
	Description string                `json:"description"`
	Err         error                 `json:"-"`
}

// completer sends one system and one user message and returns the raw JSON
// text of the reply.
type completer interface {
	complete(ctx context.Context, system, user string) (string, error)
}

type Classifier struct {
	llm completer
}

// New picks the provider named in cfg.
func New(ctx context.Context, cfg config.AIConfig) (*Classifier, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("AI_API_KEY is required for %s", cfg.Provider)
	}
	switch cfg.Provider {
	case "openai", "":
		return &Classifier{llm: newOpenAI(cfg.APIKey, cfg.Model)}, nil
	case "gemini":
		g, err := newGemini(ctx, cfg.APIKey, cfg.Model)
		if err != nil {
			return nil, err
		}
		return &Classifier{llm: g}, nil
	default:
		return nil, fmt.Errorf("unknown AI provider %q", cfg.Provider)
	}
}

var (
	schemaOnce sync.Once
	schemaMap  map[string]any
)

// answerSchema is the JSON schema of Answer, reflected once.
func answerSchema() map[string]any {
	schemaOnce.Do(func() {
		r := jsonschema.Reflector{DoNotReference: true, ExpandedStruct: true}
		b, err := json.Marshal(r.Reflect(&Answer{}))
		if err != nil {
			panic(fmt.Sprintf("reflect answer schema: %v", err))
		}
		if err := json.Unmarshal(b, &schemaMap); err != nil {
			panic(fmt.Sprintf("decode answer schema: %v", err))
		}
		// providers reject the draft marker.
		delete(schemaMap, "$schema")
		delete(schemaMap, "$id")
	})
	return schemaMap
}

// Classify asks about one menu name. An answer outside the taxonomy becomes
// Others with a confidence of 0.1.
func (c *Classifier) Classify(ctx context.Context, menu string) (Classification, error) {
	menu = strings.TrimSpace(menu)
	out := Classification{Menu: menu}
	if menu == "" {
		return out, fmt.Errorf("empty menu name")
	}
	raw, err := c.llm.complete(ctx, SystemPrompt, menu)
	if err != nil {
		return out, fmt.Errorf("classify %q: %w", menu, err)
	}
	answer, err := parseAnswer(raw)
	if err != nil {
		return out, fmt.Errorf("classify %q: %w", menu, err)
	}
	if !validAnswer(answer.Level) {
		slog.WarnContext(ctx, "model returned an unknown level", "menu", menu, "level", answer.Level)
		answer.Level = Others
		answer.Confidence = 0.1
	}
	out.Level = types.ParseLevel(answer.Level)
	out.Confidence = clamp(answer.Confidence)
	out.Description = strings.TrimSpace(answer.Description)
	return out, nil
}

// ClassifyAll runs up to workers requests at a time. Results keep the input
// order; a failed menu carries its error in Err and does not stop the rest.
func (c *Classifier) ClassifyAll(ctx context.Context, menus []string, workers int) []Classification {
	if workers <= 0 {
		workers = 4
	}
	out := make([]Classification, len(menus))
	var g errgroup.Group
	g.SetLimit(workers)
	for i, menu := range menus {
		g.Go(func() error {
			res, err := c.Classify(ctx, menu)
			res.Err = err
			out[i] = res
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func parseAnswer(raw string) (Answer, error) {
	raw = strings.TrimSpace(raw)
	// some models wrap JSON in a markdown fence despite the schema.
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	var a Answer
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &a); err != nil {
		return Answer{}, fmt.Errorf("decode answer: %w", err)
	}
	return a, nil
}

func validAnswer(level string) bool {
	for _, a := range Answers {
		if a == level {
			return true
		}
	}
	return false
}

func clamp(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
