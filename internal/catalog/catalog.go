// Package catalog holds the configured upstream models and the
// administratively mutable settings that apply to them.
package catalog

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/openclaw/botforge-relay/internal/config"
	"github.com/openclaw/botforge-relay/internal/model"
	"github.com/openclaw/botforge-relay/internal/store"
)

var builtinModels = []model.ModelInfo{
	{ID: "gpt-4o-mini", Name: "GPT-4o Mini", Description: "Fast and efficient model from OpenAI", Cost: 1, Limit: 30},
	{ID: "gemini-3-pro", Name: "Gemini 3 Pro", Description: "Flagship reasoning model from Google", Cost: 1, Limit: 30},
	{ID: "gemini-3-pro-preview", Name: "Gemini 3 Pro Preview", Description: "Fast preview build of Gemini 3 Pro", Cost: 1, Limit: 20},
	{ID: "deepseek-v3", Name: "DeepSeek V3", Description: "Text model from DeepSeek", Cost: 1, Limit: 15},
	{ID: "grok-3", Name: "Grok 3", Description: "Advanced model from xAI", Cost: 1, Limit: 15},
	{ID: "sonar-deep-research", Name: "Sonar Deep Research", Description: "Model for deep analysis", Cost: 1, Limit: 10},
}

type modelsFile struct {
	Default string            `yaml:"default"`
	Models  []model.ModelInfo `yaml:"models"`
}

// Catalog answers which models exist, what they cost and how many requests
// one quota window grants. Limits set by an administrator live in the
// settings document and win over the configured defaults.
type Catalog struct {
	models       []model.ModelInfo
	index        map[string]int
	defaultModel string
	settings     store.DocumentStore[model.Settings]
}

func New(models []model.ModelInfo, defaultModel string, settings store.DocumentStore[model.Settings]) (*Catalog, error) {
	if len(models) == 0 {
		return nil, fmt.Errorf("catalog: no models configured")
	}

	c := &Catalog{
		models:   make([]model.ModelInfo, 0, len(models)),
		index:    make(map[string]int, len(models)),
		settings: settings,
	}
	for _, m := range models {
		if m.ID == "" {
			return nil, fmt.Errorf("catalog: model without id")
		}
		if _, dup := c.index[m.ID]; dup {
			return nil, fmt.Errorf("catalog: duplicate model %q", m.ID)
		}
		if m.Name == "" {
			m.Name = m.ID
		}
		if m.Cost <= 0 {
			m.Cost = config.DefaultModelCost
		}
		if m.Limit <= 0 {
			m.Limit = config.DefaultModelLimit
		}
		c.index[m.ID] = len(c.models)
		c.models = append(c.models, m)
	}

	if defaultModel == "" {
		defaultModel = c.models[0].ID
	}
	if _, ok := c.index[defaultModel]; !ok {
		return nil, fmt.Errorf("catalog: default model %q is not configured", defaultModel)
	}
	c.defaultModel = defaultModel
	return c, nil
}

// Load builds a catalog from a YAML file, or from the built-in model list
// when path is empty.
func Load(path, defaultModel string, settings store.DocumentStore[model.Settings]) (*Catalog, error) {
	if path == "" {
		return New(builtinModels, defaultModel, settings)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read models file: %w", err)
	}
	var file modelsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse models file: %w", err)
	}
	if defaultModel == "" {
		defaultModel = file.Default
	}
	return New(file.Models, defaultModel, settings)
}

// Models returns the configured models in catalog order.
func (c *Catalog) Models() []model.ModelInfo {
	out := make([]model.ModelInfo, len(c.models))
	copy(out, c.models)
	return out
}

func (c *Catalog) IDs() []string {
	ids := make([]string, len(c.models))
	for i, m := range c.models {
		ids[i] = m.ID
	}
	return ids
}

func (c *Catalog) Has(modelID string) bool {
	_, ok := c.index[modelID]
	return ok
}

func (c *Catalog) Lookup(modelID string) (model.ModelInfo, bool) {
	i, ok := c.index[modelID]
	if !ok {
		return model.ModelInfo{}, false
	}
	return c.models[i], true
}

func (c *Catalog) Default() string {
	return c.defaultModel
}

// Limits returns the effective per-window limit of every configured model.
func (c *Catalog) Limits(ctx context.Context) (map[string]int, error) {
	settings, err := c.settings.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	limits := make(map[string]int, len(c.models))
	for _, m := range c.models {
		limits[m.ID] = m.Limit
		if override, ok := settings.ModelLimits[m.ID]; ok {
			limits[m.ID] = override
		}
	}
	return limits, nil
}

func (c *Catalog) Limit(ctx context.Context, modelID string) (int, error) {
	limits, err := c.Limits(ctx)
	if err != nil {
		return 0, err
	}
	if limit, ok := limits[modelID]; ok {
		return limit, nil
	}
	return config.DefaultModelLimit, nil
}

// SetLimit changes the limit applied at future window resets.
func (c *Catalog) SetLimit(ctx context.Context, modelID string, limit int) error {
	if !c.Has(modelID) {
		return fmt.Errorf("catalog: unknown model %q", modelID)
	}
	if limit < 0 {
		return fmt.Errorf("catalog: negative limit %d", limit)
	}
	return c.settings.Update(ctx, func(s *model.Settings) (bool, error) {
		if s.ModelLimits == nil {
			s.ModelLimits = make(map[string]int)
		}
		if current, ok := s.ModelLimits[modelID]; ok && current == limit {
			return false, nil
		}
		s.ModelLimits[modelID] = limit
		return true, nil
	})
}

func (c *Catalog) CreationEnabled(ctx context.Context) (bool, error) {
	settings, err := c.settings.Load(ctx)
	if err != nil {
		return false, fmt.Errorf("load settings: %w", err)
	}
	return settings.CreationEnabled(), nil
}

func (c *Catalog) SetCreationEnabled(ctx context.Context, enabled bool) error {
	return c.settings.Update(ctx, func(s *model.Settings) (bool, error) {
		if s.CreationEnabled() == enabled && s.BotCreationEnabled != nil {
			return false, nil
		}
		s.BotCreationEnabled = &enabled
		return true, nil
	})
}

// ToggleCreation flips the bot creation flag and returns the new value.
func (c *Catalog) ToggleCreation(ctx context.Context) (bool, error) {
	var enabled bool
	err := c.settings.Update(ctx, func(s *model.Settings) (bool, error) {
		enabled = !s.CreationEnabled()
		s.BotCreationEnabled = &enabled
		return true, nil
	})
	if err != nil {
		return false, err
	}
	return enabled, nil
}
