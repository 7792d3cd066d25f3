package gemini

import (
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// ModelConfig describes one exposed model.
type ModelConfig struct {
	Name             string `yaml:"name"`
	Description      string `yaml:"description"`
	MaxTokensDefault int32  `yaml:"max_tokens_default"`
	// RequestsPerMinute overrides the global per-user limit for this model.
	RequestsPerMinute int `yaml:"requests_per_minute"`
}

// RegistryConfig is the on-disk registry layout.
type RegistryConfig struct {
	Models       map[string]ModelConfig `yaml:"models"`
	DefaultModel string                 `yaml:"default_model"`
}

// ModelInfo is a listed model.
type ModelInfo struct {
	ID      string
	Name    string
	Created int64
}

// Registry lists the models the gateway exposes.
type Registry struct {
	config  *RegistryConfig
	mu      sync.RWMutex
	created time.Time
}

var (
	globalRegistry     *Registry
	globalRegistryOnce sync.Once
	globalRegistryErr  error
)

var registryCandidates = []string{
	"config/gemini_models.yaml",
	"/app/config/gemini_models.yaml",
}

// GetRegistry returns the process-wide registry, loaded on first use from the
// first candidate file that exists, or the built-in defaults.
func GetRegistry() (*Registry, error) {
	globalRegistryOnce.Do(func() {
		globalRegistry, globalRegistryErr = loadRegistry(registryCandidates)
	})
	return globalRegistry, globalRegistryErr
}

func loadRegistry(candidates []string) (*Registry, error) {
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return LoadRegistryFile(path)
		}
	}
	return NewDefaultRegistry(), nil
}

// LoadRegistryFile reads a registry from a YAML file.
func LoadRegistryFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var config RegistryConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if len(config.Models) == 0 {
		return nil, fmt.Errorf("%s: no models defined", path)
	}
	for id := range config.Models {
		if err := ValidateModel(id); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	if config.DefaultModel == "" {
		config.DefaultModel = firstID(config.Models)
	}
	return &Registry{config: &config, created: time.Now()}, nil
}

// NewDefaultRegistry returns the built-in model list.
func NewDefaultRegistry() *Registry {
	return &Registry{
		config: &RegistryConfig{
			DefaultModel: "gemini-2.0-flash",
			Models: map[string]ModelConfig{
				"gemini-2.0-flash":             {Name: "Gemini 2 Flash", MaxTokensDefault: DefaultMaxTokens},
				"gemini-2.5-pro-preview-03-25": {Name: "Gemini 2.5 Pro", MaxTokensDefault: DefaultMaxTokens},
			},
		},
		created: time.Now(),
	}
}

// GetModel returns the configuration for a model. An empty name selects the
// default model.
func (r *Registry) GetModel(id string) (*ModelConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if id == "" {
		id = r.config.DefaultModel
	}
	m, ok := r.config.Models[id]
	if !ok {
		return nil, fmt.Errorf("model not found: %s", id)
	}
	return &m, nil
}

// DefaultModel returns the default model id.
func (r *Registry) DefaultModel() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.config.DefaultModel
}

// ListModels returns all models sorted by id.
func (r *Registry) ListModels() []ModelInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ModelInfo, 0, len(r.config.Models))
	for id, m := range r.config.Models {
		out = append(out, ModelInfo{ID: id, Name: m.Name, Created: r.created.Unix()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RequestsPerMinute returns the per-model override, or fallback when unset.
func (r *Registry) RequestsPerMinute(id string, fallback int) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if m, ok := r.config.Models[id]; ok && m.RequestsPerMinute > 0 {
		return m.RequestsPerMinute
	}
	return fallback
}

func firstID(m map[string]ModelConfig) string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids[0]
}
