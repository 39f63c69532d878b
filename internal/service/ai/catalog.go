package ai

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"memochat/internal/config"
)

// Settings is everything needed to build one provider instance.
type Settings struct {
	Provider   string
	Model      string
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// BuildFunc constructs a provider from resolved settings.
type BuildFunc func(ctx context.Context, s Settings) (Provider, error)

// Kind describes one known provider type.
type Kind struct {
	ID             string    `json:"id"`
	DefaultBaseURL string    `json:"default_base_url"`
	DefaultModel   string    `json:"default_model"`
	NeedsKey       bool      `json:"needs_key"`
	Build          BuildFunc `json:"-"`
}

// Catalog maps provider ids to kinds, with per-provider overrides from config.
type Catalog struct {
	mu        sync.RWMutex
	kinds     map[string]Kind
	overrides map[string]config.ProviderConfig
	client    *http.Client
}

func httpKind(id, baseURL, model string, needsKey bool, c codec) Kind {
	return Kind{
		ID:             id,
		DefaultBaseURL: baseURL,
		DefaultModel:   model,
		NeedsKey:       needsKey,
		Build: func(_ context.Context, s Settings) (Provider, error) {
			return newHTTPProvider(id, s, c), nil
		},
	}
}

// NewCatalog returns the built-in provider kinds. cfg may be nil.
func NewCatalog(cfg *config.Config) *Catalog {
	c := &Catalog{kinds: make(map[string]Kind)}
	if cfg != nil {
		c.overrides = cfg.Providers
	}
	for _, k := range []Kind{
		httpKind("openai", "https://api.openai.com/v1", "gpt-4o-mini", true, openAICodec{}),
		httpKind("groq", "https://api.groq.com/openai/v1", "llama-3.1-8b-instant", true, openAICodec{}),
		httpKind("openrouter", "https://openrouter.ai/api/v1", "openai/gpt-4o-mini", true, openAICodec{
			extra: map[string]string{"HTTP-Referer": "https://github.com/memochat", "X-Title": "memochat"},
		}),
		httpKind("mistral", "https://api.mistral.ai/v1", "mistral-small-latest", true, openAICodec{}),
		httpKind("deepseek", "https://api.deepseek.com/v1", "deepseek-chat", true, openAICodec{}),
		httpKind("together", "https://api.together.xyz/v1", "meta-llama/Llama-3.3-70B-Instruct-Turbo", true, openAICodec{}),
		httpKind("gemini", "https://generativelanguage.googleapis.com/v1beta", "gemini-2.0-flash", true, geminiCodec{}),
		httpKind("anthropic", "https://api.anthropic.com/v1", "claude-3-5-haiku-latest", true, anthropicCodec{}),
		httpKind("ollama", "http://127.0.0.1:11434", "llama3.2", false, ollamaCodec{}),
		{ID: "eino-openai", DefaultBaseURL: "https://api.openai.com/v1", DefaultModel: "gpt-4o-mini", NeedsKey: true, Build: newEinoOpenAI},
		{ID: "eino-claude", DefaultModel: "claude-3-5-haiku-latest", NeedsKey: true, Build: newEinoClaude},
		{ID: "eino-gemini", DefaultModel: "gemini-2.0-flash", NeedsKey: true, Build: newEinoGemini},
	} {
		c.kinds[k.ID] = k
	}
	return c
}

// Register adds or replaces a kind.
func (c *Catalog) Register(k Kind) {
	c.mu.Lock()
	c.kinds[k.ID] = k
	c.mu.Unlock()
}

// SetHTTPClient sets the client used by HTTP-backed providers built afterwards.
func (c *Catalog) SetHTTPClient(client *http.Client) {
	c.mu.Lock()
	c.client = client
	c.mu.Unlock()
}

// Lookup returns a kind with config overrides applied to its defaults.
func (c *Catalog) Lookup(id string) (Kind, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	k, ok := c.kinds[strings.ToLower(strings.TrimSpace(id))]
	if !ok {
		return Kind{}, false
	}
	if o, ok := c.overrides[k.ID]; ok {
		if o.BaseURL != "" {
			k.DefaultBaseURL = o.BaseURL
		}
		if o.Model != "" {
			k.DefaultModel = o.Model
		}
	}
	return k, true
}

// Kinds lists every kind sorted by id.
func (c *Catalog) Kinds() []Kind {
	c.mu.RLock()
	ids := make([]string, 0, len(c.kinds))
	for id := range c.kinds {
		ids = append(ids, id)
	}
	c.mu.RUnlock()
	sort.Strings(ids)
	out := make([]Kind, 0, len(ids))
	for _, id := range ids {
		if k, ok := c.Lookup(id); ok {
			out = append(out, k)
		}
	}
	return out
}

// Build resolves defaults and the fallback credential, then constructs the provider.
// Unknown providers and missing required credentials yield a ConfigError.
func (c *Catalog) Build(ctx context.Context, s Settings) (Provider, error) {
	k, ok := c.Lookup(s.Provider)
	if !ok {
		return nil, &ConfigError{Reason: fmt.Sprintf("unknown provider %q", s.Provider)}
	}
	s.Provider = k.ID
	if s.Model == "" {
		s.Model = k.DefaultModel
	}
	if s.BaseURL == "" {
		s.BaseURL = k.DefaultBaseURL
	}
	c.mu.RLock()
	if s.APIKey == "" {
		s.APIKey = c.overrides[k.ID].APIKey
	}
	if s.HTTPClient == nil {
		s.HTTPClient = c.client
	}
	c.mu.RUnlock()
	if k.NeedsKey && s.APIKey == "" {
		return nil, &ConfigError{Reason: fmt.Sprintf("no API key stored for %s", k.ID)}
	}
	p, err := k.Build(ctx, s)
	if err != nil {
		return nil, fmt.Errorf("build provider %s: %w", k.ID, err)
	}
	return p, nil
}
