package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"memochat/internal/models"
)

// SettingsSource reads the persisted provider selection and credentials.
type SettingsSource interface {
	// ProviderSetting returns nil when the user has not selected a provider.
	ProviderSetting(ctx context.Context, userID int64) (*models.ProviderSetting, error)
	// ProviderCredential returns "" when nothing is stored.
	ProviderCredential(ctx context.Context, userID int64, provider string) (string, error)
}

// State is the externally visible registry status.
type State struct {
	Configured bool   `json:"configured"`
	Provider   string `json:"provider,omitempty"`
	Model      string `json:"model,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// Registry holds the single active provider for one user. The active provider
// changes only through Reload.
type Registry struct {
	userID  int64
	source  SettingsSource
	catalog *Catalog

	mu     sync.RWMutex
	active Provider
	reason string

	loadOnce sync.Once
	loadErr  error
}

func NewRegistry(userID int64, source SettingsSource, catalog *Catalog) *Registry {
	return &Registry{userID: userID, source: source, catalog: catalog, reason: "no provider selected"}
}

// Reload re-reads the selection and credential and rebuilds the provider.
// A storage failure leaves the current state untouched; any configuration
// problem switches the registry to unconfigured and returns a ConfigError.
func (r *Registry) Reload(ctx context.Context) error {
	setting, err := r.source.ProviderSetting(ctx, r.userID)
	if err != nil {
		return fmt.Errorf("load provider setting: %w", err)
	}
	if setting == nil || setting.Provider == "" {
		return r.unconfigure(&ConfigError{Reason: "no provider selected"})
	}
	key, err := r.source.ProviderCredential(ctx, r.userID, setting.Provider)
	if err != nil {
		return fmt.Errorf("load provider credential: %w", err)
	}
	provider, err := r.catalog.Build(ctx, Settings{
		Provider: setting.Provider,
		Model:    setting.Model,
		APIKey:   key,
	})
	if err != nil {
		var cfgErr *ConfigError
		if !errors.As(err, &cfgErr) {
			cfgErr = &ConfigError{Reason: err.Error()}
		}
		return r.unconfigure(cfgErr)
	}

	r.mu.Lock()
	r.active = provider
	r.reason = ""
	r.mu.Unlock()
	slog.Info("provider loaded", "component", "registry", "user_id", r.userID, "provider", provider.ID(), "model", provider.Model())
	return nil
}

func (r *Registry) unconfigure(cfgErr *ConfigError) error {
	r.mu.Lock()
	r.active = nil
	r.reason = cfgErr.Reason
	r.mu.Unlock()
	return cfgErr
}

// Active returns the provider to capture for one send.
func (r *Registry) Active() (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.active == nil {
		return nil, &ConfigError{Reason: r.reason}
	}
	return r.active, nil
}

func (r *Registry) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.active == nil {
		return State{Reason: r.reason}
	}
	return State{Configured: true, Provider: r.active.ID(), Model: r.active.Model()}
}

// Registries is the process-wide set of per-user registries.
type Registries struct {
	source  SettingsSource
	catalog *Catalog

	mu   sync.Mutex
	regs map[int64]*Registry
}

func NewRegistries(source SettingsSource, catalog *Catalog) *Registries {
	return &Registries{source: source, catalog: catalog, regs: make(map[int64]*Registry)}
}

func (rs *Registries) Catalog() *Catalog { return rs.catalog }

// For returns the user's registry, loading it on first use. An unconfigured
// registry is not an error here; storage failures are.
func (rs *Registries) For(ctx context.Context, userID int64) (*Registry, error) {
	rs.mu.Lock()
	reg, ok := rs.regs[userID]
	if !ok {
		reg = NewRegistry(userID, rs.source, rs.catalog)
		rs.regs[userID] = reg
	}
	rs.mu.Unlock()

	reg.loadOnce.Do(func() {
		if err := reg.Reload(ctx); err != nil && !errors.Is(err, ErrNotConfigured) {
			reg.loadErr = err
		}
	})
	if reg.loadErr != nil {
		rs.Forget(userID)
		return nil, reg.loadErr
	}
	return reg, nil
}

// Active captures the user's current provider for one send.
func (rs *Registries) Active(ctx context.Context, userID int64) (Provider, error) {
	reg, err := rs.For(ctx, userID)
	if err != nil {
		return nil, err
	}
	return reg.Active()
}

// Reload rebuilds the user's provider and reports the resulting state.
func (rs *Registries) Reload(ctx context.Context, userID int64) (State, error) {
	reg, err := rs.For(ctx, userID)
	if err != nil {
		return State{}, err
	}
	err = reg.Reload(ctx)
	return reg.State(), err
}

// Forget drops the user's registry; the next For reloads from storage.
func (rs *Registries) Forget(userID int64) {
	rs.mu.Lock()
	delete(rs.regs, userID)
	rs.mu.Unlock()
}
