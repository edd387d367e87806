package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/corvid-labs/rook/internal/backoff"
	"github.com/corvid-labs/rook/internal/config"
	"github.com/corvid-labs/rook/internal/observability"
	"github.com/corvid-labs/rook/internal/tools"
)

// State is a provider's lifecycle state.
type State string

const (
	StateConnecting   State = "connecting"
	StateReady        State = "ready"
	StateReconnecting State = "reconnecting"
	StateDisabled     State = "disabled"
)

// Manager owns all provider connections and keeps the tool registry in sync
// with their catalogs. Connect/disable transitions are serialized per
// provider; the registry sees updates only from here.
type Manager struct {
	registry *tools.Registry
	policy   backoff.Policy
	logger   *slog.Logger

	mu        sync.Mutex
	clients   map[string]*Client
	states    map[string]State
	configs   map[string]*config.MCPServerConfig
	reconnect map[string]bool
}

// NewManager creates a Manager bridging providers into registry.
func NewManager(registry *tools.Registry, policy backoff.Policy, logger *slog.Logger) *Manager {
	return &Manager{
		registry:  registry,
		policy:    policy,
		logger:    logger,
		clients:   make(map[string]*Client),
		states:    make(map[string]State),
		configs:   make(map[string]*config.MCPServerConfig),
		reconnect: make(map[string]bool),
	}
}

// ConnectAll connects every configured provider concurrently. A provider
// that fails to connect is logged and left out; it never blocks the others
// or overall startup.
func (m *Manager) ConnectAll(ctx context.Context, configs []config.MCPServerConfig) {
	var wg sync.WaitGroup
	for i := range configs {
		cfg := &configs[i]
		m.mu.Lock()
		m.configs[cfg.Name] = cfg
		m.states[cfg.Name] = StateConnecting
		m.mu.Unlock()

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.connectOne(ctx, cfg); err != nil {
				m.logger.Warn("provider connection failed, skipping",
					"provider", cfg.Name, "error", err)
				m.setState(cfg.Name, StateDisabled)
			}
		}()
	}
	wg.Wait()
}

func (m *Manager) connectOne(ctx context.Context, cfg *config.MCPServerConfig) error {
	client := NewClient(cfg, m.logger)
	if err := client.Connect(ctx); err != nil {
		return err
	}
	if err := m.registerTools(cfg.Name, client); err != nil {
		client.Close()
		return err
	}
	m.mu.Lock()
	m.clients[cfg.Name] = client
	m.states[cfg.Name] = StateReady
	m.mu.Unlock()
	return nil
}

// registerTools installs the provider catalog under its namespace. A
// residual name collision after namespacing, whether within the catalog or
// against an already-registered tool, is a configuration error for this
// provider; nothing is ever silently shadowed.
func (m *Manager) registerTools(provider string, client *Client) error {
	catalog := client.Tools()
	origNames := make([]string, 0, len(catalog))
	for _, t := range catalog {
		origNames = append(origNames, t.Name)
	}
	names, err := tools.ResolveNames(provider, origNames)
	if err != nil {
		return fmt.Errorf("provider %s: %w", provider, err)
	}
	for i, name := range names {
		if m.registry.Has(name) {
			return fmt.Errorf("provider %s: tool %q collides with already-registered tool %q",
				provider, origNames[i], name)
		}
	}
	for i, t := range catalog {
		m.registry.Register(&providerTool{
			manager:     m,
			provider:    provider,
			safeName:    names[i],
			origName:    t.Name,
			description: t.Description,
			schema:      t.InputSchema,
		})
	}
	m.logger.Info("provider tools registered", "provider", provider, "count", len(catalog))
	return nil
}

// States returns a snapshot of provider states.
func (m *Manager) States() map[string]State {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]State, len(m.states))
	for k, v := range m.states {
		out[k] = v
	}
	return out
}

// client returns the live client for a provider, or nil when disabled.
func (m *Manager) client(provider string) *Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clients[provider]
}

// CheckHealth pings each ready provider; a failed ping takes the same path
// as a failed call.
func (m *Manager) CheckHealth(ctx context.Context) {
	m.mu.Lock()
	ready := make(map[string]*Client)
	for name, c := range m.clients {
		if m.states[name] == StateReady {
			ready[name] = c
		}
	}
	m.mu.Unlock()

	for name, c := range ready {
		if err := c.Ping(ctx); err != nil {
			m.reportFailure(name, err)
		}
	}
}

// reportFailure handles a call or liveness failure: exactly one reconnect
// attempt with backoff, then disable. Concurrent reports for the same
// provider collapse into one attempt.
func (m *Manager) reportFailure(provider string, cause error) {
	m.mu.Lock()
	if m.reconnect[provider] || m.states[provider] != StateReady {
		m.mu.Unlock()
		return
	}
	m.reconnect[provider] = true
	m.states[provider] = StateReconnecting
	cfg := m.configs[provider]
	old := m.clients[provider]
	m.mu.Unlock()

	m.logger.Warn("provider failure, attempting reconnect", "provider", provider, "error", cause)

	go func() {
		defer func() {
			m.mu.Lock()
			m.reconnect[provider] = false
			m.mu.Unlock()
		}()

		if old != nil {
			old.Close()
		}
		m.mu.Lock()
		delete(m.clients, provider)
		m.mu.Unlock()
		// Drop the stale catalog now so a successful reconnect re-registers
		// from scratch instead of colliding with its own old names.
		dropped := m.registry.UnregisterNamespace(tools.Namespace(provider))

		time.Sleep(m.policy.Delay(1))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := m.connectOne(ctx, cfg); err != nil {
			m.setState(provider, StateDisabled)
			observability.ProviderDisables.Inc()
			m.logger.Error("provider reconnect failed, disabling",
				"provider", provider, "error", err, "tools_unregistered", dropped)
			return
		}
		m.logger.Info("provider reconnected", "provider", provider)
	}()
}

func (m *Manager) setState(provider string, s State) {
	m.mu.Lock()
	m.states[provider] = s
	m.mu.Unlock()
}

// Close shuts down all live provider connections.
func (m *Manager) Close() {
	m.mu.Lock()
	clients := make([]*Client, 0, len(m.clients))
	for _, c := range m.clients {
		clients = append(clients, c)
	}
	m.clients = make(map[string]*Client)
	m.mu.Unlock()
	for _, c := range clients {
		c.Close()
	}
}
