// Package service composes the runtime: storage, memory, tools, external
// tool providers, the delegated CLI supervisor, and the conversation engine,
// behind a small surface transports talk to.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/corvid-labs/rook/internal/backoff"
	"github.com/corvid-labs/rook/internal/cli"
	"github.com/corvid-labs/rook/internal/config"
	"github.com/corvid-labs/rook/internal/engine"
	"github.com/corvid-labs/rook/internal/history"
	"github.com/corvid-labs/rook/internal/mcp"
	"github.com/corvid-labs/rook/internal/memory"
	"github.com/corvid-labs/rook/internal/observability"
	"github.com/corvid-labs/rook/internal/provider"
	"github.com/corvid-labs/rook/internal/store"
	"github.com/corvid-labs/rook/internal/tools"
	"github.com/corvid-labs/rook/pkg/models"
)

// Settings keys persisted across restarts.
const (
	settingProvider = "provider"
	settingModel    = "model"
	settingSession  = "session"
)

const healthCheckInterval = 60 * time.Second

// Runtime owns every long-lived component and the active backend selection.
type Runtime struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *store.Store
	memories *memory.Store
	registry *tools.Registry
	executor *tools.Executor
	builder  *history.Builder
	gate     *engine.Gate
	mcp      *mcp.Manager
	titler   *engine.Titler

	mu           sync.RWMutex
	engine       *engine.Engine
	providerName string
	model        string

	metricsSrv *http.Server
	janitor    *Janitor
}

// NewRuntime wires a Runtime from configuration. External tool providers are
// connected before this returns; a provider that fails to connect is logged
// and skipped, never fatal.
func NewRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Runtime, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	if err := os.MkdirAll(cfg.ArtifactDir(), 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}

	slimmer := history.NewSlimmer(cfg.General.SlimThreshold)
	st, err := store.Open(cfg.DatabasePath(), slimmer.Slim)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	memories, err := memory.New(st.DB(), logger)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("init memory: %w", err)
	}

	registry := tools.NewRegistry(logger)
	tools.RegisterMemoryTools(registry, memories)

	if adapters := cliAdapters(&cfg.CLI); len(adapters) > 0 {
		sup := cli.NewSupervisor(adapters, cfg.ArtifactDir(), cfg.CLI.Timeout,
			cfg.General.OutputTruncateChars, logger)
		registry.Register(cli.NewDelegateTool(sup, cfg.CLI.Workspace))
	}

	mgr := mcp.NewManager(registry, backoff.Default(), logger)
	mgr.ConnectAll(ctx, mcpConfigs(cfg.MCP))

	loc, err := time.LoadLocation(cfg.General.Timezone)
	if err != nil {
		logger.Warn("unknown timezone, using UTC", "timezone", cfg.General.Timezone)
		loc = time.UTC
	}
	builder := history.NewBuilder(cfg.Persona, cfg.General.ContextRounds,
		cfg.General.MemoryRecallK, memories, loc, logger)

	r := &Runtime{
		cfg:      cfg,
		logger:   logger,
		store:    st,
		memories: memories,
		registry: registry,
		executor: tools.NewExecutor(registry, tools.DefaultExecConfig()),
		builder:  builder,
		gate:     engine.NewGate(),
		mcp:      mgr,
		janitor:  NewJanitor(cfg.ArtifactDir(), cfg.General.ArtifactMaxAgeDays, logger),
	}

	name, model := r.restoreSelection(ctx)
	if err := r.selectBackend(ctx, name, model); err != nil {
		r.Shutdown()
		return nil, err
	}
	r.initTitler()
	return r, nil
}

// HandleMessage runs one user turn against the session's engine. Busy and
// cancelled outcomes come back as such; the transport decides what to show.
func (r *Runtime) HandleMessage(ctx context.Context, sessionID int64, blocks []models.ContentBlock) (*engine.Outcome, error) {
	eng := r.currentEngine()
	out, err := eng.Execute(ctx, sessionID, blocks)
	if err != nil {
		return nil, err
	}
	if out.Kind == engine.OutcomeCompleted {
		r.maybeTitle(sessionID, blocks, out.Text)
	}
	return out, nil
}

// Cancel interrupts the session's in-flight execution.
func (r *Runtime) Cancel(sessionID int64) bool {
	return r.currentEngine().Cancel(sessionID)
}

// Session returns the active session for a transport key, creating one on
// first use.
func (r *Runtime) Session(ctx context.Context, key string) (int64, error) {
	raw, err := r.store.GetSetting(ctx, settingSession+":"+key)
	if err != nil {
		return 0, err
	}
	if raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err == nil {
			if sess, err := r.store.GetSession(ctx, id); err == nil && sess != nil && !sess.Archived {
				return id, nil
			}
		}
	}
	return r.NewSession(ctx, key)
}

// NewSession archives the transport's current session and starts a fresh one.
func (r *Runtime) NewSession(ctx context.Context, key string) (int64, error) {
	settingKey := settingSession + ":" + key
	if raw, err := r.store.GetSetting(ctx, settingKey); err == nil && raw != "" {
		if old, err := strconv.ParseInt(raw, 10, 64); err == nil {
			if err := r.store.ArchiveSession(ctx, old); err != nil {
				r.logger.Warn("failed to archive previous session", "session", old, "error", err)
			}
		}
	}
	id, err := r.store.CreateSession(ctx)
	if err != nil {
		return 0, fmt.Errorf("create session: %w", err)
	}
	if err := r.store.SetSetting(ctx, settingKey, strconv.FormatInt(id, 10)); err != nil {
		return 0, fmt.Errorf("bind session: %w", err)
	}
	return id, nil
}

// UseProvider switches the active backend and persists the choice. The model
// resets to the provider's default.
func (r *Runtime) UseProvider(ctx context.Context, name string) error {
	if _, ok := r.cfg.Providers[name]; !ok {
		return fmt.Errorf("provider %q is not configured", name)
	}
	if err := r.selectBackend(ctx, name, ""); err != nil {
		return err
	}
	if err := r.store.SetSetting(ctx, settingProvider, name); err != nil {
		return err
	}
	return r.store.SetSetting(ctx, settingModel, "")
}

// UseModel switches the active model within the current provider and persists
// the choice.
func (r *Runtime) UseModel(ctx context.Context, model string) error {
	r.mu.RLock()
	name := r.providerName
	r.mu.RUnlock()
	if err := r.selectBackend(ctx, name, model); err != nil {
		return err
	}
	return r.store.SetSetting(ctx, settingModel, model)
}

// Selection reports the active provider and model.
func (r *Runtime) Selection() (providerName, model string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.providerName, r.model
}

// Store exposes session persistence to transports.
func (r *Runtime) Store() *store.Store {
	return r.store
}

// Memories exposes the long-term memory store.
func (r *Runtime) Memories() *memory.Store {
	return r.memories
}

// Run starts the background pieces and blocks until ctx is cancelled: the
// artifact janitor, the provider health loop, and the metrics endpoint when
// configured.
func (r *Runtime) Run(ctx context.Context) error {
	r.janitor.Start()
	defer r.janitor.Stop()

	if addr := r.cfg.General.MetricsAddr; addr != "" {
		r.startMetrics(addr)
	}

	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.mcp.CheckHealth(ctx)
		}
	}
}

// Shutdown releases every component. Safe to call after a partial NewRuntime
// failure.
func (r *Runtime) Shutdown() {
	if r.metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		r.metricsSrv.Shutdown(shutdownCtx)
		cancel()
	}
	if r.mcp != nil {
		r.mcp.Close()
	}
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.logger.Warn("store close failed", "error", err)
		}
	}
}

func (r *Runtime) currentEngine() *engine.Engine {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.engine
}

// restoreSelection reads the persisted provider/model, falling back to the
// configured default when the persisted provider no longer exists.
func (r *Runtime) restoreSelection(ctx context.Context) (string, string) {
	name, _ := r.store.GetSetting(ctx, settingProvider)
	if _, ok := r.cfg.Providers[name]; !ok {
		return r.cfg.General.DefaultProvider, ""
	}
	model, _ := r.store.GetSetting(ctx, settingModel)
	return name, model
}

// selectBackend builds the engine for the named provider. The gate is shared
// across rebuilds so per-session serialization survives a provider switch.
func (r *Runtime) selectBackend(ctx context.Context, name, model string) error {
	pcfg, ok := r.cfg.Providers[name]
	if !ok {
		return fmt.Errorf("provider %q is not configured", name)
	}
	backend, err := provider.New(pcfg)
	if err != nil {
		return fmt.Errorf("init provider %q: %w", name, err)
	}
	if model == "" {
		model = pcfg.DefaultModel
	}

	eng := engine.New(backend, r.registry, r.executor, r.builder, r.store, r.gate,
		engine.Config{
			MaxRounds: r.cfg.General.MaxToolRounds,
			MaxTokens: pcfg.MaxTokens,
			Model:     model,
		}, r.logger)

	r.mu.Lock()
	r.engine = eng
	r.providerName = name
	r.model = model
	r.mu.Unlock()
	r.logger.Info("backend selected", "provider", name, "model", model)
	return nil
}

// initTitler wires title generation when enabled, reusing the conversation
// backend unless a dedicated one is configured.
func (r *Runtime) initTitler() {
	tc := r.cfg.Titles
	if tc == nil || !tc.Enabled {
		return
	}
	pcfg := r.cfg.Providers[r.cfg.General.DefaultProvider]
	if tc.Type != "" {
		pcfg = &config.ProviderConfig{
			Type:         tc.Type,
			APIKey:       tc.APIKey,
			APIBase:      tc.APIBase,
			DefaultModel: tc.Model,
			MaxTokens:    tc.MaxTokens,
		}
	}
	backend, err := provider.New(pcfg)
	if err != nil {
		r.logger.Warn("title backend init failed, titles disabled", "error", err)
		return
	}
	r.titler = engine.NewTitler(backend, r.store, r.logger)
}

// maybeTitle kicks off background title generation for a still-untitled
// session after a completed exchange.
func (r *Runtime) maybeTitle(sessionID int64, blocks []models.ContentBlock, reply string) {
	if r.titler == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	go func() {
		defer cancel()
		sess, err := r.store.GetSession(ctx, sessionID)
		if err != nil || sess == nil || sess.Title != "" {
			return
		}
		userText := (&models.Turn{Blocks: blocks}).Text()
		r.titler.Generate(ctx, sessionID, userText, reply)
	}()
}

func (r *Runtime) startMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler())
	r.metricsSrv = &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := r.metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("metrics server failed", "error", err)
		}
	}()
	r.logger.Info("metrics endpoint listening", "addr", addr)
}

func cliAdapters(cfg *config.CLIConfig) map[cli.AdapterName]*cli.Adapter {
	adapters := make(map[cli.AdapterName]*cli.Adapter)
	if cfg.Primary != nil {
		adapters[cli.AdapterPrimary] = cli.PrimaryAdapter(cfg.Primary)
	}
	if cfg.Secondary != nil {
		adapters[cli.AdapterSecondary] = cli.SecondaryAdapter(cfg.Secondary)
	}
	return adapters
}

func mcpConfigs(in []*config.MCPServerConfig) []config.MCPServerConfig {
	out := make([]config.MCPServerConfig, 0, len(in))
	for _, c := range in {
		if c != nil {
			out = append(out, *c)
		}
	}
	return out
}
