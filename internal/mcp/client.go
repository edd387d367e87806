package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/corvid-labs/rook/internal/config"
)

// Client manages one provider connection: handshake, tool catalog, calls.
type Client struct {
	config    *config.MCPServerConfig
	transport Transport
	logger    *slog.Logger

	mu         sync.RWMutex
	tools      []*ProviderTool
	serverInfo ServerInfo
}

// NewClient creates a client for one configured provider.
func NewClient(cfg *config.MCPServerConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		config:    cfg,
		transport: NewTransport(cfg),
		logger:    logger.With("provider", cfg.Name),
	}
}

// Connect establishes the transport, performs the initialize handshake, and
// loads the tool catalog.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.transport.Connect(ctx); err != nil {
		return fmt.Errorf("transport connect: %w", err)
	}

	result, err := c.transport.Call(ctx, "initialize", map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo": map[string]any{
			"name":    "rook",
			"version": "1.0.0",
		},
	})
	if err != nil {
		c.transport.Close()
		return fmt.Errorf("initialize: %w", err)
	}
	var init initializeResult
	if err := json.Unmarshal(result, &init); err != nil {
		c.transport.Close()
		return fmt.Errorf("parse initialize result: %w", err)
	}
	c.mu.Lock()
	c.serverInfo = init.ServerInfo
	c.mu.Unlock()

	if err := c.transport.Notify(ctx, "notifications/initialized", nil); err != nil {
		c.logger.Warn("initialized notification failed", "error", err)
	}

	if err := c.refreshTools(ctx); err != nil {
		c.transport.Close()
		return fmt.Errorf("list tools: %w", err)
	}

	c.logger.Info("provider connected",
		"server", init.ServerInfo.Name, "version", init.ServerInfo.Version,
		"tools", len(c.Tools()))
	return nil
}

// Close shuts the connection down.
func (c *Client) Close() error {
	return c.transport.Close()
}

// Connected reports whether the transport is live.
func (c *Client) Connected() bool {
	return c.transport.Connected()
}

// Name returns the provider's configured logical name.
func (c *Client) Name() string {
	return c.config.Name
}

// Tools returns the cached tool catalog.
func (c *Client) Tools() []*ProviderTool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tools
}

func (c *Client) refreshTools(ctx context.Context) error {
	result, err := c.transport.Call(ctx, "tools/list", nil)
	if err != nil {
		return err
	}
	var resp listToolsResult
	if err := json.Unmarshal(result, &resp); err != nil {
		return fmt.Errorf("parse tools/list result: %w", err)
	}
	c.mu.Lock()
	c.tools = resp.Tools
	c.mu.Unlock()
	return nil
}

// Ping checks provider liveness with a protocol ping.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.transport.Call(ctx, "ping", nil)
	return err
}

// CallTool invokes a provider tool by its original (un-namespaced) name and
// returns the concatenated text content plus the provider's error flag.
func (c *Client) CallTool(ctx context.Context, name string, args json.RawMessage) (string, bool, error) {
	result, err := c.transport.Call(ctx, "tools/call", callToolParams{Name: name, Arguments: args})
	if err != nil {
		return "", false, err
	}
	var call callToolResult
	if err := json.Unmarshal(result, &call); err != nil {
		return "", false, fmt.Errorf("parse tools/call result: %w", err)
	}
	var parts []string
	for _, item := range call.Content {
		if item.Type == "text" && item.Text != "" {
			parts = append(parts, item.Text)
		}
	}
	return strings.Join(parts, "\n"), call.IsError, nil
}
