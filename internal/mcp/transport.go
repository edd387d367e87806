package mcp

import (
	"context"
	"encoding/json"

	"github.com/corvid-labs/rook/internal/config"
)

// Transport carries JSON-RPC calls to one provider endpoint.
type Transport interface {
	Connect(ctx context.Context) error
	Close() error
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)
	Notify(ctx context.Context, method string, params any) error
	Connected() bool
}

// NewTransport picks the transport for a provider config.
func NewTransport(cfg *config.MCPServerConfig) Transport {
	if cfg.Transport == config.MCPTransportHTTP {
		return NewHTTPTransport(cfg)
	}
	return NewStdioTransport(cfg)
}
