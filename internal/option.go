package internal

import "github.com/avorein/quire/internal/kernel"

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config    *Config
	mcpMode   bool
	transport kernel.Transport
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithMCP switches the process into MCP stdio mode instead of serving HTTP.
func WithMCP(on bool) Option {
	return func(a *application) {
		a.mcpMode = on
	}
}

// WithTransport overrides the kernel transport, used by tests.
func WithTransport(t kernel.Transport) Option {
	return func(a *application) {
		a.transport = t
	}
}
