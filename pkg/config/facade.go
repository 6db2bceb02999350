package config

// FacadeConfig controls the bind addresses of the tool facade's two
// transports (spec §4.8 / §6 "tool facade surface").
type FacadeConfig struct {
	// HTTPAddr is the admin/debug HTTP surface bind address
	// (/healthz, /metrics, REST mirror for kahlohostctl).
	HTTPAddr string `yaml:"http_addr"`

	// MCPStdio serves the MCP tool surface over stdio, the default for a
	// single agent process talking to one daemon instance.
	MCPStdio bool `yaml:"mcp_stdio"`

	// MCPAddr, when set, additionally serves MCP over streamable HTTP at
	// this address instead of (or alongside) stdio.
	MCPAddr string `yaml:"mcp_addr,omitempty"`
}

// DefaultFacadeConfig returns the built-in facade defaults.
func DefaultFacadeConfig() FacadeConfig {
	return FacadeConfig{
		HTTPAddr: "127.0.0.1:8787",
		MCPStdio: true,
	}
}
