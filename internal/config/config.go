// Package config loads and validates the bridge configuration file.
//
// The file maps server names to launch specs in the conventional mcpServers
// shape:
//
//	{
//	  "mcpServers": {
//	    "filesystem": {
//	      "command": "npx",
//	      "args": ["-y", "@modelcontextprotocol/server-filesystem", "/data"],
//	      "env": {"LOG_LEVEL": "info"},
//	      "cwd": "/data"
//	    }
//	  }
//	}
//
// Files ending in .yaml or .yml are parsed as YAML with the same structure;
// everything else is parsed as JSON. Validation happens here so malformed
// configuration never reaches the process layer.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mludvig/mcp-http-bridge/internal/process"
)

// Server describes how to launch one stdio MCP server.
type Server struct {
	Command string            `json:"command" yaml:"command"`
	Args    []string          `json:"args" yaml:"args"`
	Env     map[string]string `json:"env" yaml:"env"`
	Cwd     string            `json:"cwd" yaml:"cwd"`
}

// Config is the parsed configuration file.
type Config struct {
	MCPServers map[string]Server `json:"mcpServers" yaml:"mcpServers"`
}

// Load reads, parses, and validates the configuration at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}

	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the configuration shape before it reaches the core.
func (c *Config) Validate() error {
	if len(c.MCPServers) == 0 {
		return fmt.Errorf("config declares no servers under mcpServers")
	}

	for name, server := range c.MCPServers {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("config contains a server with an empty name")
		}

		if strings.TrimSpace(server.Command) == "" {
			return fmt.Errorf("server %q: command must not be empty", name)
		}
	}

	return nil
}

// Specs converts the configuration into process specs keyed by server name.
func (c *Config) Specs() map[string]process.Spec {
	specs := make(map[string]process.Spec, len(c.MCPServers))

	for name, server := range c.MCPServers {
		specs[name] = process.Spec{
			Name:    name,
			Command: server.Command,
			Args:    server.Args,
			Env:     server.Env,
			Cwd:     server.Cwd,
		}
	}

	return specs
}
