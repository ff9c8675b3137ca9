package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoad_JSON(t *testing.T) {
	path := writeConfig(t, "servers.json", `{
		"mcpServers": {
			"filesystem": {
				"command": "npx",
				"args": ["-y", "@modelcontextprotocol/server-filesystem", "/data"],
				"env": {"LOG_LEVEL": "debug"},
				"cwd": "/data"
			},
			"echo": {
				"command": "cat"
			}
		}
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.MCPServers, 2)

	fs := cfg.MCPServers["filesystem"]
	require.Equal(t, "npx", fs.Command)
	require.Equal(t, []string{"-y", "@modelcontextprotocol/server-filesystem", "/data"}, fs.Args)
	require.Equal(t, map[string]string{"LOG_LEVEL": "debug"}, fs.Env)
	require.Equal(t, "/data", fs.Cwd)

	echo := cfg.MCPServers["echo"]
	require.Equal(t, "cat", echo.Command)
	require.Empty(t, echo.Args)
	require.Empty(t, echo.Env)
	require.Empty(t, echo.Cwd)
}

func TestLoad_YAML(t *testing.T) {
	path := writeConfig(t, "servers.yaml", `
mcpServers:
  search:
    command: uvx
    args:
      - mcp-server-search
    env:
      API_KEY: secret
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	search := cfg.MCPServers["search"]
	require.Equal(t, "uvx", search.Command)
	require.Equal(t, []string{"mcp-server-search"}, search.Args)
	require.Equal(t, map[string]string{"API_KEY": "secret"}, search.Env)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "read config")
}

func TestLoad_InvalidJSON(t *testing.T) {
	path := writeConfig(t, "bad.json", `{"mcpServers": truncated`)

	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "parse config")
}

func TestLoad_NoServers(t *testing.T) {
	path := writeConfig(t, "empty.json", `{"mcpServers": {}}`)

	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "no servers")
}

func TestLoad_EmptyCommand(t *testing.T) {
	path := writeConfig(t, "nocmd.json", `{"mcpServers": {"broken": {"args": ["x"]}}}`)

	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), `server "broken"`)
	require.Contains(t, err.Error(), "command must not be empty")
}

func TestSpecs(t *testing.T) {
	cfg := &Config{
		MCPServers: map[string]Server{
			"echo": {Command: "cat", Args: []string{"-"}, Cwd: "/tmp"},
		},
	}

	specs := cfg.Specs()
	require.Len(t, specs, 1)

	spec := specs["echo"]
	require.Equal(t, "echo", spec.Name)
	require.Equal(t, "cat", spec.Command)
	require.Equal(t, []string{"-"}, spec.Args)
	require.Equal(t, "/tmp", spec.Cwd)
}
