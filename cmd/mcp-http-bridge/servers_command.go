package main

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/mludvig/mcp-http-bridge/internal/config"
)

func newServersCommand(configFlag *string) *cobra.Command {
	return &cobra.Command{
		Use:   "servers",
		Short: "List the configured MCP servers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configFlag)
			if err != nil {
				return err
			}

			rows := serverRows(cfg)

			if stdoutIsTerminal() {
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"NAME", "COMMAND", "ARGS", "CWD", "ENV"},
					rows,
				))
				return nil
			}

			for _, row := range rows {
				fmt.Fprintln(cmd.OutOrStdout(), strings.Join(row, "\t"))
			}
			return nil
		},
	}
}

// serverRows flattens the configuration for display, sorted by name.
func serverRows(cfg *config.Config) [][]string {
	names := make([]string, 0, len(cfg.MCPServers))
	for name := range cfg.MCPServers {
		names = append(names, name)
	}
	sort.Strings(names)

	rows := make([][]string, 0, len(names))
	for _, name := range names {
		server := cfg.MCPServers[name]
		cwd := server.Cwd
		if cwd == "" {
			cwd = "-"
		}
		rows = append(rows, []string{
			name,
			server.Command,
			strings.Join(server.Args, " "),
			cwd,
			fmt.Sprintf("%d", len(server.Env)),
		})
	}
	return rows
}

func stdoutIsTerminal() bool {
	fd := os.Stdout.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
