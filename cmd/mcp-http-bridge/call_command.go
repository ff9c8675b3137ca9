package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	mcpbridge "github.com/mludvig/mcp-http-bridge"
)

func newCallCommand(configFlag, logLevelFlag *string) *cobra.Command {
	var timeoutFlag time.Duration

	cmd := &cobra.Command{
		Use:   "call <server> <method> [params-json]",
		Short: "Send one JSON-RPC request to a configured server and print the result",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			logger, err := newLogger(*logLevelFlag)
			if err != nil {
				return err
			}

			cfg, err := loadConfig(*configFlag)
			if err != nil {
				return err
			}

			var params any
			if len(args) == 3 {
				if err := json.Unmarshal([]byte(args[2]), &params); err != nil {
					return fmt.Errorf("parse params: %w", err)
				}
			}

			bridge, err := mcpbridge.New(cfg, mcpbridge.WithLogger(logger))
			if err != nil {
				return err
			}
			defer bridge.Close() //nolint:errcheck

			result, err := bridge.Call(ctx, args[0], args[1], params, timeoutFlag)
			if err != nil {
				return err
			}

			var pretty bytes.Buffer
			if err := json.Indent(&pretty, result, "", "  "); err != nil {
				// Not an object or array; print as-is.
				fmt.Fprintln(cmd.OutOrStdout(), string(result))
				return nil
			}

			fmt.Fprintln(cmd.OutOrStdout(), pretty.String())
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeoutFlag, "timeout", 30*time.Second, "How long to wait for the response")

	return cmd
}
