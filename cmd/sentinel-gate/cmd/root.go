// Package cmd provides the CLI commands for Sentinel Gate.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sentinelgate/sentinel/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "sentinel-gate",
	Short: "Sentinel Gate - MCP security sentinel",
	Long: `Sentinel Gate intercepts tool calls between an AI agent and an MCP
server, evaluating each one against a rule-based policy engine, a
per-host circuit breaker, a persistent rate limiter, and an anomaly
detector before forwarding, denying, or asking for confirmation.

Quick start:
  1. Create a config file: sentinel-gate.yaml
  2. Run: sentinel-gate start

Configuration:
  Config is loaded from sentinel-gate.yaml in the current directory,
  $HOME/.sentinel-gate/, or /etc/sentinel-gate/.

  Environment variables can override config values with the SENTINEL_GATE_ prefix.
  Example: SENTINEL_GATE_SERVER_HTTP_ADDR=:9090

Commands:
  start       Start the sentinel
  reset       Reset to clean state (wipe the persisted database)
  version     Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./sentinel-gate.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
