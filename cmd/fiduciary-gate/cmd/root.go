// Package cmd provides the CLI commands for Fiduciary Gate.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Fiduciary-Gate/Fiduciarygate/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "fiduciary-gate",
	Short: "Fiduciary Gate - Mandate Risk Governance Engine",
	Long: `Fiduciary Gate is a risk governance engine for agent-mediated commerce.

It sits between autonomous agents and payment execution, enforcing
delegated spending authority: per-session spending rules, a fiduciary
circuit breaker, and human escalation when the breaker trips.

Quick start:
  1. Create a config file: fiduciary-gate.yaml
  2. Run: fiduciary-gate start

Configuration:
  Config is loaded from fiduciary-gate.yaml in the current directory,
  $HOME/.fiduciary-gate/, or /etc/fiduciary-gate/.

  Environment variables can override config values with the FIDUCIARY_GATE_ prefix.
  Example: FIDUCIARY_GATE_SERVER_HTTP_ADDR=:9090

Commands:
  start       Start the governance server
  revoke      Revoke a delegation session on a running server
  hash-key    Generate an Argon2id hash for an admin API key
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
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./fiduciary-gate.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
