// Package cli implements the membank command tree.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile     string
	projectFlag string
)

var rootCmd = &cobra.Command{
	Use:   "membank",
	Short: "Local-first persistent memory for coding agents",
	Long: `membank keeps project facts (stack choices, decisions, constraints,
conventions, notes) in a local SQLite database with semantic search.

Agents propose memories; nothing becomes searchable until a human
confirms it. Confirmed memories can be updated, consolidated, marked
stale, and synced with teammates through an encrypted shared folder.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ~/.membank/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&projectFlag, "project", "p", "", "project name (default: resolved from the working directory)")
}

// withApp builds the application, runs fn, and tears down.
func withApp(fn func(a *app) error) error {
	a, err := newApp(cfgFile)
	if err != nil {
		return err
	}
	defer a.close()
	return fn(a)
}
