// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main is the entry point for the gatherctl CLI, which drives the
// paper gather/analyze pipeline's scheduler, history store, and paper store.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/research-engine/internal/secrets"
)

// version is set at build time via ldflags.
var version = "dev"

// loadedSecrets holds API keys loaded from .secrets/ at startup.
var loadedSecrets map[string]string

// secretDefault returns fallback when it is non-empty, otherwise the secret
// value for key if it exists, or "" if neither is set.
func secretDefault(key, fallback string) string {
	if fallback != "" {
		return fallback
	}
	if v, ok := loadedSecrets[key]; ok {
		return v
	}
	return ""
}

var rootCmd = &cobra.Command{
	Use:   "gatherctl",
	Short: "Run and manage the paper gather/analyze pipeline",
	Long: `gatherctl drives a scheduled pipeline that searches a preprint index, fetches
and OCRs candidate PDFs, scores them for relevance against a requirements
text, optionally runs a deep analysis pass, and persists results to a local
paper store.

Use "serve" to run registered tasks on their schedule, "task" to manage
individual tasks, "analyze" for on-demand single-paper re-analysis, "history"
to inspect past runs, and "config" to work with the task config schema.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		s, err := secrets.Load(".secrets/")
		if err != nil {
			return err
		}
		loadedSecrets = s
		if len(s) > 0 {
			keys := make([]string, 0, len(s))
			for k := range s {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			fmt.Fprintf(os.Stderr, "Loaded secrets: %v\n", keys)
		}
		return nil
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default: ./gatherctl.yaml or ~/.config/gatherctl/gatherctl.yaml)")
	rootCmd.PersistentFlags().String("data-dir", "data", "base directory for the paper store, task history, and config presets")
}

func initConfig() {
	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("gatherctl")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "gatherctl"))
		}
	}

	viper.SetEnvPrefix("GATHERCTL")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func dataDir(cmd *cobra.Command) string {
	dir, _ := cmd.Flags().GetString("data-dir")
	if dir == "" {
		dir = "data"
	}
	return dir
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
