// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/research-engine/internal/configversion"
	"github.com/pdiddy/research-engine/pkg/types"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Work with the task config schema and the saved config preset library",
}

var configUpgradeCmd = &cobra.Command{
	Use:   "upgrade <config-file>",
	Short: "Upgrade a TaskConfig YAML file in place to the current schema version",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigUpgrade,
}

var configPresetCmd = &cobra.Command{
	Use:   "preset",
	Short: "Manage named, reusable task config snapshots",
}

var configPresetSaveCmd = &cobra.Command{
	Use:   "save <name> <config-file>",
	Short: "Save a config file as a named preset, overwriting any preset of the same name",
	Args:  cobra.ExactArgs(2),
	RunE:  runConfigPresetSave,
}

var configPresetListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved presets",
	RunE:  runConfigPresetList,
}

var configPresetDeleteCmd = &cobra.Command{
	Use:   "delete <preset-id>",
	Short: "Delete a preset by ID",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigPresetDelete,
}

func init() {
	configPresetCmd.AddCommand(configPresetSaveCmd, configPresetListCmd, configPresetDeleteCmd)
	configCmd.AddCommand(configUpgradeCmd, configPresetCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigUpgrade(cmd *cobra.Command, args []string) error {
	path := args[0]
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	var cfg types.TaskConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	upgraded, err := configversion.UpgradeAndValidate(cfg)
	if err != nil {
		return err
	}

	out, err := yaml.Marshal(upgraded)
	if err != nil {
		return fmt.Errorf("marshaling upgraded config: %w", err)
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	fmt.Printf("%s upgraded to version %s\n", path, upgraded.Version)
	return nil
}

func runConfigPresetSave(cmd *cobra.Command, args []string) error {
	name, path := args[0], args[1]

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	var cfg types.TaskConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	deps, err := buildDeps(cmd)
	if err != nil {
		return err
	}

	id, err := deps.History.SavePreset(context.Background(), name, "", cfg)
	if err != nil {
		return err
	}
	fmt.Println(id)
	return nil
}

func runConfigPresetList(cmd *cobra.Command, args []string) error {
	deps, err := buildDeps(cmd)
	if err != nil {
		return err
	}
	presets, err := deps.History.ListPresets(context.Background())
	if err != nil {
		return err
	}
	for _, p := range presets {
		fmt.Printf("%s\t%s\t%s\n", p.ID, p.Name, p.CreatedAt.Format("2006-01-02T15:04:05"))
	}
	return nil
}

func runConfigPresetDelete(cmd *cobra.Command, args []string) error {
	deps, err := buildDeps(cmd)
	if err != nil {
		return err
	}
	ok, err := deps.History.DeletePreset(context.Background(), args[0])
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("preset %s not found", args[0])
	}
	fmt.Printf("deleted preset %s\n", args[0])
	return nil
}
