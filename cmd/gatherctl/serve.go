// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/research-engine/internal/configversion"
	"github.com/pdiddy/research-engine/internal/scheduler"
	"github.com/pdiddy/research-engine/pkg/types"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run registered tasks on their configured schedule until interrupted",
	Long: `Serve loads task definitions from --tasks-file, registers each with the
scheduler, and blocks until SIGINT/SIGTERM, at which point it requests
cooperative cancellation of every active run and returns without waiting
for those runs to finish.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("tasks-file", "tasks.yaml", "YAML file listing task configs to register at startup")
	rootCmd.AddCommand(serveCmd)
}

// tasksFile is the on-disk shape of --tasks-file.
type tasksFile struct {
	Tasks []types.TaskConfig `yaml:"tasks"`
}

func runServe(cmd *cobra.Command, args []string) error {
	deps, err := buildDeps(cmd)
	if err != nil {
		return err
	}

	tasksPath, _ := cmd.Flags().GetString("tasks-file")
	data, err := os.ReadFile(tasksPath)
	if err != nil {
		return fmt.Errorf("reading tasks file %s: %w", tasksPath, err)
	}
	var tf tasksFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return fmt.Errorf("parsing tasks file %s: %w", tasksPath, err)
	}
	if len(tf.Tasks) == 0 {
		return fmt.Errorf("%s defines no tasks", tasksPath)
	}

	ctx := context.Background()
	for _, cfg := range tf.Tasks {
		upgraded, err := configversion.UpgradeAndValidate(cfg)
		if err != nil {
			return fmt.Errorf("task %s: %w", cfg.TaskID, err)
		}
		taskID, err := deps.Scheduler.Register(ctx, upgraded)
		if err != nil {
			return fmt.Errorf("registering task %s: %w", upgraded.TaskName, err)
		}
		fmt.Fprintf(os.Stderr, "registered task %s (%s)\n", taskID, upgraded.SearchQuery)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	fmt.Fprintln(os.Stderr, "gatherctl serving, press Ctrl-C to stop")
	<-sigCh
	fmt.Fprintln(os.Stderr, "shutting down, cancelling active runs...")

	for _, status := range deps.Scheduler.Status() {
		if status.Running {
			deps.Scheduler.Cancel(scheduler.RunHandle{TaskID: status.TaskID})
		}
	}
	return nil
}
