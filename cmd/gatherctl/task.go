// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/research-engine/internal/configversion"
	"github.com/pdiddy/research-engine/internal/scheduler"
	"github.com/pdiddy/research-engine/pkg/types"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Register, trigger, cancel, and inspect scheduled tasks",
}

var taskRegisterCmd = &cobra.Command{
	Use:   "register <config-file>",
	Short: "Register a task from a YAML TaskConfig file",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskRegister,
}

var taskTriggerCmd = &cobra.Command{
	Use:   "trigger <task-id>",
	Short: "Trigger an immediate run of a registered task",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskTrigger,
}

var taskCancelCmd = &cobra.Command{
	Use:   "cancel <task-id>",
	Short: "Request cooperative cancellation of a task's active run",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskCancel,
}

var taskStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "List every registered task's schedule and run state",
	RunE:  runTaskStatus,
}

func init() {
	taskCmd.AddCommand(taskRegisterCmd, taskTriggerCmd, taskCancelCmd, taskStatusCmd)
	rootCmd.AddCommand(taskCmd)
}

func runTaskRegister(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading %s: %w", args[0], err)
	}

	var cfg types.TaskConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("parsing %s: %w", args[0], err)
	}

	upgraded, err := configversion.UpgradeAndValidate(cfg)
	if err != nil {
		return err
	}

	deps, err := buildDeps(cmd)
	if err != nil {
		return err
	}

	taskID, err := deps.Scheduler.Register(context.Background(), upgraded)
	if err != nil {
		return fmt.Errorf("registering task: %w", err)
	}
	fmt.Println(taskID)
	return nil
}

func runTaskTrigger(cmd *cobra.Command, args []string) error {
	deps, err := buildDeps(cmd)
	if err != nil {
		return err
	}
	handle, err := deps.Scheduler.TriggerOnce(context.Background(), args[0])
	if err != nil {
		return err
	}
	fmt.Printf("run %s started for task %s\n", handle.RunID, handle.TaskID)
	return nil
}

func runTaskCancel(cmd *cobra.Command, args []string) error {
	deps, err := buildDeps(cmd)
	if err != nil {
		return err
	}
	deps.Scheduler.Cancel(scheduler.RunHandle{TaskID: args[0]})
	fmt.Printf("cancellation requested for task %s\n", args[0])
	return nil
}

func runTaskStatus(cmd *cobra.Command, args []string) error {
	deps, err := buildDeps(cmd)
	if err != nil {
		return err
	}
	for _, st := range deps.Scheduler.Status() {
		fmt.Printf("%s\trunning=%v\tlast=%s\tnext=%s\n", st.TaskID, st.Running, st.LastRun.Format("2006-01-02T15:04:05"), st.NextRun.Format("2006-01-02T15:04:05"))
	}
	return nil
}
