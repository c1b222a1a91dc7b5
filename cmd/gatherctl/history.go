// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/pdiddy/research-engine/internal/history"
	"github.com/pdiddy/research-engine/pkg/types"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect and prune past task runs",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List past task runs, newest first",
	RunE:  runHistoryList,
}

var historyCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete run history older than --keep-months",
	RunE:  runHistoryCleanup,
}

func init() {
	historyListCmd.Flags().String("task-id", "", "restrict to one task")
	historyListCmd.Flags().String("status", "", "restrict to one run status (completed, failed, cancelled, running)")
	historyListCmd.Flags().Int("limit", 50, "maximum number of runs to print, 0 for unlimited")
	historyListCmd.Flags().Bool("stats", false, "print aggregate statistics instead of individual runs")

	historyCleanupCmd.Flags().Int("keep-months", 6, "delete month-shards older than this many months")

	historyCmd.AddCommand(historyListCmd, historyCleanupCmd)
	rootCmd.AddCommand(historyCmd)
}

func runHistoryList(cmd *cobra.Command, args []string) error {
	deps, err := buildDeps(cmd)
	if err != nil {
		return err
	}

	if stats, _ := cmd.Flags().GetBool("stats"); stats {
		s, err := deps.History.Stats(context.Background())
		if err != nil {
			return err
		}
		fmt.Printf("total_tasks=%d completed=%d failed=%d presets=%d shard_files=%d\n",
			s.TotalTasks, s.CompletedTasks, s.FailedTasks, s.TotalPresets, s.ShardFiles)
		return nil
	}

	taskID, _ := cmd.Flags().GetString("task-id")
	status, _ := cmd.Flags().GetString("status")
	limit, _ := cmd.Flags().GetInt("limit")

	filter := history.ListFilter{
		TaskID: taskID,
		Status: types.RunStatus(status),
		Limit:  limit,
	}

	records, err := deps.History.List(context.Background(), filter)
	if err != nil {
		return err
	}
	for _, r := range records {
		fmt.Printf("%s\t%s\t%s\tstatus=%s\ttotal=%d\trelevant=%d\tpersisted=%d\tdeep=%d\n",
			r.StartedAt.Format(time.RFC3339), r.TaskID, r.RunID, r.Status, r.Total, r.Relevant, r.Persisted, r.DeepAnalyzed)
	}
	return nil
}

func runHistoryCleanup(cmd *cobra.Command, args []string) error {
	deps, err := buildDeps(cmd)
	if err != nil {
		return err
	}
	keepMonths, _ := cmd.Flags().GetInt("keep-months")

	removed, err := deps.History.Cleanup(context.Background(), keepMonths)
	if err != nil {
		return err
	}
	fmt.Printf("removed %d month-shard(s)\n", removed)
	return nil
}
