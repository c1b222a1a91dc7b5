// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pdiddy/research-engine/pkg/types"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <paper-id>",
	Short: "Re-run the pipeline for one already-stored paper",
	Long: `Analyze looks up a paper already in the paper store and re-runs it through
the pipeline using the config of the task named by --task-id (or, with
--redo-dedupe, re-enters the pipeline at the dedupe stage instead of
starting at the fetch stage).`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().String("task-id", "", "task whose config to analyze against (required)")
	analyzeCmd.Flags().Bool("redo-dedupe", false, "re-run the dedupe check instead of assuming the paper is already known")
	analyzeCmd.MarkFlagRequired("task-id")
	rootCmd.AddCommand(analyzeCmd)
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	paperID := args[0]
	taskID, _ := cmd.Flags().GetString("task-id")
	redoDedupe, _ := cmd.Flags().GetBool("redo-dedupe")

	deps, err := buildDeps(cmd)
	if err != nil {
		return err
	}

	ctx := context.Background()

	stored, err := deps.PaperStore.GetByPaperID(ctx, paperID)
	if err != nil {
		return fmt.Errorf("looking up paper %s: %w", paperID, err)
	}
	if stored == nil {
		return fmt.Errorf("paper %s is not in the store", paperID)
	}

	cfg, err := deps.History.GetConfig(ctx, taskID)
	if err != nil {
		return fmt.Errorf("loading config for task %s: %w", taskID, err)
	}

	record := types.PaperRecord{
		PaperID:               stored.PaperID,
		Title:                 stored.Title,
		Abstract:              stored.Abstract,
		Categories:            stored.Categories,
		Authors:               stored.Authors,
		PublishedDate:         stored.PublishedDate,
		PDFURL:                stored.PDFURL,
		AbstractScore:         stored.AbstractScore,
		AbstractJustification: stored.AbstractJustification,
		FullScore:             stored.FullScore,
		FullJustification:     stored.FullJustification,
	}

	outcome := deps.Scheduler.AnalyzeSingle(ctx, record, cfg, redoDedupe)
	if outcome.Err != nil {
		return fmt.Errorf("analyzing %s: %w", paperID, outcome.Err)
	}

	fmt.Printf("paper %s: stage=%s persisted=%v relevant=%v deep=%v\n",
		outcome.PaperID, outcome.Stage, outcome.Persisted, outcome.Relevant, outcome.Deep)
	return nil
}
