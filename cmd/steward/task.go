package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/stewardhq/steward/internal/storage"
	"github.com/stewardhq/steward/internal/types"
	"github.com/stewardhq/steward/internal/ui"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage a feature's tasks",
}

var (
	taskSummary   string
	taskDependsOn []string
	taskIdemKey   string
)

var taskCreateCmd = &cobra.Command{
	Use:   "create <feature> <folder>",
	Short: "Create a task (folder form: <order>-<slug>, e.g. 01-add-schema)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, _, err := openStore()
		if err != nil {
			return err
		}
		task, err := store.Tasks.Create(cmd.Context(), args[0], types.Task{
			Folder:         args[1],
			Summary:        taskSummary,
			DependsOn:      taskDependsOn,
			IdempotencyKey: taskIdemKey,
		})
		if err != nil {
			return err
		}
		if jsonOutput {
			return emitJSON(task)
		}
		fmt.Printf("created task %s\n", task.Folder)
		return nil
	},
}

var taskListCmd = &cobra.Command{
	Use:   "list <feature>",
	Short: "List tasks in order",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, _, err := openStore()
		if err != nil {
			return err
		}
		tasks, err := store.Tasks.List(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			return emitJSON(tasks)
		}
		for _, task := range tasks {
			fmt.Printf("%-30s %s\n", task.Folder, ui.TaskStatus(task.Status))
		}
		return nil
	},
}

var taskShowCmd = &cobra.Command{
	Use:   "show <feature> <folder>",
	Short: "Show one task",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, _, err := openStore()
		if err != nil {
			return err
		}
		task, err := store.Tasks.Get(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		if jsonOutput {
			return emitJSON(task)
		}
		fmt.Printf("%s\n", ui.HeaderStyle.Render(task.Folder))
		fmt.Printf("  status: %s\n", ui.TaskStatus(task.Status))
		if len(task.DependsOn) > 0 {
			fmt.Printf("  deps:   %v\n", task.DependsOn)
		}
		if task.Summary != "" {
			fmt.Printf("  summary: %s\n", task.Summary)
		}
		return nil
	},
}

var taskStatusCmd = &cobra.Command{
	Use:   "status <feature> <folder> <status>",
	Short: "Set a task's status",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, _, err := openStore()
		if err != nil {
			return err
		}
		task, err := store.Tasks.UpdateStatus(cmd.Context(), args[0], args[1],
			types.TaskStatus(args[2]), taskSummary)
		if err != nil {
			return err
		}
		if jsonOutput {
			return emitJSON(task)
		}
		fmt.Printf("%s %s\n", task.Folder, ui.TaskStatus(task.Status))
		return nil
	},
}

var taskSyncCmd = &cobra.Command{
	Use:   "sync <feature> <title>...",
	Short: "Materialize tasks from an approved plan's step titles",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, _, err := openStore()
		if err != nil {
			return err
		}
		specs := make([]storage.TaskSpec, 0, len(args)-1)
		for _, title := range args[1:] {
			specs = append(specs, storage.TaskSpec{Title: title})
		}
		created, err := store.Tasks.SyncFromPlan(cmd.Context(), args[0], specs)
		if err != nil {
			return err
		}
		if jsonOutput {
			return emitJSON(created)
		}
		for _, task := range created {
			fmt.Printf("created %s\n", task.Folder)
		}
		return nil
	},
}

var reportStatus string

var taskReportCmd = &cobra.Command{
	Use:   "report <feature> <folder>",
	Short: "Save a task report from stdin, or print the stored one",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, _, err := openStore()
		if err != nil {
			return err
		}
		if reportStatus != "" {
			content, err := io.ReadAll(os.Stdin)
			if err != nil {
				return err
			}
			return store.Tasks.SaveReport(cmd.Context(), args[0], args[1],
				string(content), types.TaskStatus(reportStatus))
		}
		report, err := store.Tasks.LoadReport(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		if report == nil {
			return fmt.Errorf("no report for %s/%s", args[0], args[1])
		}
		if jsonOutput {
			return emitJSON(report)
		}
		fmt.Print(report.Content)
		return nil
	},
}

func init() {
	taskCreateCmd.Flags().StringVar(&taskSummary, "summary", "", "task summary")
	taskCreateCmd.Flags().StringSliceVar(&taskDependsOn, "depends-on", nil, "explicit dependency folders")
	taskCreateCmd.Flags().StringVar(&taskIdemKey, "idempotency-key", "", "dedupe key for retried creates")
	taskStatusCmd.Flags().StringVar(&taskSummary, "summary", "", "status summary")
	taskReportCmd.Flags().StringVar(&reportStatus, "save", "", "save stdin as the report with this task status")
	taskCmd.AddCommand(taskCreateCmd, taskListCmd, taskShowCmd, taskStatusCmd,
		taskSyncCmd, taskReportCmd)
	rootCmd.AddCommand(taskCmd)
}
