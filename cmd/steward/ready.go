package main

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/stewardhq/steward/internal/artifact"
	"github.com/stewardhq/steward/internal/dispatch"
	"github.com/stewardhq/steward/internal/fsatomic"
	"github.com/stewardhq/steward/internal/types"
	"github.com/stewardhq/steward/internal/ui"
)

var readyCmd = &cobra.Command{
	Use:   "ready <feature>",
	Short: "Show which tasks are runnable and which are blocked",
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
		res := dispatch.Resolve(tasks)
		problems := dispatch.Validate(tasks)
		if jsonOutput {
			out := map[string]any{"runnable": res.Runnable, "blocked": res.Blocked}
			if len(problems) > 0 {
				msgs := make([]string, len(problems))
				for i, p := range problems {
					msgs[i] = p.Error()
				}
				out["problems"] = msgs
			}
			return emitJSON(out)
		}
		for _, p := range problems {
			fmt.Printf("%s %s\n", ui.FailStyle.Render(ui.IconFail), p)
		}
		fmt.Println(ui.HeaderStyle.Render("runnable"))
		for _, folder := range res.Runnable {
			fmt.Printf("  %s %s\n", ui.PassStyle.Render(ui.IconPass), folder)
		}
		if len(res.Blocked) > 0 {
			fmt.Println(ui.HeaderStyle.Render("blocked"))
			for folder, unmet := range res.Blocked {
				fmt.Printf("  %s %s (waiting on %s)\n",
					ui.WarnStyle.Render(ui.IconWarn), folder, strings.Join(unmet, ", "))
			}
		}
		return nil
	},
}

var (
	runCommand string
	runLimit   int
)

var runCmd = &cobra.Command{
	Use:   "run <feature>",
	Short: "Run ready tasks through a shell command until none remain",
	Long: `Run executes every runnable task by invoking the --exec command with
STEWARD_FEATURE and STEWARD_TASK set, waves at a time, until no task is
runnable. A zero exit marks the task done; non-zero marks it failed.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if runCommand == "" {
			return fmt.Errorf("--exec is required")
		}
		store, cfg, err := openStore()
		if err != nil {
			return err
		}
		plan, err := store.Plans.Read(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		runner := func(ctx context.Context, task types.Task) (types.TaskStatus, string, error) {
			// Each worker gets a generated prompt artifact alongside the
			// task state: the plan plus this task's slice of it.
			promptPath := cfg.TaskPromptPath(task.Feature, task.Folder)
			prompt := artifact.EncodeWorkerPrompt(
				fmt.Sprintf("# Task %s\n\n%s\n\n## Plan\n\n%s\n", task.Folder, task.Summary, plan),
				time.Now().UTC())
			if err := fsatomic.WriteJSONAtomic(promptPath, prompt); err != nil {
				return types.TaskFailed, "", err
			}

			c := exec.CommandContext(ctx, "sh", "-c", runCommand)
			c.Env = append(c.Environ(),
				"STEWARD_FEATURE="+task.Feature,
				"STEWARD_TASK="+task.Folder,
				"STEWARD_PROMPT="+promptPath,
			)
			out, err := c.CombinedOutput()
			if err != nil {
				return types.TaskFailed, strings.TrimSpace(string(out)), err
			}
			return types.TaskDone, "", nil
		}

		d := dispatch.New(store, runner, runLimit)
		results, res, err := d.RunToCompletion(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			return emitJSON(map[string]any{"results": results, "blocked": res.Blocked})
		}
		for _, r := range results {
			fmt.Printf("%-30s %s\n", r.Folder, ui.TaskStatus(r.Status))
		}
		for folder, unmet := range res.Blocked {
			fmt.Printf("%-30s %s\n", folder,
				ui.WarnStyle.Render("blocked on "+strings.Join(unmet, ", ")))
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runCommand, "exec", "", "shell command run once per task")
	runCmd.Flags().IntVar(&runLimit, "parallel", 2, "max tasks running at once")
	rootCmd.AddCommand(readyCmd, runCmd)
}
