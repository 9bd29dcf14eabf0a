package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/stewardhq/steward/internal/ui"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Manage a feature's plan and its approval",
}

var planShowCmd = &cobra.Command{
	Use:   "show <feature>",
	Short: "Print the current plan text",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, _, err := openStore()
		if err != nil {
			return err
		}
		content, err := store.Plans.Read(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Print(content)
		return nil
	},
}

var planFile string

// readPlanInput reads plan text from --file, or stdin when --file is "-"
// or absent.
func readPlanInput() (string, error) {
	if planFile != "" && planFile != "-" {
		data, err := os.ReadFile(planFile)
		return string(data), err
	}
	data, err := io.ReadAll(os.Stdin)
	return string(data), err
}

var planWriteCmd = &cobra.Command{
	Use:   "write <feature>",
	Short: "Replace the plan text (revokes any existing approval on change)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, _, err := openStore()
		if err != nil {
			return err
		}
		content, err := readPlanInput()
		if err != nil {
			return err
		}
		if err := store.Plans.Write(cmd.Context(), args[0], content); err != nil {
			return err
		}
		if !quietFlag {
			fmt.Printf("plan for %s updated\n", args[0])
		}
		return nil
	},
}

var planApproveCmd = &cobra.Command{
	Use:   "approve <feature>",
	Short: "Approve the plan, recording a content hash of the approved text",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, _, err := openStore()
		if err != nil {
			return err
		}
		content := ""
		if planFile != "" {
			content, err = readPlanInput()
			if err != nil {
				return err
			}
		} else {
			content, err = store.Plans.Read(cmd.Context(), args[0])
			if err != nil {
				return err
			}
		}
		approval, err := store.Plans.Approve(cmd.Context(), args[0], content, sessionID)
		if err != nil {
			return err
		}
		if jsonOutput {
			return emitJSON(approval)
		}
		fmt.Printf("%s approved %s (%s)\n", ui.IconPass, args[0], approval.Hash[:12])
		return nil
	},
}

var planRevokeCmd = &cobra.Command{
	Use:   "revoke <feature>",
	Short: "Revoke plan approval",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, _, err := openStore()
		if err != nil {
			return err
		}
		if err := store.Plans.Revoke(cmd.Context(), args[0]); err != nil {
			return err
		}
		if !quietFlag {
			fmt.Printf("approval revoked for %s\n", args[0])
		}
		return nil
	},
}

var planStatusCmd = &cobra.Command{
	Use:   "status <feature>",
	Short: "Report whether the current plan text is approved",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, _, err := openStore()
		if err != nil {
			return err
		}
		ok, err := store.Plans.IsApproved(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			return emitJSON(map[string]bool{"approved": ok})
		}
		if ok {
			fmt.Println(ui.PassStyle.Render(ui.IconPass + " approved"))
		} else {
			fmt.Println(ui.WarnStyle.Render(ui.IconWarn + " not approved"))
		}
		return nil
	},
}

var (
	commentLine   int
	commentAuthor string
)

var planCommentCmd = &cobra.Command{
	Use:   "comment",
	Short: "Manage review comments on the plan",
}

var planCommentAddCmd = &cobra.Command{
	Use:   "add <feature> <body>",
	Short: "Add a line-anchored review comment",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, _, err := openStore()
		if err != nil {
			return err
		}
		c, err := store.Plans.AddComment(cmd.Context(), args[0], commentLine, args[1], commentAuthor)
		if err != nil {
			return err
		}
		if jsonOutput {
			return emitJSON(c)
		}
		fmt.Printf("comment %s added at line %d\n", c.ID, c.Line)
		return nil
	},
}

var planCommentListCmd = &cobra.Command{
	Use:   "list <feature>",
	Short: "List review comments",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, _, err := openStore()
		if err != nil {
			return err
		}
		comments, err := store.Plans.Comments(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			return emitJSON(comments)
		}
		for _, c := range comments {
			fmt.Printf("%s L%-4d %s  %s\n", ui.MutedStyle.Render(c.ID), c.Line,
				c.Body, ui.MutedStyle.Render(c.Author))
		}
		return nil
	},
}

var planCommentClearCmd = &cobra.Command{
	Use:   "clear <feature>",
	Short: "Clear all review comments",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, _, err := openStore()
		if err != nil {
			return err
		}
		return store.Plans.ClearComments(cmd.Context(), args[0])
	},
}

func init() {
	planWriteCmd.Flags().StringVarP(&planFile, "file", "f", "", "read plan text from file ('-' for stdin)")
	planApproveCmd.Flags().StringVarP(&planFile, "file", "f", "", "approve this file's text instead of the stored plan")
	planCommentAddCmd.Flags().IntVar(&commentLine, "line", 1, "1-based plan line the comment anchors to")
	planCommentAddCmd.Flags().StringVar(&commentAuthor, "author", "", "comment author")
	planCommentCmd.AddCommand(planCommentAddCmd, planCommentListCmd, planCommentClearCmd)
	planCmd.AddCommand(planShowCmd, planWriteCmd, planApproveCmd, planRevokeCmd,
		planStatusCmd, planCommentCmd)
	rootCmd.AddCommand(planCmd)
}
