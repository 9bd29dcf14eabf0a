package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stewardhq/steward/internal/types"
	"github.com/stewardhq/steward/internal/ui"
)

var featureCmd = &cobra.Command{
	Use:   "feature",
	Short: "Manage features",
}

var (
	featureWorkflow string
	featureTicket   string
)

var featureCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a feature",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, _, err := openStore()
		if err != nil {
			return err
		}
		f, err := store.Features.Create(cmd.Context(), args[0],
			types.WorkflowPath(featureWorkflow), featureTicket, sessionID)
		if err != nil {
			return err
		}
		if jsonOutput {
			return emitJSON(f)
		}
		fmt.Printf("created feature %s (%s)\n", f.Name, f.ExternalID)
		return nil
	},
}

var featureListCmd = &cobra.Command{
	Use:   "list",
	Short: "List features",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, _, err := openStore()
		if err != nil {
			return err
		}
		features, err := store.Features.List(cmd.Context())
		if err != nil {
			return err
		}
		if jsonOutput {
			return emitJSON(features)
		}
		for _, f := range features {
			fmt.Printf("%-30s %s\n", f.Name, ui.FeatureStatus(f.Status))
		}
		return nil
	},
}

var featureShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Show one feature",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, _, err := openStore()
		if err != nil {
			return err
		}
		f, err := store.Features.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			return emitJSON(f)
		}
		fmt.Printf("%s\n", ui.HeaderStyle.Render(f.Name))
		fmt.Printf("  status:   %s\n", ui.FeatureStatus(f.Status))
		fmt.Printf("  workflow: %s\n", f.Workflow)
		if f.Ticket != "" {
			fmt.Printf("  ticket:   %s\n", f.Ticket)
		}
		if f.ApprovedAt != nil {
			fmt.Printf("  approved: %s\n", f.ApprovedAt.Format("2006-01-02 15:04"))
		}
		return nil
	},
}

var featureStatusCmd = &cobra.Command{
	Use:   "status <name> <status>",
	Short: "Set a feature's status (approved requires 'steward plan approve')",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, _, err := openStore()
		if err != nil {
			return err
		}
		f, err := store.Features.SetStatus(cmd.Context(), args[0], types.FeatureStatus(args[1]))
		if err != nil {
			return err
		}
		if jsonOutput {
			return emitJSON(f)
		}
		fmt.Printf("%s is now %s\n", f.Name, ui.FeatureStatus(f.Status))
		return nil
	},
}

var featureCompleteCmd = &cobra.Command{
	Use:   "complete <name>",
	Short: "Mark a feature completed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, _, err := openStore()
		if err != nil {
			return err
		}
		f, err := store.Features.Complete(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			return emitJSON(f)
		}
		fmt.Printf("%s %s\n", ui.IconPass, f.Name)
		return nil
	},
}

func init() {
	featureCreateCmd.Flags().StringVar(&featureWorkflow, "workflow",
		string(types.WorkflowStandard), "workflow path: standard or lightweight")
	featureCreateCmd.Flags().StringVar(&featureTicket, "ticket", "", "external ticket reference")
	featureCmd.AddCommand(featureCreateCmd, featureListCmd, featureShowCmd,
		featureStatusCmd, featureCompleteCmd)
	rootCmd.AddCommand(featureCmd)
}
