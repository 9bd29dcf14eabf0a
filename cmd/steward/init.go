package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/stewardhq/steward/internal/config"
)

var initBackend string

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a steward project in the current directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		backend := config.Backend(initBackend)
		if backend != config.BackendLocal && backend != config.BackendLedger {
			return fmt.Errorf("%w: %q", config.ErrInvalidBackend, initBackend)
		}

		cfgPath := filepath.Join(rootDir, config.Dir, config.ConfigFileName)
		if _, err := os.Stat(cfgPath); err == nil {
			return fmt.Errorf("already initialized: %s exists", cfgPath)
		}

		cfg := config.Default(rootDir)
		cfg.Backend = backend
		if err := config.Save(cfg); err != nil {
			return err
		}
		if err := os.MkdirAll(cfg.FeaturesDir(), 0o755); err != nil {
			return err
		}
		if !quietFlag {
			fmt.Printf("initialized %s (backend: %s)\n", cfg.StewardDir(), backend)
		}
		return nil
	},
}

func init() {
	initCmd.Flags().StringVar(&initBackend, "backend", string(config.BackendLocal),
		"storage backend: local or ledger")
	rootCmd.AddCommand(initCmd)
}
