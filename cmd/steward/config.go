package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/stewardhq/steward/internal/config"
	"github.com/stewardhq/steward/internal/ledger"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and change project configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the resolved configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if jsonOutput {
			return emitJSON(map[string]any{
				"backend":        cfg.Backend,
				"ledger_bin":     cfg.LedgerBin,
				"ledger_timeout": cfg.LedgerTimeout.String(),
				"lock": map[string]string{
					"timeout":        cfg.Lock.Timeout.String(),
					"retry_interval": cfg.Lock.RetryInterval.String(),
					"stale_ttl":      cfg.Lock.StaleTTL.String(),
				},
			})
		}
		fmt.Printf("backend:        %s\n", cfg.Backend)
		fmt.Printf("ledger_bin:     %s\n", cfg.LedgerBin)
		fmt.Printf("ledger_timeout: %s\n", cfg.LedgerTimeout)
		fmt.Printf("lock.timeout:   %s\n", cfg.Lock.Timeout)
		fmt.Printf("lock.stale_ttl: %s\n", cfg.Lock.StaleTTL)
		return nil
	},
}

var configBackendCmd = &cobra.Command{
	Use:   "backend <local|ledger>",
	Short: "Switch the storage backend",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		backend := config.Backend(args[0])
		if backend != config.BackendLocal && backend != config.BackendLedger {
			return fmt.Errorf("%w: %q", config.ErrInvalidBackend, args[0])
		}
		if backend == config.BackendLedger {
			// Fail before persisting if the ledger tool cannot answer.
			gw := ledger.NewCLI(cfg.LedgerBin, cfg.Root(), 5*time.Second)
			if _, err := gw.GetEpicByName(cmd.Context(), "steward-probe"); err != nil && ledger.IsInit(err) {
				return err
			}
		}
		cfg.Backend = backend
		if err := config.Save(cfg); err != nil {
			return err
		}
		if !quietFlag {
			fmt.Printf("backend set to %s\n", backend)
		}
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd, configBackendCmd)
	rootCmd.AddCommand(configCmd)
}
