package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stewardhq/steward/internal/config"
	"github.com/stewardhq/steward/internal/ledger"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Flush pending ledger artifacts and import remote ones",
	Long: `Sync asks the ledger tool to flush locally-buffered artifacts and then
import artifacts written by other machines. Only meaningful with the
ledger backend.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Backend != config.BackendLedger {
			return fmt.Errorf("sync requires the ledger backend (current: %s)", cfg.Backend)
		}
		gw := ledger.NewCLI(cfg.LedgerBin, cfg.Root(), cfg.LedgerTimeout)
		if err := gw.FlushArtifacts(cmd.Context()); err != nil {
			return err
		}
		if err := gw.ImportArtifacts(cmd.Context()); err != nil {
			return err
		}
		if !quietFlag {
			fmt.Println("ledger artifacts synced")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
