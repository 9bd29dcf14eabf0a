// Command steward coordinates multi-process feature work: plans, approvals,
// tasks, and their execution state, persisted either in project-local JSON
// or mirrored through an external ledger.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stewardhq/steward/internal/config"
	"github.com/stewardhq/steward/internal/debug"
	"github.com/stewardhq/steward/internal/storage"
	"github.com/stewardhq/steward/internal/storage/factory"
)

var (
	rootDir     string
	jsonOutput  bool
	verboseFlag bool
	quietFlag   bool
	sessionID   string

	rootCtx    context.Context
	rootCancel context.CancelFunc
)

var rootCmd = &cobra.Command{
	Use:           "steward",
	Short:         "Persistence and coordination for multi-process feature work",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verboseFlag {
			debug.SetVerbose(true)
		}
		if quietFlag {
			debug.SetQuiet(true)
		}
		if sessionID == "" {
			sessionID = viper.GetString("session")
		}
		if sessionID == "" {
			sessionID = "sess-" + uuid.NewString()[:8]
		}
	},
}

func main() {
	rootCtx, rootCancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer rootCancel()

	rootCmd.PersistentFlags().StringVar(&rootDir, "dir", ".", "project root directory")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "emit JSON output")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "enable debug output")
	rootCmd.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false, "suppress non-essential output")
	rootCmd.PersistentFlags().StringVar(&sessionID, "session", "", "session identifier (default: generated)")

	viper.SetEnvPrefix("STEWARD")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	for _, name := range []string{"dir", "json", "session"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}

	if err := rootCmd.ExecuteContext(rootCtx); err != nil {
		fmt.Fprintf(os.Stderr, "steward: %v\n", err)
		if storage.IsInit(err) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

// loadConfig resolves the project configuration for the chosen root.
func loadConfig() (*config.Config, error) {
	if d := viper.GetString("dir"); d != "" && rootDir == "." {
		rootDir = d
	}
	return config.Load(rootDir)
}

// openStore builds the configured backend.
func openStore() (*storage.Store, *config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	store, err := factory.Open(cfg, sessionID)
	if err != nil {
		return nil, nil, err
	}
	return store, cfg, nil
}

// emitJSON writes v as indented JSON to stdout.
func emitJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
