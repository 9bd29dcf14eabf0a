package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/stewardhq/steward/internal/debug"
	"github.com/stewardhq/steward/internal/lockfile"
	"github.com/stewardhq/steward/internal/ui"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the project for feature and task state changes",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return err
		}
		defer watcher.Close()

		// fsnotify is not recursive: watch every existing directory under
		// features/ and pick up new ones as they appear.
		addTree := func(root string) {
			filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
				if err == nil && d.IsDir() {
					if werr := watcher.Add(path); werr != nil {
						debug.Warnf("watch: %s: %v\n", path, werr)
					}
				}
				return nil
			})
		}
		if err := os.MkdirAll(cfg.FeaturesDir(), 0o755); err != nil {
			return err
		}
		addTree(cfg.FeaturesDir())

		if !quietFlag {
			fmt.Printf("watching %s\n", cfg.FeaturesDir())
		}
		for {
			select {
			case <-cmd.Context().Done():
				return nil
			case event, ok := <-watcher.Events:
				if !ok {
					return nil
				}
				if event.Op.Has(fsnotify.Create) {
					if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
						addTree(event.Name)
						continue
					}
				}
				if line := describeChange(cfg.FeaturesDir(), event); line != "" {
					fmt.Println(line)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return nil
				}
				debug.Warnf("watch: %v\n", err)
			}
		}
	},
}

// describeChange turns a filesystem event into a one-line report, or ""
// for noise (lock sidecars, temp files, removals of temp files).
func describeChange(featuresDir string, event fsnotify.Event) string {
	if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Remove) {
		return ""
	}
	name := filepath.Base(event.Name)
	if strings.HasSuffix(name, lockfile.Suffix) || strings.Contains(name, ".tmp") {
		return ""
	}
	rel, err := filepath.Rel(featuresDir, event.Name)
	if err != nil {
		return ""
	}

	switch name {
	case "plan.md":
		return fmt.Sprintf("%s plan changed: %s", ui.AccentStyle.Render("•"), rel)
	case "feature.json":
		return fmt.Sprintf("%s feature state: %s", ui.AccentStyle.Render("•"), rel)
	case "task.json":
		return fmt.Sprintf("%s task state: %s", ui.AccentStyle.Render("•"), rel)
	case "approval.json":
		if event.Op.Has(fsnotify.Remove) {
			return fmt.Sprintf("%s approval revoked: %s", ui.WarnStyle.Render(ui.IconWarn), rel)
		}
		return fmt.Sprintf("%s approval recorded: %s", ui.PassStyle.Render(ui.IconPass), rel)
	case "report.json":
		return fmt.Sprintf("%s report saved: %s", ui.AccentStyle.Render("•"), rel)
	}
	return ""
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
