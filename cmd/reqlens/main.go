package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/TobiSchelling/reqlens/internal/app"
	"github.com/TobiSchelling/reqlens/internal/config"
	"github.com/TobiSchelling/reqlens/internal/logging"
	"github.com/TobiSchelling/reqlens/internal/model"
	"github.com/TobiSchelling/reqlens/internal/report"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
	closeLog   func() error
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "reqlens",
	Short:   "AI-assisted requirement quality analysis",
	Long:    "reqlens imports engineering requirements, analyzes their quality with a local or hosted LLM and exports the results.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			return nil
		}

		path, err := config.ResolveConfigPath(configPath)
		switch {
		case err == nil:
			cfg, err = config.Load(path)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
		case configPath != "":
			return err
		default:
			cfg = config.Default()
		}
		if err := cfg.ApplyEnv(); err != nil {
			return err
		}

		closeLog = logging.Init(cfg.Logging, verbose)
		if path != "" {
			logrus.Debugf("Using config %s", path)
		} else {
			logrus.Debug("No config file found, using built-in defaults")
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if closeLog != nil {
			return closeLog()
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(selectCmd)
	rootCmd.AddCommand(editCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(promptCmd)
	rootCmd.AddCommand(pasteCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(serveCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("reqlens", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/reqlens/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Edit it to choose the LLM backend, cache limits and health thresholds.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show project, cache and backend status",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(false)
		if err != nil {
			return err
		}
		defer a.Close()

		stats, err := a.DB.GetStats()
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}

		fmt.Printf("Database: %s\n\n", a.DB.Path())
		fmt.Println("Requirements:")
		fmt.Printf("  Total: %d\n", stats.Requirements)
		fmt.Printf("  Analyzed: %d\n", stats.Analyzed)
		fmt.Printf("  Failed: %d\n", stats.FailedAnalyses)
		if stats.Analyzed > 0 {
			fmt.Printf("  Average score: %.1f\n", stats.AverageScore)
		}
		fmt.Printf("  Analyses recorded: %d\n", stats.HistoryEntries)
		if sel := a.Project.Selected(); sel != nil {
			fmt.Printf("  Selected: %s\n", sel.Label())
		}
		fmt.Println("\nCache:")
		fmt.Printf("  Persisted entries: %d\n", stats.CacheEntries)
		fmt.Printf("  Loaded entries: %d\n", a.Cache.Len())
		fmt.Println("\nBackend:")
		fmt.Printf("  Provider: %s\n", cfg.Backend.Provider)
		fmt.Printf("  Fallback: %v\n", cfg.Analysis.FallbackEnabled)
		return nil
	},
}

// --- import command ---

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import requirements from a YAML or JSON file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reqs, err := readRequirements(args[0])
		if err != nil {
			return err
		}

		a, err := openApp(false)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.Project.Import(reqs)
		if err != nil {
			return err
		}
		fmt.Printf("Imported %d requirements: %d new, %d updated, %d unchanged.\n",
			len(reqs), res.Added, res.Updated, res.Unchanged)
		fmt.Printf("Project now holds %d requirements.\n", a.Project.Len())
		return nil
	},
}

// --- list / show / select / edit ---

var listPending bool

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List requirements with their quality scores",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(false)
		if err != nil {
			return err
		}
		defer a.Close()

		reqs := a.Project.All()
		if listPending {
			reqs = a.Project.Pending()
		}
		report.PrintList(os.Stdout, reqs, a.Project.Selected())
		fmt.Println()
		report.PrintSummary(os.Stdout, report.Summarize(a.Project.All()))
		return nil
	},
}

func init() {
	listCmd.Flags().BoolVar(&listPending, "pending", false, "Only list requirements without a successful analysis")
}

var showHistory bool

var showCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Show a requirement and its analysis (default: the selection)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(false)
		if err != nil {
			return err
		}
		defer a.Close()

		req, err := resolveRequirement(a, args)
		if err != nil {
			return err
		}
		report.PrintRequirement(os.Stdout, req)

		if showHistory {
			history, err := a.DB.GetAnalysisHistory(req.ID)
			if err != nil {
				return err
			}
			fmt.Printf("\nHistory (%d):\n", len(history))
			for _, h := range history {
				at := ""
				if h.AnalyzedAt != nil {
					at = *h.AnalyzedAt
				}
				if h.IsAnalyzed {
					fmt.Printf("  %s  %2d/10  %d issues  %s\n", at, h.QualityScore, h.IssueCount, deref(h.Source))
				} else {
					fmt.Printf("  %s  failed: %s\n", at, deref(h.ErrorMessage))
				}
			}
		}
		return nil
	},
}

func init() {
	showCmd.Flags().BoolVar(&showHistory, "history", false, "Also list previous analyses")
}

var selectClear bool

var selectCmd = &cobra.Command{
	Use:   "select [id]",
	Short: "Select the requirement other commands default to",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(false)
		if err != nil {
			return err
		}
		defer a.Close()

		if selectClear {
			a.Project.ClearSelection()
			fmt.Println("Selection cleared.")
			return nil
		}
		if len(args) == 0 {
			if sel := a.Project.Selected(); sel != nil {
				fmt.Printf("Selected: %s\n", sel.Label())
			} else {
				fmt.Println("Nothing selected.")
			}
			return nil
		}

		req, err := a.Project.Select(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Selected %s\n", req.Label())
		return nil
	},
}

func init() {
	selectCmd.Flags().BoolVar(&selectClear, "clear", false, "Clear the selection")
}

var editCmd = &cobra.Command{
	Use:   "edit <id> <description...>",
	Short: "Replace a requirement's description",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(false)
		if err != nil {
			return err
		}
		defer a.Close()

		req, err := a.Project.UpdateDescription(args[0], strings.Join(args[1:], " "))
		if err != nil {
			return err
		}
		fmt.Printf("Updated %s. Its previous analysis was discarded.\n", req.Label())
		return nil
	},
}

func openApp(withBackend bool) (*app.App, error) {
	return app.New(cfg, app.Options{NoBackend: !withBackend})
}

// resolveRequirement returns the requirement named in args, or the
// selection when args is empty.
func resolveRequirement(a *app.App, args []string) (*model.Requirement, error) {
	if len(args) > 0 {
		return a.Project.Get(args[0])
	}
	if sel := a.Project.Selected(); sel != nil {
		return sel, nil
	}
	return nil, errors.New("no requirement given and nothing selected; pass an id or run 'reqlens select <id>'")
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
