package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/TobiSchelling/reqlens/internal/model"
	"github.com/TobiSchelling/reqlens/internal/project"
	"github.com/TobiSchelling/reqlens/internal/report"
	"github.com/TobiSchelling/reqlens/internal/server"
)

func readRequirements(path string) ([]*model.Requirement, error) {
	return project.ReadFile(path)
}

// --- cache command ---

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and manage the analysis cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(false)
		if err != nil {
			return err
		}
		defer a.Close()

		report.PrintCacheStats(os.Stdout, a.Engine.Statistics())
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Drop every cached analysis",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(false)
		if err != nil {
			return err
		}
		defer a.Close()

		n := a.Cache.Len()
		a.Engine.ClearCache()
		fmt.Printf("Cleared %d cached analyses.\n", n)
		return nil
	},
}

var cacheInvalidateCmd = &cobra.Command{
	Use:   "invalidate <id...>",
	Short: "Drop the cached analysis of requirements",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(false)
		if err != nil {
			return err
		}
		defer a.Close()

		for _, key := range args {
			req, err := a.Project.Get(key)
			if err != nil {
				return err
			}
			if a.Engine.Invalidate(req) {
				fmt.Printf("Invalidated %s\n", req.Label())
			} else {
				fmt.Printf("No cached analysis for %s\n", req.Label())
			}
		}
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheClearCmd)
	cacheCmd.AddCommand(cacheInvalidateCmd)
}

// --- health command ---

var healthProbes int

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Probe the analysis backend and report its health",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(true)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		for i := 0; i < healthProbes; i++ {
			probeCtx, cancel := context.WithTimeout(ctx, cfg.Backend.CallTimeout)
			_, err := a.Engine.Probe(probeCtx)
			cancel()
			if err != nil {
				fmt.Fprintf(os.Stderr, "Probe %d: %v\n", i+1, err)
			}
			if ctx.Err() != nil {
				break
			}
		}
		report.PrintHealth(os.Stdout, a.Engine.Health())
		return nil
	},
}

func init() {
	healthCmd.Flags().IntVarP(&healthProbes, "probes", "n", 1, "Number of probe calls to make")
}

// --- export command ---

var (
	exportFormat string
	exportOutput string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export requirements and analyses as Markdown, JSON or YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		format := strings.ToLower(exportFormat)
		if format == "" {
			format = formatFromExt(exportOutput)
		}

		var write func(io.Writer, []*model.Requirement) error
		switch format {
		case "markdown", "md":
			write = report.WriteMarkdown
		case "json":
			write = report.WriteJSON
		case "yaml", "yml":
			write = report.WriteYAML
		default:
			return fmt.Errorf("unknown export format %q (use markdown, json or yaml)", exportFormat)
		}

		a, err := openApp(false)
		if err != nil {
			return err
		}
		defer a.Close()

		if exportOutput == "" || exportOutput == "-" {
			return write(os.Stdout, a.Project.All())
		}

		f, err := os.Create(exportOutput)
		if err != nil {
			return fmt.Errorf("creating %s: %w", exportOutput, err)
		}
		if err := write(f, a.Project.All()); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		fmt.Printf("Exported %d requirements to %s\n", a.Project.Len(), exportOutput)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "", "markdown, json or yaml (default: from the output extension, else markdown)")
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Output file (default: stdout)")
}

func formatFromExt(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return "json"
	case ".yaml", ".yml":
		return "yaml"
	default:
		return "markdown"
	}
}

// --- serve command ---

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the local web server",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(true)
		if err != nil {
			return err
		}
		defer a.Close()

		srv, err := server.New(a.Project, a.Engine, a.Bus)
		if err != nil {
			return err
		}
		defer srv.Close()

		stopProbe, err := server.StartProbe(cfg.Health.ProbeSchedule, a.Engine, cfg.Backend.CallTimeout)
		if err != nil {
			return err
		}
		if stopProbe != nil {
			defer stopProbe()
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		fmt.Printf("Starting server at http://localhost:%d\n", port)
		fmt.Println("Press Ctrl+C to stop")
		return server.Serve(ctx, srv, port)
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to run server on (default: server.port from config)")
}
