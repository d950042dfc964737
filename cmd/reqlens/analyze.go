package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/TobiSchelling/reqlens/internal/app"
	"github.com/TobiSchelling/reqlens/internal/events"
	"github.com/TobiSchelling/reqlens/internal/model"
	"github.com/TobiSchelling/reqlens/internal/parser"
	"github.com/TobiSchelling/reqlens/internal/report"
)

// --- analyze command ---

var (
	analyzeAll   bool
	analyzeForce bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze [id...]",
	Short: "Analyze requirements (default: the selection)",
	Long: `Analyze one or more requirements with the configured backend.

Results are cached by requirement text, so unchanged requirements are
answered from the cache. Use --force to discard cached results first.
Press Ctrl+C to stop a batch; finished results are kept.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(true)
		if err != nil {
			return err
		}
		defer a.Close()

		var reqs []*model.Requirement
		switch {
		case analyzeAll:
			reqs = a.Project.All()
		case len(args) > 0:
			for _, key := range args {
				r, err := a.Project.Get(key)
				if err != nil {
					return err
				}
				reqs = append(reqs, r)
			}
		default:
			r, err := resolveRequirement(a, nil)
			if err != nil {
				return err
			}
			reqs = append(reqs, r)
		}
		if len(reqs) == 0 {
			fmt.Println("Nothing to analyze. Run 'reqlens import <file>' first.")
			return nil
		}

		if analyzeForce {
			for _, r := range reqs {
				a.Engine.Invalidate(r)
			}
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if len(reqs) == 1 {
			return analyzeOne(ctx, a, reqs[0])
		}
		return analyzeMany(ctx, a, reqs)
	},
}

func init() {
	analyzeCmd.Flags().BoolVar(&analyzeAll, "all", false, "Analyze every requirement")
	analyzeCmd.Flags().BoolVar(&analyzeForce, "force", false, "Ignore cached results")
}

func analyzeOne(ctx context.Context, a *app.App, req *model.Requirement) error {
	s := spinner.New(spinner.CharSets[11], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
	s.Suffix = fmt.Sprintf(" Analyzing %s with %s...", req.Label(), a.Engine.BackendName())
	s.Start()
	rec := a.Engine.Analyze(ctx, req)
	s.Stop()

	if ctx.Err() != nil {
		return fmt.Errorf("analysis of %s cancelled", req.Label())
	}
	report.PrintRequirement(os.Stdout, req)
	if rec.Failed() {
		return errors.New(rec.Error())
	}
	return nil
}

func analyzeMany(ctx context.Context, a *app.App, reqs []*model.Requirement) error {
	s := spinner.New(spinner.CharSets[11], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
	s.Suffix = fmt.Sprintf(" Analyzing %d requirements with %s...", len(reqs), a.Engine.BackendName())

	sub := events.Subscribe(a.Bus, func(ev events.BatchProgress) {
		status := color.GreenString("%2d/10", ev.Record.QualityScore)
		if ev.Record.Failed() {
			status = color.RedString("failed: %s", ev.Record.Error())
		} else if ev.FromCache {
			status += color.HiBlackString(" (cached)")
		}
		s.Stop()
		fmt.Printf("  %-14s %s\n", ev.Requirement.Label(), status)
		if ev.Index < ev.Total {
			s.Suffix = fmt.Sprintf(" [%d/%d] analyzing...", ev.Index+1, ev.Total)
			s.Start()
		}
	})
	defer sub.Unsubscribe()

	s.Start()
	res := a.Engine.AnalyzeBatch(ctx, reqs)
	s.Stop()

	fmt.Printf("\n%d analyzed, %d failed, %d from cache", res.Succeeded, res.Failed, res.CacheHits)
	if res.Cancelled > 0 {
		fmt.Printf(", %d cancelled", res.Cancelled)
	}
	fmt.Println()
	report.PrintHealth(os.Stdout, a.Engine.Health())
	return nil
}

// --- prompt / paste commands ---

var promptCmd = &cobra.Command{
	Use:   "prompt [id]",
	Short: "Print the analysis prompt for use with an external tool",
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
		fmt.Println(a.Engine.Prompt(req))
		return nil
	},
}

var (
	pasteApply bool
	pasteAdopt bool
)

var pasteCmd = &cobra.Command{
	Use:   "paste [id] [file|-]",
	Short: "Parse a response pasted from an external tool",
	Long: `Parse a response produced by an external tool for the prompt printed by
'reqlens prompt'. The response is read from the given file, or from stdin
when the file is '-' or omitted. Without --apply the parsed result is only
previewed.`,
	Args: cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(false)
		if err != nil {
			return err
		}
		defer a.Close()

		var source string
		if len(args) == 2 {
			source = args[1]
		}
		req, err := resolveRequirement(a, args[:min(len(args), 1)])
		if err != nil {
			return err
		}

		raw, err := readInput(source)
		if err != nil {
			return err
		}
		if strings.TrimSpace(raw) == "" {
			return errors.New("empty response")
		}

		if !pasteApply {
			res := parser.Parse(raw, parser.Options{ExtractImproved: true})
			report.PrintAnalysis(os.Stdout, res.Record)
			report.PrintUnparsed(os.Stdout, res.Unparsed)
			fmt.Println(color.HiBlackString("\nPreview only. Re-run with --apply to attach it to %s.", req.Label()))
			return nil
		}

		res := a.Engine.ApplyExternal(req, raw)
		report.PrintAnalysis(os.Stdout, res.Record)
		report.PrintUnparsed(os.Stdout, res.Unparsed)
		if res.Record.Failed() {
			return errors.New(res.Record.Error())
		}
		fmt.Printf("\nAttached to %s.\n", req.Label())

		if pasteAdopt {
			if res.Improved == "" {
				return errors.New("the response contains no improved requirement to adopt")
			}
			if _, err := a.Project.UpdateDescription(req.ID, res.Improved); err != nil {
				return err
			}
			fmt.Printf("Adopted the improved requirement as the new description of %s.\n", req.Label())
		}
		return nil
	},
}

func init() {
	pasteCmd.Flags().BoolVar(&pasteApply, "apply", false, "Attach the parsed result to the requirement")
	pasteCmd.Flags().BoolVar(&pasteAdopt, "adopt-improved", false, "With --apply, replace the description with the improved requirement")
}

func readInput(source string) (string, error) {
	if source == "" || source == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("reading stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(source)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", source, err)
	}
	return string(data), nil
}
