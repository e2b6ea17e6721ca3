package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/launchpipe/launchpipe/pkg/reconcile"
)

func newReconcileCommand() *cobra.Command {
	var (
		localDir    string
		listingFile string
		dryRun      bool
		watch       bool
		schedule    string
	)

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Reconcile disk, database, and cloud state",
		Long: `Reconcile the control-plane database against the reconciliation
sources: the generated-projects directory and, optionally, an external
authoritative listing.

Every candidate is matched against existing records (exact, substring,
then token overlap) and matched, updated, or inserted. Ambiguous fuzzy
matches are skipped and logged for review, never guessed. The run is
idempotent: a second pass over unchanged inputs writes nothing.

With --watch the projects directory is watched and reconciliation
re-runs on changes; with --every it re-runs on a cron schedule. Both
keep the process alive until interrupted.`,
		Example: `  # One-shot reconciliation of the output directory
  launchpipe reconcile

  # Include an external listing, without writing anything
  launchpipe reconcile --listing clients.yaml --dry-run

  # Keep healing continuously
  launchpipe reconcile --watch

  # Re-run every night at 03:00
  launchpipe reconcile --every "0 3 * * *"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			// Carry the configured logger down to code that only sees the
			// context, like the directory scanner.
			ctx = rt.log.WithContext(ctx)

			if localDir == "" {
				localDir = rt.cfg.OutputDir
			}

			engine := reconcile.NewEngine(rt.store, reconcile.Options{
				BaseDomain:      rt.cfg.BaseDomain,
				GithubOrg:       rt.cfg.GitHubOrg,
				MinSharedTokens: rt.cfg.Reconcile.MinSharedTokens,
				MinTokenLength:  rt.cfg.Reconcile.MinTokenLength,
			}, rt.log, rt.metrics)
			scanner := reconcile.NewDirScanner(localDir)

			runOnce := func(ctx context.Context) (*reconcile.Summary, error) {
				sources, err := scanner.Scan(ctx)
				if err != nil {
					return nil, err
				}
				if listingFile != "" {
					listed, err := reconcile.LoadListing(listingFile)
					if err != nil {
						return nil, err
					}
					sources = append(sources, listed...)
				}

				run := rt.startRun(ctx, "reconcile", "")
				summary, err := engine.Run(ctx, sources, dryRun)
				rt.finishRun(ctx, run, err)
				return summary, err
			}

			if !watch && schedule == "" {
				summary, err := runOnce(ctx)
				if err != nil {
					return err
				}
				if err := printSummary(summary, dryRun); err != nil {
					return err
				}
				if summary.Errored > 0 {
					return fmt.Errorf("%d candidates errored", summary.Errored)
				}
				return nil
			}

			return runContinuously(ctx, rt, runOnce, localDir, watch, schedule)
		},
	}

	cmd.Flags().StringVar(&localDir, "local", "", "generated-projects directory to scan (default: output_dir)")
	cmd.Flags().StringVar(&listingFile, "listing", "", "external authoritative listing (YAML)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report decisions without writing")
	cmd.Flags().BoolVar(&watch, "watch", false, "watch the projects directory and re-run on change")
	cmd.Flags().StringVar(&schedule, "every", "", "cron schedule for periodic re-runs")

	return cmd
}

// runContinuously keeps reconciling until the context is cancelled, driven
// by filesystem events, a cron schedule, or both.
func runContinuously(ctx context.Context, rt *runtime, runOnce func(context.Context) (*reconcile.Summary, error), localDir string, watch bool, schedule string) error {
	if rt.cfg.Metrics.Enabled {
		go func() {
			if err := rt.metrics.Serve(); err != nil {
				rt.log.Error().Err(err).Msg("metrics listener failed")
			}
		}()
	}

	trigger := make(chan string, 1)
	kick := func(reason string) {
		select {
		case trigger <- reason:
		default:
		}
	}

	var watcher *fsnotify.Watcher
	if watch {
		var err error
		watcher, err = fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("failed to create watcher: %w", err)
		}
		defer watcher.Close()
		if err := watcher.Add(localDir); err != nil {
			return fmt.Errorf("failed to watch %s: %w", localDir, err)
		}
	}

	var scheduler *cron.Cron
	if schedule != "" {
		scheduler = cron.New()
		if _, err := scheduler.AddFunc(schedule, func() { kick("schedule") }); err != nil {
			return fmt.Errorf("invalid schedule %q: %w", schedule, err)
		}
		scheduler.Start()
		defer scheduler.Stop()
	}

	// Initial pass before waiting on triggers.
	kick("startup")

	// Bursts of filesystem events (one per placed file) collapse into a
	// single run via the debounce timer.
	var debounce *time.Timer
	debounceCh := func() <-chan time.Time {
		if debounce == nil {
			return nil
		}
		return debounce.C
	}

	rt.log.Info().Str("dir", localDir).Bool("watch", watch).Str("schedule", schedule).
		Msg("reconciliation loop started")

	for {
		var events chan fsnotify.Event
		var errs chan error
		if watcher != nil {
			events = watcher.Events
			errs = watcher.Errors
		}

		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev := <-events:
			if ev.Op&(fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(2 * time.Second)
			} else {
				debounce.Reset(2 * time.Second)
			}

		case err := <-errs:
			rt.log.Warn().Err(err).Msg("watcher error")

		case <-debounceCh():
			debounce = nil
			kick("filesystem")

		case reason := <-trigger:
			summary, err := runOnce(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				rt.log.Error().Err(err).Str("trigger", reason).Msg("reconciliation pass failed")
				continue
			}
			rt.log.Info().Str("trigger", reason).Str("summary", summary.String()).Msg("reconciliation pass finished")
		}
	}
}

// printSummary renders a one-shot reconciliation result.
func printSummary(summary *reconcile.Summary, dryRun bool) error {
	if jsonOutput {
		return printJSON(summary)
	}
	if dryRun {
		fmt.Println("Dry run; no changes written.")
	}
	fmt.Println(summary.String())
	for _, d := range summary.Decisions {
		switch d.Kind {
		case reconcile.DecisionMatched:
			fmt.Printf("  matched   %-35s -> %s (%s)\n", d.Candidate, d.MatchedName, d.Pass)
		case reconcile.DecisionUpdated:
			fmt.Printf("  updated   %-35s -> %s (%s)\n", d.Candidate, d.MatchedName, d.Pass)
		case reconcile.DecisionInserted:
			fmt.Printf("  inserted  %-35s as %s\n", d.Candidate, d.Normalized)
		default:
			fmt.Printf("  %-9s %-35s %s\n", d.Kind, d.Candidate, d.Detail)
		}
	}
	return nil
}
